package publish

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QBayLogic/qbaymid/config"
	"github.com/QBayLogic/qbaymid/output"
	"github.com/QBayLogic/qbaymid/postprocess"
)

type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	puts     []*s3.PutObjectInput
	batches  []int
	website  *s3types.WebsiteConfiguration
	pageSize int
	putErr   error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), pageSize: 2}
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	end := min(start+f.pageSize, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		sum := md5.Sum(f.objects[k])
		out.Contents = append(out.Contents, s3types.Object{
			Key:  aws.String(k),
			ETag: aws.String(fmt.Sprintf("%q", fmt.Sprintf("%x", sum))),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(body)
	if aws.ToString(in.ContentMD5) != base64.StdEncoding.EncodeToString(sum[:]) {
		return nil, errors.New("BadDigest")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = body
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, len(in.Delete.Objects))
	for _, o := range in.Delete.Objects {
		delete(f.objects, aws.ToString(o.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) PutBucketWebsite(_ context.Context, in *s3.PutBucketWebsiteInput, _ ...func(*s3.Options)) (*s3.PutBucketWebsiteOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.website = in.WebsiteConfiguration
	return &s3.PutBucketWebsiteOutput{}, nil
}

func (f *fakeS3) putKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for _, in := range f.puts {
		keys = append(keys, aws.ToString(in.Key))
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeS3) put(key string) *s3.PutObjectInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, in := range f.puts {
		if aws.ToString(in.Key) == key {
			return in
		}
	}
	return nil
}

type fakeCloudFront struct {
	mu      sync.Mutex
	batches [][]string
	gets    int
}

func (f *fakeCloudFront) CreateInvalidation(_ context.Context, in *cloudfront.CreateInvalidationInput, _ ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, in.InvalidationBatch.Paths.Items)
	id := "I" + strconv.Itoa(len(f.batches))
	return &cloudfront.CreateInvalidationOutput{
		Invalidation: &cftypes.Invalidation{Id: aws.String(id), Status: aws.String("InProgress")},
	}, nil
}

func (f *fakeCloudFront) GetInvalidation(_ context.Context, in *cloudfront.GetInvalidationInput, _ ...func(*cloudfront.Options)) (*cloudfront.GetInvalidationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	return &cloudfront.GetInvalidationOutput{
		Invalidation: &cftypes.Invalidation{Id: in.Id, Status: aws.String("Completed")},
	}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.S3.Bucket = "qbaylogic-com"
	cfg.S3.ACL = "public-read"
	cfg.CloudFront.DistributionID = "E3Q8URRQ23NCSH"
	return cfg
}

func testSet(t *testing.T) *output.Set {
	t.Helper()
	set := output.NewSet()
	html := []byte("<html><body>Hello</body></html>")
	z, err := postprocess.Compress(html)
	require.NoError(t, err)
	set.Put("index.html", html)
	set.Put("index.html"+postprocess.GzipExt, z)
	set.Put("css/site.css", []byte("body{color:red}"))
	set.Put("images/logo.png", []byte{0x89, 'P', 'N', 'G'})
	set.Put("blog/2015/03/02/hello/index.html", []byte("<p>post</p>"))
	return set
}

func TestLocalObjects(t *testing.T) {
	set := testSet(t)
	set.Put("archive.gz", []byte("raw"))
	cfg := testConfig()

	objs := LocalObjects(set, cfg.Cache, true, "")
	byKey := map[string]Object{}
	var keys []string
	for _, o := range objs {
		byKey[o.Key] = o
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{
		"archive.gz",
		"blog/2015/03/02/hello/index.html",
		"css/site.css",
		"images/logo.png",
		"index.html",
	}, keys)

	gz, _ := set.Get("index.html.gz")
	assert.Equal(t, gz, byKey["index.html"].Body)
	assert.Equal(t, "gzip", byKey["index.html"].ContentEncoding)
	assert.Contains(t, byKey["index.html"].ContentType, "text/html")
	assert.Equal(t, md5Hex(gz), byKey["index.html"].MD5)
	assert.Empty(t, byKey["css/site.css"].ContentEncoding)
	assert.Equal(t, "max-age=31536000", byKey["images/logo.png"].CacheControl)
	assert.Equal(t, "max-age=31536000", byKey["css/site.css"].CacheControl)
	assert.Empty(t, byKey["index.html"].CacheControl)

	plain := LocalObjects(set, cfg.Cache, false, "/www/")
	for _, o := range plain {
		assert.True(t, strings.HasPrefix(o.Key, "www/"), o.Key)
		assert.Empty(t, o.ContentEncoding)
	}
	assert.Len(t, plain, 5)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", ContentType("a/b.png"))
	assert.Equal(t, "application/octet-stream", ContentType("LICENSE"))
}

func TestPlan(t *testing.T) {
	fake := newFakeS3()
	fake.objects["css/site.css"] = []byte("body{color:red}")
	fake.objects["index.html"] = []byte("stale")
	fake.objects["old.html"] = []byte("gone")

	cfg := testConfig()
	local := LocalObjects(testSet(t), cfg.Cache, false, "")

	s, err := NewSyncer(fake, cfg.S3, nil)
	require.NoError(t, err)
	plan, err := s.Plan(context.Background(), local)
	require.NoError(t, err)
	assert.Equal(t, []string{"blog/2015/03/02/hello/index.html", "images/logo.png", "index.html"}, plan.Changed())
	require.Len(t, plan.Update, 1)
	assert.Equal(t, "index.html", plan.Update[0].Key)
	assert.Equal(t, []string{"css/site.css"}, plan.Unchanged)
	assert.Empty(t, plan.Delete, "objects are kept unless deletion is enabled")
	assert.False(t, plan.Empty())

	cfg.S3.Delete = true
	s, err = NewSyncer(fake, cfg.S3, nil)
	require.NoError(t, err)
	plan, err = s.Plan(context.Background(), local)
	require.NoError(t, err)
	assert.Equal(t, []string{"old.html"}, plan.Delete)
}

func TestRemotePaginates(t *testing.T) {
	fake := newFakeS3()
	for i := range 5 {
		fake.objects[fmt.Sprintf("site/%d.html", i)] = []byte{byte(i)}
	}
	fake.objects["other/x.html"] = []byte("x")
	cfg := testConfig()
	cfg.S3.Prefix = "site"
	s, err := NewSyncer(fake, cfg.S3, nil)
	require.NoError(t, err)
	remote, err := s.Remote(context.Background())
	require.NoError(t, err)
	assert.Len(t, remote, 5)
	assert.NotContains(t, remote, "other/x.html")
	assert.Equal(t, md5Hex([]byte{0}), remote["site/0.html"])
}

func TestApply(t *testing.T) {
	fake := newFakeS3()
	cfg := testConfig()
	s, err := NewSyncer(fake, cfg.S3, nil)
	require.NoError(t, err)
	local := LocalObjects(testSet(t), cfg.Cache, true, "")
	plan, err := s.Plan(context.Background(), local)
	require.NoError(t, err)
	require.NoError(t, s.Apply(context.Background(), plan))

	assert.Equal(t, plan.Changed(), fake.putKeys())
	in := fake.put("index.html")
	require.NotNil(t, in)
	assert.Equal(t, "gzip", aws.ToString(in.ContentEncoding))
	assert.Equal(t, s3types.ObjectCannedACLPublicRead, in.ACL)
	assert.Equal(t, "max-age=31536000", aws.ToString(fake.put("images/logo.png").CacheControl))
	assert.Nil(t, in.CacheControl)
}

func TestApplyDryRun(t *testing.T) {
	fake := newFakeS3()
	fake.objects["old.html"] = []byte("gone")
	cfg := testConfig()
	cfg.S3.Delete = true
	s, err := NewSyncer(fake, cfg.S3, nil)
	require.NoError(t, err)
	s.DryRun = true
	plan, err := s.Plan(context.Background(), LocalObjects(testSet(t), cfg.Cache, true, ""))
	require.NoError(t, err)
	require.NoError(t, s.Apply(context.Background(), plan))
	require.NoError(t, s.ConfigureWebsite(context.Background()))
	assert.Empty(t, fake.putKeys())
	assert.Empty(t, fake.batches)
	assert.Nil(t, fake.website)
}

func TestApplyDeleteBatches(t *testing.T) {
	fake := newFakeS3()
	cfg := testConfig()
	cfg.S3.Delete = true
	s, err := NewSyncer(fake, cfg.S3, nil)
	require.NoError(t, err)
	plan := &Plan{}
	for i := range 2500 {
		plan.Delete = append(plan.Delete, fmt.Sprintf("old/%04d.html", i))
	}
	require.NoError(t, s.Apply(context.Background(), plan))
	assert.Equal(t, []int{1000, 1000, 500}, fake.batches)
}

func TestApplyError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("AccessDenied")
	fake.objects["old.html"] = []byte("gone")
	cfg := testConfig()
	cfg.S3.Delete = true
	s, err := NewSyncer(fake, cfg.S3, nil)
	require.NoError(t, err)
	plan, err := s.Plan(context.Background(), LocalObjects(testSet(t), cfg.Cache, true, ""))
	require.NoError(t, err)
	err = s.Apply(context.Background(), plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
	assert.Empty(t, fake.batches, "nothing is deleted after a failed upload")
}

func TestConfigureWebsite(t *testing.T) {
	fake := newFakeS3()
	cfg := testConfig()
	s, err := NewSyncer(fake, cfg.S3, nil)
	require.NoError(t, err)
	require.NoError(t, s.ConfigureWebsite(context.Background()))
	require.NotNil(t, fake.website)
	assert.Equal(t, "index.html", aws.ToString(fake.website.IndexDocument.Suffix))
	assert.Equal(t, "404.html", aws.ToString(fake.website.ErrorDocument.Key))

	fake.website = nil
	cfg.S3.IndexDocument = ""
	s, err = NewSyncer(fake, cfg.S3, nil)
	require.NoError(t, err)
	require.NoError(t, s.ConfigureWebsite(context.Background()))
	assert.Nil(t, fake.website)
}

func TestCDNPaths(t *testing.T) {
	cfg := testConfig()
	c, err := NewCDN(&fakeCloudFront{}, cfg.CloudFront, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/",
		"/blog/2015/03/02/hello/",
		"/blog/2015/03/02/hello/index.html",
		"/css/site.css",
		"/index.html",
	}, c.Paths([]string{"index.html", "css/site.css", "blog/2015/03/02/hello/index.html", "css/site.css"}))

	cfg.CloudFront.MaxPaths = 2
	cfg.CloudFront.Filter = `\.html$`
	c, err = NewCDN(&fakeCloudFront{}, cfg.CloudFront, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/*"}, c.Paths([]string{"a.html", "b.html", "c.html"}))
	assert.Equal(t, []string{"/a.html"}, c.Paths([]string{"a.html", "a.css"}))
	assert.Empty(t, c.Paths(nil))
}

func TestCDNPathsEscaped(t *testing.T) {
	c, err := NewCDN(&fakeCloudFront{}, testConfig().CloudFront, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/blog/hello%20world.html",
		"/caf%C3%A9/",
		"/caf%C3%A9/index.html",
		"/star%2A.txt",
	}, c.Paths([]string{"blog/hello world.html", "café/index.html", "star*.txt"}))
}

func TestInvalidate(t *testing.T) {
	fake := &fakeCloudFront{}
	cfg := testConfig()
	cfg.CloudFront.Wait = true
	c, err := NewCDN(fake, cfg.CloudFront, nil)
	require.NoError(t, err)

	id, err := c.Invalidate(context.Background(), []string{"css/site.css"})
	require.NoError(t, err)
	assert.Equal(t, "I1", id)
	assert.Equal(t, [][]string{{"/css/site.css"}}, fake.batches)
	assert.Equal(t, 1, fake.gets)

	id, err = c.Invalidate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Len(t, fake.batches, 1)
}

func TestNewErrors(t *testing.T) {
	_, err := NewSyncer(newFakeS3(), config.S3{}, nil)
	assert.ErrorIs(t, err, ErrNoBucket)
	_, err = NewCDN(&fakeCloudFront{}, config.CloudFront{}, nil)
	assert.ErrorIs(t, err, ErrNoDistribution)
	_, err = NewCDN(&fakeCloudFront{}, config.CloudFront{DistributionID: "E1", Filter: "[x"}, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
	_, err = NewPublisher(config.Default(), newFakeS3(), nil, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestPublishUploadsOnlyChanges(t *testing.T) {
	s3c := newFakeS3()
	cf := &fakeCloudFront{}
	p, err := NewPublisher(testConfig(), s3c, cf, nil)
	require.NoError(t, err)

	set := testSet(t)
	res, err := p.Publish(context.Background(), set)
	require.NoError(t, err)
	assert.Len(t, res.Plan.Create, 4)
	assert.Equal(t, "I1", res.Invalidation)

	// Nothing changed: nothing is uploaded or invalidated.
	res, err = p.Publish(context.Background(), set)
	require.NoError(t, err)
	assert.True(t, res.Plan.Empty())
	assert.Empty(t, res.Invalidation)
	assert.Len(t, s3c.putKeys(), 4)

	set.Put("css/site.css", []byte("body{color:blue}"))
	plan, err := p.Plan(context.Background(), set)
	require.NoError(t, err)
	assert.Equal(t, []string{"css/site.css"}, plan.Changed())

	res, err = p.Publish(context.Background(), set)
	require.NoError(t, err)
	assert.Equal(t, []string{"css/site.css"}, res.Plan.Changed())
	assert.Equal(t, []string{"/css/site.css"}, cf.batches[1])
	assert.Len(t, s3c.putKeys(), 5)
}

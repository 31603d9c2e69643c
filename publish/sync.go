package publish

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/QBayLogic/qbaymid/config"
)

// maxDeleteKeys is the most keys a single DeleteObjects call accepts.
const maxDeleteKeys = 1000

// Plan lists what a sync will do. Keys in every list are sorted.
type Plan struct {
	Create    []Object
	Update    []Object
	Delete    []string
	Unchanged []string
}

// Changed returns the keys that will be uploaded, sorted.
func (p *Plan) Changed() []string {
	keys := make([]string, 0, len(p.Create)+len(p.Update))
	for _, o := range p.Create {
		keys = append(keys, o.Key)
	}
	for _, o := range p.Update {
		keys = append(keys, o.Key)
	}
	sort.Strings(keys)
	return keys
}

// Empty reports whether the plan changes nothing.
func (p *Plan) Empty() bool {
	return len(p.Create) == 0 && len(p.Update) == 0 && len(p.Delete) == 0
}

// Syncer synchronizes a bucket with local objects.
type Syncer struct {
	// DryRun logs the changes instead of making them.
	DryRun bool

	client S3API
	cfg    config.S3
	log    *zap.Logger
}

// NewSyncer returns a Syncer for the configured bucket.
func NewSyncer(client S3API, cfg config.S3, log *zap.Logger) (*Syncer, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{
		client: client,
		cfg:    cfg,
		log:    log.Named("s3").With(zap.String("bucket", cfg.Bucket)),
	}, nil
}

// Remote returns the ETag, without quotes, of every object under the prefix.
func (s *Syncer) Remote(ctx context.Context) (map[string]string, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.cfg.Bucket)}
	if prefix := strings.Trim(s.cfg.Prefix, "/"); prefix != "" {
		input.Prefix = aws.String(prefix + "/")
	}
	remote := make(map[string]string)
	p := s3.NewListObjectsV2Paginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			logAPIError(s.log, "ListObjectsV2", err)
			return nil, fmt.Errorf("list %s: %w", s.cfg.Bucket, err)
		}
		for _, o := range page.Contents {
			remote[aws.ToString(o.Key)] = strings.Trim(aws.ToString(o.ETag), `"`)
		}
	}
	return remote, nil
}

// Plan compares local with the bucket.
func (s *Syncer) Plan(ctx context.Context, local []Object) (*Plan, error) {
	remote, err := s.Remote(ctx)
	if err != nil {
		return nil, err
	}
	plan := new(Plan)
	seen := make(map[string]bool, len(local))
	sorted := append([]Object(nil), local...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	for _, o := range sorted {
		seen[o.Key] = true
		etag, ok := remote[o.Key]
		switch {
		case !ok:
			plan.Create = append(plan.Create, o)
		case etag != o.MD5:
			plan.Update = append(plan.Update, o)
		default:
			plan.Unchanged = append(plan.Unchanged, o.Key)
		}
	}
	var strays []string
	for key := range remote {
		if !seen[key] {
			strays = append(strays, key)
		}
	}
	sort.Strings(strays)
	if s.cfg.Delete {
		plan.Delete = strays
	} else if len(strays) > 0 {
		s.log.Info("Keeping objects that are no longer built", zap.Int("count", len(strays)))
	}
	s.log.Info("Planned sync",
		zap.Int("create", len(plan.Create)),
		zap.Int("update", len(plan.Update)),
		zap.Int("delete", len(plan.Delete)),
		zap.Int("unchanged", len(plan.Unchanged)))
	return plan, nil
}

// Apply uploads and deletes the objects of plan. Uploads run in parallel; the
// first failure cancels the rest and nothing is deleted.
func (s *Syncer) Apply(ctx context.Context, plan *Plan) error {
	uploads := append(append([]Object(nil), plan.Create...), plan.Update...)
	if s.DryRun {
		for _, o := range uploads {
			s.log.Info("Would upload", zap.String("key", o.Key), zap.String("content_type", o.ContentType))
		}
		for _, key := range plan.Delete {
			s.log.Info("Would delete", zap.String("key", key))
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, o := range uploads {
		g.Go(func() error {
			return s.put(gctx, o)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for start := 0; start < len(plan.Delete); start += maxDeleteKeys {
		end := min(start+maxDeleteKeys, len(plan.Delete))
		if err := s.delete(ctx, plan.Delete[start:end]); err != nil {
			return err
		}
	}
	s.log.Info("Synced bucket", zap.Int("uploaded", len(uploads)), zap.Int("deleted", len(plan.Delete)))
	return nil
}

func (s *Syncer) put(ctx context.Context, o Object) error {
	sum, err := hex.DecodeString(o.MD5)
	if err != nil || len(sum) != md5.Size {
		return fmt.Errorf("put %s: bad md5 %q", o.Key, o.MD5)
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(o.Key),
		Body:        bytes.NewReader(o.Body),
		ContentType: aws.String(o.ContentType),
		ContentMD5:  aws.String(base64.StdEncoding.EncodeToString(sum)),
	}
	if o.ContentEncoding != "" {
		input.ContentEncoding = aws.String(o.ContentEncoding)
	}
	if o.CacheControl != "" {
		input.CacheControl = aws.String(o.CacheControl)
	}
	if s.cfg.ACL != "" {
		input.ACL = types.ObjectCannedACL(s.cfg.ACL)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		logAPIError(s.log, "PutObject", err)
		return fmt.Errorf("put %s: %w", o.Key, err)
	}
	s.log.Debug("Uploaded", zap.String("key", o.Key), zap.Int("bytes", len(o.Body)))
	return nil
}

func (s *Syncer) delete(ctx context.Context, keys []string) error {
	ids := make([]types.ObjectIdentifier, len(keys))
	for i := range keys {
		ids[i] = types.ObjectIdentifier{Key: aws.String(keys[i])}
	}
	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.cfg.Bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		logAPIError(s.log, "DeleteObjects", err)
		return fmt.Errorf("delete: %w", err)
	}
	if len(out.Errors) > 0 {
		e := out.Errors[0]
		return fmt.Errorf("delete %s: %s: %s (%d failed)",
			aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message), len(out.Errors))
	}
	return nil
}

// ConfigureWebsite sets the index and error documents of the bucket website.
// It does nothing when no index document is configured.
func (s *Syncer) ConfigureWebsite(ctx context.Context) error {
	if s.cfg.IndexDocument == "" {
		return nil
	}
	site := &types.WebsiteConfiguration{
		IndexDocument: &types.IndexDocument{Suffix: aws.String(s.cfg.IndexDocument)},
	}
	if s.cfg.ErrorDocument != "" {
		site.ErrorDocument = &types.ErrorDocument{Key: aws.String(s.cfg.ErrorDocument)}
	}
	if s.DryRun {
		s.log.Info("Would configure website", zap.String("index", s.cfg.IndexDocument), zap.String("error", s.cfg.ErrorDocument))
		return nil
	}
	_, err := s.client.PutBucketWebsite(ctx, &s3.PutBucketWebsiteInput{
		Bucket:               aws.String(s.cfg.Bucket),
		WebsiteConfiguration: site,
	})
	if err != nil {
		logAPIError(s.log, "PutBucketWebsite", err)
		return fmt.Errorf("website %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

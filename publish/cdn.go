package publish

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/QBayLogic/qbaymid/config"
)

// wildcard invalidates the whole distribution.
const wildcard = "/*"

// CDN invalidates paths on a CloudFront distribution.
type CDN struct {
	client CloudFrontAPI
	cfg    config.CloudFront
	filter *regexp.Regexp
	log    *zap.Logger
	DryRun bool
}

// NewCDN returns a CDN for the configured distribution.
func NewCDN(client CloudFrontAPI, cfg config.CloudFront, log *zap.Logger) (*CDN, error) {
	if cfg.DistributionID == "" {
		return nil, ErrNoDistribution
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &CDN{
		client: client,
		cfg:    cfg,
		log:    log.Named("cloudfront").With(zap.String("distribution", cfg.DistributionID)),
	}
	if cfg.Filter != "" {
		re, err := regexp.Compile(cfg.Filter)
		if err != nil {
			return nil, fmt.Errorf("%w: cloudfront filter: %v", config.ErrInvalid, err)
		}
		c.filter = re
	}
	return c, nil
}

// Paths returns the sorted invalidation paths for changed bucket keys. An
// index.html key also invalidates its folder path. When there are more paths
// than allowed, the result is the single wildcard path. Each path segment is
// percent-encoded, so keys with spaces or non-ASCII names invalidate cleanly.
func (c *CDN) Paths(keys []string) []string {
	seen := make(map[string]bool)
	for _, key := range keys {
		if c.filter != nil && !c.filter.MatchString(key) {
			continue
		}
		key = strings.TrimPrefix(key, "/")
		seen["/"+escapePath(key)] = true
		if path.Base(key) == "index.html" {
			dir := path.Dir(key)
			if dir == "." {
				seen["/"] = true
			} else {
				seen["/"+escapePath(dir)+"/"] = true
			}
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if c.cfg.MaxPaths > 0 && len(paths) > c.cfg.MaxPaths {
		return []string{wildcard}
	}
	return paths
}

// escapePath percent-encodes each segment of a slash separated key.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// Invalidate creates an invalidation for the changed keys and returns its ID.
// It returns "" without calling CloudFront when no path needs invalidating.
// With waiting enabled it blocks until the invalidation completes.
func (c *CDN) Invalidate(ctx context.Context, keys []string) (string, error) {
	paths := c.Paths(keys)
	if len(paths) == 0 {
		c.log.Info("Nothing to invalidate")
		return "", nil
	}
	if c.DryRun {
		c.log.Info("Would invalidate", zap.Strings("paths", paths))
		return "", nil
	}
	out, err := c.client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(c.cfg.DistributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(uuid.NewString()),
			Paths: &types.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		logAPIError(c.log, "CreateInvalidation", err)
		return "", fmt.Errorf("invalidate: %w", err)
	}
	id := aws.ToString(out.Invalidation.Id)
	c.log.Info("Created invalidation", zap.String("id", id), zap.Int("paths", len(paths)))
	if !c.cfg.Wait {
		return id, nil
	}

	timeout := time.Duration(c.cfg.WaitTimeout)
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	w := cloudfront.NewInvalidationCompletedWaiter(c.client)
	err = w.Wait(ctx, &cloudfront.GetInvalidationInput{
		DistributionId: aws.String(c.cfg.DistributionID),
		Id:             aws.String(id),
	}, timeout)
	if err != nil {
		logAPIError(c.log, "GetInvalidation", err)
		return id, fmt.Errorf("wait for invalidation %s: %w", id, err)
	}
	c.log.Info("Invalidation completed", zap.String("id", id))
	return id, nil
}

package publish

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/QBayLogic/qbaymid/config"
	"github.com/QBayLogic/qbaymid/output"
)

// Result describes a finished publish.
type Result struct {
	Plan         *Plan
	Invalidation string // Invalidation ID; empty when nothing was invalidated
}

// Publisher syncs built sites and invalidates what changed.
type Publisher struct {
	DryRun bool

	cfg *config.Config
	s3  S3API
	cf  CloudFrontAPI
	log *zap.Logger
}

// NewPublisher returns a Publisher. cf may be nil when no distribution is
// configured.
func NewPublisher(cfg *config.Config, s3 S3API, cf CloudFrontAPI, log *zap.Logger) (*Publisher, error) {
	if err := cfg.ValidatePublish(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{cfg: cfg, s3: s3, cf: cf, log: log.Named("publish")}, nil
}

func (p *Publisher) syncer() (*Syncer, error) {
	s, err := NewSyncer(p.s3, p.cfg.S3, p.log)
	if err != nil {
		return nil, err
	}
	s.DryRun = p.DryRun
	return s, nil
}

// Plan returns what publishing set would change, without changing anything.
func (p *Publisher) Plan(ctx context.Context, set *output.Set) (*Plan, error) {
	s, err := p.syncer()
	if err != nil {
		return nil, err
	}
	return s.Plan(ctx, p.objects(set))
}

// Publish uploads the changed files of set, configures the bucket website and
// invalidates the uploaded and deleted keys.
func (p *Publisher) Publish(ctx context.Context, set *output.Set) (*Result, error) {
	s, err := p.syncer()
	if err != nil {
		return nil, err
	}
	plan, err := s.Plan(ctx, p.objects(set))
	if err != nil {
		return nil, err
	}
	res := &Result{Plan: plan}
	if err := s.Apply(ctx, plan); err != nil {
		return res, err
	}
	if err := s.ConfigureWebsite(ctx); err != nil {
		return res, err
	}
	if p.cfg.CloudFront.DistributionID == "" || p.cf == nil || plan.Empty() {
		return res, nil
	}
	cdn, err := NewCDN(p.cf, p.cfg.CloudFront, p.log)
	if err != nil {
		return res, err
	}
	cdn.DryRun = p.DryRun
	keys := append(plan.Changed(), plan.Delete...)
	res.Invalidation, err = cdn.Invalidate(ctx, keys)
	if err != nil {
		return res, fmt.Errorf("publish: %w", err)
	}
	return res, nil
}

func (p *Publisher) objects(set *output.Set) []Object {
	return LocalObjects(set, p.cfg.Cache, p.cfg.S3.PreferGzip, p.cfg.S3.Prefix)
}

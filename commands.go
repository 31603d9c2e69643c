package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/QBayLogic/qbaymid/build"
	"github.com/QBayLogic/qbaymid/config"
	"github.com/QBayLogic/qbaymid/output"
	"github.com/QBayLogic/qbaymid/publish"
	"github.com/QBayLogic/qbaymid/web"
)

type app struct {
	cfg    *config.Config
	log    *zap.Logger
	creds  publish.Credentials
	dryRun bool
}

func (a *app) runBuild(ctx context.Context, skipWrite bool) (*output.Set, error) {
	b, err := build.New(a.cfg, nil, a.log)
	if err != nil {
		return nil, err
	}
	b.SkipWrite = skipWrite
	set, _, err := b.Run(ctx)
	return set, err
}

func (a *app) build(ctx context.Context) error {
	_, err := a.runBuild(ctx, false)
	return err
}

func (a *app) publisher(ctx context.Context) (*publish.Publisher, error) {
	if err := a.cfg.ValidatePublish(); err != nil {
		return nil, err
	}
	s3c, cfc, err := publish.Clients(ctx, a.cfg.S3, a.creds)
	if err != nil {
		return nil, err
	}
	p, err := publish.NewPublisher(a.cfg, s3c, cfc, a.log)
	if err != nil {
		return nil, err
	}
	p.DryRun = a.dryRun
	return p, nil
}

func (a *app) plan(ctx context.Context) error {
	set, err := a.runBuild(ctx, true)
	if err != nil {
		return err
	}
	p, err := a.publisher(ctx)
	if err != nil {
		return err
	}
	plan, err := p.Plan(ctx, set)
	if err != nil {
		return err
	}
	for _, o := range plan.Create {
		fmt.Printf("create %s\n", o.Key)
	}
	for _, o := range plan.Update {
		fmt.Printf("update %s\n", o.Key)
	}
	for _, key := range plan.Delete {
		fmt.Printf("delete %s\n", key)
	}
	return nil
}

func (a *app) publish(ctx context.Context) error {
	set, err := output.ReadDir(a.cfg.Build)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if set.Len() == 0 {
		return fmt.Errorf("publish: build folder %q is empty", a.cfg.Build)
	}
	return a.publishSet(ctx, set)
}

func (a *app) deploy(ctx context.Context) error {
	set, err := a.runBuild(ctx, false)
	if err != nil {
		return err
	}
	return a.publishSet(ctx, set)
}

func (a *app) publishSet(ctx context.Context, set *output.Set) error {
	p, err := a.publisher(ctx)
	if err != nil {
		return err
	}
	res, err := p.Publish(ctx, set)
	if err != nil {
		return err
	}
	a.log.Info("Published site",
		zap.String("bucket", a.cfg.S3.Bucket),
		zap.Int("uploaded", len(res.Plan.Changed())),
		zap.Int("deleted", len(res.Plan.Delete)),
		zap.Int("unchanged", len(res.Plan.Unchanged)),
		zap.String("invalidation", res.Invalidation))
	return nil
}

func (a *app) serve(ctx context.Context) error {
	// One builder for the whole session keeps the markdown cache warm.
	b, err := build.New(a.cfg, nil, a.log)
	if err != nil {
		return err
	}
	set, _, err := b.Run(ctx)
	if err != nil {
		return err
	}
	hub := web.NewReloadHub(a.log)
	hub.Broadcast(set.Digest())

	var mu sync.Mutex
	rebuild := func() {
		mu.Lock()
		defer mu.Unlock()
		set, _, err := b.Run(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				a.log.Error("Rebuild failed", zap.Error(err))
			}
			return
		}
		hub.Broadcast(set.Digest())
	}
	go func() {
		err := build.Watch(ctx, a.log, a.cfg.Source, time.Duration(a.cfg.Serve.Debounce), rebuild)
		if err != nil {
			a.log.Error("Watch stopped", zap.Error(err))
		}
	}()

	h := web.Handler(os.DirFS(a.cfg.Build), web.Options{
		Headers:       a.cfg.Serve.Headers,
		Policy:        a.cfg.Cache,
		IndexDocument: a.cfg.S3.IndexDocument,
		ErrorDocument: a.cfg.S3.ErrorDocument,
		CacheBytes:    a.cfg.Serve.CacheBytes,
		CacheDuration: time.Duration(a.cfg.Serve.CacheDuration),
		Logger:        a.log,
		Reload:        hub,
	})
	srv := web.NewServer(a.cfg.Serve.Addr, h)
	// Reload streams stay open for the whole session.
	srv.WriteTimeout = 0
	srv.RegisterOnShutdown(hub.Shutdown)
	err = web.ListenAndServe(ctx, srv, a.log)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

/*
Package build runs the stages of a site build: load the source tree, route the
documents, render them, post-process the output and write it to the build folder.

Building the same source twice produces byte-identical output, so an unchanged site
publishes nothing.
*/
package build

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/QBayLogic/qbaymid/config"
	"github.com/QBayLogic/qbaymid/content"
	"github.com/QBayLogic/qbaymid/output"
	"github.com/QBayLogic/qbaymid/postprocess"
	"github.com/QBayLogic/qbaymid/render"
	"github.com/QBayLogic/qbaymid/route"
)

// Report summarizes a build.
type Report struct {
	Documents int           // Source files loaded
	Entries   int           // Documents routed into the build
	Files     int           // Files in the output, including gzip copies
	Took      time.Duration // Wall time of the whole build
}

// Builder builds a site. A Builder can run many times, for example from a
// file watcher; runs are serialized by the renderer.
type Builder struct {
	// SkipWrite keeps the output in memory instead of writing the build folder.
	SkipWrite bool

	source   fs.FS
	cfg      *config.Config
	log      *zap.Logger
	router   *route.Router
	renderer *render.Renderer
	procs    []postprocess.Processor
}

// New returns a Builder for cfg reading from source, or from the configured
// source folder when source is nil.
func New(cfg *config.Config, source fs.FS, log *zap.Logger) (*Builder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if source == nil {
		source = os.DirFS(cfg.Source)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rules := make([]route.Rule, 0, len(cfg.Pages))
	for _, p := range cfg.Pages {
		rules = append(rules, route.Rule{Pattern: p.Pattern, Layout: p.Layout, NoLayout: p.NoLayout})
	}
	router, err := route.New(route.Options{
		Rules: rules,
		Blog: route.Blog{
			Sources:       cfg.Blog.Sources,
			Permalink:     cfg.Blog.Permalink,
			Layout:        cfg.Blog.Layout,
			TagLink:       cfg.Blog.TagLink,
			PublishFuture: cfg.Blog.PublishFuture,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	b := &Builder{
		source: source,
		cfg:    cfg,
		log:    log.Named("build"),
		router: router,
		procs:  postprocess.Chain(cfg.Assets),
	}
	b.renderer = render.New(render.Options{
		SiteName:   cfg.Site.Name,
		SiteURL:    cfg.Site.URL,
		Highlight:  cfg.Highlight.Style,
		TagPath:    router.TagPath,
		Layouts:    b.layouts(),
		TagLayout:  cfg.Blog.TagLayout,
		CacheBytes: cfg.Serve.CacheBytes,
		Logger:     log,
	})
	return b, nil
}

// Run builds the site once. The context is checked between stages and
// between documents; a cancelled build leaves the build folder untouched.
func (b *Builder) Run(ctx context.Context) (*output.Set, Report, error) {
	var (
		rep   Report
		start = time.Now()
		docs  []*content.Document
		ents  []route.Entry
		set   *output.Set
	)
	err := b.stage(ctx, "load", func() (err error) {
		docs, err = content.Load(b.source, content.Options{Layouts: b.cfg.Layouts, Ignore: b.cfg.Ignore})
		rep.Documents = len(docs)
		return err
	})
	if err == nil {
		err = b.stage(ctx, "route", func() (err error) {
			ents, err = b.router.Route(docs)
			rep.Entries = len(ents)
			return err
		})
	}
	if err == nil {
		err = b.stage(ctx, "render", func() (err error) {
			set, err = b.renderer.Render(ctx, ents)
			return err
		})
	}
	if err == nil {
		err = b.stage(ctx, "postprocess", func() error {
			return postprocess.Run(ctx, set, b.procs, b.log)
		})
	}
	if err == nil && !b.SkipWrite {
		err = b.stage(ctx, "write", func() error {
			return set.WriteDir(b.cfg.Build)
		})
	}
	if err != nil {
		return nil, rep, err
	}
	rep.Files = set.Len()
	rep.Took = time.Since(start)
	b.log.Info("Built site",
		zap.Int("documents", rep.Documents),
		zap.Int("entries", rep.Entries),
		zap.Int("files", rep.Files),
		zap.Duration("took", rep.Took))
	return set, rep, nil
}

// layouts returns the layout folder inside the source tree.
func (b *Builder) layouts() fs.FS {
	sub, err := fs.Sub(b.source, path.Clean(b.cfg.Layouts))
	if err != nil {
		b.log.Warn("No layout folder", zap.String("folder", b.cfg.Layouts), zap.Error(err))
		return nil
	}
	return sub
}

func (b *Builder) stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	b.log.Debug("Stage done", zap.String("stage", name), zap.Duration("took", time.Since(start)))
	return nil
}

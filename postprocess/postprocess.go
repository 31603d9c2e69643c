// Package postprocess transforms a built output set before it is written:
// minification, cache busting file names, relative asset URLs and gzip.
package postprocess

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/QBayLogic/qbaymid/config"
	"github.com/QBayLogic/qbaymid/output"
)

// Processor is a single post-processing step.
type Processor interface {
	Name() string
	Process(ctx context.Context, set *output.Set) error
}

// Chain returns the enabled steps in the order they must run: minify,
// asset hash, relative assets, gzip.
func Chain(a config.Assets) []Processor {
	var procs []Processor
	if a.MinifyHTML || a.MinifyCSS || a.MinifyJS {
		procs = append(procs, NewMinify(a.MinifyHTML, a.MinifyCSS, a.MinifyJS))
	}
	if a.AssetHash {
		procs = append(procs, &AssetHash{Exts: a.HashExts, Ignore: a.HashIgnore})
	}
	if a.RelativeAssets {
		procs = append(procs, RelativeAssets{})
	}
	if a.Gzip {
		procs = append(procs, &Gzip{Exts: a.GzipExts})
	}
	return procs
}

// Run applies procs to set in order and stops at the first error.
func Run(ctx context.Context, set *output.Set, procs []Processor, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		if err := p.Process(ctx, set); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
		log.Debug("Post-processed", zap.String("step", p.Name()), zap.Duration("took", time.Since(start)), zap.Int("files", set.Len()))
	}
	return nil
}

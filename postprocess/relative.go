package postprocess

import (
	"context"
	"strings"

	"github.com/QBayLogic/qbaymid/output"
)

// RelativeAssets rewrites root relative references from HTML documents to
// other files of the set, such as "/css/site.css", into paths relative to the
// document. Links to other HTML documents are left alone.
type RelativeAssets struct{}

// Name implements Processor.
func (RelativeAssets) Name() string { return "relative_assets" }

// Process implements Processor.
func (RelativeAssets) Process(ctx context.Context, set *output.Set) error {
	for _, name := range set.Paths() {
		if !isHTML(name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := name
		b, _ := set.Get(doc)
		set.Put(doc, rewriteHTML(b, func(ref string) (string, bool) {
			if !strings.HasPrefix(ref, "/") || !isLocal(ref) {
				return "", false
			}
			target := resolve(doc, ref)
			if isHTML(target) || !set.Has(target) {
				return "", false
			}
			_, suffix := splitRef(ref)
			return relative(doc, target) + suffix, true
		}))
	}
	return nil
}

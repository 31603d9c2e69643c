package postprocess

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"

	"github.com/QBayLogic/qbaymid/content"
	"github.com/QBayLogic/qbaymid/output"
)

// AssetHash renames assets to include a digest of their contents, for example
// "css/site.css" to "css/site-1a2b3c4d.css", and rewrites the references to them.
//
// Images, fonts and scripts are renamed first. Stylesheets follow, each one after
// the stylesheets it imports, so that it is rewritten to their new names before
// its own digest is taken. HTML documents are rewritten last. Query strings and
// fragments of references are kept.
type AssetHash struct {
	Exts   []string // Extensions of files to rename
	Ignore []string // Path patterns of files to leave alone
}

// Name implements Processor.
func (*AssetHash) Name() string { return "asset_hash" }

// Process implements Processor.
func (h *AssetHash) Process(ctx context.Context, set *output.Set) error {
	var (
		renamed = make(map[string]string)
		sheets  []string
	)
	for _, name := range set.Paths() {
		if !h.hashable(name) {
			continue
		}
		if isCSS(name) {
			sheets = append(sheets, name)
			continue
		}
		if err := hashFile(set, name, renamed); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fn := hashRewriter(renamed)
	for len(sheets) > 0 {
		pending := make(map[string]bool, len(sheets))
		for _, name := range sheets {
			pending[name] = true
		}
		var (
			waiting []string
			done    int
		)
		for _, name := range sheets {
			b, _ := set.Get(name)
			if importsPending(name, b, pending) {
				waiting = append(waiting, name)
				continue
			}
			set.Put(name, rewriteCSS(b, fn(name)))
			if err := hashFile(set, name, renamed); err != nil {
				return err
			}
			delete(pending, name)
			done++
		}
		if done == 0 {
			// Import cycle: these keep their names so references between them stay valid.
			break
		}
		sheets = waiting
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	hashed := make(map[string]bool, len(renamed))
	for _, to := range renamed {
		hashed[to] = true
	}
	for _, name := range set.Paths() {
		if isCSS(name) && !hashed[name] {
			b, _ := set.Get(name)
			set.Put(name, rewriteCSS(b, fn(name)))
		}
		if isHTML(name) {
			b, _ := set.Get(name)
			set.Put(name, rewriteHTML(b, fn(name)))
		}
	}
	return nil
}

func (h *AssetHash) hashable(name string) bool {
	return hasExt(name, h.Exts) && !isHTML(name) && !content.Match(name, h.Ignore...) &&
		!content.Match(path.Base(name), h.Ignore...)
}

// importsPending reports whether the stylesheet name refers to another
// stylesheet that has not been hashed yet.
func importsPending(name string, b []byte, pending map[string]bool) bool {
	for _, ref := range cssRefs(name, b) {
		if ref != name && pending[ref] {
			return true
		}
	}
	return false
}

// hashFile renames name to its hashed form and records the change in renamed.
func hashFile(set *output.Set, name string, renamed map[string]string) error {
	b, _ := set.Get(name)
	to := HashedName(name, b)
	if err := set.Rename(name, to); err != nil {
		return err
	}
	renamed[name] = to
	return nil
}

// hashRewriter returns a rewriteFunc for references found in doc.
func hashRewriter(renamed map[string]string) func(doc string) rewriteFunc {
	return func(doc string) rewriteFunc {
		return func(ref string) (string, bool) {
			if !isLocal(ref) {
				return "", false
			}
			to, ok := renamed[resolve(doc, ref)]
			if !ok {
				return "", false
			}
			p, suffix := splitRef(ref)
			return path.Join(path.Dir(p), path.Base(to)) + suffix, true
		}
	}
}

// HashedName inserts the first eight hex digits of the SHA-256 of b before the
// extension of name.
func HashedName(name string, b []byte) string {
	sum := sha256.Sum256(b)
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "-" + hex.EncodeToString(sum[:4]) + ext
}

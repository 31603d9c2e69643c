package content

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Options controls which files Load skips.
type Options struct {
	Layouts string   // Layout folder relative to the root
	Ignore  []string // Globs matched against the full path and the base name
}

// Load walks fsys and parses every document that is part of the site.
// Documents are returned sorted by path.
func Load(fsys fs.FS, opts Options) ([]*Document, error) {
	var docs []*Document
	err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if name == "." {
			return nil
		}
		if opts.skip(name) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		doc, err := Parse(name, b)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

func (o Options) skip(name string) bool {
	if containsSpecialFile(name) {
		return true
	}
	if o.Layouts != "" && name == path.Clean(o.Layouts) {
		return true
	}
	return Match(name, o.Ignore...) || Match(path.Base(name), o.Ignore...)
}

// containsSpecialFile reports whether name contains a path element starting with a period
// or an underscore. The name is assumed to be a delimited by forward slashes, as
// guaranteed by the fs.FS interface.
func containsSpecialFile(name string) bool {
	parts := strings.Split(name, "/")
	for _, part := range parts {
		if strings.HasPrefix(part, ".") || strings.HasPrefix(part, "_") {
			return true
		}
	}
	return false
}

// Match uses path.Match to test s against each pattern. Bad patterns never match.
func Match(s string, pat ...string) bool {
	for i := range pat {
		if b, _ := path.Match(pat[i], s); b {
			return true
		}
	}
	return false
}

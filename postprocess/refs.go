package postprocess

import (
	"path"
	"regexp"
	"strings"
)

var (
	// attrRegexp finds quoted URL attributes in HTML.
	attrRegexp = regexp.MustCompile(`(?i)(\s(?:src|href|poster|data-src|content)\s*=\s*)(["'])([^"']*)(["'])`)
	// urlRegexp finds url() references in stylesheets and style attributes.
	urlRegexp = regexp.MustCompile(`(url\(\s*)(["']?)([^"')\s]+)(["']?)(\s*\))`)
	// importRegexp finds @import rules that name a stylesheet without url().
	importRegexp = regexp.MustCompile(`(@import\s+)(["'])([^"']+)(["'])`)
)

// rewriteFunc maps a reference found in a document to its replacement.
// It returns false to leave the reference alone.
type rewriteFunc func(ref string) (string, bool)

// rewriteHTML rewrites URL attributes and url() references in an HTML document.
func rewriteHTML(b []byte, fn rewriteFunc) []byte {
	b = replaceRefs(attrRegexp, b, fn)
	return replaceRefs(urlRegexp, b, fn)
}

// rewriteCSS rewrites url() and @import references in a stylesheet.
func rewriteCSS(b []byte, fn rewriteFunc) []byte {
	b = replaceRefs(importRegexp, b, fn)
	return replaceRefs(urlRegexp, b, fn)
}

// cssRefs returns the local files a stylesheet at doc refers to.
func cssRefs(doc string, b []byte) []string {
	var refs []string
	rewriteCSS(b, func(ref string) (string, bool) {
		if isLocal(ref) {
			refs = append(refs, resolve(doc, ref))
		}
		return "", false
	})
	return refs
}

// replaceRefs expects re to capture the reference as its third group.
func replaceRefs(re *regexp.Regexp, b []byte, fn rewriteFunc) []byte {
	return re.ReplaceAllFunc(b, func(m []byte) []byte {
		sub := re.FindSubmatchIndex(m)
		ref := string(m[sub[6]:sub[7]])
		repl, ok := fn(ref)
		if !ok {
			return m
		}
		out := make([]byte, 0, len(m)+len(repl)-len(ref))
		out = append(out, m[:sub[6]]...)
		out = append(out, repl...)
		return append(out, m[sub[7]:]...)
	})
}

// splitRef separates a reference into its path and its query and fragment.
func splitRef(ref string) (p, suffix string) {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i], ref[i:]
	}
	return ref, ""
}

// isLocal reports whether ref points into the site rather than elsewhere.
func isLocal(ref string) bool {
	switch {
	case ref == "", strings.HasPrefix(ref, "#"), strings.HasPrefix(ref, "//"):
		return false
	case strings.Contains(ref, ":"):
		// scheme such as https:, data: or mailto:
		p, _ := splitRef(ref)
		return !strings.Contains(p, ":")
	}
	return true
}

// resolve returns the output path a local reference found in doc points to.
func resolve(doc, ref string) string {
	p, _ := splitRef(ref)
	if strings.HasPrefix(p, "/") {
		return strings.TrimPrefix(path.Clean(p), "/")
	}
	return strings.TrimPrefix(path.Clean(path.Join(path.Dir(doc), p)), "/")
}

// relative returns the path to target relative to the folder holding doc.
func relative(doc, target string) string {
	from := strings.Split(path.Dir(doc), "/")
	if from[0] == "." {
		from = nil
	}
	to := strings.Split(target, "/")
	i := 0
	for i < len(from) && i < len(to)-1 && from[i] == to[i] {
		i++
	}
	parts := make([]string, 0, len(from)-i+len(to)-i)
	for range from[i:] {
		parts = append(parts, "..")
	}
	parts = append(parts, to[i:]...)
	return strings.Join(parts, "/")
}

func isHTML(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	return false
}

func isCSS(name string) bool {
	return strings.ToLower(path.Ext(name)) == ".css"
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

/*
Package content discovers the source documents of a site.

A source tree holds four kinds of files:

	Kind       Extensions            Output name
	---------  --------------------  ----------------------------------
	Markdown   .md .markdown         "a/b.md" -> "a/b.html", "a/b.xml.md" -> "a/b.xml"
	HTML       .html .htm            unchanged
	Template   .tmpl                 "feed.xml.tmpl" -> "feed.xml"
	Asset      anything else         unchanged

Markdown, HTML and template files may start with front matter, either TOML between
"+++" lines or YAML between "---" lines:

	+++
	title = "My glorious page"
	date = 2015-03-02T14:00:00Z
	tags = ["clash", "haskell"]
	+++
	# This is my Heading

Files and folders whose name starts with "." or "_" are never loaded, and neither is
the layout folder.
*/
package content

import (
	"fmt"
	"path"
	"strings"
)

// Kind classifies a source document.
type Kind int

const (
	Asset Kind = iota
	Markdown
	HTML
	Template
)

func (k Kind) String() string {
	switch k {
	case Markdown:
		return "markdown"
	case HTML:
		return "html"
	case Template:
		return "template"
	}
	return "asset"
}

// TemplateExt marks files whose body is executed as a template.
const TemplateExt = ".tmpl"

// Document is a single file of the source tree.
type Document struct {
	Path        string      // Slash separated path relative to the source root
	Kind        Kind        // How the document is rendered
	FrontMatter FrontMatter // Front matter, zero for assets
	Format      Format      // Syntax the front matter was written in
	Body        []byte      // Content after the front matter
}

// KindOf classifies a source path by its extension.
func KindOf(name string) Kind {
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".markdown":
		return Markdown
	case ".html", ".htm":
		return HTML
	case TemplateExt:
		return Template
	}
	return Asset
}

// Parse builds a Document from the file contents found at name.
func Parse(name string, b []byte) (*Document, error) {
	doc := &Document{
		Path: name,
		Kind: KindOf(name),
		Body: b,
	}
	if doc.Kind == Asset {
		return doc, nil
	}
	fm, rest, f := ExtractFrontMatter(b)
	if f == FormatNone {
		return doc, nil
	}
	if err := DecodeFrontMatter(fm, f, &doc.FrontMatter); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	doc.Format = f
	doc.Body = rest
	return doc, nil
}

// Templated reports whether the document is rendered rather than copied.
func (d *Document) Templated() bool {
	return d.Kind != Asset
}

// OutputName is the path the document would be written to without routing rules.
func (d *Document) OutputName() string {
	switch d.Kind {
	case Markdown:
		base := strings.TrimSuffix(d.Path, path.Ext(d.Path))
		if path.Ext(base) == "" {
			return base + ".html"
		}
		return base
	case Template:
		return strings.TrimSuffix(d.Path, path.Ext(d.Path))
	}
	return d.Path
}

// Title returns the front matter title or a title made from the file name.
func (d *Document) Title() string {
	if d.FrontMatter.Title != "" {
		return d.FrontMatter.Title
	}
	base := path.Base(d.OutputName())
	return strings.TrimSuffix(base, path.Ext(base))
}

package postprocess

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"
	"github.com/tdewolff/minify/v2/xml"

	"github.com/QBayLogic/qbaymid/output"
)

// Minify minifies files by media type.
type Minify struct {
	m     *minify.M
	types map[string]string // extension to media type
}

// NewMinify returns a Minify step. HTML enables HTML, SVG and XML; JS enables
// JavaScript and JSON.
func NewMinify(htmlFiles, cssFiles, jsFiles bool) *Minify {
	m := minify.New()
	types := make(map[string]string)
	if cssFiles {
		m.AddFunc("text/css", css.Minify)
		types[".css"] = "text/css"
	}
	if jsFiles {
		m.AddFuncRegexp(regexp.MustCompile(`^(application|text)/(x-)?(java|ecma)script$`), js.Minify)
		m.AddFuncRegexp(regexp.MustCompile(`[/+]json$`), json.Minify)
		types[".js"] = "text/javascript"
		types[".mjs"] = "text/javascript"
		types[".json"] = "application/json"
	}
	if htmlFiles {
		// Quotes and end tags stay so that later steps can find references.
		m.Add("text/html", &html.Minifier{
			KeepDocumentType: true,
			KeepEndTags:      true,
			KeepQuotes:       true,
		})
		m.AddFunc("image/svg+xml", svg.Minify)
		m.AddFuncRegexp(regexp.MustCompile(`[/+]xml$`), xml.Minify)
		types[".html"] = "text/html"
		types[".htm"] = "text/html"
		types[".svg"] = "image/svg+xml"
		types[".xml"] = "text/xml"
	}
	return &Minify{m: m, types: types}
}

// Name implements Processor.
func (*Minify) Name() string { return "minify" }

// Process implements Processor.
func (p *Minify) Process(ctx context.Context, set *output.Set) error {
	for _, name := range set.Paths() {
		if err := ctx.Err(); err != nil {
			return err
		}
		mt, ok := p.types[strings.ToLower(path.Ext(name))]
		if !ok {
			continue
		}
		b, _ := set.Get(name)
		out, err := p.m.Bytes(mt, b)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		set.Put(name, out)
	}
	return nil
}


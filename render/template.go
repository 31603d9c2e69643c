package render

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/QBayLogic/qbaymid/content"
	"github.com/QBayLogic/qbaymid/route"
)

//go:embed default.html
var defaultTemplate string

// Layout names that are always defined. Site layouts may replace them.
const (
	DefaultLayout  = route.DefaultLayout
	TagLayout      = "tag"
	RedirectLayout = "redirect"
)

// funcs returns the helpers available to layouts and templated documents.
func (r *Renderer) funcs() map[string]any {
	return map[string]any{
		"sortbytime":  sortByTime,
		"sortbytitle": sortByTitle,
		"match":       content.Match,
		"filter":      filter,
		"join":        path.Join,
		"ext":         path.Ext,
		"prev":        prev,
		"next":        next,
		"reverse":     reverse,
		"trimsuffix":  strings.TrimSuffix,
		"trimprefix":  strings.TrimPrefix,
		"trimspace":   strings.TrimSpace,
		"markdown":    r.md,
		"post":        r.post,
		"tagged":      r.tagged,
		"taglink":     r.tagLink,
		"summary":     summary,
		"absurl":      r.absURL,
		"slug":        route.Slugify,
	}
}

// loadTemplates parses the built-in layouts and then the site layouts, which
// may redefine them. The returned set is never executed, only cloned.
func (r *Renderer) loadTemplates() (*template.Template, error) {
	tpl, err := template.New("qbaymid").Funcs(r.funcs()).Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("loadTemplates: %w", err)
	}
	if r.opts.Layouts == nil {
		return tpl, nil
	}
	matches, err := fs.Glob(r.opts.Layouts, "*.html")
	if err != nil {
		return nil, fmt.Errorf("loadTemplates: %w", err)
	}
	if len(matches) == 0 {
		r.log.Warn("No layouts found; using default layouts.")
		return tpl, nil
	}
	tpl, err = tpl.ParseFS(r.opts.Layouts, matches...)
	if err != nil {
		return nil, fmt.Errorf("loadTemplates: %w", err)
	}
	r.log.Debug("Loaded layouts", zap.String("defined", tpl.DefinedTemplates()))
	return tpl, nil
}

// md renders markdown text for templates. Errors are logged and produce no output.
func (r *Renderer) md(s string) template.HTML {
	h, err := r.cache.render(context.Background(), []byte(s), r.opts.Highlight)
	if err != nil {
		r.log.Error("md", zap.Error(err))
		return ""
	}
	return h
}

// post finds a blog post by title. It returns nil when there is none.
func (r *Renderer) post(title string) *Page {
	if r.site == nil {
		return nil
	}
	for _, p := range r.site.Posts {
		if p.Title == title {
			return p
		}
	}
	for _, p := range r.site.Posts {
		if strings.EqualFold(p.Title, title) {
			return p
		}
	}
	return nil
}

// tagged returns the posts carrying tag, newest first.
func (r *Renderer) tagged(tag string) []*Page {
	if r.site == nil {
		return nil
	}
	return r.site.Tags[tag]
}

// tagLink returns the URL of the page listing tag, or "" without tag pages.
func (r *Renderer) tagLink(tag string) string {
	if r.opts.TagPath == nil {
		return ""
	}
	p := r.opts.TagPath(tag)
	if p == "" {
		return ""
	}
	return urlFor(p)
}

// absURL prefixes a root relative URL with the site URL.
func (r *Renderer) absURL(s string) string {
	if strings.Contains(s, "://") {
		return s
	}
	return strings.TrimSuffix(r.opts.SiteURL, "/") + "/" + strings.TrimPrefix(s, "/")
}

func summary(p *Page) template.HTML {
	if p == nil {
		return ""
	}
	return p.Summary()
}

// ErrNoLayout is returned when a page names a layout that is not defined.
var ErrNoLayout = errors.New("layout not defined")

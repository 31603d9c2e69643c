/*
Package render turns routed documents into output files.

Markdown documents are converted to HTML with blackfriday, fenced code blocks are
highlighted with chroma. Documents ending in ".tmpl" are executed as templates:
html/template when the output is HTML, text/template for feeds, sitemaps and other
text formats. HTML documents are used as they are. The result is then wrapped in
the layout chosen by the router.

Layouts are standard Go templates stored in the layout folder with the extension
".html". Built-in "default", "tag" and "redirect" layouts are always defined and may
be replaced. Layouts and templated documents receive a *Page and can use these
helpers:

	sortbytime([]*Page) []*Page
		Sort by date, newest first
	sortbytitle([]*Page) []*Page
		Sort by title
	reverse([]*Page) []*Page
		Reverse the list
	filter([]*Page, ...string) []*Page
		Keep pages whose output path matches one of the patterns
	match(string, ...string) bool
		Match string against path patterns
	prev([]*Page, string) *Page, next([]*Page, string) *Page
		Find the neighbours of the page with the given path
	join, ext, trimsuffix, trimprefix, trimspace
		The same as path.Join, path.Ext and the strings functions
	markdown(string) template.HTML
		Render markdown text
	post(string) *Page
		Find a post by title; nil when there is none
	tagged(string) []*Page
		Posts with the given tag
	taglink(string) string
		URL of the tag page
	summary(*Page) template.HTML
		Content before the "<!--more-->" marker
	absurl(string) string
		Prefix a root relative URL with the site URL
	slug(string) string
		Lower case, dash separated form of a string

A page whose front matter sets "redirect" is rendered with the "redirect" layout.
*/
package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	texttemplate "text/template"

	"go.uber.org/zap"

	"github.com/QBayLogic/qbaymid/content"
	"github.com/QBayLogic/qbaymid/output"
	"github.com/QBayLogic/qbaymid/route"
)

// Options configures a Renderer.
type Options struct {
	SiteName   string
	SiteURL    string
	Layouts    fs.FS                   // Layout folder; nil uses the built-in layouts
	Highlight  string                  // chroma style name; empty disables highlighting
	TagPath    func(tag string) string // Output path of a tag page; nil or "" disables tag pages
	TagLayout  string
	CacheBytes int64 // Size of the rendered markdown cache
	Logger     *zap.Logger
}

// Renderer renders routed documents. Calls to Render are serialized.
type Renderer struct {
	opts  Options
	log   *zap.Logger
	cache *markdownCache

	mu   sync.Mutex
	site *Site // Site being rendered, read by template helpers
}

// New returns a Renderer.
func New(opts Options) *Renderer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TagLayout == "" {
		opts.TagLayout = TagLayout
	}
	if opts.CacheBytes <= 0 {
		opts.CacheBytes = 16 << 20
	}
	opts.SiteURL = strings.TrimSuffix(opts.SiteURL, "/")
	return &Renderer{
		opts:  opts,
		log:   opts.Logger.Named("render"),
		cache: newMarkdownCache(opts.CacheBytes),
	}
}

// Render renders entries into a new output set. Assets are copied verbatim.
// Markdown is rendered first, then templated documents, then layouts, so that
// templates can list the content of every page.
func (r *Renderer) Render(ctx context.Context, entries []route.Entry) (*output.Set, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	base, err := r.loadTemplates()
	if err != nil {
		return nil, err
	}

	set := output.NewSet()
	site := &Site{
		Name: r.opts.SiteName,
		URL:  r.opts.SiteURL,
		Tags: make(map[string][]*Page),
	}
	taken := make(map[string]string, len(entries))
	for _, e := range entries {
		taken[e.Output] = e.Doc.Path
		if !e.Doc.Templated() {
			set.Put(e.Output, e.Doc.Body)
			continue
		}
		site.Pages = append(site.Pages, newPage(site, e))
	}
	linkPosts(site)
	if err := r.addTagPages(site, taken); err != nil {
		return nil, err
	}
	sort.Slice(site.Pages, func(i, j int) bool { return site.Pages[i].Path < site.Pages[j].Path })
	r.site = site

	for _, p := range site.Pages {
		if p.doc == nil || p.doc.Kind != content.Markdown {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.Content, err = r.cache.render(ctx, p.doc.Body, r.opts.Highlight)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", p.Source, err)
		}
	}
	for _, p := range site.Pages {
		if p.doc == nil || p.doc.Kind == content.Markdown {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.doc.Kind != content.Template {
			p.Content = template.HTML(p.doc.Body)
			continue
		}
		p.Content, err = r.executeBody(base, p)
		if err != nil {
			return nil, err
		}
	}

	layouts, err := base.Clone()
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	for _, p := range site.Pages {
		b, err := r.applyLayout(layouts, p)
		if err != nil {
			return nil, err
		}
		set.Put(p.Path, b)
		r.log.Debug("Rendered", zap.String("path", p.Path), zap.String("layout", p.layout))
	}
	r.log.Info("Rendered site",
		zap.Int("pages", len(site.Pages)),
		zap.Int("posts", len(site.Posts)),
		zap.Int("tags", len(site.Tags)),
		zap.Int("files", set.Len()))
	return set, nil
}

func newPage(site *Site, e route.Entry) *Page {
	fm := e.Doc.FrontMatter
	p := &Page{
		Site:        site,
		Path:        e.Output,
		URL:         urlFor(e.Output),
		Source:      e.Doc.Path,
		FrontMatter: fm,
		Title:       e.Doc.Title(),
		Date:        fm.Date,
		Tags:        fm.Tags,
		doc:         e.Doc,
		layout:      e.Layout,
	}
	if e.Post != nil {
		p.IsPost = true
		p.Slug = e.Post.Slug
		p.Date = e.Post.Date
	}
	return p
}

// linkPosts fills in the post list, the tag index and the prev/next links.
func linkPosts(site *Site) {
	var posts []*Page
	for _, p := range site.Pages {
		if p.IsPost {
			posts = append(posts, p)
		}
	}
	site.Posts = sortByTime(posts)
	for i, p := range site.Posts {
		if i > 0 {
			p.Next = site.Posts[i-1]
		}
		if i < len(site.Posts)-1 {
			p.Prev = site.Posts[i+1]
		}
		seen := make(map[string]bool, len(p.Tags))
		for _, tag := range p.Tags {
			if seen[tag] {
				continue
			}
			seen[tag] = true
			site.Tags[tag] = append(site.Tags[tag], p)
		}
	}
}

// addTagPages adds a generated page for every tag. Tags that differ only in
// spelling, such as "Haskell" and "haskell", share one page listing the posts of
// both.
func (r *Renderer) addTagPages(site *Site, taken map[string]string) error {
	if r.opts.TagPath == nil {
		return nil
	}
	var (
		names  []string
		byPath = make(map[string][]string)
	)
	for _, tag := range site.TagNames() {
		name := r.opts.TagPath(tag)
		if name == "" {
			continue
		}
		if _, ok := byPath[name]; !ok {
			names = append(names, name)
		}
		byPath[name] = append(byPath[name], tag)
	}
	for _, name := range names {
		tags := byPath[name]
		if src, ok := taken[name]; ok {
			return fmt.Errorf("%w: tag %q and %q both write %q", route.ErrConflict, tags[0], src, name)
		}
		taken[name] = "tag " + tags[0]
		posts := site.Tags[tags[0]]
		if len(tags) > 1 {
			seen := make(map[*Page]bool)
			posts = nil
			for _, tag := range tags {
				for _, p := range site.Tags[tag] {
					if !seen[p] {
						seen[p] = true
						posts = append(posts, p)
					}
				}
			}
			posts = sortByTime(posts)
		}
		site.Pages = append(site.Pages, &Page{
			Site:   site,
			Path:   name,
			URL:    urlFor(name),
			Title:  tags[0],
			Tag:    tags[0],
			Posts:  posts,
			layout: r.opts.TagLayout,
		})
	}
	return nil
}

// executeBody runs a templated document. HTML output uses html/template and can
// call the layouts as partials; anything else uses text/template.
func (r *Renderer) executeBody(base *template.Template, p *Page) (template.HTML, error) {
	var (
		buf  bytes.Buffer
		name = "body:" + p.Source
	)
	if isHTML(p.Path) {
		t, err := base.Clone()
		if err != nil {
			return "", fmt.Errorf("render %s: %w", p.Source, err)
		}
		if t, err = t.New(name).Parse(string(p.doc.Body)); err != nil {
			return "", fmt.Errorf("render %s: %w", p.Source, err)
		}
		if err = t.Execute(&buf, p); err != nil {
			return "", fmt.Errorf("render %s: %w", p.Source, err)
		}
		return template.HTML(buf.String()), nil
	}
	t, err := texttemplate.New(name).Funcs(r.funcs()).Parse(string(p.doc.Body))
	if err != nil {
		return "", fmt.Errorf("render %s: %w", p.Source, err)
	}
	if err = t.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render %s: %w", p.Source, err)
	}
	return template.HTML(buf.String()), nil
}

// applyLayout wraps the page content in its layout.
func (r *Renderer) applyLayout(tpl *template.Template, p *Page) ([]byte, error) {
	name := p.layout
	if p.FrontMatter.Redirect != "" {
		name = RedirectLayout
	}
	if name == "" {
		return []byte(p.Content), nil
	}
	if tpl.Lookup(name) == nil {
		return nil, fmt.Errorf("render %s: %w: %q", p.Path, ErrNoLayout, name)
	}
	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, name, p); err != nil {
		return nil, fmt.Errorf("render %s: %w", p.Path, err)
	}
	return buf.Bytes(), nil
}

func isHTML(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	return false
}

/*
Package route maps source documents to output paths.

Static rules pick a layout by output path: patterns without a slash match the base
name ("*.xml" matches "feed.xml" and "blog/feed.xml"), patterns with a slash match
the whole path. The first matching rule wins and front matter can override it.

Blog posts are documents whose output name matches the source matcher, for example
"posts/:title.html". Their output path comes from the permalink template, for example
"blog/{year}/{month}/{day}/{title}.html".
*/
package route

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/QBayLogic/qbaymid/content"
)

var (
	// ErrConflict is returned when two documents would be written to the same path.
	ErrConflict = errors.New("output path conflict")
	// ErrMissingDate is returned for a post with no date in its front matter or name.
	ErrMissingDate = errors.New("post has no date")
)

// DefaultLayout is used for rendered documents that match no rule.
const DefaultLayout = "default"

// Rule assigns a layout to matching output paths.
type Rule struct {
	Pattern  string
	Layout   string
	NoLayout bool
}

// Blog configures post routing. An empty Sources disables the blog.
type Blog struct {
	Sources       string
	Permalink     string
	Layout        string
	TagLink       string
	PublishFuture bool
}

// Options configures a Router.
type Options struct {
	Rules         []Rule
	DefaultLayout string
	Blog          Blog
	Now           func() time.Time // Cutoff for future posts; defaults to time.Now
}

// Post holds the blog data of a routed document.
type Post struct {
	Slug string
	Date time.Time
}

// Entry is a routed document.
type Entry struct {
	Doc    *content.Document
	Output string // Output path relative to the build folder
	Layout string // Layout to wrap the rendered body in; empty for none
	Post   *Post  // Non-nil for blog posts
}

// Router routes documents. It is safe for concurrent use.
type Router struct {
	opts      Options
	sources   *Matcher
	permalink *Template
	taglink   *Template
}

// New returns a Router after checking the blog patterns.
func New(opts Options) (*Router, error) {
	if opts.DefaultLayout == "" {
		opts.DefaultLayout = DefaultLayout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rules := make([]Rule, len(opts.Rules))
	for i, rule := range opts.Rules {
		rule.Pattern = strings.TrimPrefix(rule.Pattern, "/")
		if _, err := path.Match(rule.Pattern, ""); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrPattern, rule.Pattern, err)
		}
		rules[i] = rule
	}
	opts.Rules = rules
	r := &Router{opts: opts}
	if opts.Blog.Sources != "" {
		var err error
		r.sources, err = NewMatcher(opts.Blog.Sources)
		if err != nil {
			return nil, err
		}
		r.permalink, err = NewTemplate(opts.Blog.Permalink, "year", "month", "day", "title")
		if err != nil {
			return nil, err
		}
	}
	if opts.Blog.TagLink != "" {
		var err error
		r.taglink, err = NewTemplate(opts.Blog.TagLink, "tag")
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Route returns an entry for every document that is part of the build, sorted by
// output path. Drafts and, unless allowed, future posts are left out.
func (r *Router) Route(docs []*content.Document) ([]Entry, error) {
	sorted := make([]*content.Document, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	now := r.opts.Now()
	var (
		entries []Entry
		owners  = make(map[string]string, len(sorted))
	)
	for _, doc := range sorted {
		if doc.FrontMatter.Draft {
			continue
		}
		e, err := r.route(doc)
		if err != nil {
			return nil, err
		}
		if e.Post != nil && e.Post.Date.After(now) && !r.opts.Blog.PublishFuture {
			continue
		}
		if prev, ok := owners[e.Output]; ok {
			return nil, fmt.Errorf("%w: %q and %q both write %q", ErrConflict, prev, doc.Path, e.Output)
		}
		owners[e.Output] = doc.Path
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Output < entries[j].Output })
	return entries, nil
}

func (r *Router) route(doc *content.Document) (Entry, error) {
	e := Entry{Doc: doc, Output: doc.OutputName()}
	if !doc.Templated() {
		return e, nil
	}
	if r.sources != nil {
		if vars, ok := r.sources.Match(e.Output); ok {
			post, err := r.post(doc, vars)
			if err != nil {
				return e, err
			}
			e.Post = post
			e.Output = r.permalink.Expand(map[string]string{
				"year":  strconv.Itoa(post.Date.Year()),
				"month": fmt.Sprintf("%02d", int(post.Date.Month())),
				"day":   fmt.Sprintf("%02d", post.Date.Day()),
				"title": post.Slug,
			})
		}
	}
	e.Layout = r.layout(doc, e)
	return e, nil
}

func (r *Router) post(doc *content.Document, vars map[string]string) (*Post, error) {
	p := &Post{Date: doc.FrontMatter.Date}
	if p.Date.IsZero() {
		y, errY := strconv.Atoi(vars["year"])
		m, errM := strconv.Atoi(vars["month"])
		d, errD := strconv.Atoi(vars["day"])
		if errY != nil || errM != nil || errD != nil {
			return nil, fmt.Errorf("%s: %w", doc.Path, ErrMissingDate)
		}
		p.Date = time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	}
	switch {
	case vars["title"] != "":
		p.Slug = vars["title"]
	case doc.FrontMatter.Title != "":
		p.Slug = Slugify(doc.FrontMatter.Title)
	default:
		base := path.Base(doc.OutputName())
		p.Slug = Slugify(strings.TrimSuffix(base, path.Ext(base)))
	}
	return p, nil
}

func (r *Router) layout(doc *content.Document, e Entry) string {
	if l, ok := doc.FrontMatter.Layout(); ok {
		return l
	}
	if e.Post != nil && r.opts.Blog.Layout != "" {
		return r.opts.Blog.Layout
	}
	return r.Layout(e.Output)
}

// Layout returns the layout the rules give a rendered document written to name.
func (r *Router) Layout(name string) string {
	for _, rule := range r.opts.Rules {
		subject := name
		if !strings.Contains(rule.Pattern, "/") {
			subject = path.Base(name)
		}
		if ok, _ := path.Match(rule.Pattern, subject); !ok {
			continue
		}
		if rule.NoLayout {
			return ""
		}
		if rule.Layout != "" {
			return rule.Layout
		}
		break
	}
	return r.opts.DefaultLayout
}

// TagPath returns the output path of the page listing posts with tag,
// or "" when tag pages are disabled.
func (r *Router) TagPath(tag string) string {
	if r.taglink == nil {
		return ""
	}
	return r.taglink.Expand(map[string]string{"tag": Slugify(tag)})
}

package render

import (
	"html/template"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/QBayLogic/qbaymid/content"
)

// Site is the data shared by every page.
type Site struct {
	Name  string
	URL   string             // Root URL without a trailing slash
	Pages []*Page            // Every rendered page, sorted by path
	Posts []*Page            // Blog posts, newest first
	Tags  map[string][]*Page // Posts by tag, newest first
}

// TagNames returns the tags used by posts in sorted order.
func (s *Site) TagNames() []string {
	names := make([]string, 0, len(s.Tags))
	for t := range s.Tags {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

// Page is what templates and layouts are executed with.
type Page struct {
	Site        *Site
	Path        string              // Output path
	URL         string              // Root relative URL; "/blog/" for "blog/index.html"
	Source      string              // Source path, empty for generated pages
	FrontMatter content.FrontMatter // Front matter of the source document
	Title       string
	Date        time.Time
	Tags        []string
	Content     template.HTML // Rendered body, before the layout is applied
	IsPost      bool
	Slug        string
	Prev        *Page   // Next older post
	Next        *Page   // Next newer post
	Tag         string  // Set on generated tag pages
	Posts       []*Page // Posts listed on a tag page

	doc    *content.Document
	layout string
}

// Summary returns the content before the "<!--more-->" marker, or all of it.
func (p *Page) Summary() template.HTML {
	if i := strings.Index(string(p.Content), moreMarker); i >= 0 {
		return p.Content[:i]
	}
	return p.Content
}

const moreMarker = "<!--more-->"

// urlFor returns the root relative URL of an output path.
func urlFor(name string) string {
	if path.Base(name) == "index.html" {
		dir := path.Dir(name)
		if dir == "." {
			return "/"
		}
		return "/" + dir + "/"
	}
	return "/" + name
}

// sortByTime returns the pages sorted by date, newest first.
func sortByTime(p []*Page) []*Page {
	r := append([]*Page(nil), p...)
	sort.SliceStable(r, func(i, j int) bool {
		if !r[i].Date.Equal(r[j].Date) {
			return r[j].Date.Before(r[i].Date)
		}
		return r[i].Path < r[j].Path
	})
	return r
}

// sortByTitle returns the pages sorted by title.
func sortByTitle(p []*Page) []*Page {
	r := append([]*Page(nil), p...)
	sort.SliceStable(r, func(i, j int) bool {
		if r[i].Title != r[j].Title {
			return r[i].Title < r[j].Title
		}
		return r[i].Path < r[j].Path
	})
	return r
}

// reverse returns the pages in reverse order.
func reverse(p []*Page) []*Page {
	r := make([]*Page, len(p))
	for i := range p {
		r[len(p)-1-i] = p[i]
	}
	return r
}

// filter keeps the pages whose output path matches one of the patterns.
func filter(p []*Page, pat ...string) []*Page {
	var r []*Page
	for i := range p {
		if content.Match(p[i].Path, pat...) {
			r = append(r, p[i])
		}
	}
	return r
}

// next returns the page before current in the list.
func next(p []*Page, current string) *Page {
	for i := range p {
		if p[i].Path == current {
			if i > 0 {
				return p[i-1]
			}
			return nil
		}
	}
	return nil
}

// prev returns the page after current in the list.
func prev(p []*Page, current string) *Page {
	for i := range p {
		if p[i].Path == current {
			if i < len(p)-1 {
				return p[i+1]
			}
			return nil
		}
	}
	return nil
}

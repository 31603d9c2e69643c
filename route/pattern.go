package route

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ErrPattern is wrapped by errors about malformed matchers and permalinks.
var ErrPattern = errors.New("bad pattern")

// Matcher matches source names such as "posts/:title.html" and captures
// the named segments.
type Matcher struct {
	source string
	re     *regexp.Regexp
	names  []string
}

// placeholderRegexp finds ":name" segments in a matcher.
var placeholderRegexp = regexp.MustCompile(`:([a-z]+)`)

// NewMatcher compiles a source matcher. Supported placeholders are :year,
// :month, :day and :title; any other name matches a single path element.
func NewMatcher(source string) (*Matcher, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: empty source matcher", ErrPattern)
	}
	var (
		expr  strings.Builder
		names []string
		last  int
	)
	expr.WriteString("^")
	for _, loc := range placeholderRegexp.FindAllStringSubmatchIndex(source, -1) {
		expr.WriteString(regexp.QuoteMeta(source[last:loc[0]]))
		name := source[loc[2]:loc[3]]
		switch name {
		case "year":
			expr.WriteString(`(\d{4})`)
		case "month", "day":
			expr.WriteString(`(\d{2})`)
		default:
			expr.WriteString(`([^/]+)`)
		}
		names = append(names, name)
		last = loc[1]
	}
	expr.WriteString(regexp.QuoteMeta(source[last:]))
	expr.WriteString("$")
	re, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrPattern, source, err)
	}
	return &Matcher{source: source, re: re, names: names}, nil
}

// Match returns the captured segments of name, or false when it does not match.
func (m *Matcher) Match(name string) (map[string]string, bool) {
	sub := m.re.FindStringSubmatch(name)
	if sub == nil {
		return nil, false
	}
	vars := make(map[string]string, len(m.names))
	for i, n := range m.names {
		vars[n] = sub[i+1]
	}
	return vars, true
}

func (m *Matcher) String() string {
	return m.source
}

// Template expands strings such as "blog/{year}/{month}/{day}/{title}.html".
type Template struct {
	text  string
	parts []part
}

type part struct {
	literal string
	name    string
}

// NewTemplate parses text and checks that every placeholder is in allowed.
func NewTemplate(text string, allowed ...string) (*Template, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty template", ErrPattern)
	}
	t := &Template{text: text}
	rest := text
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			t.parts = append(t.parts, part{literal: rest})
			break
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			return nil, fmt.Errorf("%w: %q: unclosed placeholder", ErrPattern, text)
		}
		if open > 0 {
			t.parts = append(t.parts, part{literal: rest[:open]})
		}
		name := rest[open+1 : open+closing]
		if !contains(allowed, name) {
			return nil, fmt.Errorf("%w: %q: unknown placeholder {%s}", ErrPattern, text, name)
		}
		t.parts = append(t.parts, part{name: name})
		rest = rest[open+closing+1:]
	}
	return t, nil
}

// Expand substitutes vars into the template.
func (t *Template) Expand(vars map[string]string) string {
	var b strings.Builder
	for _, p := range t.parts {
		if p.name != "" {
			b.WriteString(vars[p.name])
		} else {
			b.WriteString(p.literal)
		}
	}
	return b.String()
}

func (t *Template) String() string {
	return t.text
}

func contains(arr []string, s string) bool {
	for _, x := range arr {
		if x == s {
			return true
		}
	}
	return false
}

// Slugify lower-cases s and replaces every run of characters other than
// letters and digits with a single dash.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	return b.String()
}

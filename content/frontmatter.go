package content

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrFrontMatter is wrapped by errors caused by unreadable front matter.
var ErrFrontMatter = errors.New("bad front matter")

// NoLayout is the template name that turns layouts off for a page.
const NoLayout = "none"

// FrontMatter holds data scraped from the top of a page.
type FrontMatter struct {
	Title       string         `toml:"title" yaml:"title"`             // Title of this page
	Date        time.Time      `toml:"date" yaml:"date"`               // Date the article appears
	Template    string         `toml:"template" yaml:"template"`       // The name of the layout to use, or "none"
	Tags        []string       `toml:"tags" yaml:"tags"`               // Tags to assign to this article
	Draft       bool           `toml:"draft" yaml:"draft"`             // Drafts are never built
	Redirect    string         `toml:"redirect" yaml:"redirect"`       // Render a redirect to another location
	Description string         `toml:"description" yaml:"description"` // Short summary for feeds and meta tags
	Params      map[string]any `toml:"params" yaml:"params"`           // Anything else the templates need
}

// Format identifies the front matter syntax.
type Format int

const (
	FormatNone Format = iota
	FormatTOML
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatTOML:
		return "toml"
	case FormatYAML:
		return "yaml"
	}
	return "none"
}

var (
	// tomlRegexp is the regular expression used to split out TOML front matter.
	tomlRegexp = regexp.MustCompile(`(?m)^\s*\+\+\+\s*$`)
	// yamlRegexp is the regular expression used to split out YAML front matter.
	yamlRegexp = regexp.MustCompile(`(?m)^\s*---\s*$`)
	// yamlKeyRegexp matches the first line of a YAML mapping.
	yamlKeyRegexp = regexp.MustCompile(`^[A-Za-z_][\w-]*\s*:`)
)

// ExtractFrontMatter splits the front matter and the rest of the content.
// Front matter must open the file and is delimited by "+++" lines (TOML)
// or "---" lines (YAML). A "---" block whose first line is not a "key:" entry
// is a markdown horizontal rule, not front matter.
func ExtractFrontMatter(x []byte) (fm, r []byte, f Format) {
	trimmed := bytes.TrimSpace(x)
	var re *regexp.Regexp
	switch {
	case bytes.HasPrefix(trimmed, []byte("+++")):
		re, f = tomlRegexp, FormatTOML
	case bytes.HasPrefix(trimmed, []byte("---")):
		re, f = yamlRegexp, FormatYAML
	default:
		return nil, x, FormatNone
	}
	subs := re.Split(string(x), 3)
	if len(subs) != 3 {
		return nil, x, FormatNone
	}
	if s := strings.TrimSpace(subs[0]); len(s) > 0 {
		return nil, x, FormatNone
	}
	fm = []byte(strings.TrimSpace(subs[1]))
	if f == FormatYAML && len(fm) > 0 && !yamlMapping(fm) {
		return nil, x, FormatNone
	}
	return fm, []byte(strings.TrimSpace(subs[2])), f
}

// yamlMapping reports whether the first line of b, ignoring comments, starts a mapping.
func yamlMapping(b []byte) bool {
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return yamlKeyRegexp.MatchString(line)
	}
	return true
}

// DecodeFrontMatter unmarshals front matter of the given format into fm.
func DecodeFrontMatter(b []byte, f Format, fm *FrontMatter) error {
	var err error
	switch f {
	case FormatTOML:
		err = toml.Unmarshal(b, fm)
	case FormatYAML:
		err = yaml.Unmarshal(b, fm)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFrontMatter, err)
	}
	return nil
}

// Layout reports the layout named by the front matter and whether one was named.
func (fm FrontMatter) Layout() (string, bool) {
	if fm.Template == "" {
		return "", false
	}
	if fm.Template == NoLayout {
		return "", true
	}
	return fm.Template, true
}

/*
Package config reads the site configuration from a TOML file.

A missing file is not an error; the defaults describe a site with a "source" folder,
a "build" output folder, templates in "source/template", a blog under
"blog/{year}/{month}/{day}/{title}.html" and the usual no-layout rules for
XML, JSON and text files.

Credentials are never read from the file. They come from the AWS_ACCESS_KEY and
AWS_SECRET environment variables (see the command line flags) or from the default
AWS credential chain.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ErrInvalid is returned by Validate when a setting cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// DefaultFile is the configuration file name looked up in the working directory.
const DefaultFile = "site.toml"

// OneYear is the max-age applied to fingerprinted assets.
const OneYear = 31536000

// Config contains configuration data from the site.toml file.
type Config struct {
	Site       Site        `toml:"site"`
	Source     string      `toml:"source"`  // Folder holding pages, posts and assets
	Build      string      `toml:"build"`   // Output folder
	Layouts    string      `toml:"layouts"` // Layout folder, relative to Source
	Ignore     []string    `toml:"ignore"`  // Source globs that are never built
	Pages      []PageRule  `toml:"page"`
	Blog       Blog        `toml:"blog"`
	Assets     Assets      `toml:"assets"`
	Highlight  Highlight   `toml:"highlight"`
	Cache      CachePolicy `toml:"cache"`
	S3         S3          `toml:"s3"`
	CloudFront CloudFront  `toml:"cloudfront"`
	Serve      Serve       `toml:"serve"`
}

// Site holds values exposed to templates.
type Site struct {
	Name string `toml:"name"`
	URL  string `toml:"url"` // Root URL, used for absolute links in feeds and sitemaps
}

// PageRule assigns a layout to output paths matching Pattern.
// Patterns without a slash match the base name only.
type PageRule struct {
	Pattern  string `toml:"pattern"`
	Layout   string `toml:"layout"`
	NoLayout bool   `toml:"no_layout"`
}

// Blog configures post discovery and permalinks.
type Blog struct {
	Sources       string `toml:"sources"`   // e.g. "posts/:title.html"
	Permalink     string `toml:"permalink"` // e.g. "blog/{year}/{month}/{day}/{title}.html"
	Layout        string `toml:"layout"`    // Layout for posts; empty uses the page rules
	TagLink       string `toml:"taglink"`   // e.g. "tags/{tag}.html"; empty disables tag pages
	TagLayout     string `toml:"tag_layout"`
	PublishFuture bool   `toml:"publish_future"` // Build posts dated in the future
}

// Assets selects the post-processing steps.
type Assets struct {
	MinifyCSS      bool     `toml:"minify_css"`
	MinifyJS       bool     `toml:"minify_javascript"`
	MinifyHTML     bool     `toml:"minify_html"`
	Gzip           bool     `toml:"gzip"`
	GzipExts       []string `toml:"gzip_exts"`
	AssetHash      bool     `toml:"asset_hash"`
	HashExts       []string `toml:"hash_exts"`
	HashIgnore     []string `toml:"hash_ignore"`
	RelativeAssets bool     `toml:"relative_assets"`
}

// Highlight configures fenced code block highlighting. An empty Style disables it.
type Highlight struct {
	Style string `toml:"style"`
}

// CachePolicy maps media types to a Cache-Control max-age in seconds.
type CachePolicy struct {
	MaxAge  map[string]int `toml:"max_age"`
	Default string         `toml:"default"` // Cache-Control for everything else; may be empty
}

// CacheControl returns the Cache-Control value for a file name, chosen by its
// media type. It returns Default when the type has no max-age.
func (p CachePolicy) CacheControl(name string) string {
	mt, _, _ := strings.Cut(mime.TypeByExtension(path.Ext(name)), ";")
	if age, ok := p.MaxAge[strings.TrimSpace(mt)]; ok {
		return "max-age=" + strconv.Itoa(age)
	}
	return p.Default
}

// S3 configures the bucket sync.
type S3 struct {
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	Prefix        string `toml:"prefix"`
	Endpoint      string `toml:"endpoint"` // Custom endpoint for S3-compatible stores
	Delete        bool   `toml:"delete"`   // Delete objects that are no longer built
	PreferGzip    bool   `toml:"prefer_gzip"`
	IndexDocument string `toml:"index_document"`
	ErrorDocument string `toml:"error_document"`
	ACL           string `toml:"acl"`
	Concurrency   int    `toml:"concurrency"`
}

// CloudFront configures edge invalidation after a sync.
type CloudFront struct {
	DistributionID string   `toml:"distribution_id"`
	Filter         string   `toml:"filter"`    // Only invalidate keys matching this regexp
	MaxPaths       int      `toml:"max_paths"` // Above this, invalidate "/*"
	Wait           bool     `toml:"wait"`
	WaitTimeout    Duration `toml:"wait_timeout"`
}

// Serve configures the preview server.
type Serve struct {
	Addr          string            `toml:"addr"`
	Debounce      Duration          `toml:"debounce"`
	CacheBytes    int64             `toml:"cache_bytes"`
	CacheDuration Duration          `toml:"cache_duration"`
	Headers       map[string]string `toml:"headers"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Source:  "source",
		Build:   "build",
		Layouts: "template",
		Pages: []PageRule{
			{Pattern: "*.xml", NoLayout: true},
			{Pattern: "*.json", NoLayout: true},
			{Pattern: "*.txt", NoLayout: true},
		},
		Blog: Blog{
			Sources:   "posts/:title.html",
			Permalink: "blog/{year}/{month}/{day}/{title}.html",
			TagLink:   "tags/{tag}.html",
			TagLayout: "tag",
		},
		Assets: Assets{
			GzipExts: []string{".css", ".htm", ".html", ".js", ".svg", ".xhtml", ".xml", ".json", ".txt"},
			HashExts: []string{".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".woff", ".woff2", ".ttf", ".eot"},
		},
		Highlight: Highlight{Style: "github"},
		Cache: CachePolicy{
			MaxAge: map[string]int{
				"image/png":              OneYear,
				"image/jpeg":             OneYear,
				"text/css":               OneYear,
				"text/javascript":        OneYear,
				"application/javascript": OneYear,
			},
		},
		S3: S3{
			Delete:        false,
			PreferGzip:    true,
			IndexDocument: "index.html",
			ErrorDocument: "404.html",
			Concurrency:   8,
		},
		CloudFront: CloudFront{
			MaxPaths:    1000,
			WaitTimeout: Duration(15 * time.Minute),
		},
		Serve: Serve{
			Addr:          ":4567",
			Debounce:      Duration(300 * time.Millisecond),
			CacheBytes:    32 * 1024 * 1024,
			CacheDuration: Duration(time.Second),
		},
	}
}

// Load returns configuration from the named TOML file layered over Default.
// It is not an error if the file does not exist.
func Load(name string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("Cannot read config file: %w", err)
	}
	if err := Parse(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML data into cfg. Keys absent from data keep their current values.
// Page rules given in data replace the current rules instead of extending them.
func Parse(b []byte, cfg *Config) error {
	var top map[string]any
	if err := toml.Unmarshal(b, &top); err != nil {
		return fmt.Errorf("Cannot parse config file: %w", err)
	}
	if _, ok := top["page"]; ok {
		cfg.Pages = nil
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("Cannot parse config file: %w", err)
	}
	return nil
}

// Validate checks settings that do not depend on the build itself.
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("%w: source folder is empty", ErrInvalid)
	}
	if c.Build == "" {
		return fmt.Errorf("%w: build folder is empty", ErrInvalid)
	}
	if nested(c.Source, c.Build) || nested(c.Build, c.Source) {
		return fmt.Errorf("%w: source %q and build %q folders overlap", ErrInvalid, c.Source, c.Build)
	}
	for _, r := range c.Pages {
		if _, err := path.Match(r.Pattern, ""); err != nil {
			return fmt.Errorf("%w: page pattern %q: %v", ErrInvalid, r.Pattern, err)
		}
	}
	for _, p := range c.Ignore {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("%w: ignore pattern %q: %v", ErrInvalid, p, err)
		}
	}
	for mt, age := range c.Cache.MaxAge {
		if age < 0 {
			return fmt.Errorf("%w: negative max-age for %q", ErrInvalid, mt)
		}
	}
	if c.S3.Concurrency < 1 {
		return fmt.Errorf("%w: s3 concurrency must be positive", ErrInvalid)
	}
	if c.CloudFront.Filter != "" {
		if _, err := regexp.Compile(c.CloudFront.Filter); err != nil {
			return fmt.Errorf("%w: cloudfront filter: %v", ErrInvalid, err)
		}
	}
	return nil
}

// nested reports whether dir is parent or a folder below it.
func nested(parent, dir string) bool {
	p, err := filepath.Abs(parent)
	if err != nil {
		return false
	}
	d, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(p, d)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ValidatePublish checks the settings needed to sync the bucket.
func (c *Config) ValidatePublish() error {
	if c.S3.Bucket == "" {
		return fmt.Errorf("%w: s3 bucket is empty", ErrInvalid)
	}
	return nil
}

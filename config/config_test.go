package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	name := filepath.Join(t.TempDir(), DefaultFile)
	data := `
source = "src"

[site]
name = "QBayLogic"
url = "http://qbaylogic.com"

[[page]]
pattern = "*.xml"
no_layout = true

[assets]
minify_css = true
gzip = true

[s3]
bucket = "qbaylogic-com"
delete = false
concurrency = 4

[cloudfront]
distribution_id = "E3Q8URRQ23NCSH"
wait_timeout = "2m"

[serve]
debounce = "1s"
`
	require.NoError(t, os.WriteFile(name, []byte(data), 0o644))

	cfg, err := Load(name)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidatePublish())

	assert.Equal(t, "src", cfg.Source)
	assert.Equal(t, "build", cfg.Build)
	assert.Equal(t, "QBayLogic", cfg.Site.Name)
	assert.Equal(t, []PageRule{{Pattern: "*.xml", NoLayout: true}}, cfg.Pages)
	assert.True(t, cfg.Assets.MinifyCSS)
	assert.False(t, cfg.Assets.MinifyJS)
	assert.Equal(t, "qbaylogic-com", cfg.S3.Bucket)
	assert.True(t, cfg.S3.PreferGzip, "defaults survive keys the file leaves out")
	assert.Equal(t, "index.html", cfg.S3.IndexDocument)
	assert.Equal(t, 4, cfg.S3.Concurrency)
	assert.Equal(t, "E3Q8URRQ23NCSH", cfg.CloudFront.DistributionID)
	assert.Equal(t, 2*time.Minute, time.Duration(cfg.CloudFront.WaitTimeout))
	assert.Equal(t, time.Second, time.Duration(cfg.Serve.Debounce))
	assert.Equal(t, "blog/{year}/{month}/{day}/{title}.html", cfg.Blog.Permalink)
}

func TestLoadBadFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(name, []byte("source = "), 0o644))
	_, err := Load(name)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty source", func(c *Config) { c.Source = "" }},
		{"same folders", func(c *Config) { c.Build = "./source" }},
		{"build inside source", func(c *Config) { c.Source, c.Build = ".", "build" }},
		{"nested build", func(c *Config) { c.Build = "source/out" }},
		{"source inside build", func(c *Config) { c.Build, c.Source = "site", "site/source" }},
		{"bad page pattern", func(c *Config) { c.Pages = append(c.Pages, PageRule{Pattern: "[x"}) }},
		{"bad ignore pattern", func(c *Config) { c.Ignore = []string{"[x"} }},
		{"negative max-age", func(c *Config) { c.Cache.MaxAge["text/html"] = -1 }},
		{"zero concurrency", func(c *Config) { c.S3.Concurrency = 0 }},
		{"bad filter", func(c *Config) { c.CloudFront.Filter = "(" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestValidateSiblingFolders(t *testing.T) {
	cfg := Default()
	cfg.Source, cfg.Build = "source", "source-build"
	assert.NoError(t, cfg.Validate())
	cfg.Source, cfg.Build = "site/source", "site/build"
	assert.NoError(t, cfg.Validate())
}

func TestValidatePublish(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.ValidatePublish(), ErrInvalid)
	cfg.S3.Bucket = "b"
	assert.NoError(t, cfg.ValidatePublish())
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, "1m30s", d.String())
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestCacheControl(t *testing.T) {
	p := Default().Cache
	for _, name := range []string{"images/logo.png", "photo.jpg", "photo.jpeg", "css/site-1a2b3c4d.css", "js/app.js"} {
		assert.Equal(t, "max-age=31536000", p.CacheControl(name), name)
	}
	assert.Empty(t, p.CacheControl("index.html"))
	p.Default = "no-cache"
	assert.Equal(t, "no-cache", p.CacheControl("index.html"))
}

func TestLoadExample(t *testing.T) {
	cfg, err := Load("../example/site.toml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidatePublish())
	assert.Equal(t, "qbaylogic-com", cfg.S3.Bucket)
	assert.Equal(t, "E3Q8URRQ23NCSH", cfg.CloudFront.DistributionID)
	assert.False(t, cfg.S3.Delete)
	assert.True(t, cfg.S3.PreferGzip)
	assert.Len(t, cfg.Pages, 3)
	assert.Equal(t, OneYear, cfg.Cache.MaxAge["image/jpeg"])
	assert.Equal(t, 8, cfg.S3.Concurrency, "defaults survive")
}

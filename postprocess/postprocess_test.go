package postprocess

import (
	"bytes"
	"context"
	"io"
	"path"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QBayLogic/qbaymid/config"
	"github.com/QBayLogic/qbaymid/output"
)

func newSet(files map[string]string) *output.Set {
	s := output.NewSet()
	for k, v := range files {
		s.Put(k, []byte(v))
	}
	return s
}

func get(t *testing.T, s *output.Set, name string) string {
	t.Helper()
	b, ok := s.Get(name)
	require.True(t, ok, "missing %s in %v", name, s.Paths())
	return string(b)
}

func TestChain(t *testing.T) {
	var names []string
	for _, p := range Chain(config.Assets{MinifyCSS: true, Gzip: true, AssetHash: true, RelativeAssets: true}) {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"minify", "asset_hash", "relative_assets", "gzip"}, names)
	assert.Empty(t, Chain(config.Assets{}))
}

func TestMinify(t *testing.T) {
	const page = "<!DOCTYPE html>\n<html>\n  <body>\n    <p class=\"x\">  hello   world  </p>\n  </body>\n</html>\n"
	s := newSet(map[string]string{
		"css/site.css": "body {\n  color: red;\n}\n",
		"js/app.js":    "var answer = 42;\n\n// comment\n",
		"index.html":   page,
		"data.txt":     "  keep   me  ",
	})
	require.NoError(t, NewMinify(true, true, true).Process(context.Background(), s))
	assert.Equal(t, "body{color:red}", get(t, s, "css/site.css"))
	assert.NotContains(t, get(t, s, "js/app.js"), "comment")
	assert.Less(t, len(get(t, s, "index.html")), len(page))
	assert.Contains(t, get(t, s, "index.html"), `class="x"`)
	assert.Equal(t, "  keep   me  ", get(t, s, "data.txt"))

	s = newSet(map[string]string{"index.html": page})
	require.NoError(t, NewMinify(false, true, false).Process(context.Background(), s))
	assert.Equal(t, page, get(t, s, "index.html"))
}

func TestAssetHash(t *testing.T) {
	const png = "\x89PNG fake"
	s := newSet(map[string]string{
		"images/logo.png": png,
		"images/skip.png": "skip",
		"css/site.css":    `body{background:url("../images/logo.png?v=1#x")}`,
		"js/app.js":       "console.log(1)",
		"index.html":      `<link rel="stylesheet" href="/css/site.css"><img src="images/logo.png"><script src="/js/app.js"></script><a href="/about.html">about</a><img src="https://example.com/images/logo.png">`,
		"blog/post.html":  `<img src='../images/logo.png#top'>`,
		"about.html":      "about",
		"robots.txt":      "User-agent: *",
	})
	h := &AssetHash{Exts: []string{".css", ".js", ".png"}, Ignore: []string{"skip.png"}}
	require.NoError(t, h.Process(context.Background(), s))

	logo := HashedName("images/logo.png", []byte(png))
	css := `body{background:url("../` + logo + `?v=1#x")}`
	cssName := HashedName("css/site.css", []byte(css))
	jsName := HashedName("js/app.js", []byte("console.log(1)"))

	assert.Regexp(t, `^images/logo-[0-9a-f]{8}\.png$`, logo)
	assert.Equal(t, []string{
		"about.html",
		"blog/post.html",
		cssName,
		logo,
		"images/skip.png",
		"index.html",
		jsName,
		"robots.txt",
	}, s.Paths())
	assert.Equal(t, css, get(t, s, cssName))
	assert.Equal(t, `<link rel="stylesheet" href="/`+cssName+`"><img src="`+logo+`"><script src="/`+jsName+`"></script><a href="/about.html">about</a><img src="https://example.com/images/logo.png">`,
		get(t, s, "index.html"))
	assert.Equal(t, `<img src='../`+logo+`#top'>`, get(t, s, "blog/post.html"))
}

func TestRelativeAssets(t *testing.T) {
	s := newSet(map[string]string{
		"css/site.css":     "body{}",
		"images/a.png":     "a",
		"about.html":       "about",
		"blog/2015/a.html": `<link href="/css/site.css?v=2"><div style="background:url(/images/a.png)"></div><a href="/about.html">x</a><img src="/missing.png"><img src="//cdn.example.com/a.png">`,
		"index.html":       `<img src="/images/a.png">`,
	})
	require.NoError(t, RelativeAssets{}.Process(context.Background(), s))
	assert.Equal(t, `<link href="../../css/site.css?v=2"><div style="background:url(../../images/a.png)"></div><a href="/about.html">x</a><img src="/missing.png"><img src="//cdn.example.com/a.png">`,
		get(t, s, "blog/2015/a.html"))
	assert.Equal(t, `<img src="images/a.png">`, get(t, s, "index.html"))
}

func TestGzip(t *testing.T) {
	s := newSet(map[string]string{
		"index.html":      "<p>hello hello hello hello</p>",
		"images/logo.png": "png",
	})
	require.NoError(t, (&Gzip{Exts: []string{".html"}}).Process(context.Background(), s))
	assert.Equal(t, []string{"images/logo.png", "index.html", "index.html.gz"}, s.Paths())

	z := get(t, s, "index.html.gz")
	r, err := gzip.NewReader(bytes.NewReader([]byte(z)))
	require.NoError(t, err)
	assert.True(t, r.Header.ModTime.IsZero())
	assert.Empty(t, r.Header.Name)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "<p>hello hello hello hello</p>", string(b))

	again, err := Compress([]byte("<p>hello hello hello hello</p>"))
	require.NoError(t, err)
	assert.Equal(t, z, string(again))
}

func TestRun(t *testing.T) {
	s := newSet(map[string]string{"css/site.css": "a { color: blue; }"})
	procs := Chain(config.Assets{MinifyCSS: true, AssetHash: true, HashExts: []string{".css"}, Gzip: true, GzipExts: []string{".css"}})
	require.NoError(t, Run(context.Background(), s, procs, nil))
	name := HashedName("css/site.css", []byte("a{color:blue}"))
	assert.Equal(t, []string{name, name + ".gz"}, s.Paths())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Run(ctx, s, procs, nil), context.Canceled)
}

func TestRefs(t *testing.T) {
	assert.Equal(t, "../../css/a.css", relative("blog/2015/x.html", "css/a.css"))
	assert.Equal(t, "css/a.css", relative("index.html", "css/a.css"))
	assert.Equal(t, "img/a.png", relative("css/x.html", "css/img/a.png"))
	assert.Equal(t, "css/a.css", resolve("blog/x.html", "/css/a.css?x=1"))
	assert.Equal(t, "css/a.css", resolve("blog/x.html", "../css/a.css"))
	assert.False(t, isLocal("mailto:x@example.com"))
	assert.False(t, isLocal("data:image/png;base64,AAAA"))
	assert.False(t, isLocal("#top"))
	assert.True(t, isLocal("/a.png?t=1:2"))
}

func TestAssetHashImportChain(t *testing.T) {
	s := newSet(map[string]string{
		"images/x.png": "png",
		"css/a.css":    `@import url("b.css");body{}`,
		"css/b.css":    `@import "c.css";p{}`,
		"css/c.css":    `h1{background:url(../images/x.png)}`,
		"index.html":   `<link rel="stylesheet" href="/css/a.css">`,
	})
	h := &AssetHash{Exts: []string{".css", ".png"}}
	require.NoError(t, h.Process(context.Background(), s))

	png := HashedName("images/x.png", []byte("png"))
	c := `h1{background:url(../` + png + `)}`
	cName := HashedName("css/c.css", []byte(c))
	b := `@import "` + path.Base(cName) + `";p{}`
	bName := HashedName("css/b.css", []byte(b))
	a := `@import url("` + path.Base(bName) + `");body{}`
	aName := HashedName("css/a.css", []byte(a))

	assert.Equal(t, []string{aName, bName, cName, png, "index.html"}, s.Paths())
	assert.Equal(t, a, get(t, s, aName))
	assert.Equal(t, b, get(t, s, bName))
	assert.Equal(t, c, get(t, s, cName))
	assert.Equal(t, `<link rel="stylesheet" href="/`+aName+`">`, get(t, s, "index.html"))
}

func TestAssetHashImportCycle(t *testing.T) {
	s := newSet(map[string]string{
		"css/x.css":    `@import "y.css";`,
		"css/y.css":    `@import "x.css";`,
		"css/site.css": `@import "x.css";`,
	})
	h := &AssetHash{Exts: []string{".css"}}
	require.NoError(t, h.Process(context.Background(), s))
	assert.Equal(t, `@import "x.css";`, get(t, s, "css/y.css"))
	assert.Equal(t, `@import "y.css";`, get(t, s, "css/x.css"))
	assert.True(t, s.Has("css/site.css"), "stylesheets importing a cycle keep their names")
	assert.Equal(t, 3, s.Len())
}

package render

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/golang/groupcache"
	"github.com/google/uuid"
	"github.com/russross/blackfriday/v2"
)

// extensions are the blackfriday extensions used for every document.
const extensions = blackfriday.CommonExtensions | blackfriday.Footnotes

// highlighter is a blackfriday renderer that passes fenced code blocks through chroma.
type highlighter struct {
	*blackfriday.HTMLRenderer

	style     *chroma.Style
	formatter *html.Formatter
}

func newHighlighter(style string) blackfriday.Renderer {
	r := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.CommonHTMLFlags | blackfriday.FootnoteReturnLinks,
	})
	if style == "" {
		return r
	}
	return &highlighter{
		HTMLRenderer: r,
		style:        styles.Get(style),
		formatter:    html.New(html.TabWidth(4)),
	}
}

// RenderNode writes code blocks as highlighted HTML and everything else as usual.
func (h *highlighter) RenderNode(w io.Writer, node *blackfriday.Node, entering bool) blackfriday.WalkStatus {
	if node.Type != blackfriday.CodeBlock {
		return h.HTMLRenderer.RenderNode(w, node, entering)
	}
	lang, _, _ := strings.Cut(strings.TrimSpace(string(node.CodeBlockData.Info)), " ")
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	it, err := chroma.Coalesce(lexer).Tokenise(nil, string(node.Literal))
	if err != nil {
		return h.HTMLRenderer.RenderNode(w, node, entering)
	}
	var buf bytes.Buffer
	if err := h.formatter.Format(&buf, h.style, it); err != nil {
		return h.HTMLRenderer.RenderNode(w, node, entering)
	}
	_, _ = buf.WriteTo(w)
	return blackfriday.GoToNext
}

// renderMarkdown converts markdown to HTML, highlighting code with style.
func renderMarkdown(src []byte, style string) template.HTML {
	out := blackfriday.Run(src,
		blackfriday.WithExtensions(extensions),
		blackfriday.WithRenderer(newHighlighter(style)))
	return template.HTML(out)
}

// ctxKey is the type used to pass markdown source to the cache getter.
type ctxKey string

// markdownCache memoizes rendered markdown by content hash and style, so
// rebuilds in the preview server only render documents that changed.
type markdownCache struct {
	group *groupcache.Group
}

func newMarkdownCache(cacheBytes int64) *markdownCache {
	name := "markdown-" + uuid.NewString()
	return &markdownCache{
		group: groupcache.NewGroup(name, cacheBytes, groupcache.GetterFunc(
			func(ctx context.Context, key string, dest groupcache.Sink) error {
				q, err := url.ParseQuery(key)
				if err != nil {
					return fmt.Errorf("markdown group: %w", err)
				}
				src, ok := ctx.Value(ctxKey("source")).([]byte)
				if !ok {
					return fmt.Errorf("markdown group: no source for %s", q.Get("sum"))
				}
				return dest.SetString(string(renderMarkdown(src, q.Get("style"))))
			})),
	}
}

// render returns the HTML for src, from the cache when possible.
func (c *markdownCache) render(ctx context.Context, src []byte, style string) (template.HTML, error) {
	sum := sha256.Sum256(src)
	q := make(url.Values, 2)
	q.Set("sum", hex.EncodeToString(sum[:]))
	q.Set("style", style)
	var s string
	ctx = context.WithValue(ctx, ctxKey("source"), src)
	if err := c.group.Get(ctx, q.Encode(), groupcache.StringSink(&s)); err != nil {
		return "", fmt.Errorf("cachedRenderMarkdown: %w", err)
	}
	return template.HTML(s), nil
}

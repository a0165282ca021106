// Package ui provides the preview pages and live-reload plumbing served next
// to the built emails.
package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/jsonx"
	g "maragu.dev/gomponents"
	h "maragu.dev/gomponents/html"

	data "maragu.dev/gomponents-datastar"
)

const (
	datastarScript = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.7/bundles/datastar.js"

	// IndexPath lists the built pages.
	IndexPath = "/__index"
	// LiveReloadPath is the SSE stream that reloads open pages after a rebuild.
	LiveReloadPath = "/__livereload"
)

// PageInfo describes one built page.
type PageInfo struct {
	Name     string
	Path     string
	Size     int64
	Modified time.Time
}

// Layout wraps content in the base HTML layout.
func Layout(title string, content ...g.Node) g.Node {
	return h.HTML(
		h.Lang("en"),
		h.Head(
			h.Meta(h.Charset("utf-8")),
			h.Meta(h.Name("viewport"), h.Content("width=device-width, initial-scale=1")),
			h.TitleEl(g.Text(title)),
			h.Script(h.Type("module"), h.Src(datastarScript)),
			h.StyleEl(h.Type("text/css"), g.Raw(styles)),
		),
		h.Body(
			h.Nav(h.Class("navbar"),
				h.Div(h.Class("nav-brand"), g.Text("mailforge")),
				h.Div(h.Class("nav-links"),
					h.A(h.Href(IndexPath), g.Text("Pages")),
					h.A(h.Href("/metrics"), g.Text("Metrics")),
				),
			),
			h.Main(h.Class("container"), g.Group(content)),
			liveReload(),
		),
	)
}

// jsString quotes s as a string literal for a datastar expression.
func jsString(s string) string {
	lit, err := jsonx.MarshalToString(s)
	if err != nil {
		return strconv.Quote(s)
	}
	return lit
}

// IndexPage lists every built page with an inline preview of the selected one.
func IndexPage(pages []PageInfo) g.Node {
	var items []g.Node
	for _, p := range pages {
		path := p.Path
		lit := jsString(path)
		items = append(items, h.Div(h.Class("page-item"),
			data.On("click", "$selected = "+lit),
			data.Class("active", "$selected === "+lit),
			h.H3(g.Text(p.Name)),
			h.P(h.Class("hint"),
				g.Text(fmt.Sprintf("%s, built %s", formatSize(p.Size), p.Modified.Format("15:04:05"))),
			),
			h.A(h.Href(path), h.Target("_blank"), g.Text("open")),
		))
	}
	if len(items) == 0 {
		items = append(items, h.P(h.Class("hint"), g.Text("No pages built yet")))
	}

	selected := ""
	if len(pages) > 0 {
		selected = pages[0].Path
	}

	return Layout("Pages - mailforge",
		data.Signals(map[string]any{"selected": selected}),

		h.H1(g.Text("Built pages")),

		h.Div(h.Class("pages-grid"),
			h.Div(h.Class("page-list"), g.Group(items)),
			h.Div(h.Class("preview-panel"),
				h.Div(
					data.Show("$selected"),
					h.IFrame(
						h.ID("preview-frame"),
						data.Attr("src", "$selected"),
						h.StyleAttr("width: 100%; height: 720px; border: 1px solid #ddd; border-radius: 8px;"),
					),
				),
			),
		),
	)
}

// ReloadSnippet is injected into served pages so they reload after a rebuild.
func ReloadSnippet() string {
	var b strings.Builder
	_ = g.Group([]g.Node{
		h.Script(h.Type("module"), h.Src(datastarScript)),
		liveReload(),
	}).Render(&b)
	return b.String()
}

func liveReload() g.Node {
	return h.Div(h.ID("__livereload"), h.StyleAttr("display:none"), data.Init("@get('"+LiveReloadPath+"')"))
}

func formatSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f KB", float64(n)/1024)
}

const styles = `
:root {
	--primary: #6366f1;
	--bg: #f8fafc;
	--card-bg: #ffffff;
	--text: #1e293b;
	--text-muted: #64748b;
	--border: #e2e8f0;
}

* {
	box-sizing: border-box;
	margin: 0;
	padding: 0;
}

body {
	font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
	background: var(--bg);
	color: var(--text);
	line-height: 1.6;
}

.navbar {
	background: var(--primary);
	color: white;
	padding: 1rem 2rem;
	display: flex;
	justify-content: space-between;
}

.navbar a {
	color: white;
	margin-left: 1.5rem;
	text-decoration: none;
}

.container {
	padding: 2rem;
}

h1 {
	margin-bottom: 1.5rem;
}

.pages-grid {
	display: grid;
	grid-template-columns: 280px 1fr;
	gap: 1.5rem;
}

.page-item {
	background: var(--card-bg);
	border: 1px solid var(--border);
	border-radius: 8px;
	padding: 0.75rem 1rem;
	margin-bottom: 0.5rem;
	cursor: pointer;
}

.page-item.active {
	border-color: var(--primary);
}

.hint {
	color: var(--text-muted);
	font-size: 0.875rem;
}
`

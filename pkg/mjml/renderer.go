// Package mjml composes email pages from layouts and partials and turns MJML
// markup into the table-based HTML that email clients render.
//
// A page is a template file with optional YAML front matter. The front matter
// picks a layout and supplies page data; the page body becomes the "body"
// template the layout calls with {{template "body" .}}. Pages whose document
// root is <mjml> are converted with gomjml after composition.
package mjml

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/preslavrachev/gomjml/mjml"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/mr"
)

const layoutPrefix = "layout:"

var (
	// ErrLayoutNotFound is returned when a page names a layout that was not loaded.
	ErrLayoutNotFound = errors.New("layout not found")
	// ErrPageOutsideRoot is returned for a page path that is not under the pages dir.
	ErrPageOutsideRoot = errors.New("page is outside the pages dir")
)

// Renderer loads layouts and partials and renders pages against them.
type Renderer struct {
	mu      sync.RWMutex
	base    *template.Template
	layouts map[string]bool
	loaded  bool
	options *RenderOptions
}

// RenderOptions configures the renderer.
type RenderOptions struct {
	PagesDir    string
	LayoutsDir  string
	PartialsDir string
	EnableDebug bool // gomjml debug attributes
	EnableCache bool // gomjml component cache
	Funcs       template.FuncMap
}

// RendererOption configures the renderer
type RendererOption func(*RenderOptions)

// WithPagesDir sets the root of the page tree.
func WithPagesDir(dir string) RendererOption {
	return func(opts *RenderOptions) {
		opts.PagesDir = dir
	}
}

// WithLayoutsDir sets the layouts directory.
func WithLayoutsDir(dir string) RendererOption {
	return func(opts *RenderOptions) {
		opts.LayoutsDir = dir
	}
}

// WithPartialsDir sets the partials directory.
func WithPartialsDir(dir string) RendererOption {
	return func(opts *RenderOptions) {
		opts.PartialsDir = dir
	}
}

// WithDebug adds debug attributes to generated HTML
func WithDebug(enabled bool) RendererOption {
	return func(opts *RenderOptions) {
		opts.EnableDebug = enabled
	}
}

// WithCache enables the gomjml component cache.
func WithCache(enabled bool) RendererOption {
	return func(opts *RenderOptions) {
		opts.EnableCache = enabled
	}
}

// WithFuncs adds template helpers on top of the built-in ones.
func WithFuncs(funcs template.FuncMap) RendererOption {
	return func(opts *RenderOptions) {
		if opts.Funcs == nil {
			opts.Funcs = template.FuncMap{}
		}
		for k, v := range funcs {
			opts.Funcs[k] = v
		}
	}
}

// NewRenderer creates a renderer. Layouts and partials are read on the first
// render or on Refresh.
func NewRenderer(opts ...RendererOption) *Renderer {
	options := &RenderOptions{
		PagesDir:    filepath.Join("src", "pages"),
		LayoutsDir:  filepath.Join("src", "layouts"),
		PartialsDir: filepath.Join("src", "partials"),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Renderer{
		layouts: make(map[string]bool),
		options: options,
	}
}

// Refresh re-reads layouts and partials. The new set replaces the old one
// atomically, so a failed refresh leaves the previous set in place.
func (r *Renderer) Refresh() error {
	base := template.New("").Funcs(Funcs())
	if r.options.Funcs != nil {
		base = base.Funcs(r.options.Funcs)
	}

	layouts := make(map[string]bool)
	err := readTemplates(r.options.LayoutsDir, func(name string, content []byte) error {
		if _, err := base.New(layoutPrefix + name).Parse(string(content)); err != nil {
			return fmt.Errorf("failed to parse layout %s: %w", name, err)
		}
		layouts[name] = true
		return nil
	})
	if err != nil {
		return err
	}

	err = readTemplates(r.options.PartialsDir, func(name string, content []byte) error {
		if _, err := base.New(name).Parse(string(content)); err != nil {
			return fmt.Errorf("failed to parse partial %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.base = base
	r.layouts = layouts
	r.loaded = true
	r.mu.Unlock()

	logx.Infow("Layouts loaded",
		logx.Field("layouts", len(layouts)),
		logx.Field("dir", r.options.LayoutsDir),
	)
	return nil
}

// HasLayout reports whether a layout with the given name is loaded.
func (r *Renderer) HasLayout(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.layouts[name]
}

// Pages lists every page file under the pages dir in lexical order.
func (r *Renderer) Pages() ([]string, error) {
	var pages []string
	err := filepath.WalkDir(r.options.PagesDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isTemplateFile(p) {
			pages = append(pages, p)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	sort.Strings(pages)
	return pages, nil
}

// RenderPage renders the page file at p.
func (r *Renderer) RenderPage(p string) (Page, error) {
	if err := r.ensureLoaded(); err != nil {
		return Page{}, err
	}

	name, err := r.pageName(p)
	if err != nil {
		return Page{}, err
	}

	start := time.Now()
	page, err := r.render(name, p)
	if err != nil {
		renderErrors.Inc(name)
		return Page{}, err
	}
	renderDuration.Observe(time.Since(start).Milliseconds(), name)
	return page, nil
}

// RenderAll renders every page and writes it under outDir, mirroring the
// page tree with an .html extension. The first failure aborts the pass.
func (r *Renderer) RenderAll(ctx context.Context, outDir string) ([]Page, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}

	files, err := r.Pages()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	pages, err := mr.MapReduce(func(source chan<- string) {
		for _, f := range files {
			source <- f
		}
	}, func(file string, writer mr.Writer[Page], cancel func(error)) {
		page, err := r.RenderPage(file)
		if err != nil {
			cancel(err)
			return
		}
		if err := writePage(outDir, page); err != nil {
			cancel(err)
			return
		}
		writer.Write(page)
	}, func(pipe <-chan Page, writer mr.Writer[[]Page], cancel func(error)) {
		var all []Page
		for p := range pipe {
			all = append(all, p)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
		writer.Write(all)
	}, mr.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	logx.Infow("Pages rendered",
		logx.Field("pages", len(pages)),
		logx.Field("out", outDir),
	)
	return pages, nil
}

// RenderString converts MJML markup to HTML without any composition.
func (r *Renderer) RenderString(mjmlContent string) (string, error) {
	return r.renderMJML(mjmlContent)
}

func (r *Renderer) ensureLoaded() error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()

	if loaded {
		return nil
	}
	return r.Refresh()
}

func (r *Renderer) pageName(p string) (string, error) {
	rel, err := filepath.Rel(r.options.PagesDir, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s", ErrPageOutsideRoot, p)
	}
	rel = filepath.ToSlash(rel)
	return strings.TrimSuffix(rel, path.Ext(rel)), nil
}

func (r *Renderer) render(name, file string) (Page, error) {
	src, err := os.ReadFile(file)
	if err != nil {
		return Page{}, fmt.Errorf("failed to read page %s: %w", file, err)
	}

	data, body, err := frontMatter(src)
	if err != nil {
		return Page{}, fmt.Errorf("page %s: %w", name, err)
	}

	layout := DefaultLayout
	if l, ok := data["layout"].(string); ok && l != "" {
		layout = l
	}
	if _, ok := data["page"]; !ok {
		data["page"] = name
	}
	if _, ok := data["root"]; !ok {
		data["root"] = strings.Repeat("../", strings.Count(name, "/"))
	}

	r.mu.RLock()
	base := r.base
	hasLayout := r.layouts[layout]
	r.mu.RUnlock()

	if layout != NoLayout && !hasLayout {
		return Page{}, fmt.Errorf("page %s: %w: %s", name, ErrLayoutNotFound, layout)
	}

	tmpl, err := base.Clone()
	if err != nil {
		return Page{}, fmt.Errorf("page %s: %w", name, err)
	}
	if _, err := tmpl.New("body").Parse(string(body)); err != nil {
		return Page{}, fmt.Errorf("failed to parse page %s: %w", name, err)
	}

	entry := "body"
	if layout != NoLayout {
		entry = layoutPrefix + layout
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, entry, data); err != nil {
		return Page{}, fmt.Errorf("failed to execute page %s: %w", name, err)
	}

	html := buf.String()
	if isMJML(html) {
		html, err = r.renderMJML(html)
		if err != nil {
			return Page{}, fmt.Errorf("failed to render MJML for page %s: %w", name, err)
		}
	}

	return Page{Name: name, Layout: layout, HTML: html}, nil
}

// renderMJML converts MJML content to HTML using gomjml
func (r *Renderer) renderMJML(mjmlContent string) (string, error) {
	var mjmlOpts []mjml.RenderOption

	if r.options.EnableDebug {
		mjmlOpts = append(mjmlOpts, mjml.WithDebugTags(true))
	}

	if r.options.EnableCache {
		mjmlOpts = append(mjmlOpts, mjml.WithCache())
	}

	html, err := mjml.Render(mjmlContent, mjmlOpts...)
	if err != nil {
		return "", fmt.Errorf("gomjml render failed: %w", err)
	}

	return html, nil
}

func writePage(outDir string, page Page) error {
	dst := filepath.Join(outDir, filepath.FromSlash(page.Name)+".html")
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}
	if err := os.WriteFile(dst, []byte(page.HTML), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}

// readTemplates calls fn for every template file in dir, keyed by base name
// without extension. A missing dir holds no templates.
func readTemplates(dir string, fn func(name string, content []byte) error) error {
	if dir == "" {
		return nil
	}

	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !isTemplateFile(p) {
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read template file %s: %w", p, err)
		}
		base := filepath.Base(p)
		return fn(strings.TrimSuffix(base, filepath.Ext(base)), content)
	})
}

func isTemplateFile(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".html", ".htm", ".mjml":
		return true
	}
	return false
}

func isMJML(doc string) bool {
	return strings.HasPrefix(strings.TrimSpace(doc), "<mjml")
}

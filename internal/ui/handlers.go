package ui

import (
	"bytes"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starfederation/datastar-go/datastar"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest"
)

// Handlers serves the built output with live reload.
type Handlers struct {
	dist string
	hub  *Hub
}

// NewHandlers creates handlers serving dist.
func NewHandlers(dist string, hub *Hub) *Handlers {
	return &Handlers{dist: dist, hub: hub}
}

// Routes returns the standard routes for registration with rest.Server.
func (h *Handlers) Routes() []rest.Route {
	return []rest.Route{
		{Method: http.MethodGet, Path: IndexPath, Handler: h.handleIndex},
	}
}

// SSERoutes returns the SSE routes (require rest.WithSSE option).
func (h *Handlers) SSERoutes() []rest.Route {
	return []rest.Route{
		{Method: http.MethodGet, Path: LiveReloadPath, Handler: h.handleLiveReload},
	}
}

// Static serves files from dist. HTML responses get the reload snippet.
// It is registered as the server's not-found handler so every path that is
// not a route falls through to the build output.
func (h *Handlers) Static() http.Handler {
	return http.HandlerFunc(h.handleStatic)
}

func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	pages, err := h.pages()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := IndexPage(pages).Render(w); err != nil {
		logx.Errorf("render index page: %v", err)
	}
}

func (h *Handlers) handleLiveReload(w http.ResponseWriter, r *http.Request) {
	reloads, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	sse := datastar.NewSSE(w, r)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-reloads:
			if err := sse.ExecuteScript("window.location.reload()"); err != nil {
				logx.Errorf("datastar reload: %v", err)
				return
			}
		}
	}
}

func (h *Handlers) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := path.Clean("/" + r.URL.Path)
	file := filepath.Join(h.dist, filepath.FromSlash(name))

	info, err := os.Stat(file)
	if err == nil && info.IsDir() {
		file = filepath.Join(file, "index.html")
		info, err = os.Stat(file)
	}
	if err != nil {
		if name == "/" {
			http.Redirect(w, r, IndexPath, http.StatusFound)
			return
		}
		http.NotFound(w, r)
		return
	}

	if !strings.EqualFold(filepath.Ext(file), ".html") {
		http.ServeFile(w, r, file)
		return
	}

	doc, err := os.ReadFile(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(InjectReload(doc))
}

// InjectReload adds the reload snippet before </body>, or appends it when
// the document has no body end tag.
func InjectReload(doc []byte) []byte {
	snippet := []byte(ReloadSnippet())
	lower := bytes.ToLower(doc)
	if i := bytes.LastIndex(lower, []byte("</body>")); i >= 0 {
		out := make([]byte, 0, len(doc)+len(snippet))
		out = append(out, doc[:i]...)
		out = append(out, snippet...)
		return append(out, doc[i:]...)
	}
	return append(append([]byte{}, doc...), snippet...)
}

func (h *Handlers) pages() ([]PageInfo, error) {
	var pages []PageInfo
	err := filepath.WalkDir(h.dist, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".html" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(h.dist, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		pages = append(pages, PageInfo{
			Name:     strings.TrimSuffix(rel, ".html"),
			Path:     "/" + rel,
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Name < pages[j].Name })
	return pages, err
}

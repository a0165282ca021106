package ui

import (
	"bufio"
	"context"
	"html"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDist(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return dir
}

func TestStaticInjectsReloadIntoHTML(t *testing.T) {
	dist := writeDist(t, map[string]string{
		"welcome.html": "<html><body><p>hi</p></BODY></html>",
	})
	h := NewHandlers(dist, NewHub())

	rec := httptest.NewRecorder()
	h.Static().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/welcome.html", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, LiveReloadPath)
	assert.Less(t, strings.Index(body, LiveReloadPath), strings.Index(body, "</BODY>"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestStaticServesAssetsVerbatim(t *testing.T) {
	dist := writeDist(t, map[string]string{
		"assets/img/logo.svg": "<svg></svg>",
	})
	h := NewHandlers(dist, NewHub())

	rec := httptest.NewRecorder()
	h.Static().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/img/logo.svg", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<svg></svg>", rec.Body.String())
}

func TestStaticRootWithoutIndexRedirects(t *testing.T) {
	h := NewHandlers(writeDist(t, nil), NewHub())

	rec := httptest.NewRecorder()
	h.Static().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, IndexPath, rec.Header().Get("Location"))
}

func TestStaticRootServesIndexHTML(t *testing.T) {
	dist := writeDist(t, map[string]string{"index.html": "<body>home</body>"})
	h := NewHandlers(dist, NewHub())

	rec := httptest.NewRecorder()
	h.Static().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "home")
}

func TestStaticStaysInsideDist(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("x"), 0o644))
	dist := filepath.Join(root, "dist")
	require.NoError(t, os.MkdirAll(dist, 0o755))
	h := NewHandlers(dist, NewHub())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.URL.Path = "/../secret.txt"
	rec := httptest.NewRecorder()
	h.Static().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaticRejectsWrites(t *testing.T) {
	h := NewHandlers(writeDist(t, nil), NewHub())

	rec := httptest.NewRecorder()
	h.Static().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/welcome.html", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIndexListsPages(t *testing.T) {
	dist := writeDist(t, map[string]string{
		"welcome.html":        "a",
		"receipts/order.html": "b",
		"css/app.css":         "c",
		"assets/img/logo.png": "d",
	})
	h := NewHandlers(dist, NewHub())

	pages, err := h.pages()
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "receipts/order", pages[0].Name)
	assert.Equal(t, "/receipts/order.html", pages[0].Path)
	assert.Equal(t, "welcome", pages[1].Name)

	rec := httptest.NewRecorder()
	h.handleIndex(rec, httptest.NewRequest(http.MethodGet, IndexPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "receipts/order")
}

func TestIndexWithoutDist(t *testing.T) {
	h := NewHandlers(filepath.Join(t.TempDir(), "missing"), NewHub())

	rec := httptest.NewRecorder()
	h.handleIndex(rec, httptest.NewRequest(http.MethodGet, IndexPath, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No pages built yet")
}

func TestInjectReloadWithoutBody(t *testing.T) {
	out := string(InjectReload([]byte("<p>fragment</p>")))
	assert.True(t, strings.HasPrefix(out, "<p>fragment</p>"))
	assert.Contains(t, out, LiveReloadPath)
}

func TestLiveReloadStreamsReload(t *testing.T) {
	hub := NewHub()
	h := NewHandlers(t.TempDir(), hub)
	srv := httptest.NewServer(http.HandlerFunc(h.handleLiveReload))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast()

	found := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), "window.location.reload()") {
			found = true
			break
		}
	}
	assert.True(t, found)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	ch, unsubscribe := hub.Subscribe()

	assert.Equal(t, 1, hub.Broadcast())
	assert.Equal(t, 1, hub.Broadcast())
	<-ch
	select {
	case <-ch:
		t.Fatal("pending signals should coalesce")
	default:
	}

	unsubscribe()
	assert.Equal(t, 0, hub.Subscribers())
	assert.Equal(t, 0, hub.Broadcast())
}

func TestIndexQuotesPagePaths(t *testing.T) {
	var b strings.Builder
	require.NoError(t, IndexPage([]PageInfo{{Name: "it's", Path: "/it's.html"}}).Render(&b))

	out := html.UnescapeString(b.String())
	assert.Contains(t, out, `$selected = "/it's.html"`)
	assert.Contains(t, out, `$selected === "/it's.html"`)
	assert.NotContains(t, out, `'/it's.html'`)
}

func TestJSString(t *testing.T) {
	assert.Equal(t, `"plain.html"`, jsString("plain.html"))
	assert.Equal(t, `"a'b\"c.html"`, jsString(`a'b"c.html`))
	assert.Equal(t, `"tab\there.html"`, jsString("tab\there.html"))
}

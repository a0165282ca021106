package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bep/godartsass/v2"
	"github.com/joeblew999/plat-mailforge/internal/config"
	"github.com/joeblew999/plat-mailforge/internal/errorx"
	"github.com/joeblew999/plat-mailforge/internal/task"
	"github.com/joeblew999/plat-mailforge/pkg/litmus"
	"github.com/joeblew999/plat-mailforge/pkg/mail"
	"github.com/joeblew999/plat-mailforge/pkg/publish"
	"github.com/joeblew999/plat-mailforge/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const layout = `<!DOCTYPE html><html><head><title>{{.title}}</title><!-- <style> --></head>` +
	`<body>{{template "body" .}}</body></html>`

type fakeSass struct{ calls atomic.Int32 }

func (f *fakeSass) Execute(args godartsass.Args) (godartsass.Result, error) {
	f.calls.Add(1)
	return godartsass.Result{CSS: "p { color: red; }"}, nil
}

type fakeUploader struct{ dirs []string }

func (f *fakeUploader) Publish(ctx context.Context, dir string) (publish.Report, error) {
	f.dirs = append(f.dirs, dir)
	return publish.Report{}, nil
}

type fakeSubmitter struct {
	emails []litmus.Email
	err    error
}

func (f *fakeSubmitter) Submit(ctx context.Context, emails []litmus.Email) ([]litmus.Result, error) {
	f.emails = append(f.emails, emails...)
	if f.err != nil {
		return nil, f.err
	}
	results := make([]litmus.Result, len(emails))
	for i, e := range emails {
		results[i] = litmus.Result{Name: e.Name, TestID: "1"}
	}
	return results, nil
}

type fakeRegistry struct {
	got registry.Template
	err error
}

func (f *fakeRegistry) Update(ctx context.Context, tpl registry.Template) (registry.Result, error) {
	f.got = tpl
	if f.err != nil {
		return nil, f.err
	}
	return registry.Result{"name": tpl.Name, "code": tpl.HTML, "publish_code": tpl.HTML}, nil
}

type fakePreview struct {
	started atomic.Int32
	stopped atomic.Int32
	reloads atomic.Int32
}

func (f *fakePreview) Start()  { f.started.Add(1) }
func (f *fakePreview) Stop()   { f.stopped.Add(1) }
func (f *fakePreview) Reload() { f.reloads.Add(1) }

type project struct {
	root string
	cfg  config.Config
}

func newProject(t *testing.T) project {
	t.Helper()
	root := t.TempDir()
	var cfg config.Config
	cfg.Registry = config.RegistryMandrill
	cfg.Paths = config.PathsConfig{
		Pages:      filepath.Join(root, "src", "pages"),
		Layouts:    filepath.Join(root, "src", "layouts"),
		Partials:   filepath.Join(root, "src", "partials"),
		Styles:     filepath.Join(root, "src", "assets", "scss"),
		StyleEntry: filepath.Join(root, "src", "assets", "scss", "app.scss"),
		Images:     filepath.Join(root, "src", "assets", "img"),
		Preview:    filepath.Join(root, "preview"),
		Fixtures:   filepath.Join(root, "src", "fixtures"),
		Dist:       filepath.Join(root, "dist"),
	}

	p := project{root: root, cfg: cfg}
	p.write(t, cfg.Paths.Layouts, "default.html", layout)
	p.write(t, cfg.Paths.Pages, "welcome.html", "---\ntitle: Welcome\n---\n<p>Hi</p><img src=\"assets/img/logo.png\">")
	p.write(t, cfg.Paths.Styles, "app.scss", "p { color: red; }")
	p.write(t, cfg.Paths.Images, "logo.gif", "GIF89a")
	p.write(t, cfg.Paths.Preview, "preview.html", "<html><body>preview</body></html>")
	return p
}

func (p project) write(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (p project) pipeline(t *testing.T, opts Options, options ...Option) *Pipeline {
	t.Helper()
	options = append([]Option{WithTranspiler(&fakeSass{})}, options...)
	pl, err := New(p.cfg, opts, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pl.Close() })
	return pl
}

func TestPlans(t *testing.T) {
	pl := newProject(t).pipeline(t, Options{})

	build := []string{TaskClean, TaskPages, TaskStyles, TaskImages, TaskInline, TaskPreview, TaskBuild}
	tests := []struct {
		task string
		want []string
	}{
		{TaskBuild, build},
		{TaskDefault, append(append([]string{}, build...), TaskServe, TaskWatch, TaskDefault)},
		{TaskLitmus, append(append([]string{}, build...), TaskPublish, TaskLitmus)},
		{TaskZip, append(append([]string{}, build...), TaskZip)},
		{TaskUpdateTemplate, append(append([]string{}, build...), TaskPublish, TaskUpdateTemplate)},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			plan, err := pl.Plan(tt.task)
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan)
		})
	}
}

func TestBuild(t *testing.T) {
	p := newProject(t)
	pl := p.pipeline(t, Options{})

	require.NoError(t, pl.Run(context.Background(), TaskBuild))

	dist := p.cfg.Paths.Dist
	page, err := os.ReadFile(filepath.Join(dist, "welcome.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "<title>Welcome</title>")
	assert.Contains(t, string(page), "<!-- <style> -->", "pages are not inlined outside production")

	assert.FileExists(t, filepath.Join(dist, "css", "app.css"))
	assert.FileExists(t, filepath.Join(dist, "assets", "img", "logo.gif"))
	assert.FileExists(t, filepath.Join(dist, "preview.html"))
	assert.False(t, pl.Production())
}

func TestBuildCleansStaleOutput(t *testing.T) {
	p := newProject(t)
	p.write(t, p.cfg.Paths.Dist, "stale.html", "old")

	require.NoError(t, p.pipeline(t, Options{}).Run(context.Background(), TaskBuild))
	assert.NoFileExists(t, filepath.Join(p.cfg.Paths.Dist, "stale.html"))
}

func TestBuildProductionInlines(t *testing.T) {
	p := newProject(t)
	require.NoError(t, p.pipeline(t, Options{Production: true}).Run(context.Background(), TaskBuild))

	page, err := os.ReadFile(filepath.Join(p.cfg.Paths.Dist, "welcome.html"))
	require.NoError(t, err)
	assert.NotContains(t, string(page), "<!-- <style> -->")
	assert.Contains(t, string(page), "color: red")
}

func TestLitmusForcesProductionAndSkipsPreview(t *testing.T) {
	p := newProject(t)
	p.cfg.AWS.URL = "https://cdn.example.com"
	up := &fakeUploader{}
	sub := &fakeSubmitter{}
	pl := p.pipeline(t, Options{}, WithUploader(up), WithSubmitter(sub))

	require.NoError(t, pl.Run(context.Background(), TaskLitmus))

	assert.True(t, pl.Production())
	assert.Equal(t, []string{filepath.Join(p.cfg.Paths.Dist, "assets", "img")}, up.dirs)
	require.Len(t, sub.emails, 1)
	assert.Equal(t, "welcome", sub.emails[0].Name)
	assert.Contains(t, sub.emails[0].HTML, `src="https://cdn.example.com/logo.png"`)
}

func TestLitmusWithoutAssetURLLeavesReferences(t *testing.T) {
	p := newProject(t)
	sub := &fakeSubmitter{}
	pl := p.pipeline(t, Options{}, WithUploader(&fakeUploader{}), WithSubmitter(sub))

	require.NoError(t, pl.Run(context.Background(), TaskLitmus))
	require.Len(t, sub.emails, 1)
	assert.Contains(t, sub.emails[0].HTML, `src="assets/img/logo.png"`)
}

func TestLitmusErrorIsFatal(t *testing.T) {
	p := newProject(t)
	boom := errorx.NewServiceError("litmus", "welcome", "Invalid credentials")
	pl := p.pipeline(t, Options{}, WithUploader(&fakeUploader{}), WithSubmitter(&fakeSubmitter{err: boom}))

	err := pl.Run(context.Background(), TaskLitmus)
	se, ok := errorx.AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, "litmus", se.Service)
}

func TestEmailPagesExcludesPreview(t *testing.T) {
	p := newProject(t)
	dist := p.cfg.Paths.Dist
	p.write(t, dist, "preview.html", "x")
	p.write(t, dist, "welcome.html", "x")
	p.write(t, filepath.Join(dist, "receipts"), "order.html", "x")
	p.write(t, filepath.Join(dist, "receipts"), "preview.html", "x")

	files, err := emailPages(dist)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("receipts", "order.html"),
		filepath.Join("receipts", "preview.html"),
		"welcome.html",
	}, files)
}

func TestUpdateTemplate(t *testing.T) {
	p := newProject(t)
	p.cfg.AWS.URL = "https://cdn.example.com/"
	reg := &fakeRegistry{}
	pl := p.pipeline(t, Options{Template: "welcome"}, WithUploader(&fakeUploader{}), WithRegistry(reg))

	require.NoError(t, pl.Run(context.Background(), TaskUpdateTemplate))

	assert.True(t, pl.Production())
	assert.Equal(t, "welcome", reg.got.Name)
	assert.Contains(t, reg.got.HTML, `src="https://cdn.example.com/logo.png"`)
}

func TestUpdateTemplateRequiresName(t *testing.T) {
	p := newProject(t)
	reg := &fakeRegistry{}
	pl := p.pipeline(t, Options{}, WithUploader(&fakeUploader{}), WithRegistry(reg))

	assert.ErrorIs(t, pl.Run(context.Background(), TaskUpdateTemplate), ErrTemplateRequired)
	assert.Empty(t, reg.got.Name)
}

func TestUpdateTemplateUnknownPage(t *testing.T) {
	p := newProject(t)
	pl := p.pipeline(t, Options{Template: "nope"}, WithUploader(&fakeUploader{}), WithRegistry(&fakeRegistry{}))

	assert.ErrorIs(t, pl.Run(context.Background(), TaskUpdateTemplate), ErrTemplateNotFound)
}

func TestUpdateTemplateRegistryErrorIsFatal(t *testing.T) {
	p := newProject(t)
	reg := &fakeRegistry{err: errorx.NewServiceError("mandrill", "Unknown_Template", `No such template "welcome"`)}
	pl := p.pipeline(t, Options{Template: "welcome"}, WithUploader(&fakeUploader{}), WithRegistry(reg))

	err := pl.Run(context.Background(), TaskUpdateTemplate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `A mandrill error occurred: Unknown_Template - No such template "welcome"`)
}

func TestZip(t *testing.T) {
	p := newProject(t)
	p.write(t, p.cfg.Paths.Images, "logo.png", "png")
	pl := p.pipeline(t, Options{})

	require.NoError(t, pl.Run(context.Background(), TaskZip))
	assert.FileExists(t, filepath.Join(p.cfg.Paths.Dist, "welcome.zip"))
}

func TestSimulate(t *testing.T) {
	p := newProject(t)
	p.write(t, p.cfg.Paths.Pages, "welcome.html", "---\ntitle: Welcome\n---\n<p>{{hb \"first_name\"}}</p>")
	p.write(t, p.cfg.Paths.Fixtures, "welcome.json", `{"first_name": "Ada"}`)

	require.NoError(t, p.pipeline(t, Options{}).Run(context.Background(), TaskSimulate))

	out, err := os.ReadFile(filepath.Join(p.cfg.Paths.Dist, "simulated", "welcome.html"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "<p>Ada</p>")
}

func TestValidate(t *testing.T) {
	p := newProject(t)
	require.NoError(t, p.pipeline(t, Options{}).Run(context.Background(), TaskValidate))

	p.write(t, p.cfg.Paths.Layouts, "default.html", `<html><body>{{template "body" .}}</body></html>`)
	assert.ErrorIs(t, p.pipeline(t, Options{}).Run(context.Background(), TaskValidate), ErrValidation)
}

func TestSend(t *testing.T) {
	p := newProject(t)
	p.cfg.SMTP = config.SMTPConfig{Host: "smtp.example.com", Port: "587", FromEmail: "dev@example.com"}

	var got mail.Message
	var gotCfg mail.Config
	mailer := func(ctx context.Context, c mail.Config, msg mail.Message) (string, error) {
		gotCfg, got = c, msg
		return "<id@example.com>", nil
	}

	pl := p.pipeline(t, Options{Template: "welcome", To: "qa@example.com"}, WithMailer(mailer))
	require.NoError(t, pl.Run(context.Background(), TaskSend))

	assert.Equal(t, "qa@example.com", got.To)
	assert.Equal(t, "[mailforge] welcome", got.Subject)
	assert.Contains(t, got.HTML, "<title>Welcome</title>")
	assert.Equal(t, "smtp.example.com", gotCfg.SMTPHost)
}

func TestSendRequiresRecipient(t *testing.T) {
	p := newProject(t)
	pl := p.pipeline(t, Options{Template: "welcome"}, WithMailer(func(context.Context, mail.Config, mail.Message) (string, error) {
		t.Fatal("mailer should not be called")
		return "", nil
	}))
	assert.ErrorIs(t, pl.Run(context.Background(), TaskSend), ErrRecipientRequired)
}

func TestMissingStyleEntryStopsBuild(t *testing.T) {
	p := newProject(t)
	require.NoError(t, os.Remove(p.cfg.Paths.StyleEntry))

	err := p.pipeline(t, Options{}).Run(context.Background(), TaskBuild)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task styles")
	assert.NoFileExists(t, filepath.Join(p.cfg.Paths.Dist, "preview.html"))
}

func TestServeStopsWithContext(t *testing.T) {
	p := newProject(t)
	pv := &fakePreview{}
	pl := p.pipeline(t, Options{}, WithPreview(pv))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pl.serve(ctx))
	assert.Eventually(t, func() bool { return pv.started.Load() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool { return pv.stopped.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestMatchTrigger(t *testing.T) {
	p := newProject(t)
	pl := p.pipeline(t, Options{})
	triggers := pl.triggers()
	paths := p.cfg.Paths

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{filepath.Join(paths.Pages, "welcome.html"), "pages", true},
		{filepath.Join(paths.Pages, "receipts", "order.html"), "pages", true},
		{filepath.Join(paths.Layouts, "default.html"), "layouts", true},
		{filepath.Join(paths.Partials, "footer.html"), "layouts", true},
		{filepath.Join(paths.Styles, "_settings.scss"), "styles", true},
		{filepath.Join(paths.Images, "logo.png"), "images", true},
		{filepath.Join(p.root, "README.md"), "", false},
		{paths.Pages + "-old/x.html", "", false},
	}
	for _, tt := range tests {
		got, ok := match(triggers, tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.want, got.name, tt.path)
	}
}

func TestWatchRebuildsOnPageChange(t *testing.T) {
	p := newProject(t)
	pv := &fakePreview{}
	pl := p.pipeline(t, Options{}, WithPreview(pv))
	require.NoError(t, pl.Run(context.Background(), TaskBuild))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	var watchErr error
	go func() {
		defer wg.Done()
		watchErr = pl.watch(ctx)
	}()

	page := filepath.Join(p.cfg.Paths.Pages, "news.html")
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(page, []byte("<p>News</p>"), 0o644)
		return pv.reloads.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)
	assert.FileExists(t, filepath.Join(p.cfg.Paths.Dist, "news.html"))

	cancel()
	wg.Wait()
	assert.NoError(t, watchErr)

	// let an in-flight rebuild finish before the temp dir goes away
	pl.watchMu.Lock()
	pl.watchMu.Unlock()
}

func TestRunRejectsUnknownTask(t *testing.T) {
	pl := newProject(t).pipeline(t, Options{})
	assert.ErrorIs(t, pl.Run(context.Background(), "deploy"), task.ErrUnknownTask)
}

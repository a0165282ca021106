package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joeblew999/plat-mailforge/internal/config"
	"github.com/joeblew999/plat-mailforge/internal/server"
	"github.com/joeblew999/plat-mailforge/internal/ui"
	"github.com/joeblew999/plat-mailforge/pkg/assets"
	"github.com/joeblew999/plat-mailforge/pkg/bundle"
	"github.com/joeblew999/plat-mailforge/pkg/images"
	"github.com/joeblew999/plat-mailforge/pkg/inline"
	"github.com/joeblew999/plat-mailforge/pkg/litmus"
	"github.com/joeblew999/plat-mailforge/pkg/mail"
	"github.com/joeblew999/plat-mailforge/pkg/publish"
	"github.com/joeblew999/plat-mailforge/pkg/registry"
	"github.com/joeblew999/plat-mailforge/pkg/simulate"
	"github.com/joeblew999/plat-mailforge/pkg/style"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"
)

// previewPage is the preview shell copied into dist; it is never tested or
// bundled as an email.
const previewPage = "preview.html"

func (p *Pipeline) clean(ctx context.Context) error {
	if err := os.RemoveAll(p.config.Paths.Dist); err != nil {
		return fmt.Errorf("clean %s: %w", p.config.Paths.Dist, err)
	}
	return nil
}

func (p *Pipeline) pages(ctx context.Context) error {
	built, err := p.renderer.RenderAll(ctx, p.config.Paths.Dist)
	if err != nil {
		return err
	}
	logx.WithContext(ctx).Infow("Pages rendered", logx.Field("count", len(built)))
	return nil
}

func (p *Pipeline) resetPages(ctx context.Context) error {
	return p.renderer.Refresh()
}

func (p *Pipeline) styles(ctx context.Context) error {
	c, err := p.styleCompiler()
	if err != nil {
		return err
	}
	_, err = c.Compile(ctx, p.config.Paths.StyleEntry, filepath.Dir(p.cssPath()), p.opts.Production)
	return err
}

func (p *Pipeline) styleCompiler() (*style.Compiler, error) {
	if p.compiler != nil {
		return p.compiler, nil
	}
	if p.transpiler == nil {
		t, err := style.StartDartSass(p.config.Paths.SassBinary)
		if err != nil {
			return nil, err
		}
		p.transpiler = t
		p.closers = append(p.closers, t)
	}
	p.compiler = style.NewCompiler(p.transpiler, p.config.Paths.SassIncludes...)
	return p.compiler, nil
}

func (p *Pipeline) images(ctx context.Context) error {
	_, err := images.Optimize(ctx, p.config.Paths.Images, p.imagesOut())
	return err
}

func (p *Pipeline) inline(ctx context.Context) error {
	return inline.Dir(ctx, p.config.Paths.Dist, p.cssPath(), p.opts.Production)
}

func (p *Pipeline) copyPreview(ctx context.Context) error {
	src := p.config.Paths.Preview
	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		logx.WithContext(ctx).Debugw("No preview dir, skipping", logx.Field("dir", src))
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("preview %s is not a directory", src)
	}

	if err := os.MkdirAll(p.config.Paths.Dist, 0o755); err != nil {
		return err
	}
	if err := os.CopyFS(p.config.Paths.Dist, os.DirFS(src)); err != nil {
		return fmt.Errorf("copy preview: %w", err)
	}
	return nil
}

func (p *Pipeline) reload(ctx context.Context) error {
	if p.preview != nil {
		p.preview.Reload()
	}
	return nil
}

func (p *Pipeline) serve(ctx context.Context) error {
	if p.preview == nil {
		srv, err := server.New(server.Config{
			Host:     p.config.Server.Host,
			Port:     p.config.Server.Port,
			Dist:     p.config.Paths.Dist,
			LogLevel: p.opts.LogLevel,
		}, ui.NewHub())
		if err != nil {
			return err
		}
		p.preview = srv
	}

	pv := p.preview
	threading.GoSafe(pv.Start)
	threading.GoSafe(func() {
		<-ctx.Done()
		pv.Stop()
	})
	return nil
}

func (p *Pipeline) publish(ctx context.Context) error {
	u, err := p.assetUploader(ctx)
	if err != nil {
		return err
	}

	report, err := u.Publish(ctx, p.imagesOut())
	if err != nil {
		return err
	}
	if failed := report.Failed(); len(failed) > 0 {
		logx.WithContext(ctx).Errorw("Some assets failed to publish",
			logx.Field("failed", len(failed)),
			logx.Field("error", report.Err().Error()),
		)
	}
	return nil
}

func (p *Pipeline) assetUploader(ctx context.Context) (Uploader, error) {
	if p.uploader != nil {
		return p.uploader, nil
	}
	aws := p.config.AWS
	pub, err := publish.New(ctx, publish.Config{
		Bucket:         aws.Bucket,
		Region:         aws.Region,
		AccessKeyID:    aws.Key,
		SecretKey:      aws.Secret,
		Endpoint:       aws.Endpoint,
		ForcePathStyle: aws.PathStyle,
		Prefix:         aws.Prefix,
		PerSecond:      aws.UploadsPerSecond,
	})
	if err != nil {
		return nil, err
	}
	p.uploader = pub
	return pub, nil
}

// rewrite points local image references at the published asset URL. Without
// an aws.url the document is returned unchanged.
func (p *Pipeline) rewrite(doc string) string {
	base, ok := p.config.AssetURL()
	if !ok {
		return doc
	}
	return assets.RewriteURLs(doc, base)
}

func (p *Pipeline) litmus(ctx context.Context) error {
	files, err := emailPages(p.config.Paths.Dist)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		logx.WithContext(ctx).Infow("No pages to test")
		return nil
	}

	emails := make([]litmus.Email, 0, len(files))
	for _, rel := range files {
		doc, err := os.ReadFile(p.dist(rel))
		if err != nil {
			return err
		}
		emails = append(emails, litmus.Email{
			Name: strings.TrimSuffix(filepath.ToSlash(rel), ".html"),
			HTML: p.rewrite(string(doc)),
		})
	}

	s, err := p.testSubmitter()
	if err != nil {
		return err
	}
	results, err := s.Submit(ctx, emails)
	if err != nil {
		return err
	}
	for _, r := range results {
		logx.WithContext(ctx).Infow("Litmus test created",
			logx.Field("page", r.Name),
			logx.Field("test_id", r.TestID),
		)
	}
	return nil
}

func (p *Pipeline) testSubmitter() (Submitter, error) {
	if p.submitter != nil {
		return p.submitter, nil
	}
	l := p.config.Litmus
	c, err := litmus.NewClient(litmus.Config{
		URL:          l.URL,
		Username:     l.Username,
		Password:     l.Password,
		Subject:      l.Subject,
		Applications: l.Applications,
	})
	if err != nil {
		return nil, err
	}
	p.submitter = c
	return c, nil
}

// emailPages lists every .html file under dist relative to it, except the
// preview shell at the top level.
func emailPages(dist string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dist, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".html" {
			return nil
		}
		rel, err := filepath.Rel(dist, path)
		if err != nil {
			return err
		}
		if rel == previewPage {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pages in %s: %w", dist, err)
	}
	sort.Strings(files)
	return files, nil
}

func (p *Pipeline) zip(ctx context.Context) error {
	results, err := bundle.Package(ctx, p.config.Paths.Dist)
	if err != nil {
		return err
	}
	for _, r := range results {
		logx.WithContext(ctx).Infow("Bundle written",
			logx.Field("name", r.Name),
			logx.Field("archive", r.Archive),
			logx.Field("entries", len(r.Entries)),
		)
	}
	return nil
}

// templatePage reads dist/<template>.html for the --template flag.
func (p *Pipeline) templatePage() (name, doc string, err error) {
	name = strings.TrimSuffix(p.opts.Template, ".html")
	if name == "" {
		return "", "", ErrTemplateRequired
	}
	raw, err := os.ReadFile(p.dist(name + ".html"))
	if errors.Is(err, fs.ErrNotExist) {
		return "", "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	if err != nil {
		return "", "", err
	}
	return name, string(raw), nil
}

func (p *Pipeline) updateTemplate(ctx context.Context) error {
	name, doc, err := p.templatePage()
	if err != nil {
		return err
	}

	reg, err := p.templateRegistry()
	if err != nil {
		return err
	}
	res, err := reg.Update(ctx, registry.Template{Name: name, HTML: p.rewrite(doc)})
	if err != nil {
		return err
	}

	logx.WithContext(ctx).Infow("Template updated",
		logx.Field("template", name),
		logx.Field("registry", p.config.Registry),
		logx.Field("result", registry.Redact(res)),
	)
	return nil
}

func (p *Pipeline) templateRegistry() (registry.Registry, error) {
	if p.registry != nil {
		return p.registry, nil
	}

	var (
		reg registry.Registry
		err error
	)
	switch p.config.Registry {
	case config.RegistryPostmark:
		reg, err = registry.NewPostmark(p.config.Postmark.ServerToken, p.config.Postmark.AccountToken)
	default:
		reg, err = registry.NewMandrill(p.config.MandrillKey)
	}
	if err != nil {
		return nil, err
	}
	p.registry = reg
	return reg, nil
}

func (p *Pipeline) simulate(ctx context.Context) error {
	_, err := simulate.Dir(ctx, p.config.Paths.Dist, p.config.Paths.Fixtures, p.dist("simulated"))
	return err
}

func (p *Pipeline) validate(ctx context.Context) error {
	files, err := emailPages(p.config.Paths.Dist)
	if err != nil {
		return err
	}

	var failed []string
	for _, rel := range files {
		doc, err := os.ReadFile(p.dist(rel))
		if err != nil {
			return err
		}
		issues := mail.ValidateHTML(string(doc))
		for _, issue := range issues {
			logx.WithContext(ctx).Infow("Compatibility issue",
				logx.Field("page", rel),
				logx.Field("severity", string(issue.Severity)),
				logx.Field("issue", issue.Message),
			)
		}
		if mail.HasErrors(issues) {
			failed = append(failed, rel)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(failed, ", "))
	}
	logx.WithContext(ctx).Infow("Pages validated", logx.Field("count", len(files)))
	return nil
}

func (p *Pipeline) send(ctx context.Context) error {
	if p.opts.To == "" {
		return ErrRecipientRequired
	}
	name, doc, err := p.templatePage()
	if err != nil {
		return err
	}

	s := p.config.SMTP
	_, err = p.mailer(ctx, mail.Config{
		SMTPHost:  s.Host,
		SMTPPort:  s.Port,
		Username:  s.Username,
		Password:  s.Password,
		FromEmail: s.FromEmail,
		FromName:  s.FromName,
	}, mail.Message{
		To:      p.opts.To,
		Subject: "[mailforge] " + name,
		HTML:    p.rewrite(doc),
	})
	return err
}

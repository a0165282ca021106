// Package pipeline wires the build steps into the named tasks the CLI runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/joeblew999/plat-mailforge/internal/config"
	"github.com/joeblew999/plat-mailforge/internal/task"
	"github.com/joeblew999/plat-mailforge/pkg/litmus"
	"github.com/joeblew999/plat-mailforge/pkg/mail"
	"github.com/joeblew999/plat-mailforge/pkg/mjml"
	"github.com/joeblew999/plat-mailforge/pkg/publish"
	"github.com/joeblew999/plat-mailforge/pkg/registry"
	"github.com/joeblew999/plat-mailforge/pkg/style"
	"github.com/zeromicro/go-zero/core/logx"
)

var (
	// ErrTemplateRequired is returned by tasks that need --template.
	ErrTemplateRequired = errors.New("a template name is required (--template)")
	// ErrRecipientRequired is returned by send when --to is missing.
	ErrRecipientRequired = errors.New("a recipient is required (--to)")
	// ErrTemplateNotFound is returned when dist has no page for --template.
	ErrTemplateNotFound = errors.New("template not found in dist")
	// ErrValidation is returned when a built page has compatibility errors.
	ErrValidation = errors.New("html validation failed")
)

// Options are the per-invocation flags threaded through every step.
type Options struct {
	Production bool
	Template   string
	To         string
	LogLevel   string
}

// Uploader publishes the files of a directory. *publish.Publisher
// implements it.
type Uploader interface {
	Publish(ctx context.Context, dir string) (publish.Report, error)
}

// Submitter sends emails to the rendering-test service. *litmus.Client
// implements it.
type Submitter interface {
	Submit(ctx context.Context, emails []litmus.Email) ([]litmus.Result, error)
}

// Preview is the live-reloading server started by the serve step.
type Preview interface {
	Start()
	Stop()
	Reload()
}

// Mailer sends one test email, mail.Send by default.
type Mailer func(ctx context.Context, c mail.Config, msg mail.Message) (string, error)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTranspiler sets the Sass transpiler instead of starting Dart Sass.
func WithTranspiler(t style.Transpiler) Option {
	return func(p *Pipeline) { p.transpiler = t }
}

// WithUploader sets the asset publisher instead of building one from config.
func WithUploader(u Uploader) Option {
	return func(p *Pipeline) { p.uploader = u }
}

// WithSubmitter sets the rendering-test client instead of building one from
// config.
func WithSubmitter(s Submitter) Option {
	return func(p *Pipeline) { p.submitter = s }
}

// WithRegistry sets the template registry instead of building one from
// config.
func WithRegistry(r registry.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithMailer replaces mail.Send.
func WithMailer(m Mailer) Option {
	return func(p *Pipeline) { p.mailer = m }
}

// WithPreview sets the server started by the serve step.
func WithPreview(pv Preview) Option {
	return func(p *Pipeline) { p.preview = pv }
}

// Pipeline runs build tasks against one loaded configuration.
type Pipeline struct {
	config config.Config
	opts   Options
	graph  *task.Graph

	renderer   *mjml.Renderer
	transpiler style.Transpiler
	compiler   *style.Compiler
	uploader   Uploader
	submitter  Submitter
	registry   registry.Registry
	mailer     Mailer
	preview    Preview

	// closers are released by Close, in reverse order.
	closers []io.Closer

	// watchMu serialises rebuilds started by the watcher.
	watchMu sync.Mutex
}

// New creates a Pipeline for c.
func New(c config.Config, opts Options, options ...Option) (*Pipeline, error) {
	p := &Pipeline{
		config: c,
		opts:   opts,
		mailer: mail.Send,
		renderer: mjml.NewRenderer(
			mjml.WithPagesDir(c.Paths.Pages),
			mjml.WithLayoutsDir(c.Paths.Layouts),
			mjml.WithPartialsDir(c.Paths.Partials),
			mjml.WithCache(true),
		),
	}
	for _, option := range options {
		option(p)
	}

	g, err := p.buildGraph()
	if err != nil {
		return nil, fmt.Errorf("task graph: %w", err)
	}
	p.graph = g

	return p, nil
}

// Tasks lists the names accepted by Run.
func (p *Pipeline) Tasks() []string {
	return p.graph.Names()
}

// Plan returns the steps Run would execute for name.
func (p *Pipeline) Plan(name string) ([]string, error) {
	return p.graph.Plan(name)
}

// Production reports whether the pipeline runs in production mode.
func (p *Pipeline) Production() bool {
	return p.opts.Production
}

// Run executes the named task with its dependencies.
func (p *Pipeline) Run(ctx context.Context, name string) error {
	if forcesProduction(name) && !p.opts.Production {
		logx.Infow("Production mode forced", logx.Field("task", name))
		p.opts.Production = true
	}

	ctx = logx.ContextWithFields(ctx,
		logx.Field("command", name),
		logx.Field("production", p.opts.Production),
	)
	return p.graph.Run(ctx, name)
}

// Close releases processes and servers started by the pipeline.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

func (p *Pipeline) dist(elem ...string) string {
	return filepath.Join(append([]string{p.config.Paths.Dist}, elem...)...)
}

func (p *Pipeline) cssPath() string {
	return p.dist("css", style.OutputName)
}

func (p *Pipeline) imagesOut() string {
	return p.dist("assets", "img")
}

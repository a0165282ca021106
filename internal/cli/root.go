// Package cli provides the mailforge command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joeblew999/plat-mailforge/internal/config"
	"github.com/joeblew999/plat-mailforge/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"
)

// flags are shared by every command.
type flags struct {
	config     string
	production bool
	template   string
	to         string
	logLevel   string
	dryRun     bool
}

func (f *flags) options() pipeline.Options {
	return pipeline.Options{
		Production: f.production,
		Template:   f.template,
		To:         f.to,
		LogLevel:   f.logLevel,
	}
}

// runner executes a task once flags are parsed. Tests swap it.
type runner func(ctx context.Context, f *flags, name string) error

// Execute runs the command line until it finishes or is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand builds the command tree. Without a subcommand it builds,
// serves and watches.
func NewRootCommand() *cobra.Command {
	return newRootCommand(runPipeline)
}

func newRootCommand(run runner) *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "mailforge",
		Short: "Build, preview and ship HTML emails",
		Long: `mailforge renders email pages from layouts and partials, compiles the
stylesheet, optimizes images and inlines CSS for production.

Running mailforge without a command builds the project, starts the preview
server and rebuilds on every source change.

Examples:
  mailforge                              # build, serve and watch
  mailforge build --production           # production build into dist
  mailforge litmus                       # publish images and start a Litmus test
  mailforge update-template --template welcome
  mailforge send --template welcome --to qa@example.com`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(f.logLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f, pipeline.TaskDefault)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.config, "config", "c", config.DefaultFile, "config file")
	pf.BoolVar(&f.production, "production", false, "production build (compressed CSS, inlined styles)")
	pf.StringVarP(&f.template, "template", "t", "", "template name for update-template and send")
	pf.StringVar(&f.to, "to", "", "recipient for send")
	pf.StringVarP(&f.logLevel, "log-level", "l", "info", "log level (debug, info, error, severe)")
	pf.BoolVar(&f.dryRun, "dry-run", false, "print the steps a command would run and exit")

	for _, c := range taskCommands {
		root.AddCommand(newTaskCommand(c, f, run))
	}
	return root
}

type taskCommand struct {
	name  string
	short string
}

var taskCommands = []taskCommand{
	{pipeline.TaskBuild, "Render pages, compile styles, optimize images and inline into dist"},
	{pipeline.TaskLitmus, "Build for production, publish images and submit pages to Litmus"},
	{pipeline.TaskZip, "Build and write one zip bundle per page"},
	{pipeline.TaskUpdateTemplate, "Build for production, publish images and update the --template in the registry"},
	{pipeline.TaskSimulate, "Build and render merge tags against src/fixtures"},
	{pipeline.TaskValidate, "Build and check pages for email client compatibility"},
	{pipeline.TaskSend, "Build and send the --template to --to over SMTP"},
}

func newTaskCommand(c taskCommand, f *flags, run runner) *cobra.Command {
	return &cobra.Command{
		Use:   c.name,
		Short: c.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f, c.name)
		},
	}
}

func runPipeline(ctx context.Context, f *flags, name string) error {
	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}

	p, err := pipeline.New(cfg, f.options())
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logx.Errorf("close pipeline: %v", err)
		}
	}()

	if f.dryRun {
		plan, err := p.Plan(name)
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(plan, " -> "))
		return nil
	}

	return p.Run(ctx, name)
}

func setupLogging(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	var c logx.LogConf
	if err := conf.FillDefault(&c); err != nil {
		return err
	}
	c.ServiceName = "mailforge"
	c.Encoding = "plain"
	c.Level = level
	logx.MustSetup(c)
	logx.SetLevel(lvl)
	logx.DisableStat()
	return nil
}

func parseLevel(level string) (uint32, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logx.DebugLevel, nil
	case "info":
		return logx.InfoLevel, nil
	case "error":
		return logx.ErrorLevel, nil
	case "severe":
		return logx.SevereLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

// Package style compiles the email stylesheet from Sass sources.
package style

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bep/godartsass/v2"
	"github.com/zeromicro/go-zero/core/logx"
)

// OutputName is the file name of the compiled stylesheet inside the css dir.
const OutputName = "app.css"

// ErrEmptyEntry is returned when the entry stylesheet path is empty.
var ErrEmptyEntry = errors.New("style entry point is required")

// Transpiler converts one Sass source to CSS. *godartsass.Transpiler
// implements it.
type Transpiler interface {
	Execute(args godartsass.Args) (godartsass.Result, error)
}

// Compiler compiles a single Sass entry point into dist/css/app.css.
type Compiler struct {
	transpiler   Transpiler
	includePaths []string
}

// NewCompiler creates a Compiler backed by t.
func NewCompiler(t Transpiler, includePaths ...string) *Compiler {
	return &Compiler{transpiler: t, includePaths: includePaths}
}

// StartDartSass launches the embedded Dart Sass protocol process. An empty
// binary lets godartsass look it up on PATH.
func StartDartSass(binary string) (*godartsass.Transpiler, error) {
	t, err := godartsass.Start(godartsass.Options{
		DartSassEmbeddedFilename: binary,
		LogEventHandler: func(e godartsass.LogEvent) {
			logx.Infow("sass", logx.Field("type", e.Type), logx.Field("message", e.Message))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start dart sass: %w", err)
	}
	return t, nil
}

// Compile compiles entry and writes the result into outDir. Outside
// production the CSS carries an inline source map; in production it is
// compressed and has none. It returns the written file path.
func (c *Compiler) Compile(ctx context.Context, entry, outDir string, production bool) (string, error) {
	if entry == "" {
		return "", ErrEmptyEntry
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := os.ReadFile(entry)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", entry, err)
	}

	abs, err := filepath.Abs(entry)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", entry, err)
	}

	args := godartsass.Args{
		Source:       string(src),
		URL:          "file://" + filepath.ToSlash(abs),
		IncludePaths: append([]string{filepath.Dir(abs)}, c.includePaths...),
		OutputStyle:  godartsass.OutputStyleExpanded,
		SourceSyntax: syntaxOf(entry),
	}
	if production {
		args.OutputStyle = godartsass.OutputStyleCompressed
	} else {
		args.EnableSourceMap = true
		args.SourceMapIncludeSources = true
	}

	res, err := c.transpiler.Execute(args)
	if err != nil {
		return "", fmt.Errorf("compile %s: %w", entry, err)
	}

	out := res.CSS
	if !production && res.SourceMap != "" {
		out += "\n/*# sourceMappingURL=data:application/json;charset=utf-8;base64," +
			base64.StdEncoding.EncodeToString([]byte(res.SourceMap)) + " */\n"
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", outDir, err)
	}
	dst := filepath.Join(outDir, OutputName)
	if err := os.WriteFile(dst, []byte(out), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", dst, err)
	}

	logx.Infow("Stylesheet compiled",
		logx.Field("entry", entry),
		logx.Field("bytes", len(out)),
		logx.Field("sourcemap", !production),
	)
	return dst, nil
}

func syntaxOf(path string) godartsass.SourceSyntax {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sass":
		return godartsass.SourceSyntaxSASS
	case ".css":
		return godartsass.SourceSyntaxCSS
	default:
		return godartsass.SourceSyntaxSCSS
	}
}

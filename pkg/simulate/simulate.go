// Package simulate renders built templates locally the way the Mandrill
// template registry would, using JSON fixtures as merge data. It lets a
// developer preview conditionals and merge tags without sending anything.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/zeromicro/go-zero/core/jsonx"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/mr"
)

var (
	mergeTag = regexp.MustCompile(`\{\{.*?\}\}`)
	tickIf   = regexp.MustCompile("(\\{\\{#if)\\s*?`([^`]*)`\\s*?(\\}\\})")

	entities = strings.NewReplacer("&quot;", `"`, "&#34;", `"`, "&apos;", "'", "&#39;", "'")
)

// exprHelper evaluates the backtick conditions Prepare rewrites.
const exprHelper = "mc_expr"

// Prepare undoes HTML escaping inside merge tags and turns backtick #if
// conditions into calls to the expression helper, so only those are run as
// code and a plain {{#if field}} keeps its truthiness test.
func Prepare(doc string) string {
	doc = mergeTag.ReplaceAllStringFunc(doc, entities.Replace)
	return tickIf.ReplaceAllStringFunc(doc, func(m string) string {
		expr := tickIf.FindStringSubmatch(m)[2]
		quote := "'"
		if strings.Contains(expr, "'") {
			quote = `"`
		}
		return "{{#if (" + exprHelper + " " + quote + expr + quote + ")}}"
	})
}

// Render compiles doc as a Handlebars template with Mandrill's backtick #if
// conditions and executes it against data.
func Render(doc string, data map[string]any) (string, error) {
	tpl, err := raymond.Parse(Prepare(doc))
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	tpl.RegisterHelper(exprHelper, evalHelper)

	out, err := tpl.Exec(data)
	if err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return out, nil
}

// evalHelper runs a condition against the current context. A condition that
// fails aborts the render.
func evalHelper(expr any, options *raymond.Options) bool {
	ok, err := Eval(raymond.Str(expr), options.Ctx())
	if err != nil {
		panic(err)
	}
	return ok
}

// LoadFixture reads the JSON merge data for a template.
func LoadFixture(path string) (map[string]any, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := jsonx.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return data, nil
}

// Dir renders every top-level .html file in distDir that has a fixture
// <name>.json in fixturesDir, writing the result to outDir/<name>.html.
// Pages without a fixture are skipped. It returns the rendered names.
func Dir(ctx context.Context, distDir, fixturesDir, outDir string) ([]string, error) {
	entries, err := os.ReadDir(distDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", distDir, err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && filepath.Ext(e.Name()) == ".html" {
			names = append(names, strings.TrimSuffix(e.Name(), ".html"))
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", outDir, err)
	}

	rendered, err := mr.MapReduce(func(source chan<- string) {
		for _, n := range names {
			source <- n
		}
	}, func(name string, writer mr.Writer[string], cancel func(error)) {
		data, err := LoadFixture(filepath.Join(fixturesDir, name+".json"))
		if errors.Is(err, os.ErrNotExist) {
			logx.WithContext(ctx).Debugw("No fixture, skipping simulation", logx.Field("page", name))
			return
		}
		if err != nil {
			cancel(err)
			return
		}

		if err := renderFile(filepath.Join(distDir, name+".html"), filepath.Join(outDir, name+".html"), data); err != nil {
			cancel(fmt.Errorf("simulate %s: %w", name, err))
			return
		}
		writer.Write(name)
	}, func(pipe <-chan string, writer mr.Writer[[]string], cancel func(error)) {
		var all []string
		for n := range pipe {
			all = append(all, n)
		}
		sort.Strings(all)
		writer.Write(all)
	}, mr.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	logx.WithContext(ctx).Infow("Templates simulated",
		logx.Field("pages", len(rendered)),
		logx.Field("out", outDir),
	)
	return rendered, nil
}

func renderFile(src, dst string, data map[string]any) error {
	doc, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	out, err := Render(string(doc), data)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, []byte(out), 0o644)
}

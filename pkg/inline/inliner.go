// Package inline merges compiled CSS into rendered email HTML: plain rules are
// written onto element style attributes, media-query rules are kept in a
// <style> block for clients that support responsive layouts.
package inline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/inliner"
	"github.com/aymerick/douceur/parser"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/mr"
)

// Placeholder is the comment layouts put where the media-query block goes.
const Placeholder = "<!-- <style> -->"

// ExtractMediaQueries splits stylesheet text into its @media rules and
// everything else.
func ExtractMediaQueries(text string) (media, rest string, err error) {
	sheet, err := parser.Parse(text)
	if err != nil {
		return "", "", fmt.Errorf("parse css: %w", err)
	}

	var mq, other css.Stylesheet
	for _, rule := range sheet.Rules {
		if isMediaRule(rule) {
			mq.Rules = append(mq.Rules, rule)
		} else {
			other.Rules = append(other.Rules, rule)
		}
	}

	return sheetText(&mq), sheetText(&other), nil
}

func isMediaRule(rule *css.Rule) bool {
	return rule.Kind == css.AtRule && strings.EqualFold(strings.TrimPrefix(rule.Name, "@"), "media")
}

func sheetText(sheet *css.Stylesheet) string {
	if len(sheet.Rules) == 0 {
		return ""
	}
	return sheet.String()
}

// Inline applies stylesheet to doc. Non-media rules end up in style
// attributes; media rules replace the Placeholder comment, or are appended to
// <head> when a layout has no placeholder.
func Inline(doc, stylesheet string) (string, error) {
	media, rest, err := ExtractMediaQueries(stylesheet)
	if err != nil {
		return "", err
	}

	if rest != "" {
		doc = insertBeforeHeadEnd(doc, "<style>"+rest+"</style>")
	}

	out, err := inliner.Inline(doc)
	if err != nil {
		return "", fmt.Errorf("inline css: %w", err)
	}

	block := "<style>" + media + "</style>"
	switch {
	case strings.Contains(out, Placeholder):
		out = strings.ReplaceAll(out, Placeholder, block)
	case media != "":
		out = insertBeforeHeadEnd(out, block)
	}

	return out, nil
}

func insertBeforeHeadEnd(doc, fragment string) string {
	if i := strings.Index(strings.ToLower(doc), "</head>"); i >= 0 {
		return doc[:i] + fragment + doc[i:]
	}
	return fragment + doc
}

// Dir inlines the stylesheet at cssPath into every .html file under dir.
// Outside production it leaves the files untouched.
func Dir(ctx context.Context, dir, cssPath string, production bool) error {
	if !production {
		logx.Debugw("Skipping CSS inlining outside production", logx.Field("dir", dir))
		return nil
	}

	stylesheet, err := os.ReadFile(cssPath)
	if err != nil {
		return fmt.Errorf("read stylesheet %s: %w", cssPath, err)
	}

	var pages []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".html") {
			pages = append(pages, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", dir, err)
	}
	if len(pages) == 0 {
		return nil
	}

	return mr.MapReduceVoid(func(source chan<- string) {
		for _, p := range pages {
			source <- p
		}
	}, func(path string, writer mr.Writer[string], cancel func(error)) {
		if err := inlineFile(path, string(stylesheet)); err != nil {
			cancel(err)
			return
		}
		writer.Write(path)
	}, func(pipe <-chan string, cancel func(error)) {
		for path := range pipe {
			logx.Debugw("Inlined", logx.Field("page", path))
		}
	}, mr.WithContext(ctx))
}

func inlineFile(path, stylesheet string) error {
	doc, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	out, err := Inline(string(doc), stylesheet)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	return os.WriteFile(path, []byte(out), 0o644)
}

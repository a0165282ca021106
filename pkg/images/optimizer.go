// Package images copies raster assets into the build, recompressing the ones
// that can be made smaller without changing how they look.
package images

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/mr"
)

// FileResult is the outcome for one image.
type FileResult struct {
	Name     string
	Original int
	Written  int
}

// Saved returns the number of bytes the optimisation removed.
func (r FileResult) Saved() int { return r.Original - r.Written }

// Report summarises an Optimize run.
type Report struct {
	Files    []FileResult
	Duration time.Duration
}

// Saved returns the total bytes removed across all files.
func (r Report) Saved() int {
	total := 0
	for _, f := range r.Files {
		total += f.Saved()
	}
	return total
}

// Optimize writes every file directly inside srcDir to dstDir, recompressing
// PNG images losslessly. Output is never larger than the source. A missing
// srcDir is not an error.
func Optimize(ctx context.Context, srcDir, dstDir string) (Report, error) {
	start := time.Now()

	entries, err := os.ReadDir(srcDir)
	if os.IsNotExist(err) {
		return Report{}, nil
	}
	if err != nil {
		return Report{}, fmt.Errorf("read %s: %w", srcDir, err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return Report{}, nil
	}

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("create %s: %w", dstDir, err)
	}

	files, err := mr.MapReduce(func(source chan<- string) {
		for _, n := range names {
			source <- n
		}
	}, func(name string, writer mr.Writer[FileResult], cancel func(error)) {
		res, err := optimizeFile(filepath.Join(srcDir, name), filepath.Join(dstDir, name))
		if err != nil {
			cancel(err)
			return
		}
		writer.Write(res)
	}, func(pipe <-chan FileResult, writer mr.Writer[[]FileResult], cancel func(error)) {
		var all []FileResult
		for r := range pipe {
			all = append(all, r)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
		writer.Write(all)
	}, mr.WithContext(ctx))
	if err != nil {
		return Report{}, err
	}

	report := Report{Files: files, Duration: time.Since(start)}
	logx.Infow("Images optimized",
		logx.Field("files", len(files)),
		logx.Field("saved_bytes", report.Saved()),
		logx.Field("duration", report.Duration.String()),
	)
	return report, nil
}

func optimizeFile(src, dst string) (FileResult, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return FileResult{}, fmt.Errorf("read %s: %w", src, err)
	}

	out := data
	if smaller, ok := recompress(data, filepath.Ext(src)); ok && len(smaller) < len(data) {
		out = smaller
	}

	if err := os.WriteFile(dst, out, 0o644); err != nil {
		return FileResult{}, fmt.Errorf("write %s: %w", dst, err)
	}

	return FileResult{Name: filepath.Base(src), Original: len(data), Written: len(out)}, nil
}

// recompress re-encodes PNG data losslessly at the best compression level.
// ok is false for other formats or undecodable input, in which case the caller
// keeps the original bytes.
func recompress(data []byte, ext string) ([]byte, bool) {
	if strings.ToLower(ext) != ".png" {
		return nil, false
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

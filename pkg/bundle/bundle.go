// Package bundle packages each rendered email page into its own zip archive,
// together with exactly the images the page references.
package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/mr"

	"github.com/joeblew999/plat-mailforge/pkg/assets"
)

var (
	// ErrMissingImage is returned when a page references an image that is not
	// present in the build output.
	ErrMissingImage = errors.New("referenced image not found")
	// ErrOutsideDir is returned when an image reference resolves outside the
	// build output.
	ErrOutsideDir = errors.New("image reference outside build output")
)

// Result describes one written bundle.
type Result struct {
	Name    string   // bundle name, the page's base name
	Archive string   // path of the written zip
	Entries []string // zip entry names in write order
}

// Package writes <name>.zip next to every top-level .html file in dir.
// Subdirectories are not searched. Bundles are independent and built in
// parallel.
func Package(ctx context.Context, dir string) ([]Result, error) {
	pages, err := htmlFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, nil
	}

	results, err := mr.MapReduce(func(source chan<- string) {
		for _, p := range pages {
			source <- p
		}
	}, func(page string, writer mr.Writer[Result], cancel func(error)) {
		res, err := packageOne(dir, page)
		if err != nil {
			cancel(err)
			return
		}
		writer.Write(res)
	}, func(pipe <-chan Result, writer mr.Writer[[]Result], cancel func(error)) {
		var all []Result
		for r := range pipe {
			all = append(all, r)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
		writer.Write(all)
	}, mr.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	return results, nil
}

// htmlFiles lists regular .html files directly inside dir.
func htmlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || filepath.Ext(e.Name()) != ".html" {
			continue
		}
		files = append(files, e.Name())
	}
	return files, nil
}

func packageOne(dir, page string) (Result, error) {
	name := strings.TrimSuffix(page, ".html")
	src := filepath.Join(dir, page)

	doc, err := os.ReadFile(src)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", src, err)
	}

	images, err := localImages(dir, doc)
	if err != nil {
		return Result{}, fmt.Errorf("bundle %s: %w", name, err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	res := Result{Name: name, Archive: filepath.Join(dir, name+".zip")}

	htmlEntry := path.Join(name, page)
	if err := addEntry(zw, htmlEntry, bytes.NewReader(doc)); err != nil {
		return Result{}, err
	}
	res.Entries = append(res.Entries, htmlEntry)

	for _, img := range images {
		entry := path.Join(name, img.rel)
		if err := addFile(zw, entry, img.file); err != nil {
			return Result{}, err
		}
		res.Entries = append(res.Entries, entry)
	}

	if err := zw.Close(); err != nil {
		return Result{}, fmt.Errorf("close zip %s: %w", name, err)
	}
	if err := os.WriteFile(res.Archive, buf.Bytes(), 0o644); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", res.Archive, err)
	}

	logx.Infow("Bundle written",
		logx.Field("bundle", name),
		logx.Field("images", len(images)),
		logx.Field("bytes", buf.Len()),
	)
	return res, nil
}

// image is a local image referenced by a page: its file on disk and its
// slash-separated path relative to the build output.
type image struct {
	file string
	rel  string
}

// localImages resolves the page's local <img> sources to files under dir.
// Zip entries keep the path relative to dir so nested images stay distinct
// and the page's references still resolve after extraction.
func localImages(dir string, doc []byte) ([]image, error) {
	refs, err := assets.ImageRefs(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var images []image
	seen := make(map[string]struct{})
	for _, ref := range refs {
		if assets.IsRemote(ref) || assets.IsTemplateTag(ref) {
			continue
		}
		clean := strings.SplitN(ref, "?", 2)[0]
		clean = strings.SplitN(clean, "#", 2)[0]
		p := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("%w: %s", ErrOutsideDir, ref)
		}
		if _, dup := seen[rel]; dup {
			continue
		}
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrMissingImage, ref)
		}
		seen[rel] = struct{}{}
		images = append(images, image{file: p, rel: filepath.ToSlash(rel)})
	}
	return images, nil
}

func addFile(zw *zip.Writer, entry, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	return addEntry(zw, entry, f)
}

func addEntry(zw *zip.Writer, entry string, r io.Reader) error {
	w, err := zw.Create(entry)
	if err != nil {
		return fmt.Errorf("create zip entry %s: %w", entry, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("write zip entry %s: %w", entry, err)
	}
	return nil
}

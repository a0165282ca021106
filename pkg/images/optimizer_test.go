package images

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uncompressedPNG encodes a flat image without compression so the optimiser
// has something to win.
func uncompressedPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(&buf, img))
	return buf.Bytes()
}

func TestOptimize(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "assets", "img")

	raw := uncompressedPNG(t)
	require.NoError(t, os.WriteFile(filepath.Join(src, "logo.png"), raw, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "icon.svg"), []byte("<svg/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "broken.png"), []byte("not a png"), 0o644))

	report, err := Optimize(context.Background(), src, dst)
	require.NoError(t, err)
	require.Len(t, report.Files, 3)
	assert.Greater(t, report.Saved(), 0)

	logo, err := os.ReadFile(filepath.Join(dst, "logo.png"))
	require.NoError(t, err)
	assert.Less(t, len(logo), len(raw))
	_, err = png.Decode(bytes.NewReader(logo))
	assert.NoError(t, err)

	svg, err := os.ReadFile(filepath.Join(dst, "icon.svg"))
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(svg))

	broken, err := os.ReadFile(filepath.Join(dst, "broken.png"))
	require.NoError(t, err)
	assert.Equal(t, "not a png", string(broken))
}

func TestOptimizeMissingSourceDir(t *testing.T) {
	report, err := Optimize(context.Background(), filepath.Join(t.TempDir(), "missing"), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, report.Files)
}

func TestOptimizeKeepsJPEGBytes(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	raw := buf.Bytes()
	require.NoError(t, os.WriteFile(filepath.Join(src, "hero.jpg"), raw, 0o644))

	report, err := Optimize(context.Background(), src, dst)
	require.NoError(t, err)
	require.Len(t, report.Files, 1)
	assert.Equal(t, 0, report.Files[0].Saved())

	got, err := os.ReadFile(filepath.Join(dst, "hero.jpg"))
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

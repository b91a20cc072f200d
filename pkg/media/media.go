// Package media shrinks images before upload.
package media

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/factline/cli/pkg/logger"
)

const (
	DefaultMaxDimension = 2048
	DefaultQuality      = 85
)

// Options control compression.
type Options struct {
	// Longest side of the output, in pixels.
	MaxDimension int
	// JPEG quality, 1-100.
	Quality int
	// Where compressed copies are written. Empty uses os.TempDir.
	TempDir string
}

// Result describes the file that should be uploaded.
type Result struct {
	Path         string
	Compressed   bool
	OriginalSize int64
	Size         int64
}

// Cleanup removes the compressed copy, if one was made.
func (r Result) Cleanup() {
	if r.Compressed {
		os.Remove(r.Path)
	}
}

// Compressor re-encodes images as JPEG, scaled down to fit MaxDimension.
type Compressor struct {
	opts Options
}

// NewCompressor fills zero options with defaults.
func NewCompressor(opts Options) *Compressor {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	return &Compressor{opts: opts}
}

// Compress never fails: when the image cannot be compressed or the result
// would not be smaller, the original path is returned.
func (c *Compressor) Compress(path string) Result {
	orig := Result{Path: path}
	info, err := os.Stat(path)
	if err != nil {
		logger.Warn("Skipping compression", "path", path, "error", err)
		return orig
	}
	orig.OriginalSize = info.Size()
	orig.Size = info.Size()

	// GIFs may be animated; re-encoding would keep only the first frame.
	if strings.EqualFold(filepath.Ext(path), ".gif") {
		return orig
	}

	out, err := c.compress(path)
	if err != nil {
		logger.Warn("Image compression failed, using original", "path", path, "error", err)
		return orig
	}

	outInfo, err := os.Stat(out)
	if err != nil || outInfo.Size() >= orig.OriginalSize {
		os.Remove(out)
		logger.Debug("Compressed image is not smaller, using original", "path", path)
		return orig
	}

	logger.Debug("Compressed image",
		"path", path,
		"original_bytes", orig.OriginalSize,
		"compressed_bytes", outInfo.Size())
	return Result{Path: out, Compressed: true, OriginalSize: orig.OriginalSize, Size: outInfo.Size()}
}

func (c *Compressor) compress(path string) (string, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	img = fit(img, c.opts.MaxDimension)

	// JPEG has no alpha channel.
	bounds := img.Bounds()
	flat := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	f, err := os.CreateTemp(c.opts.TempDir, "factline-*.jpg")
	if err != nil {
		return "", err
	}
	if err := imaging.Encode(f, flat, imaging.JPEG, imaging.JPEGQuality(c.opts.Quality)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("encode image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func fit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}

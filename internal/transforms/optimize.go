package transforms

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/transform"
)

const defaultJPEGQuality = 85

// NewOptimize re-encodes images for size. PNGs use the best compression
// level, JPEGs the quality option (default 85), SVGs are minified. Any other
// file is copied. The original bytes are kept whenever the result is not
// smaller.
func NewOptimize(opts pipeline.Options) (transform.Transform, error) {
	quality := opts.Int("quality", defaultJPEGQuality)
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("optimize: quality %d out of range 1-100", quality)
	}
	m := newMinifier(false)
	return transform.Func(func(ctx context.Context, req transform.Request) (transform.Result, error) {
		return eachInput(req, func(in pipeline.Input, target string) (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			data, err := os.ReadFile(in.Path)
			if err != nil {
				return false, err
			}
			var optimized []byte
			switch strings.ToLower(filepath.Ext(in.Path)) {
			case ".png":
				optimized, err = recodePNG(data)
			case ".jpg", ".jpeg":
				optimized, err = recodeJPEG(data, quality)
			case ".svg":
				optimized, err = m.Bytes("image/svg+xml", data)
			}
			if err != nil {
				return false, err
			}
			if optimized == nil || len(optimized) >= len(data) {
				return true, copyFile(in.Path, target)
			}
			return true, writeFile(target, optimized)
		})
	}), nil
}

func recodePNG(data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func recodeJPEG(data []byte, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

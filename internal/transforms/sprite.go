package transforms

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/transform"
)

const defaultSpritePadding = 2

// NewSprite stacks the input images vertically into the output PNG and
// writes a stylesheet partial with one rule per image. Options:
//   - stylesheet: project-relative path of the partial (required)
//   - img_path: url used by the partial, default the output's base name
//   - padding: pixels between images, default 2
//   - prefix: class and variable prefix, default "icon-"
//   - format: "css" or "scss" (scss also emits position variables)
func NewSprite(opts pipeline.Options) (transform.Transform, error) {
	cfg := spriteConfig{
		stylesheet: opts.String("stylesheet", ""),
		imgPath:    opts.String("img_path", ""),
		padding:    opts.Int("padding", defaultSpritePadding),
		prefix:     opts.String("prefix", "icon-"),
		format:     strings.ToLower(opts.String("format", "css")),
	}
	if cfg.stylesheet == "" {
		return nil, fmt.Errorf("sprite requires a stylesheet")
	}
	if cfg.padding < 0 {
		return nil, fmt.Errorf("sprite padding must be >= 0")
	}
	if cfg.format != "css" && cfg.format != "scss" {
		return nil, fmt.Errorf("sprite format %q must be css or scss", cfg.format)
	}
	return transform.Func(func(ctx context.Context, req transform.Request) (transform.Result, error) {
		if req.Output == "" {
			return transform.Result{}, fmt.Errorf("sprite requires an output file")
		}
		sheet, frames, err := cfg.compose(ctx, req.Inputs)
		if err != nil {
			return transform.Result{}, err
		}
		var img bytes.Buffer
		if err := png.Encode(&img, sheet); err != nil {
			return transform.Result{}, fmt.Errorf("encode sprite: %w", err)
		}
		if err := writeFile(req.Output, img.Bytes()); err != nil {
			return transform.Result{}, err
		}
		url := cfg.imgPath
		if url == "" {
			url = filepath.Base(req.Output)
		}
		stylesheet := pipeline.ResolvePath(req.Root, cfg.stylesheet)
		if err := writeFile(stylesheet, cfg.render(url, frames)); err != nil {
			return transform.Result{}, err
		}
		return transform.Result{Written: []string{req.Output, stylesheet}}, nil
	}), nil
}

type spriteConfig struct {
	stylesheet string
	imgPath    string
	padding    int
	prefix     string
	format     string
}

// SpriteFrame is the placement of one source image inside a sheet.
type SpriteFrame struct {
	Name   string
	X, Y   int
	Width  int
	Height int
}

func (cfg spriteConfig) compose(ctx context.Context, inputs []pipeline.Input) (*image.NRGBA, []SpriteFrame, error) {
	if len(inputs) == 0 {
		return nil, nil, fmt.Errorf("sprite has no input images")
	}
	images := make([]image.Image, 0, len(inputs))
	frames := make([]SpriteFrame, 0, len(inputs))
	width, y := 0, 0
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		img, err := decodeImage(in.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", in.Name, err)
		}
		bounds := img.Bounds()
		if i > 0 {
			y += cfg.padding
		}
		frames = append(frames, SpriteFrame{
			Name:   spriteName(in.Rel),
			X:      0,
			Y:      y,
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
		})
		images = append(images, img)
		y += bounds.Dy()
		if bounds.Dx() > width {
			width = bounds.Dx()
		}
	}
	sheet := image.NewNRGBA(image.Rect(0, 0, width, y))
	for i, img := range images {
		frame := frames[i]
		dst := image.Rect(frame.X, frame.Y, frame.X+frame.Width, frame.Y+frame.Height)
		draw.Draw(sheet, dst, img, img.Bounds().Min, draw.Src)
	}
	return sheet, frames, nil
}

func (cfg spriteConfig) render(url string, frames []SpriteFrame) []byte {
	var buf bytes.Buffer
	if cfg.format == "scss" {
		for _, f := range frames {
			name := cfg.prefix + f.Name
			fmt.Fprintf(&buf, "$%s-x: %dpx;\n", name, -f.X)
			fmt.Fprintf(&buf, "$%s-y: %dpx;\n", name, -f.Y)
			fmt.Fprintf(&buf, "$%s-width: %dpx;\n", name, f.Width)
			fmt.Fprintf(&buf, "$%s-height: %dpx;\n", name, f.Height)
		}
		buf.WriteString("\n")
	}
	for i, f := range frames {
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, ".%s%s {\n", cfg.prefix, f.Name)
		fmt.Fprintf(&buf, "  background-image: url(%s);\n", url)
		fmt.Fprintf(&buf, "  background-position: %dpx %dpx;\n", -f.X, -f.Y)
		fmt.Fprintf(&buf, "  width: %dpx;\n", f.Width)
		fmt.Fprintf(&buf, "  height: %dpx;\n", f.Height)
		buf.WriteString("}\n")
	}
	return buf.Bytes()
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// spriteName derives a class-safe name from a slash path: "ui/arrow left.png"
// becomes "ui-arrow-left".
func spriteName(rel string) string {
	rel = strings.TrimSuffix(rel, path.Ext(rel))
	var b strings.Builder
	dash := false
	for _, r := range rel {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(unicode.ToLower(r))
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

package transforms

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/transform"
)

var mediaTypes = map[string]string{
	".css":  "text/css",
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".html": "text/html",
	".htm":  "text/html",
	".svg":  "image/svg+xml",
	".json": "application/json",
}

// newMinifier keeps script variable names unless mangle is set.
func newMinifier(mangle bool) *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)
	m.AddRegexp(regexp.MustCompile(`^(application|text)/(x-)?(java|ecma)script$`), &js.Minifier{KeepVarNames: !mangle})
	m.AddFuncRegexp(regexp.MustCompile(`[/+]json$`), json.Minify)
	return m
}

// NewMinify minifies stylesheets, scripts, markup, SVG and JSON. The media
// type follows the input's extension unless the type option names one of
// css, js, html, svg or json. Script identifiers are only shortened when the
// mangle option is true. In aggregate mode the inputs are joined and
// minified into the single output.
func NewMinify(opts pipeline.Options) (transform.Transform, error) {
	override := ""
	if kind := opts.String("type", ""); kind != "" {
		mt, ok := mediaTypes["."+strings.ToLower(kind)]
		if !ok {
			return nil, fmt.Errorf("minify: unsupported type %q", kind)
		}
		override = mt
	}
	m := newMinifier(opts.Bool("mangle", false))
	mediaType := func(path string) (string, error) {
		if override != "" {
			return override, nil
		}
		mt, ok := mediaTypes[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return "", fmt.Errorf("minify: no media type for %s", filepath.Base(path))
		}
		return mt, nil
	}
	return transform.Func(func(ctx context.Context, req transform.Request) (transform.Result, error) {
		if req.Mode == pipeline.ModeAggregate {
			return minifyAggregate(ctx, m, mediaType, req)
		}
		return eachInput(req, func(in pipeline.Input, target string) (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			mt, err := mediaType(in.Path)
			if err != nil {
				return false, err
			}
			data, err := os.ReadFile(in.Path)
			if err != nil {
				return false, err
			}
			out, err := m.Bytes(mt, data)
			if err != nil {
				return false, err
			}
			return true, writeFile(target, out)
		})
	}), nil
}

func minifyAggregate(ctx context.Context, m *minify.M, mediaType func(string) (string, error), req transform.Request) (transform.Result, error) {
	if req.Output == "" {
		return transform.Result{}, fmt.Errorf("minify requires an output file in aggregate mode")
	}
	mt, err := mediaType(req.Output)
	if err != nil {
		return transform.Result{}, err
	}
	var joined []byte
	for i, in := range req.Inputs {
		if err := ctx.Err(); err != nil {
			return transform.Result{}, err
		}
		data, err := os.ReadFile(in.Path)
		if err != nil {
			return transform.Result{}, err
		}
		if i > 0 {
			joined = append(joined, '\n')
		}
		joined = append(joined, data...)
	}
	out, err := m.Bytes(mt, joined)
	if err != nil {
		return transform.Result{}, err
	}
	if err := writeFile(req.Output, out); err != nil {
		return transform.Result{}, err
	}
	return transform.Result{Written: []string{req.Output}}, nil
}

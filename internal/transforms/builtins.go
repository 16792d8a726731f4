// Package transforms holds the built-in content transforms: file copies,
// concatenation, cleanup, markup includes, text replacement, minification,
// image optimization, sprite sheets and external tools.
package transforms

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/transform"
)

// Transform ids registered by RegisterBuiltins.
const (
	IDCopy     = "copy"
	IDConcat   = "concat"
	IDClean    = "clean"
	IDInclude  = "include"
	IDReplace  = "replace"
	IDMinify   = "minify"
	IDOptimize = "optimize"
	IDSprite   = "sprite"
	IDExec     = "exec"
)

// RegisterBuiltins installs every built-in transform.
func RegisterBuiltins(reg *transform.Registry) error {
	builtins := []struct {
		id      string
		factory transform.Factory
	}{
		{IDCopy, NewCopy},
		{IDConcat, NewConcat},
		{IDClean, NewClean},
		{IDInclude, NewInclude},
		{IDReplace, NewReplace},
		{IDMinify, NewMinify},
		{IDOptimize, NewOptimize},
		{IDSprite, NewSprite},
		{IDExec, NewExec},
	}
	for _, b := range builtins {
		if err := reg.Register(b.id, b.factory); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry preloaded with the built-ins.
func NewRegistry() *transform.Registry {
	reg := transform.NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		panic(err)
	}
	return reg
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// eachInput runs fn for every input and collects the targets it wrote.
// Processing stops at the first error.
func eachInput(req transform.Request, fn func(in pipeline.Input, target string) (bool, error)) (transform.Result, error) {
	var result transform.Result
	for _, in := range req.Inputs {
		target := req.Target(in)
		wrote, err := fn(in, target)
		if err != nil {
			return result, fmt.Errorf("%s: %w", in.Name, err)
		}
		if wrote {
			result.Written = append(result.Written, target)
		}
	}
	return result, nil
}

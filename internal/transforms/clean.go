package transforms

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/transform"
)

// NewClean deletes every file or directory matched by the paths option.
// Patterns are relative to the project root and may not escape it.
func NewClean(opts pipeline.Options) (transform.Transform, error) {
	patterns := opts.Strings("paths")
	if len(patterns) == 0 {
		return nil, fmt.Errorf("clean requires paths")
	}
	for _, pattern := range patterns {
		clean := filepath.ToSlash(filepath.Clean(pattern))
		if filepath.IsAbs(pattern) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
			return nil, fmt.Errorf("clean path %q must stay inside the project", pattern)
		}
		if !doublestar.ValidatePattern(clean) {
			return nil, fmt.Errorf("clean path %q is not a valid pattern", pattern)
		}
	}
	return transform.Func(func(ctx context.Context, req transform.Request) (transform.Result, error) {
		fsys := os.DirFS(req.Root)
		for _, pattern := range patterns {
			matches, err := doublestar.Glob(fsys, filepath.ToSlash(filepath.Clean(pattern)))
			if err != nil {
				return transform.Result{}, fmt.Errorf("clean %s: %w", pattern, err)
			}
			for _, match := range matches {
				if err := os.RemoveAll(filepath.Join(req.Root, filepath.FromSlash(match))); err != nil {
					return transform.Result{}, fmt.Errorf("clean %s: %w", match, err)
				}
			}
		}
		return transform.Result{}, nil
	}), nil
}

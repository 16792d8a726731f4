package transforms

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/transform"
)

// NewCopy copies every input to its mapped output.
func NewCopy(pipeline.Options) (transform.Transform, error) {
	return transform.Func(func(ctx context.Context, req transform.Request) (transform.Result, error) {
		return eachInput(req, func(in pipeline.Input, target string) (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			return true, copyFile(in.Path, target)
		})
	}), nil
}

func copyFile(src, dst string) error {
	if sameFile(src, dst) {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", dst, err)
	}
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

package transforms

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/transform"
)

// NewConcat joins every input, in input order, into the single output file.
// The separator option defaults to a newline.
func NewConcat(opts pipeline.Options) (transform.Transform, error) {
	sep := "\n"
	if raw, ok := opts["separator"].(string); ok {
		sep = raw
	}
	return transform.Func(func(ctx context.Context, req transform.Request) (transform.Result, error) {
		if req.Output == "" {
			return transform.Result{}, fmt.Errorf("concat requires an output file")
		}
		var buf bytes.Buffer
		for i, in := range req.Inputs {
			if err := ctx.Err(); err != nil {
				return transform.Result{}, err
			}
			data, err := os.ReadFile(in.Path)
			if err != nil {
				return transform.Result{}, err
			}
			if i > 0 {
				buf.WriteString(sep)
			}
			buf.Write(data)
		}
		if err := writeFile(req.Output, buf.Bytes()); err != nil {
			return transform.Result{}, err
		}
		return transform.Result{Written: []string{req.Output}}, nil
	}), nil
}

package transforms

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/transform"
)

// NewExec runs an external tool such as sass or postcss. Arguments may use
// the placeholders {input}, {output}, {outdir} and {inputs}; an argument that
// is exactly {inputs} expands to one argument per input. With per_file the
// command runs once per input (the default in each mode), otherwise once for
// the whole task.
func NewExec(opts pipeline.Options) (transform.Transform, error) {
	command := opts.String("command", "")
	if command == "" {
		return nil, fmt.Errorf("exec requires a command")
	}
	args := opts.Strings("args")
	_, perFileSet := opts["per_file"]
	perFile := opts.Bool("per_file", false)
	run := func(ctx context.Context, dir string, argv []string) error {
		cmd := exec.CommandContext(ctx, command, argv...)
		cmd.Dir = dir
		var buf bytes.Buffer
		cmd.Stdout = &buf
		cmd.Stderr = &buf
		if err := cmd.Run(); err != nil {
			if out := strings.TrimSpace(buf.String()); out != "" {
				return fmt.Errorf("%s: %w: %s", command, err, out)
			}
			return fmt.Errorf("%s: %w", command, err)
		}
		return nil
	}
	return transform.Func(func(ctx context.Context, req transform.Request) (transform.Result, error) {
		each := perFile
		if !perFileSet {
			each = req.Mode == pipeline.ModeEach
		}
		if each {
			return eachInput(req, func(in pipeline.Input, target string) (bool, error) {
				if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
					return false, err
				}
				vars := placeholders{input: in.Path, output: target, outdir: filepath.Dir(target), inputs: []string{in.Path}}
				if err := run(ctx, req.Root, vars.expand(args)); err != nil {
					return false, err
				}
				return exists(target), nil
			})
		}
		outdir := req.Output
		if req.Mode != pipeline.ModeEach && req.Output != "" {
			outdir = filepath.Dir(req.Output)
		}
		if outdir != "" {
			if err := os.MkdirAll(outdir, 0o755); err != nil {
				return transform.Result{}, err
			}
		}
		vars := placeholders{output: req.Output, outdir: outdir, inputs: pipeline.Paths(req.Inputs)}
		if len(req.Inputs) > 0 {
			vars.input = req.Inputs[0].Path
		}
		if err := run(ctx, req.Root, vars.expand(args)); err != nil {
			return transform.Result{}, err
		}
		var result transform.Result
		if req.Mode != pipeline.ModeEach && req.Output != "" && exists(req.Output) {
			result.Written = []string{req.Output}
		}
		return result, nil
	}), nil
}

type placeholders struct {
	input  string
	output string
	outdir string
	inputs []string
}

func (p placeholders) expand(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "{inputs}" {
			out = append(out, p.inputs...)
			continue
		}
		arg = strings.ReplaceAll(arg, "{input}", p.input)
		arg = strings.ReplaceAll(arg, "{output}", p.output)
		arg = strings.ReplaceAll(arg, "{outdir}", p.outdir)
		arg = strings.ReplaceAll(arg, "{inputs}", strings.Join(p.inputs, " "))
		out = append(out, arg)
	}
	return out
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

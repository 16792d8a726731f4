package transforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/transform"
)

const maxIncludeDepth = 32

// NewInclude expands markup includes of the form
//
//	@@include('partials/head.html', {"title": "Home"})
//
// The JSON argument is optional; its keys are substituted as @@key inside
// the included file. Options:
//   - prefix: directive prefix, default "@@"
//   - basepath: "@file" (relative to the including file, default), "@root"
//     (relative to the project root) or a root-relative directory
//   - indent: re-indent included lines to the directive's column
func NewInclude(opts pipeline.Options) (transform.Transform, error) {
	inc := includer{
		prefix:   opts.String("prefix", "@@"),
		basepath: opts.String("basepath", "@file"),
		indent:   opts.Bool("indent", false),
	}
	return transform.Func(func(ctx context.Context, req transform.Request) (transform.Result, error) {
		inc := inc
		inc.root = req.Root
		return eachInput(req, func(in pipeline.Input, target string) (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			data, err := os.ReadFile(in.Path)
			if err != nil {
				return false, err
			}
			abs, err := filepath.Abs(in.Path)
			if err != nil {
				return false, err
			}
			out, err := inc.expand(abs, data, nil, []string{abs})
			if err != nil {
				return false, err
			}
			return true, writeFile(target, out)
		})
	}), nil
}

type includer struct {
	prefix   string
	basepath string
	indent   bool
	root     string
}

// IncludeCycleError reports a file that includes itself, directly or not.
type IncludeCycleError struct {
	Chain []string
}

func (e *IncludeCycleError) Error() string {
	return "include cycle: " + strings.Join(e.Chain, " -> ")
}

func (inc includer) expand(file string, content []byte, vars map[string]any, stack []string) ([]byte, error) {
	if len(stack) > maxIncludeDepth {
		return nil, fmt.Errorf("include depth exceeds %d at %s", maxIncludeDepth, file)
	}
	content = inc.substitute(content, vars)
	directive := []byte(inc.prefix + "include(")
	var out bytes.Buffer
	rest := content
	for {
		idx := bytes.Index(rest, directive)
		if idx < 0 {
			out.Write(rest)
			break
		}
		out.Write(rest[:idx])
		column := lineIndent(out.Bytes())
		argStart := idx + len(directive)
		target, args, consumed, err := parseIncludeArgs(rest[argStart:])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		rest = rest[argStart+consumed:]

		path := inc.resolve(file, target)
		for _, seen := range stack {
			if seen == path {
				return nil, &IncludeCycleError{Chain: append(append([]string(nil), stack...), path)}
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: include %s: %w", file, target, err)
		}
		merged := mergeVars(vars, args)
		expanded, err := inc.expand(path, data, merged, append(stack, path))
		if err != nil {
			return nil, err
		}
		expanded = bytes.TrimSuffix(expanded, []byte("\n"))
		if inc.indent && column != "" {
			expanded = bytes.ReplaceAll(expanded, []byte("\n"), []byte("\n"+column))
		}
		out.Write(expanded)
	}
	return out.Bytes(), nil
}

func (inc includer) resolve(file, target string) string {
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	var base string
	switch inc.basepath {
	case "", "@file":
		base = filepath.Dir(file)
	case "@root":
		base = inc.root
	default:
		base = pipeline.ResolvePath(inc.root, inc.basepath)
	}
	abs, err := filepath.Abs(filepath.Join(base, filepath.FromSlash(target)))
	if err != nil {
		return filepath.Join(base, filepath.FromSlash(target))
	}
	return abs
}

// substitute replaces prefix+key for every variable, longest key first so
// that @@title never clobbers @@titleSuffix.
func (inc includer) substitute(content []byte, vars map[string]any) []byte {
	if len(vars) == 0 {
		return content
	}
	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		value := vars[key]
		var text string
		switch v := value.(type) {
		case string:
			text = v
		case nil:
			text = ""
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				text = fmt.Sprint(v)
			} else {
				text = string(encoded)
			}
		}
		content = bytes.ReplaceAll(content, []byte(inc.prefix+key), []byte(text))
	}
	return content
}

func mergeVars(parent, child map[string]any) map[string]any {
	if len(parent) == 0 && len(child) == 0 {
		return nil
	}
	out := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}

// lineIndent returns the whitespace between the last newline and the end of
// buf, or "" when anything else precedes the directive on its line.
func lineIndent(buf []byte) string {
	start := bytes.LastIndexByte(buf, '\n') + 1
	line := buf[start:]
	if len(bytes.TrimLeft(line, " \t")) != 0 {
		return ""
	}
	return string(line)
}

// parseIncludeArgs parses `'path'[, {json}])` and reports how many bytes it
// consumed, closing parenthesis included.
func parseIncludeArgs(src []byte) (string, map[string]any, int, error) {
	i := skipSpace(src, 0)
	if i >= len(src) || (src[i] != '\'' && src[i] != '"') {
		return "", nil, 0, fmt.Errorf("include expects a quoted path")
	}
	quote := src[i]
	end := bytes.IndexByte(src[i+1:], quote)
	if end < 0 {
		return "", nil, 0, fmt.Errorf("unterminated include path")
	}
	target := string(src[i+1 : i+1+end])
	i = skipSpace(src, i+end+2)
	var args map[string]any
	if i < len(src) && src[i] == ',' {
		i = skipSpace(src, i+1)
		if i >= len(src) || src[i] != '{' {
			return "", nil, 0, fmt.Errorf("include arguments must be a JSON object")
		}
		objEnd, err := matchBrace(src, i)
		if err != nil {
			return "", nil, 0, err
		}
		if err := json.Unmarshal(src[i:objEnd+1], &args); err != nil {
			return "", nil, 0, fmt.Errorf("include arguments: %w", err)
		}
		i = skipSpace(src, objEnd+1)
	}
	if i >= len(src) || src[i] != ')' {
		return "", nil, 0, fmt.Errorf("include is missing a closing parenthesis")
	}
	return target, args, i + 1, nil
}

func skipSpace(src []byte, i int) int {
	for i < len(src) && (src[i] == ' ' || src[i] == '\t' || src[i] == '\n' || src[i] == '\r') {
		i++
	}
	return i
}

func matchBrace(src []byte, start int) (int, error) {
	depth := 0
	inString := false
	for i := start; i < len(src); i++ {
		c := src[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unterminated include arguments")
}

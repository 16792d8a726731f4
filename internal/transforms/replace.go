package transforms

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/transform"
)

// NewReplace applies literal substitutions to every input. The replacements
// option is a list of {from, to} pairs.
func NewReplace(opts pipeline.Options) (transform.Transform, error) {
	reps, err := parseReplacements(opts["replacements"])
	if err != nil {
		return nil, err
	}
	if len(reps) == 0 {
		return nil, fmt.Errorf("replace requires replacements")
	}
	return transform.Func(func(ctx context.Context, req transform.Request) (transform.Result, error) {
		return eachInput(req, func(in pipeline.Input, target string) (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			data, err := os.ReadFile(in.Path)
			if err != nil {
				return false, err
			}
			out := ReplaceAll(data, reps)
			if sameFile(in.Path, target) && bytes.Equal(out, data) {
				return false, nil
			}
			return true, writeFile(target, out)
		})
	}), nil
}

// ReplaceAll substitutes every replacement in data in a single left-to-right
// pass, trying longer From strings first. A match that already sits inside
// its own To text is left alone, so applying the same replacements twice
// yields the same bytes as applying them once.
func ReplaceAll(data []byte, reps []pipeline.Replacement) []byte {
	ordered := make([]pipeline.Replacement, 0, len(reps))
	for _, rep := range reps {
		if rep.From != "" && rep.From != rep.To {
			ordered = append(ordered, rep)
		}
	}
	if len(ordered) == 0 {
		return data
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].From) > len(ordered[j].From)
	})
	offsets := make([][]int, len(ordered))
	for i, rep := range ordered {
		offsets[i] = selfOffsets(rep.From, rep.To)
	}

	var out bytes.Buffer
	out.Grow(len(data))
	i := 0
scan:
	for i < len(data) {
		for r, rep := range ordered {
			if !bytes.HasPrefix(data[i:], []byte(rep.From)) {
				continue
			}
			if end, ok := insideTo(data, i, rep.To, offsets[r]); ok {
				out.Write(data[i:end])
				i = end
				continue scan
			}
			out.WriteString(rep.To)
			i += len(rep.From)
			continue scan
		}
		out.WriteByte(data[i])
		i++
	}
	return out.Bytes()
}

// selfOffsets lists every offset at which from occurs inside to.
func selfOffsets(from, to string) []int {
	var offsets []int
	for k := 0; k+len(from) <= len(to); k++ {
		if to[k:k+len(from)] == from {
			offsets = append(offsets, k)
		}
	}
	return offsets
}

// insideTo reports whether the match of from at i is part of an occurrence
// of to, returning the end of that occurrence.
func insideTo(data []byte, i int, to string, offsets []int) (int, bool) {
	for _, k := range offsets {
		start := i - k
		if start < 0 || start+len(to) > len(data) {
			continue
		}
		if string(data[start:start+len(to)]) == to {
			return start + len(to), true
		}
	}
	return 0, false
}

func parseReplacements(raw any) ([]pipeline.Replacement, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []pipeline.Replacement:
		return append([]pipeline.Replacement(nil), v...), nil
	case []map[string]any:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return parseReplacements(items)
	case []any:
		out := make([]pipeline.Replacement, 0, len(v))
		for idx, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("replacements[%d] must be a {from, to} object", idx)
			}
			from, _ := entry["from"].(string)
			to, _ := entry["to"].(string)
			if from == "" {
				return nil, fmt.Errorf("replacements[%d]: from is required", idx)
			}
			out = append(out, pipeline.Replacement{From: from, To: to})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("replacements must be a list, got %T", raw)
	}
}

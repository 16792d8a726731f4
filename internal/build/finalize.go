package build

import (
	"bytes"
	"fmt"
	"os"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/transforms"
)

// Finalize applies the replacements to every file matched by fin.Files and
// returns the files whose content changed. Running it again over its own
// output changes nothing.
func Finalize(root string, fin pipeline.Finalize) ([]string, error) {
	if len(fin.Replace) == 0 {
		return nil, nil
	}
	inputs, err := pipeline.ResolveInputs(root, fin.Files)
	if err != nil {
		return nil, err
	}
	var changed []string
	for _, in := range inputs {
		info, err := os.Stat(in.Path)
		if err != nil {
			return changed, err
		}
		data, err := os.ReadFile(in.Path)
		if err != nil {
			return changed, err
		}
		out := transforms.ReplaceAll(data, fin.Replace)
		if bytes.Equal(out, data) {
			continue
		}
		if err := os.WriteFile(in.Path, out, info.Mode().Perm()); err != nil {
			return changed, fmt.Errorf("write %s: %w", in.Name, err)
		}
		changed = append(changed, in.Path)
	}
	return changed, nil
}

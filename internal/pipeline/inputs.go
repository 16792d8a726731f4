package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Input is a resolved input file.
type Input struct {
	// Path is the file's location on disk.
	Path string
	// Rel is the slash-separated path relative to the static base of the
	// pattern that matched it. One-to-one tasks write to Output/Rel.
	Rel string
	// Name is the slash-separated path relative to the project root.
	Name string
}

// Paths returns the on-disk paths of the inputs.
func Paths(inputs []Input) []string {
	if len(inputs) == 0 {
		return nil
	}
	out := make([]string, len(inputs))
	for i, in := range inputs {
		out[i] = in.Path
	}
	return out
}

// SplitPattern returns the static directory prefix of a glob and the
// remaining pattern, both slash-separated.
func SplitPattern(pattern string) (base, rest string) {
	return doublestar.SplitPattern(filepath.ToSlash(strings.TrimPrefix(pattern, "!")))
}

// MatchPattern reports whether the slash-separated, root-relative name matches
// the pattern. Negated patterns never match.
func MatchPattern(pattern, name string) bool {
	if strings.HasPrefix(pattern, "!") {
		return false
	}
	ok, err := doublestar.Match(filepath.ToSlash(pattern), filepath.ToSlash(name))
	return err == nil && ok
}

// ResolveInputs expands patterns relative to root. Matches are returned in
// pattern order, sorted within a pattern, without duplicates. Patterns that
// start with '!' remove earlier and later matches. Directories are skipped
// and a pattern matching nothing is not an error.
func ResolveInputs(root string, patterns []string) ([]Input, error) {
	var includes, excludes []string
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if strings.HasPrefix(pattern, "!") {
			excludes = append(excludes, filepath.ToSlash(strings.TrimPrefix(pattern, "!")))
			continue
		}
		includes = append(includes, pattern)
	}
	seen := map[string]struct{}{}
	var out []Input
	for _, pattern := range includes {
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			return nil, fmt.Errorf("pipeline: invalid pattern %q", pattern)
		}
		base, rest := SplitPattern(pattern)
		dir := filepath.FromSlash(base)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		info, err := os.Stat(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("pipeline: resolve %s: %w", pattern, err)
		}
		if !info.IsDir() {
			continue
		}
		fsys := os.DirFS(dir)
		matches, err := doublestar.Glob(fsys, rest)
		if err != nil {
			return nil, fmt.Errorf("pipeline: glob %s: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, match := range matches {
			stat, err := fs.Stat(fsys, match)
			if err != nil || stat.IsDir() {
				continue
			}
			name := path.Join(base, match)
			if excluded(excludes, name) {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, Input{
				Path: filepath.Join(dir, filepath.FromSlash(match)),
				Rel:  match,
				Name: name,
			})
		}
	}
	return out, nil
}

func excluded(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// TargetPath maps an input of a one-to-one task to its output file under
// outputRoot, replacing the extension when extname is set.
func TargetPath(outputRoot string, in Input, extname string) string {
	rel := filepath.FromSlash(in.Rel)
	if extname != "" {
		rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + extname
	}
	return filepath.Join(outputRoot, rel)
}

// ResolvePath joins a project-relative path onto root. Absolute paths are
// returned cleaned.
func ResolvePath(root, candidate string) string {
	if candidate == "" {
		return ""
	}
	if filepath.IsAbs(candidate) {
		return filepath.Clean(candidate)
	}
	return filepath.Join(root, filepath.FromSlash(candidate))
}

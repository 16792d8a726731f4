package plugins

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// PresetFile pairs a parsed preset with its on-disk source.
type PresetFile struct {
	Definition PresetDefinition
	Path       string
}

// ParsePresetYAML decodes and validates a single preset payload.
func ParsePresetYAML(data []byte) (PresetDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return PresetDefinition{}, fmt.Errorf("plugin: preset payload is empty")
	}
	var def PresetDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return PresetDefinition{}, fmt.Errorf("plugin: decode preset: %w", err)
	}
	if err := def.Validate(); err != nil {
		return PresetDefinition{}, err
	}
	return def.Normalized(), nil
}

// LoadPresetFile reads a YAML preset from disk.
func LoadPresetFile(path string) (PresetFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return PresetFile{}, fmt.Errorf("plugin: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return PresetFile{}, fmt.Errorf("plugin: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return PresetFile{}, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	def, err := ParsePresetYAML(data)
	if err != nil {
		return PresetFile{}, fmt.Errorf("plugin: %s: %w", path, err)
	}
	return PresetFile{Definition: def, Path: filepath.Clean(path)}, nil
}

// LoadPresetDir scans a directory for *.yaml presets.
// Missing directories are treated as "no plugins".
func LoadPresetDir(dir string) ([]PresetFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	var presets []PresetFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !isYAMLFile(name) {
			continue
		}
		preset, err := LoadPresetFile(filepath.Join(trimmed, name))
		if err != nil {
			return nil, err
		}
		presets = append(presets, preset)
	}
	if len(presets) == 0 {
		return nil, nil
	}
	sort.Slice(presets, func(i, j int) bool { return presets[i].Path < presets[j].Path })
	return presets, nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

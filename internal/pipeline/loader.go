package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefinitionFileNames lists the file names probed, in order, when no explicit
// definition path is supplied.
var DefinitionFileNames = []string{
	"assetflow.yaml",
	"assetflow.yml",
	"assetflow.hcl",
	"assetflow.toml",
}

// ParseDefinitionYAML decodes a definition from YAML/JSON bytes.
func ParseDefinitionYAML(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("pipeline: definition payload is empty")
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("pipeline: decode definition: %w", err)
	}
	return def.Normalized()
}

// ParseDefinitionTOML decodes a definition from TOML bytes.
func ParseDefinitionTOML(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("pipeline: definition payload is empty")
	}
	var def Definition
	if err := toml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("pipeline: decode toml definition: %w", err)
	}
	return def.Normalized()
}

// LoadDefinitionReader reads YAML definition data from an io.Reader.
func LoadDefinitionReader(r io.Reader) (Definition, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: read definition: %w", err)
	}
	return ParseDefinitionYAML(content)
}

// LoadDefinitionFile loads a definition from disk, picking the decoder from
// the file extension.
func LoadDefinitionFile(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	var (
		def      Definition
		parseErr error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		def, parseErr = ParseDefinitionHCL(path, content)
	case ".toml":
		def, parseErr = ParseDefinitionTOML(content)
	default:
		def, parseErr = ParseDefinitionYAML(content)
	}
	if parseErr != nil {
		return Definition{}, fmt.Errorf("pipeline: %s: %w", path, parseErr)
	}
	return def, nil
}

// FindDefinition returns the first conventional definition file present in
// dir, or "" when there is none.
func FindDefinition(dir string) string {
	for _, name := range DefinitionFileNames {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

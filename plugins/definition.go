// Package plugins loads project-local transforms from the plugin directory:
// Go sources interpreted with yaegi, and YAML presets that pin options onto
// an existing transform.
package plugins

import (
	"fmt"
	"strings"

	"github.com/kingrea/assetflow/internal/pipeline"
)

// IDPrefix namespaces every plugin-provided transform id.
const IDPrefix = "plugin:"

// PresetDefinition describes a YAML preset: a named transform that delegates
// to another registered transform with default options.
//
//	id: sass
//	transform: exec
//	options:
//	  command: sass
//	  args: ["{input}", "{output}"]
//
// Task options override preset options key by key.
type PresetDefinition struct {
	ID          string           `json:"id" yaml:"id"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Transform   string           `json:"transform" yaml:"transform"`
	Options     pipeline.Options `json:"options,omitempty" yaml:"options,omitempty"`
}

// Normalized returns a trimmed copy of the definition.
func (def PresetDefinition) Normalized() PresetDefinition {
	clone := PresetDefinition{
		ID:          strings.TrimSpace(def.ID),
		Description: strings.TrimSpace(def.Description),
		Transform:   strings.TrimSpace(def.Transform),
	}
	if len(def.Options) > 0 {
		clone.Options = make(pipeline.Options, len(def.Options))
		for key, value := range def.Options {
			trimmed := strings.TrimSpace(key)
			if trimmed == "" {
				continue
			}
			clone.Options[trimmed] = value
		}
	}
	return clone
}

// Validate ensures the preset names itself and a base transform.
func (def PresetDefinition) Validate() error {
	normalized := def.Normalized()
	if normalized.ID == "" {
		return fmt.Errorf("plugin: id is required")
	}
	if strings.ContainsAny(normalized.ID, " \t:") {
		return fmt.Errorf("plugin %s: id may not contain spaces or colons", normalized.ID)
	}
	if normalized.Transform == "" {
		return fmt.Errorf("plugin %s: transform is required", normalized.ID)
	}
	if normalized.Transform == normalized.RegisteredID() {
		return fmt.Errorf("plugin %s: preset cannot wrap itself", normalized.ID)
	}
	return nil
}

// RegisteredID is the id tasks use to select the preset.
func (def PresetDefinition) RegisteredID() string {
	return IDPrefix + strings.TrimSpace(def.ID)
}

// MergeOptions layers task options over the preset's defaults.
func (def PresetDefinition) MergeOptions(task pipeline.Options) pipeline.Options {
	merged := def.Options.Clone()
	if merged == nil && len(task) > 0 {
		merged = make(pipeline.Options, len(task))
	}
	for key, value := range task {
		merged[key] = value
	}
	return merged
}

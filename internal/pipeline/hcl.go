package pipeline

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

type hclDefinition struct {
	Version     int         `hcl:"version,optional"`
	Source      string      `hcl:"source,optional"`
	Output      string      `hcl:"output,optional"`
	Concurrency int         `hcl:"concurrency,optional"`
	Plugins     string      `hcl:"plugins,optional"`
	Tasks       []hclTask   `hcl:"task,block"`
	Targets     []hclTarget `hcl:"target,block"`
	Watch       []hclWatch  `hcl:"watch,block"`
	Server      *hclServer  `hcl:"server,block"`
}

type hclTask struct {
	Name      string    `hcl:"name,label"`
	Transform string    `hcl:"transform"`
	Inputs    []string  `hcl:"inputs,optional"`
	Implicit  []string  `hcl:"implicit,optional"`
	Output    string    `hcl:"output,optional"`
	Mode      string    `hcl:"mode,optional"`
	Extname   string    `hcl:"extname,optional"`
	DependsOn []string  `hcl:"depends_on,optional"`
	After     []string  `hcl:"after,optional"`
	Options   cty.Value `hcl:"options,optional"`
}

type hclTarget struct {
	Name        string       `hcl:"name,label"`
	Description string       `hcl:"description,optional"`
	Steps       [][]string   `hcl:"steps"`
	Finalize    *hclFinalize `hcl:"finalize,block"`
}

type hclFinalize struct {
	Files   []string         `hcl:"files"`
	Replace []hclReplacement `hcl:"replace,block"`
}

type hclReplacement struct {
	From string `hcl:"from"`
	To   string `hcl:"to"`
}

type hclWatch struct {
	Patterns []string `hcl:"patterns"`
	Tasks    []string `hcl:"tasks"`
}

type hclServer struct {
	Enabled *bool  `hcl:"enabled,optional"`
	Host    string `hcl:"host,optional"`
	Port    int    `hcl:"port,optional"`
}

// ParseDefinitionHCL decodes an HCL definition. The top-level source and
// output attributes are evaluated first and exposed to the rest of the file
// as the variables source and output, so tasks can write "${output}/styles".
func ParseDefinitionHCL(filename string, src []byte) (Definition, error) {
	file, diags := hclsyntax.ParseConfig(src, filename, hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return Definition{}, fmt.Errorf("pipeline: parse hcl: %w", diags)
	}
	roots, _, diags := file.Body.PartialContent(&hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{{Name: "source"}, {Name: "output"}},
	})
	if diags.HasErrors() {
		return Definition{}, fmt.Errorf("pipeline: parse hcl: %w", diags)
	}
	vars := map[string]cty.Value{
		"source": cty.StringVal(DefaultSourceDir),
		"output": cty.StringVal(DefaultOutputDir),
	}
	for name, attr := range roots.Attributes {
		value, valueDiags := attr.Expr.Value(nil)
		if valueDiags.HasErrors() {
			return Definition{}, fmt.Errorf("pipeline: hcl %s: %w", name, valueDiags)
		}
		if value.IsNull() || !value.IsKnown() || !value.Type().Equals(cty.String) {
			return Definition{}, fmt.Errorf("pipeline: hcl %s must be a string literal", name)
		}
		if trimmed := strings.TrimSpace(value.AsString()); trimmed != "" {
			vars[name] = cty.StringVal(trimmed)
		}
	}
	evalCtx := &hcl.EvalContext{Variables: vars}
	var raw hclDefinition
	if diags := gohcl.DecodeBody(file.Body, evalCtx, &raw); diags.HasErrors() {
		return Definition{}, fmt.Errorf("pipeline: decode hcl: %w", diags)
	}
	def, err := raw.definition()
	if err != nil {
		return Definition{}, err
	}
	return def.Normalized()
}

func (raw hclDefinition) definition() (Definition, error) {
	def := Definition{
		Version:     raw.Version,
		Source:      raw.Source,
		Output:      raw.Output,
		Concurrency: raw.Concurrency,
		Plugins:     raw.Plugins,
	}
	for _, task := range raw.Tasks {
		opts, err := optionsFromCty(task.Options)
		if err != nil {
			return Definition{}, fmt.Errorf("pipeline: task %s options: %w", task.Name, err)
		}
		def.Tasks = append(def.Tasks, Task{
			Name:      task.Name,
			Transform: task.Transform,
			Inputs:    task.Inputs,
			Implicit:  task.Implicit,
			Output:    task.Output,
			Mode:      Mode(task.Mode),
			Extname:   task.Extname,
			DependsOn: task.DependsOn,
			After:     task.After,
			Options:   opts,
		})
	}
	for _, target := range raw.Targets {
		if def.Targets == nil {
			def.Targets = map[string]Target{}
		}
		if _, exists := def.Targets[target.Name]; exists {
			return Definition{}, fmt.Errorf("pipeline: duplicate target %s", target.Name)
		}
		converted := Target{Description: target.Description}
		for _, step := range target.Steps {
			converted.Steps = append(converted.Steps, Step(step))
		}
		if fin := target.Finalize; fin != nil {
			converted.Finalize = &Finalize{Files: fin.Files}
			for _, rep := range fin.Replace {
				converted.Finalize.Replace = append(converted.Finalize.Replace, Replacement{From: rep.From, To: rep.To})
			}
		}
		def.Targets[target.Name] = converted
	}
	for _, rule := range raw.Watch {
		def.Watch = append(def.Watch, WatchRule{Patterns: rule.Patterns, Tasks: rule.Tasks})
	}
	if raw.Server != nil {
		def.Server = ServerConfig{Enabled: raw.Server.Enabled, Host: raw.Server.Host, Port: raw.Server.Port}
	}
	return def, nil
}

func optionsFromCty(value cty.Value) (Options, error) {
	if value.IsNull() {
		return nil, nil
	}
	converted, err := ctyToGo(value)
	if err != nil {
		return nil, err
	}
	m, ok := converted.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %s", value.Type().FriendlyName())
	}
	return Options(m), nil
}

func ctyToGo(value cty.Value) (any, error) {
	if value.IsNull() {
		return nil, nil
	}
	if !value.IsKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	ty := value.Type()
	switch {
	case ty.Equals(cty.String):
		return value.AsString(), nil
	case ty.Equals(cty.Bool):
		return value.True(), nil
	case ty.Equals(cty.Number):
		bf := value.AsBigFloat()
		if bf.IsInt() {
			i, _ := bf.Int64()
			return int(i), nil
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsListType(), ty.IsTupleType(), ty.IsSetType():
		var out []any
		for it := value.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			converted, err := ctyToGo(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	case ty.IsMapType(), ty.IsObjectType():
		out := map[string]any{}
		for it := value.ElementIterator(); it.Next(); {
			key, elem := it.Element()
			converted, err := ctyToGo(elem)
			if err != nil {
				return nil, err
			}
			out[key.AsString()] = converted
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}

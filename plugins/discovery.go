package plugins

import (
	"context"
	"fmt"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/transform"
)

// Register discovers Go plugins and YAML presets under dir and registers
// them on reg. Go plugins are registered first so presets may wrap them.
// It returns the ids it registered.
func Register(reg *transform.Registry, dir string) ([]string, error) {
	if reg == nil {
		return nil, nil
	}
	goPlugins, err := LoadGoPluginDir(dir)
	if err != nil {
		return nil, err
	}
	presets, err := LoadPresetDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, plugin := range goPlugins {
		fn := plugin.Fn
		if err := reg.Register(plugin.ID, func(pipeline.Options) (transform.Transform, error) {
			return goTransform(fn), nil
		}); err != nil {
			return nil, fmt.Errorf("plugin: register %s from %s: %w", plugin.ID, plugin.Path, err)
		}
		ids = append(ids, plugin.ID)
	}
	for _, file := range presets {
		def := file.Definition
		if !reg.Has(def.Transform) {
			return nil, fmt.Errorf("plugin: %s wraps unknown transform %s", file.Path, def.Transform)
		}
		if err := reg.Register(def.RegisteredID(), func(opts pipeline.Options) (transform.Transform, error) {
			return reg.Resolve(def.Transform, def.MergeOptions(opts))
		}); err != nil {
			return nil, fmt.Errorf("plugin: register %s from %s: %w", def.RegisteredID(), file.Path, err)
		}
		ids = append(ids, def.RegisteredID())
	}
	return ids, nil
}

func goTransform(fn GoTransformFunc) transform.Transform {
	return transform.Func(func(ctx context.Context, req transform.Request) (transform.Result, error) {
		if err := ctx.Err(); err != nil {
			return transform.Result{}, err
		}
		written, err := fn(pipeline.Paths(req.Inputs), req.Output)
		if err != nil {
			return transform.Result{}, err
		}
		return transform.Result{Written: written}, nil
	})
}

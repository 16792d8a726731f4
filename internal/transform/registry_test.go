package transform

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/pipeline/graph"
)

func noopFactory(pipeline.Options) (Transform, error) {
	return Func(func(context.Context, Request) (Result, error) { return Result{}, nil }), nil
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("copy", noopFactory); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := reg.Register("copy", noopFactory)
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if ids := reg.IDs(); len(ids) != 1 || ids[0] != "copy" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestBindResolvesEveryTask(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("copy", noopFactory)
	tasks := []pipeline.Task{
		{Name: "copy:scripts", Transform: "copy"},
		{Name: "copy:fonts", Transform: "copy"},
	}
	table, err := Bind(tasks, reg)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	for _, task := range tasks {
		if _, ok := table.Lookup(task.Name); !ok {
			t.Fatalf("missing binding for %s", task.Name)
		}
	}
}

func TestBindReportsUnknownTransformAsConfigurationError(t *testing.T) {
	reg := NewRegistry()
	_, err := Bind([]pipeline.Task{{Name: "style", Transform: "sass"}}, reg)
	var unknown *UnknownTransformError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownTransformError, got %v", err)
	}
	if !errors.Is(err, graph.ErrConfiguration) {
		t.Fatalf("unknown transform should be a configuration error")
	}
}

func TestBindSurfacesFactoryErrors(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("exec", func(opts pipeline.Options) (Transform, error) {
		return nil, errors.New("command is required")
	})
	_, err := Bind([]pipeline.Task{{Name: "style", Transform: "exec"}}, reg)
	if err == nil || !errors.Is(err, graph.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

package plugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/transform"
	"github.com/kingrea/assetflow/internal/transforms"
)

const upperPluginSource = `package main

import (
	"os"
	"strings"
)

func Transform(inputs []string, output string) ([]string, error) {
	var b strings.Builder
	for _, in := range inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			return nil, err
		}
		b.WriteString(strings.ToUpper(string(data)))
	}
	if err := os.WriteFile(output, []byte(b.String()), 0o644); err != nil {
		return nil, err
	}
	return []string{output}, nil
}
`

const bannerPreset = `id: banner
description: Prefix every stylesheet with a banner
transform: concat
options:
  separator: "\n/* -- */\n"
`

func writePlugin(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadGoPluginDir(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "upper.go", upperPluginSource)
	loaded, err := LoadGoPluginDir(dir)
	if err != nil {
		t.Fatalf("load go plugins: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "plugin:upper" {
		t.Fatalf("unexpected plugins: %+v", loaded)
	}
}

func TestLoadGoPluginDirMissingFunc(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "broken.go", "package main\n")
	if _, err := LoadGoPluginDir(dir); err == nil {
		t.Fatalf("expected error for missing Transform function")
	}
}

func TestLoadGoPluginDirWrongSignature(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "wrong.go", "package main\n\nfunc Transform(n int) int { return n }\n")
	if _, err := LoadGoPluginDir(dir); err == nil || !strings.Contains(err.Error(), "must accept") {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestLoadGoPluginDirMissingDir(t *testing.T) {
	loaded, err := LoadGoPluginDir(filepath.Join(t.TempDir(), "absent"))
	if err != nil || len(loaded) != 0 {
		t.Fatalf("expected no plugins and no error, got %v %v", loaded, err)
	}
}

func TestParsePresetYAML(t *testing.T) {
	def, err := ParsePresetYAML([]byte(bannerPreset))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.RegisteredID() != "plugin:banner" || def.Transform != "concat" {
		t.Fatalf("unexpected preset: %+v", def)
	}
	merged := def.MergeOptions(pipeline.Options{"separator": ";"})
	if merged["separator"] != ";" {
		t.Fatalf("task options should override preset options, got %v", merged)
	}
}

func TestParsePresetYAMLErrors(t *testing.T) {
	cases := []string{
		"",
		"transform: copy\n",
		"id: x\n",
		"id: a b\ntransform: copy\n",
	}
	for _, payload := range cases {
		if _, err := ParsePresetYAML([]byte(payload)); err == nil {
			t.Fatalf("expected %q to fail validation", payload)
		}
	}
}

func TestRegisterRunsGoPluginAndPreset(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "upper.go", upperPluginSource)
	writePlugin(t, dir, "banner.yaml", bannerPreset)

	reg := transforms.NewRegistry()
	ids, err := Register(reg, dir)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if strings.Join(ids, ",") != "plugin:upper,plugin:banner" {
		t.Fatalf("unexpected ids %v", ids)
	}

	root := t.TempDir()
	for name, content := range map[string]string{"a.txt": "one", "b.txt": "two"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write input: %v", err)
		}
	}
	inputs, err := pipeline.ResolveInputs(root, []string{"*.txt"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	upper, err := reg.Resolve("plugin:upper", nil)
	if err != nil {
		t.Fatalf("resolve upper: %v", err)
	}
	out := filepath.Join(root, "upper.out")
	res, err := upper.Apply(context.Background(), transform.Request{Root: root, Inputs: inputs, Output: out, Mode: pipeline.ModeAggregate})
	if err != nil {
		t.Fatalf("apply upper: %v", err)
	}
	if len(res.Written) != 1 {
		t.Fatalf("unexpected written %v", res.Written)
	}
	if data, _ := os.ReadFile(out); string(data) != "ONETWO" {
		t.Fatalf("unexpected plugin output %q", data)
	}

	banner, err := reg.Resolve("plugin:banner", nil)
	if err != nil {
		t.Fatalf("resolve banner: %v", err)
	}
	joined := filepath.Join(root, "joined.out")
	if _, err := banner.Apply(context.Background(), transform.Request{Root: root, Inputs: inputs, Output: joined, Mode: pipeline.ModeAggregate}); err != nil {
		t.Fatalf("apply banner: %v", err)
	}
	if data, _ := os.ReadFile(joined); string(data) != "one\n/* -- */\ntwo" {
		t.Fatalf("unexpected preset output %q", data)
	}
}

func TestRegisterRejectsUnknownBase(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "ghost.yaml", "id: ghost\ntransform: nope\n")
	if _, err := Register(transforms.NewRegistry(), dir); err == nil {
		t.Fatalf("expected unknown base transform to fail")
	}
}

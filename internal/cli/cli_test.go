package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/assetflow/internal/config"
	"github.com/kingrea/assetflow/internal/pipeline/graph"
	"github.com/kingrea/assetflow/internal/pipeline/watch"
)

const testDefinition = `version: 1
tasks:
  - name: styles
    transform: concat
    mode: aggregate
    inputs: ["src/css/*.css"]
    output: build/main.css
  - name: pages
    transform: copy
    inputs: ["src/*.html"]
    output: build
targets:
  build-dev:
    steps:
      - [styles, pages]
`

func newTestProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		config.DefaultFileName: testDefinition,
		"src/css/a.css":        "a{}",
		"src/css/b.css":        "b{}",
		"src/index.html":       "<html></html>",
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := Run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRun_HelpAndUsage(t *testing.T) {
	_, stderr, err := run(t, "-h")
	require.NoError(t, err)
	require.Contains(t, stderr, "Usage:")

	_, stderr, err = run(t)
	require.NoError(t, err)
	require.Contains(t, stderr, "Commands:")
}

func TestRun_UsageErrors(t *testing.T) {
	cases := map[string][]string{
		"unknown command":   {"deploy"},
		"unknown flag":      {"--not-a-flag", "build"},
		"bad log level":     {"--log-level", "loud", "build"},
		"bad log format":    {"--log-format", "xml", "build"},
		"negative workers":  {"--concurrency", "-1", "build"},
		"run without tasks": {"--project", t.TempDir(), "run"},
		"history count":     {"--project", t.TempDir(), "history", "-n", "0"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := run(t, args...)
			require.Error(t, err)
			require.Equal(t, ExitUsage, ExitCode(err))
		})
	}
}

func TestBuildDevIsIncremental(t *testing.T) {
	dir := newTestProject(t)

	stdout, _, err := run(t, "--project", dir, "build-dev")
	require.NoError(t, err)
	require.Contains(t, stdout, "build-dev")
	require.Contains(t, stdout, "2 task(s): 2 built, 0 up to date")

	data, err := os.ReadFile(filepath.Join(dir, "build", "main.css"))
	require.NoError(t, err)
	require.Equal(t, "a{}\nb{}", string(data))

	stdout, _, err = run(t, "--project", dir, "build-dev")
	require.NoError(t, err)
	require.Contains(t, stdout, "2 task(s): 0 built, 2 up to date")

	stdout, _, err = run(t, "--project", dir, "history", "-n", "5")
	require.NoError(t, err)
	require.Contains(t, stdout, "build build-dev")
}

func TestBuildFailureReportsEveryTask(t *testing.T) {
	dir := newTestProject(t)
	// A regular file where the output directory belongs fails both tasks.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build"), []byte("x"), 0o644))

	stdout, _, err := run(t, "--project", dir, "build-dev")
	require.Error(t, err)
	require.Equal(t, ExitBuild, ExitCode(err))
	require.Contains(t, err.Error(), "2 task(s) failed: styles, pages")
	require.Contains(t, stdout, "failed")
}

func TestUnknownTargetIsConfigurationError(t *testing.T) {
	dir := newTestProject(t)
	_, _, err := run(t, "--project", dir, "build")
	require.Error(t, err)
	require.Equal(t, ExitConfig, ExitCode(err))

	_, _, err = run(t, "--project", dir, "--config", "missing.yaml", "build-dev")
	require.Error(t, err)
	require.Equal(t, ExitConfig, ExitCode(err))
}

func TestGraphPrintsStages(t *testing.T) {
	dir := newTestProject(t)
	stdout, _, err := run(t, "--project", dir, "graph", "build-dev")
	require.NoError(t, err)
	require.Contains(t, stdout, "stage 1: styles, pages")

	stdout, _, err = run(t, "--project", dir, "graph")
	require.NoError(t, err)
	require.Contains(t, stdout, "all tasks")
	require.Contains(t, stdout, "targets: build-dev")
}

func TestRunAppliesOptionOverrides(t *testing.T) {
	dir := newTestProject(t)
	stdout, _, err := run(t, "--project", dir, "run", "--set", "separator=;", "styles")
	require.NoError(t, err)
	require.Contains(t, stdout, "1 task(s): 1 built")

	data, err := os.ReadFile(filepath.Join(dir, "build", "main.css"))
	require.NoError(t, err)
	require.Equal(t, "a{};b{}", string(data))

	stdout, _, err = run(t, "--project", dir, "run", "--force", "styles")
	require.NoError(t, err)
	require.Contains(t, stdout, "1 built")

	_, _, err = run(t, "--project", dir, "run", "nope")
	require.Error(t, err)
	require.Equal(t, ExitConfig, ExitCode(err))
}

func TestInitWritesDefinition(t *testing.T) {
	dir := t.TempDir()
	stdout, _, err := run(t, "--project", dir, "init")
	require.NoError(t, err)
	require.Contains(t, stdout, config.DefaultFileName)
	require.FileExists(t, filepath.Join(dir, config.DefaultFileName))
	require.DirExists(t, filepath.Join(dir, config.StateDirName, "logs"))

	stdout, _, err = run(t, "--project", dir, "graph", "build-dev")
	require.NoError(t, err)
	require.Contains(t, stdout, "stage 1: clean")
}

func TestExitErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{nil, 0},
		{&watch.SubscriptionError{Err: errors.New("too many open files")}, ExitWatch},
		{fmt.Errorf("build: %w: duplicate task", graph.ErrConfiguration), ExitConfig},
		{errors.New("exit status 1"), ExitBuild},
		{&ExitError{Code: 7, Message: "custom"}, 7},
	}
	for _, tc := range cases {
		require.Equal(t, tc.code, ExitCode(exitError(tc.err)), "error %v", tc.err)
	}
}

func TestListenAddress(t *testing.T) {
	require.Equal(t, "", listenAddress("", 0))
	require.Equal(t, "127.0.0.1:8080", listenAddress("127.0.0.1", 8080))
	require.Equal(t, ":8080", listenAddress("", 8080))
	require.Equal(t, "0.0.0.0:", listenAddress("0.0.0.0", 0))
}

func TestKeyValueFlag(t *testing.T) {
	kv := keyValueFlag{}
	require.NoError(t, kv.Set("quality=70"))
	require.NoError(t, kv.Set("prefix = icon-"))
	require.Error(t, kv.Set("novalue"))
	require.Error(t, kv.Set("=x"))
	require.Equal(t, "prefix=icon-, quality=70", kv.String())
	require.Equal(t, 70, parseOptionValue(kv["quality"]))
	require.Equal(t, true, parseOptionValue("true"))
	require.Equal(t, "icon-", parseOptionValue(kv["prefix"]))
}

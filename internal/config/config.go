// Package config locates and loads a project's pipeline definition, applies
// environment overrides and owns the .assetflow state directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/assetflow/internal/logging"
	"github.com/kingrea/assetflow/internal/pipeline"
)

const (
	// StateDirName is the per-project directory for logs, history and plugins.
	StateDirName = ".assetflow"

	// DefaultFileName is the definition file written by Init.
	DefaultFileName = "assetflow.yaml"

	// DefaultDebounce is the quiet period the watcher waits for.
	DefaultDebounce = 100 * time.Millisecond
)

// Environment variables read by Load.
const (
	EnvConcurrency = "ASSETFLOW_CONCURRENCY"
	EnvDebounce    = "ASSETFLOW_DEBOUNCE"
	EnvLogLevel    = "ASSETFLOW_LOG_LEVEL"
	EnvLogFormat   = "ASSETFLOW_LOG_FORMAT"
)

// Config holds the runtime configuration for one project.
type Config struct {
	// ProjectDir is the absolute project root; every relative path in the
	// definition resolves against it.
	ProjectDir string

	// StateDir is ProjectDir/.assetflow.
	StateDir string

	// DefinitionPath is the file the definition came from, or "" when the
	// built-in default is in use.
	DefinitionPath string

	Definition pipeline.Definition

	Debounce time.Duration
	Log      logging.Options
}

// Load reads the project's definition. An explicit path must exist; without
// one the conventional file names are probed and the built-in default is used
// when none is present.
func Load(projectDir, explicitPath string) (*Config, error) {
	root, err := filepath.Abs(strings.TrimSpace(projectDir))
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("config: project dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config: project dir %s is not a directory", root)
	}

	cfg := &Config{
		ProjectDir: root,
		StateDir:   filepath.Join(root, StateDirName),
		Debounce:   DefaultDebounce,
		Log:        logging.Options{Level: "info", Format: "text"},
	}

	path := strings.TrimSpace(explicitPath)
	if path != "" {
		path = resolvePath(root, path)
	} else {
		path = pipeline.FindDefinition(root)
	}
	var def pipeline.Definition
	if path == "" {
		def, err = DefaultDefinition()
	} else {
		def, err = pipeline.LoadDefinitionFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.DefinitionPath = path
	cfg.Definition = def

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// DefaultDefinition parses DefaultDefinitionYAML.
func DefaultDefinition() (pipeline.Definition, error) {
	return pipeline.ParseDefinitionYAML([]byte(DefaultDefinitionYAML))
}

// Init creates the state directory and writes the default definition unless
// one already exists. It returns the definition path.
//
// Structure created:
// .assetflow/
// ├── logs/     <- assetflow.log and builds.log
// └── plugins/  <- Go and YAML transform plugins
func Init(projectDir string) (string, error) {
	stateDir := filepath.Join(projectDir, StateDirName)
	for _, dir := range []string{
		filepath.Join(stateDir, "logs"),
		filepath.Join(stateDir, "plugins"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("config: ensure %s: %w", dir, err)
		}
	}
	if existing := pipeline.FindDefinition(projectDir); existing != "" {
		return existing, nil
	}
	path := filepath.Join(projectDir, DefaultFileName)
	if err := ensureFile(path, []byte(DefaultDefinitionYAML)); err != nil {
		return "", fmt.Errorf("config: write %s: %w", path, err)
	}
	return path, nil
}

// LogsDir returns the directory holding assetflow.log and builds.log.
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// HistoryPath returns the run history file.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.LogsDir(), "builds.log")
}

// PluginDir returns the resolved plugin directory, or "" when none is set.
func (c *Config) PluginDir() string {
	return resolvePath(c.ProjectDir, c.Definition.Plugins)
}

// SourceDir returns the resolved source root.
func (c *Config) SourceDir() string {
	return resolvePath(c.ProjectDir, c.Definition.Source)
}

// OutputDir returns the resolved output root.
func (c *Config) OutputDir() string {
	return resolvePath(c.ProjectDir, c.Definition.Output)
}

// Concurrency returns the worker limit for a stage. Zero leaves the choice to
// the scheduler.
func (c *Config) Concurrency() int {
	return c.Definition.Concurrency
}

// UsesDefault reports whether the built-in definition is in use.
func (c *Config) UsesDefault() bool {
	return c.DefinitionPath == ""
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if raw := strings.TrimSpace(getenv(EnvConcurrency)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvConcurrency, err)
		}
		c.Definition.Concurrency = n
	}
	if raw := strings.TrimSpace(getenv(EnvDebounce)); raw != "" {
		d, err := parseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDebounce, err)
		}
		c.Debounce = d
	}
	if raw := strings.TrimSpace(getenv(EnvLogLevel)); raw != "" {
		c.Log.Level = raw
	}
	if raw := strings.TrimSpace(getenv(EnvLogFormat)); raw != "" {
		c.Log.Format = raw
	}
	return nil
}

func (c *Config) validate() error {
	if c.Definition.Concurrency < 0 {
		return fmt.Errorf("concurrency must be >= 0")
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive")
	}
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if !logging.ValidFormat(c.Log.Format) {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// parseDuration accepts Go durations and bare integers as milliseconds.
func parseDuration(raw string) (time.Duration, error) {
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(raw)
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureFile(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

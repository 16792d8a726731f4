package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kingrea/assetflow/internal/build"
	"github.com/kingrea/assetflow/internal/config"
	"github.com/kingrea/assetflow/internal/logbook"
	"github.com/kingrea/assetflow/internal/logging"
	"github.com/kingrea/assetflow/internal/pipeline/graph"
	"github.com/kingrea/assetflow/internal/pipeline/watch"
)

// Exit codes.
const (
	ExitBuild  = 1
	ExitUsage  = 2
	ExitWatch  = 3
	ExitConfig = ExitUsage
)

// ExitError is an error carrying the process exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) error {
	return &ExitError{Code: ExitUsage, Message: fmt.Sprintf(format, args...)}
}

const usageText = `
assetflow - incremental front-end asset builds with live reload.

Usage:
  assetflow [global options] <command> [command options] [args]

Commands:
  build              Production build (minified, finalized markup)
  build-dev          Development build
  sprite             Regenerate the sprite sheet and recopy images
  serve              build-dev, then watch and serve with live reload
  run <task>...      Run single tasks and their dependencies
  graph [target]     Print the stages of a target
  init               Write the default definition and state directory
  history            Show recent runs

Global options:
`

// globals are the options accepted before the command name.
type globals struct {
	project     string
	config      string
	logLevel    string
	logFormat   string
	concurrency int
}

// env is what every command runs with.
type env struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer
	g      globals
}

var commands = map[string]func(e *env, args []string) error{
	"build":     targetCommand("build"),
	"build-dev": targetCommand("build-dev"),
	"sprite":    targetCommand("sprite"),
	"serve":     runServe,
	"run":       runTasks,
	"graph":     runGraph,
	"init":      runInit,
	"history":   runHistory,
}

// Run executes one command line. A nil error means exit code 0; every other
// error should be passed to ExitCode.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("assetflow", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usageText)
		fs.PrintDefaults()
	}
	var g globals
	fs.StringVar(&g.project, "project", "", "Project directory (defaults to the working directory).")
	fs.StringVar(&g.config, "config", "", "Definition file, relative to the project.")
	fs.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error.")
	fs.StringVar(&g.logFormat, "log-format", "", "Log format: text or json.")
	fs.IntVar(&g.concurrency, "concurrency", 0, "Maximum tasks running at once. 0 uses the definition or CPU count.")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return nil
	}
	name := fs.Arg(0)
	if name == "help" {
		fs.Usage()
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		return usageError("unknown command %q (run assetflow help)", name)
	}
	if g.logLevel != "" && !logging.ValidLevel(g.logLevel) {
		return usageError("invalid log-level %q: must be debug, info, warn or error", g.logLevel)
	}
	if g.logFormat != "" && !logging.ValidFormat(g.logFormat) {
		return usageError("invalid log-format %q: must be text or json", g.logFormat)
	}
	if g.concurrency < 0 {
		return usageError("concurrency must be >= 0")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e := &env{ctx: ctx, stdout: stdout, stderr: stderr, g: g}
	return exitError(cmd(e, fs.Args()[1:]))
}

// ExitCode maps an error returned by Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitBuild
}

// exitError classifies failures that are not already ExitErrors.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	var subErr *watch.SubscriptionError
	switch {
	case errors.As(err, &subErr):
		return &ExitError{Code: ExitWatch, Message: err.Error()}
	case errors.Is(err, graph.ErrConfiguration):
		return &ExitError{Code: ExitConfig, Message: err.Error()}
	}
	return &ExitError{Code: ExitBuild, Message: err.Error()}
}

func (e *env) projectDir() (string, error) {
	if dir := strings.TrimSpace(e.g.project); dir != "" {
		return dir, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}
	return dir, nil
}

// loadConfig loads the project and applies the global flags on top of the
// environment overrides.
func (e *env) loadConfig() (*config.Config, error) {
	dir, err := e.projectDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir, e.g.config)
	if err != nil {
		return nil, &ExitError{Code: ExitConfig, Message: err.Error()}
	}
	if e.g.logLevel != "" {
		cfg.Log.Level = e.g.logLevel
	}
	if e.g.logFormat != "" {
		cfg.Log.Format = e.g.logFormat
	}
	return cfg, nil
}

// session opens the history logbook and builds a session around cfg.
func (e *env) session(cfg *config.Config, logger *slog.Logger, opts ...build.Option) (*build.Session, error) {
	base := []build.Option{build.WithLogger(logger), build.WithWorkers(e.g.concurrency)}
	if book, err := logbook.New(cfg.HistoryPath()); err == nil {
		base = append(base, build.WithHistory(book))
	} else {
		logger.Warn("Build history unavailable.", "error", err)
	}
	sess, err := build.New(cfg, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// newFlagSet returns a command FlagSet that reports usage problems as
// ExitErrors.
func (e *env) newFlagSet(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "Usage:\n  assetflow %s [options] %s\n\nOptions:\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

// parse returns done=true when help was requested.
func parse(fs *flag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return true, nil
		}
		return false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	return false, nil
}

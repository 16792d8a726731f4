package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/assetflow/internal/build"
	"github.com/kingrea/assetflow/internal/config"
	"github.com/kingrea/assetflow/internal/logbook"
	"github.com/kingrea/assetflow/internal/logging"
	"github.com/kingrea/assetflow/internal/pipeline/scheduler"
	"github.com/kingrea/assetflow/internal/pipeline/watch"
	"github.com/kingrea/assetflow/internal/tui"
)

// targetCommand builds one declared target: build, build-dev or sprite.
func targetCommand(target string) func(e *env, args []string) error {
	return func(e *env, args []string) error {
		fs := e.newFlagSet(target, "")
		force := fs.Bool("force", false, "Ignore staleness and run every task of the target.")
		if done, err := parse(fs, args); done || err != nil {
			return err
		}
		if fs.NArg() > 0 {
			return usageError("%s takes no arguments, got %q", target, fs.Args())
		}
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		sess, err := e.session(cfg, logging.New(e.stderr, cfg.Log))
		if err != nil {
			return err
		}
		var opts []scheduler.RunOption
		if *force {
			plan, err := sess.Plan(target)
			if err != nil {
				return err
			}
			opts = append(opts, scheduler.Force(plan.Graph.Names()...))
		}
		res, err := sess.Build(e.ctx, target, opts...)
		if res != nil {
			printSummary(e.stdout, target, res)
		}
		if err != nil {
			return buildFailure(target, res, err)
		}
		return nil
	}
}

// buildFailure names every failed task so a one-shot build reports each
// underlying tool message.
func buildFailure(label string, res *build.Result, err error) error {
	if res == nil || res.Record == nil {
		return err
	}
	failed := res.Record.Failed()
	if len(failed) == 0 {
		return err
	}
	return &ExitError{
		Code:    ExitBuild,
		Message: fmt.Sprintf("%s failed: %d task(s) failed: %s", label, len(failed), strings.Join(failed, ", ")),
	}
}

func runTasks(e *env, args []string) error {
	fs := e.newFlagSet("run", "<task>...")
	force := fs.Bool("force", false, "Ignore staleness for the named tasks.")
	sets := keyValueFlag{}
	fs.Var(&sets, "set", "Task option override (key=value, repeatable), applied to every named task.")
	if done, err := parse(fs, args); done || err != nil {
		return err
	}
	names := fs.Args()
	if len(names) == 0 {
		return usageError("run requires at least one task name")
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	applyOptionOverrides(cfg, names, sets)
	sess, err := e.session(cfg, logging.New(e.stderr, cfg.Log))
	if err != nil {
		return err
	}
	label := strings.Join(names, ", ")
	res, err := sess.RunTasks(e.ctx, names, *force)
	if res != nil {
		printSummary(e.stdout, label, res)
	}
	if err != nil {
		return buildFailure(label, res, err)
	}
	return nil
}

// applyOptionOverrides merges --set values into the named tasks' options.
// Unknown task names are left for the scheduler to report.
func applyOptionOverrides(cfg *config.Config, names []string, sets keyValueFlag) {
	if len(sets) == 0 {
		return
	}
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	for i := range cfg.Definition.Tasks {
		task := &cfg.Definition.Tasks[i]
		if !wanted[task.Name] {
			continue
		}
		task.Options = task.Options.Clone()
		if task.Options == nil {
			task.Options = make(map[string]any, len(sets))
		}
		for key, value := range sets {
			task.Options[key] = parseOptionValue(value)
		}
	}
}

// parseOptionValue keeps numbers and booleans typed so transforms see the
// same values a definition file would give them.
func parseOptionValue(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}

func runGraph(e *env, args []string) error {
	fs := e.newFlagSet("graph", "[target]")
	if done, err := parse(fs, args); done || err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return usageError("graph takes at most one target")
	}
	target := fs.Arg(0)
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	sess, err := e.session(cfg, logging.Discard())
	if err != nil {
		return err
	}
	plan, err := sess.Plan(target)
	if err != nil {
		return err
	}
	printGraph(e.stdout, plan, sess.TargetNames())
	return nil
}

func runInit(e *env, args []string) error {
	fs := e.newFlagSet("init", "")
	if done, err := parse(fs, args); done || err != nil {
		return err
	}
	dir, err := e.projectDir()
	if err != nil {
		return err
	}
	path, err := config.Init(dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Definition: %s\n", path)
	return nil
}

func runHistory(e *env, args []string) error {
	fs := e.newFlagSet("history", "")
	n := fs.Int("n", 20, "Number of runs to show.")
	if done, err := parse(fs, args); done || err != nil {
		return err
	}
	if *n <= 0 {
		return usageError("-n must be positive")
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	book, err := logbook.New(cfg.HistoryPath())
	if err != nil {
		return err
	}
	lines, total := book.Tail(*n)
	if total == 0 {
		fmt.Fprintln(e.stdout, "No runs recorded.")
		return nil
	}
	for _, line := range lines {
		fmt.Fprintln(e.stdout, line)
	}
	if total > len(lines) {
		fmt.Fprintln(e.stdout, mutedStyle.Render(fmt.Sprintf("(%d of %d runs)", len(lines), total)))
	}
	return nil
}

func runServe(e *env, args []string) error {
	fs := e.newFlagSet("serve", "")
	port := fs.Int("port", 0, "Dev server port. 0 uses the definition (default 5050).")
	host := fs.String("host", "", "Dev server host.")
	target := fs.String("target", build.DefaultServeTarget, "Target built first and watched.")
	useTUI := fs.Bool("tui", false, "Show the dashboard instead of log output.")
	noBuild := fs.Bool("no-build", false, "Skip the initial build.")
	if done, err := parse(fs, args); done || err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageError("serve takes no arguments, got %q", fs.Args())
	}
	if *port < 0 || *port > 65535 {
		return usageError("port %d out of range", *port)
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	opts := build.ServeOptions{
		Target:    *target,
		Listen:    listenAddress(*host, *port),
		SkipBuild: *noBuild,
	}
	if *useTUI {
		return e.serveTUI(cfg, opts)
	}

	sess, err := e.session(cfg, logging.New(e.stderr, cfg.Log))
	if err != nil {
		return err
	}
	opts.OnReady = func(url string) {
		if url == "" {
			fmt.Fprintln(e.stdout, "Watching (server disabled). Press Ctrl+C to stop.")
			return
		}
		fmt.Fprintf(e.stdout, "Serving %s at %s. Press Ctrl+C to stop.\n", cfg.OutputDir(), url)
	}
	opts.OnRebuild = func(ev watch.RebuildCompleted) {
		printRebuild(e.stdout, ev)
	}
	return sess.Serve(e.ctx, opts)
}

// serveTUI runs Serve behind the dashboard. Logs go to the project log file
// because the dashboard owns the terminal.
func (e *env) serveTUI(cfg *config.Config, opts build.ServeOptions) error {
	logFile, err := logging.OpenFile(cfg.LogsDir())
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := logging.New(logFile, cfg.Log)

	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()

	target := opts.Target
	if target == "" {
		target = build.DefaultServeTarget
	}
	var sink *tui.Sink
	book, _ := logbook.New(cfg.HistoryPath())
	sess, err := e.session(cfg, logger, build.WithObserver(func(ev scheduler.TaskEvent) {
		sink.Observe(ev)
	}))
	if err != nil {
		return err
	}
	plan, err := sess.Plan(target)
	if err != nil {
		return err
	}
	app := tui.NewApp(target, plan.Stages, tui.WithLogbook(book), tui.WithCancel(cancel))
	program := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	sink = tui.NewSink(program)
	opts.OnReady = sink.Ready
	opts.OnRebuild = sink.Rebuilt

	done := make(chan error, 1)
	go func() {
		err := sess.Serve(ctx, opts)
		sink.Exited(err)
		done <- err
	}()
	_, runErr := program.Run()
	cancel()
	serveErr := <-done
	if serveErr != nil {
		return serveErr
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard: %w", runErr)
	}
	return nil
}

// listenAddress turns --host/--port into the host:port override Serve
// expects. Empty keeps the definition's values.
func listenAddress(host string, port int) string {
	host = strings.TrimSpace(host)
	if host == "" && port == 0 {
		return ""
	}
	portText := ""
	if port > 0 {
		portText = strconv.Itoa(port)
	}
	return net.JoinHostPort(host, portText)
}

package build

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/assetflow/internal/livereload"
	"github.com/kingrea/assetflow/internal/logging"
	"github.com/kingrea/assetflow/internal/pipeline/graph"
	"github.com/kingrea/assetflow/internal/pipeline/watch"
)

// DefaultServeTarget is built before serving and defines what is watched.
const DefaultServeTarget = "build-dev"

const shutdownTimeout = 5 * time.Second

// ServeOptions customizes Serve.
type ServeOptions struct {
	// Target defaults to DefaultServeTarget.
	Target string
	// Listen overrides the configured host:port. Either side may be empty.
	Listen string
	// SkipBuild starts watching without the initial build.
	SkipBuild bool
	// Source replaces the filesystem watcher.
	Source watch.Source
	// OnReady receives the server URL once it is listening, or "" when the
	// server is disabled.
	OnReady func(url string)
	// OnRebuild receives every watch-triggered rebuild.
	OnRebuild func(watch.RebuildCompleted)
}

// Serve builds the target, serves the output directory with live reload and
// rebuilds the affected tasks whenever a watched file changes. It returns
// nil when ctx is cancelled and a *watch.SubscriptionError when watching
// fails. Nothing is watched or served unless the initial build succeeds.
func (s *Session) Serve(ctx context.Context, opts ServeOptions) error {
	target := opts.Target
	if target == "" {
		target = DefaultServeTarget
	}
	plan, err := s.Plan(target)
	if err != nil {
		return err
	}
	sched, err := s.scheduler(plan)
	if err != nil {
		return err
	}
	ctx = logging.WithLogger(ctx, s.logger)

	if !opts.SkipBuild {
		if _, err := s.Build(ctx, target); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}

	def := s.cfg.Definition
	outputDir := s.cfg.OutputDir()
	settings := livereload.SettingsFromConfig(def.Server, outputDir)
	if opts.Listen != "" {
		if err := applyListen(&settings, opts.Listen); err != nil {
			return fmt.Errorf("build: %w: %w", graph.ErrConfiguration, err)
		}
	}

	routerOpts := []watch.RouterOption{
		watch.WithDebounce(s.cfg.Debounce),
		watch.WithRoot(s.cfg.ProjectDir),
		watch.WithIgnore(outputDir, s.cfg.StateDir),
		watch.WithLogger(s.logger),
		watch.OnRebuild(func(ev watch.RebuildCompleted) {
			s.record("watch "+strings.Join(ev.Tasks, ","), ev.Record, ev.Err)
		}),
	}

	url := ""
	if settings.Enabled {
		srv := livereload.NewServer(settings, livereload.WithLogger(s.logger))
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("build: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Warn("Server shutdown failed.", "error", err)
			}
		}()
		gateway := livereload.NewGateway(srv.Hub(), outputDir, s.logger)
		routerOpts = append(routerOpts, watch.OnRebuild(gateway.HandleRebuild))
		url = srv.BaseURL()
	}
	if opts.OnRebuild != nil {
		routerOpts = append(routerOpts, watch.OnRebuild(opts.OnRebuild))
	}

	bindings := watch.BindingsFor(plan.Graph, def.Watch)
	router, err := watch.NewRouter(plan.Graph, sched, bindings, routerOpts...)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}

	src := opts.Source
	if src == nil {
		fsSrc, err := watch.NewFSNotifySource(s.watchRoots(bindings), watch.WithSkipDir(s.skipDir))
		if err != nil {
			return err
		}
		src = fsSrc
	}
	defer src.Close()

	if opts.OnReady != nil {
		opts.OnReady(url)
	}
	s.logger.Info("Serving.", "target", target, "url", url, "bindings", len(bindings))
	return router.Run(ctx, src)
}

func (s *Session) watchRoots(bindings watch.Bindings) []string {
	roots := bindings.Roots()
	out := make([]string, 0, len(roots))
	for _, root := range roots {
		out = append(out, filepath.Join(s.cfg.ProjectDir, filepath.FromSlash(root)))
	}
	return out
}

// skipDir keeps the watcher out of generated and vendored trees.
func (s *Session) skipDir(dir string) bool {
	switch filepath.Base(dir) {
	case ".git", "node_modules":
		return true
	}
	return dir == s.cfg.OutputDir() || dir == s.cfg.StateDir
}

func applyListen(settings *livereload.Settings, listen string) error {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return fmt.Errorf("listen address %q: %w", listen, err)
	}
	if host != "" {
		settings.Host = host
	}
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 0 || n > 65535 {
			return fmt.Errorf("listen port %q out of range", port)
		}
		settings.Port = n
	}
	return nil
}

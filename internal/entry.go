// Package internal wires the mcodex services together and runs the
// long-lived commands.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/starford/mcodex/internal/build"
	"github.com/starford/mcodex/internal/history"
	"github.com/starford/mcodex/internal/mcpserver"
	"github.com/starford/mcodex/internal/pipeline"
	"github.com/starford/mcodex/internal/repoconfig"
	"github.com/starford/mcodex/internal/resolver"
	"github.com/starford/mcodex/internal/snapshot"
	"github.com/starford/mcodex/internal/texts"
	"github.com/starford/mcodex/internal/vcs"
	"github.com/starford/mcodex/internal/watch"
)

// App holds the configured services shared by every command.
type App struct {
	Config    *Config
	Logger    *slog.Logger
	Ledger    history.Ledger
	Engine    *pipeline.Engine
	Snapshots *snapshot.Manager
	Builds    *build.Service
	Texts     *texts.Service

	ownsLedger bool
}

// New builds the application from options.
func New(opts ...Option) (*App, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	out := app.logOutput
	if out == nil {
		out = os.Stderr
	}
	level := cfg.App.LogLevel
	if app.verbose {
		level = slog.LevelDebug
	}
	logger := NewLogger(out, level, cfg.App.LogFormat)
	slog.SetDefault(logger)
	logger.Debug("Configuration loaded", slog.String("config", cfg.String()))

	a := &App{Config: cfg, Logger: logger, Ledger: app.ledger}
	if a.Ledger == nil && cfg.History.Enabled {
		db, err := history.Open(cfg.History.Path)
		if err != nil {
			// History is optional.
			logger.Warn("history ledger unavailable",
				slog.String("path", cfg.History.Path),
				slog.String("error", err.Error()))
		} else {
			a.Ledger = db
			a.ownsLedger = true
		}
	}

	engineOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithTools(cfg.Tools.Pipeline()),
		pipeline.WithTimeout(cfg.Tools.Timeout),
		pipeline.WithRepoFinder(FindRepository),
	}
	if app.executor != nil {
		engineOpts = append(engineOpts, pipeline.WithExecutor(app.executor), pipeline.WithLookPath(app.lookPath))
	}
	a.Engine = pipeline.NewEngine(engineOpts...)

	var adapter vcs.Adapter = vcs.New(logger)
	if app.vcs != nil {
		adapter = app.vcs
	}
	snapOpts := []snapshot.Option{
		snapshot.WithLogger(logger),
		snapshot.WithVCS(adapter),
	}
	buildOpts := []build.Option{build.WithLogger(logger)}
	if a.Ledger != nil {
		snapOpts = append(snapOpts, snapshot.WithLedger(a.Ledger))
		buildOpts = append(buildOpts, build.WithLedger(a.Ledger))
	}
	if app.lockDir != "" {
		snapOpts = append(snapOpts, snapshot.WithLockDir(app.lockDir))
	}
	a.Snapshots = snapshot.NewManager(snapOpts...)
	a.Builds = build.NewService(a.Engine, buildOpts...)
	a.Texts = texts.NewService(texts.WithLogger(logger))
	return a, nil
}

// Close releases the ledger when the application opened it.
func (a *App) Close() error {
	if a.ownsLedger && a.Ledger != nil {
		return a.Ledger.Close()
	}
	return nil
}

var _ pipeline.RepoFinder = FindRepository

// FindRepository adapts repoconfig.Open to the engine's RepoFinder.
func FindRepository(start string) (pipeline.Repository, error) {
	repo, err := repoconfig.Open(start)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// NewLogger builds the process logger. Auto format picks text on a
// terminal and JSON otherwise.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == LogFormatAuto || format == "" {
		format = LogFormatJSON
		if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			format = LogFormatText
		}
	}
	if format == LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Watch rebuilds the worktree of textDir on every change until ctx ends or
// the process is interrupted.
func (a *App) Watch(ctx context.Context, textDir, pipelineName string) error {
	if pipelineName == "" {
		pipelineName = a.Config.Watch.Pipeline
	}
	w := watch.New(textDir, func(ctx context.Context) error {
		res, err := a.Builds.Build(ctx, build.Request{
			TextDir:  textDir,
			Ref:      resolver.Worktree,
			Pipeline: pipelineName,
		})
		if err != nil {
			return err
		}
		a.Logger.Info("build finished", slog.String("output", res.Output))
		return nil
	}, watch.WithLogger(a.Logger), watch.WithDebounce(a.Config.Watch.Debounce))

	a.Logger.Info("Watching text",
		slog.String("text", textDir),
		slog.String("pipeline", pipelineName))
	return a.run(ctx, w.Run)
}

// ServeMCP serves the tool server on in/out until the client disconnects or
// the process is interrupted.
func (a *App) ServeMCP(ctx context.Context, wd, version string, in io.Reader, out io.Writer) error {
	opts := []mcpserver.Option{
		mcpserver.WithWorkDir(wd),
		mcpserver.WithVersion(version),
		mcpserver.WithLogger(a.Logger),
	}
	if a.Ledger != nil {
		opts = append(opts, mcpserver.WithLedger(a.Ledger))
	}
	srv := mcpserver.New(a.Snapshots, a.Builds, opts...)
	a.Logger.Info("MCP server starting", slog.String("workdir", wd))
	return a.run(ctx, func(ctx context.Context) error {
		return srv.Serve(ctx, in, out)
	})
}

// run executes task next to a signal handler. An interrupt cancels the task
// and surfaces as context.Canceled so the exit code reflects it.
func (a *App) run(parent context.Context, task func(context.Context) error) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var interrupted atomic.Bool
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		if err := task(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			a.Logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			interrupted.Store(true)
			cancel()
		case <-gCtx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		a.Logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}
	if interrupted.Load() || parent.Err() != nil {
		return context.Canceled
	}
	return nil
}

package internal

import (
	"io"

	"github.com/starford/mcodex/internal/history"
	"github.com/starford/mcodex/internal/pipeline"
	"github.com/starford/mcodex/internal/vcs"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	logOutput io.Writer
	verbose   bool
	executor  pipeline.Executor
	lookPath  pipeline.LookPathFunc
	vcs       vcs.Adapter
	ledger    history.Ledger
	lockDir   string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogOutput sets where logs are written. Defaults to stderr.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithVerbose lowers the log level to debug.
func WithVerbose(on bool) Option {
	return func(a *application) {
		a.verbose = on
	}
}

// WithExecutor replaces the external tool runner.
func WithExecutor(x pipeline.Executor, lookPath pipeline.LookPathFunc) Option {
	return func(a *application) {
		a.executor = x
		a.lookPath = lookPath
	}
}

// WithVCS replaces the version-control adapter.
func WithVCS(v vcs.Adapter) Option {
	return func(a *application) {
		a.vcs = v
	}
}

// WithLedger uses an already open history ledger instead of the configured one.
func WithLedger(l history.Ledger) Option {
	return func(a *application) {
		a.ledger = l
	}
}

// WithLockDir sets where snapshot lock files are kept.
func WithLockDir(dir string) Option {
	return func(a *application) {
		a.lockDir = dir
	}
}

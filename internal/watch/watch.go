// Package watch rebuilds a text whenever its worktree changes.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/mcodex/internal/checksum"
	"github.com/starford/mcodex/internal/snapshot"
)

// DefaultDebounce is the quiet period before a rebuild starts.
const DefaultDebounce = 300 * time.Millisecond

// BuildFunc rebuilds the text. Its error is logged and watching continues.
type BuildFunc func(ctx context.Context) error

// Watcher observes one text directory.
type Watcher struct {
	dir      string
	build    BuildFunc
	logger   *slog.Logger
	debounce time.Duration
	skip     map[string]struct{}
	initial  bool
	last     string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet period before a rebuild.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithExcludes adds directory names that are never watched.
func WithExcludes(names ...string) Option {
	return func(w *Watcher) {
		for _, n := range names {
			w.skip[n] = struct{}{}
		}
	}
}

// WithInitialBuild runs one build before waiting for changes.
func WithInitialBuild(on bool) Option {
	return func(w *Watcher) { w.initial = on }
}

// New creates a watcher on dir.
func New(dir string, build BuildFunc, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		build:    build,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		skip:     make(map[string]struct{}),
		initial:  true,
	}
	for _, n := range snapshot.BaseExcludes {
		w.skip[n] = struct{}{}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. Bursts of events are coalesced into
// one rebuild, and a rebuild is skipped when the content digest is unchanged.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addDirs(fw, w.dir); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("root", w.dir))

	if w.initial {
		w.rebuild(ctx)
	} else {
		w.last = w.digest()
	}

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			fire = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-fire:
			w.rebuild(ctx)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.ignored(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := w.addDirs(fw, ev.Name); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.logger.Debug("watcher: change", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
				schedule()
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) rebuild(ctx context.Context) {
	sum := w.digest()
	if sum == w.last {
		w.logger.Debug("watcher: content unchanged, skipping build")
		return
	}
	w.last = sum
	start := time.Now()
	if err := w.build(ctx); err != nil {
		w.logger.Error("watcher: build failed", slog.String("error", err.Error()))
		return
	}
	w.logger.Info("watcher: rebuilt", slog.Duration("took", time.Since(start)))
}

// ignored reports whether path lies in a skipped directory or is a
// temporary file written by an editor or an atomic write.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if _, ok := w.skip[part]; ok {
			return true
		}
	}
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".mcodex-tmp-") ||
		strings.HasPrefix(base, ".#") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp")
}

// digest hashes every watched file so that touch-only events do not rebuild.
func (w *Watcher) digest() string {
	sums := make(map[string]string)
	_ = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != w.dir && w.ignored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		sum, sumErr := checksum.File(path)
		if sumErr != nil {
			return nil
		}
		rel, _ := filepath.Rel(w.dir, path)
		sums[filepath.ToSlash(rel)] = sum
		return nil
	})
	return checksum.Set(sums)
}

func (w *Watcher) addDirs(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.dir && w.ignored(path) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

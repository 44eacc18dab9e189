package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startWatcher runs a watcher over a fresh text dir and returns the dir and
// the build counter.
func startWatcher(t *testing.T, opts ...Option) (string, *atomic.Int32) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "text.md"), []byte("# One\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, ".snapshot"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	var builds atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	opts = append([]Option{WithLogger(quietLogger()), WithDebounce(50 * time.Millisecond)}, opts...)
	w := New(dir, func(context.Context) error {
		builds.Add(1)
		return nil
	}, opts...)
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Give the watcher time to register directories.
	time.Sleep(100 * time.Millisecond)
	return dir, &builds
}

func TestInitialBuild(t *testing.T) {
	_, builds := startWatcher(t)
	eventually(t, 2*time.Second, 20*time.Millisecond, func() bool {
		return builds.Load() == 1
	}, "expected one initial build")
}

func TestRebuildOnChange(t *testing.T) {
	dir, builds := startWatcher(t, WithInitialBuild(false))

	for i, body := range []string{"# Two\n", "# Three\n", "# Four\n"} {
		if err := os.WriteFile(filepath.Join(dir, "text.md"), []byte(body), 0o644); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	eventually(t, 2*time.Second, 20*time.Millisecond, func() bool {
		return builds.Load() >= 1
	}, "expected a rebuild after edits")

	time.Sleep(300 * time.Millisecond)
	if n := builds.Load(); n > 2 {
		t.Errorf("edits within the debounce window should coalesce, got %d builds", n)
	}
}

func TestUnchangedContentSkipped(t *testing.T) {
	dir, builds := startWatcher(t, WithInitialBuild(false))

	if err := os.WriteFile(filepath.Join(dir, "text.md"), []byte("# One\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(400 * time.Millisecond)
	if n := builds.Load(); n != 0 {
		t.Errorf("rewrite with same content triggered %d builds", n)
	}
}

func TestSnapshotDirIgnored(t *testing.T) {
	dir, builds := startWatcher(t, WithInitialBuild(false))

	snap := filepath.Join(dir, ".snapshot", "draft-1")
	if err := os.MkdirAll(snap, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(snap, "text.md"), []byte("# Frozen\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(400 * time.Millisecond)
	if n := builds.Load(); n != 0 {
		t.Errorf("snapshot writes triggered %d builds", n)
	}
}

func TestNewSubdirWatched(t *testing.T) {
	dir, builds := startWatcher(t, WithInitialBuild(false))

	img := filepath.Join(dir, "img")
	if err := os.Mkdir(img, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	before := builds.Load()
	if err := os.WriteFile(filepath.Join(img, "map.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	eventually(t, 2*time.Second, 20*time.Millisecond, func() bool {
		return builds.Load() > before
	}, "expected a rebuild after writing into a new subdirectory")
}

func TestIgnored(t *testing.T) {
	w := New("/texts/story", nil)
	cases := []struct {
		path string
		want bool
	}{
		{"/texts/story/text.md", false},
		{"/texts/story/img/a.png", false},
		{"/texts/story/.snapshot/draft-1/a.md", true},
		{"/texts/story/.git/index", true},
		{"/texts/story/text.md~", true},
		{"/texts/story/.text.md.swp", true},
		{"/texts/story/.mcodex-tmp-123", true},
		{"/texts/other/text.md", true},
	}
	for _, tc := range cases {
		if got := w.ignored(tc.path); got != tc.want {
			t.Errorf("ignored(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

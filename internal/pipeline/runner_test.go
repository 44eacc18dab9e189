package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/mcodex/internal/apperr"
)

// shellEngine runs every tool as /bin/sh, so text.md is executed as a script.
func shellEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	base := []Option{
		WithLookPath(func(string) (string, error) { return "/bin/sh", nil }),
		WithRepoFinder(outsideRepo),
		WithTempDir(t.TempDir()),
	}
	return NewEngine(append(base, opts...)...)
}

func shellSource(t *testing.T, script string) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "text_story")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "text.md"), []byte(script), 0o644))
	return src
}

func TestToolExitCodeAndOutput(t *testing.T) {
	e := shellEngine(t)
	src := shellSource(t, "echo boom\nexit 3\n")

	_, err := e.Run(context.Background(), Request{
		Pipeline:   "docx",
		SourceDir:  src,
		OutputPath: filepath.Join(t.TempDir(), "story_worktree.docx"),
	})
	require.Error(t, err)

	var te *apperr.ExternalToolError
	require.True(t, errors.As(err, &te), "err = %v", err)
	assert.Equal(t, "sh", te.Tool)
	assert.Equal(t, 3, te.ExitCode)
	assert.Contains(t, te.Output, "boom")
	assert.ErrorIs(t, err, apperr.ErrExternalTool)
}

func TestToolKilledAtTimeout(t *testing.T) {
	e := shellEngine(t, WithTimeout(100*time.Millisecond))
	src := shellSource(t, "exec sleep 5\n")

	start := time.Now()
	_, err := e.Run(context.Background(), Request{
		Pipeline:   "docx",
		SourceDir:  src,
		OutputPath: filepath.Join(t.TempDir(), "story_worktree.docx"),
	})
	elapsed := time.Since(start)
	require.Error(t, err)

	var te *apperr.ExternalToolError
	require.True(t, errors.As(err, &te), "err = %v", err)
	assert.Equal(t, -1, te.ExitCode)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 4*time.Second)
}

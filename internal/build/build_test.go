package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/mcodex/internal/apperr"
	"github.com/starford/mcodex/internal/history"
	"github.com/starford/mcodex/internal/pipeline"
	"github.com/starford/mcodex/internal/repoconfig"
	"github.com/starford/mcodex/internal/snapshot"
	"github.com/starford/mcodex/internal/testutil"
)

// fakeExec produces the files the real tools would write.
type fakeExec struct {
	calls []pipeline.Command
}

func (f *fakeExec) Run(_ context.Context, c pipeline.Command) ([]byte, error) {
	f.calls = append(f.calls, c)
	switch c.Tool() {
	case "pandoc":
		for i, a := range c.Args {
			if a == "-o" {
				_ = os.WriteFile(c.Args[i+1], []byte("body"), 0o644)
			}
		}
	case "vlna":
		_ = os.WriteFile(c.Args[len(c.Args)-1], []byte("vlna"), 0o644)
	case "latexmk":
		_ = os.WriteFile(filepath.Join(c.Dir, "main.pdf"), []byte("%PDF"), 0o644)
	}
	return nil, nil
}

func findRepo(start string) (pipeline.Repository, error) {
	repo, err := repoconfig.Open(start)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func newService(t *testing.T, x pipeline.Executor, opts ...Option) *Service {
	t.Helper()
	engine := pipeline.NewEngine(
		pipeline.WithExecutor(x),
		pipeline.WithLookPath(func(name string) (string, error) { return "/bin/" + name, nil }),
		pipeline.WithRepoFinder(findRepo),
		pipeline.WithTempDir(t.TempDir()),
	)
	return NewService(engine, opts...)
}

func TestBuildWorktreeOutsideRepo(t *testing.T) {
	base := t.TempDir()
	text := testutil.TestText(t, base, "story", "story", "hello")

	res, err := newService(t, &fakeExec{}).Build(context.Background(), Request{TextDir: text, Ref: "."})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "artifacts", "story_worktree.pdf"), res.Output)
	assert.Equal(t, "worktree", res.Label)
	assert.Equal(t, DefaultPipeline, res.Pipeline)
	data, err := os.ReadFile(res.Output)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
}

func TestBuildSnapshotByStage(t *testing.T) {
	base := t.TempDir()
	text := testutil.TestText(t, base, "story", "story", "hello")
	mgr := snapshot.NewManager(snapshot.WithLockDir(t.TempDir()))
	_, err := mgr.Create(context.Background(), text, "draft", "")
	require.NoError(t, err)

	x := &fakeExec{}
	res, err := newService(t, x).Build(context.Background(), Request{TextDir: text, Ref: "draft"})
	require.NoError(t, err)

	assert.Equal(t, "story_draft-1.pdf", filepath.Base(res.Output))
	assert.Equal(t, filepath.Join(text, ".snapshot", "draft-1"), res.Source)
	require.NotEmpty(t, x.calls)
	assert.Equal(t, res.Source, x.calls[0].Dir, "pandoc reads the snapshot, not the worktree")

	res, err = newService(t, &fakeExec{}).Build(context.Background(), Request{TextDir: text, Ref: "draft-1"})
	require.NoError(t, err)
	assert.Equal(t, "story_draft-1.pdf", filepath.Base(res.Output))
}

func TestBuildInsideRepo(t *testing.T) {
	root := testutil.TestRepo(t)
	text := testutil.TestText(t, root, "text_story", "story", "hello")

	res, err := newService(t, &fakeExec{}).Build(context.Background(), Request{TextDir: text, Pipeline: "docx"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "artifacts", "story_worktree.docx"), res.Output)
	_, err = os.Stat(res.Output)
	assert.NoError(t, err)

	res, err = newService(t, &fakeExec{}).Build(context.Background(), Request{TextDir: text, Pipeline: "latex"})
	require.NoError(t, err)
	assert.Equal(t, "story_worktree.tex", filepath.Base(res.Output))
}

func TestBuildDryRunWritesNothing(t *testing.T) {
	root := testutil.TestRepo(t)
	text := testutil.TestText(t, root, "text_story", "story", "hello")
	x := &fakeExec{}

	res, err := newService(t, x).Build(context.Background(), Request{TextDir: text, Pipeline: "PDF", DryRun: true})
	require.NoError(t, err)
	assert.Len(t, res.Commands, 3)
	assert.Empty(t, x.calls)
	_, err = os.Stat(filepath.Join(root, "artifacts"))
	assert.True(t, os.IsNotExist(err), "dry run must not create the artifacts dir")
}

func TestNoopPipeline(t *testing.T) {
	base := t.TempDir()
	text := testutil.TestText(t, base, "story", "story", "hello")
	x := &fakeExec{}

	res, err := newService(t, x).Build(context.Background(), Request{TextDir: text, Pipeline: "noop"})
	require.NoError(t, err)
	data, err := os.ReadFile(res.Output)
	require.NoError(t, err)
	assert.Equal(t, "noop build: story / worktree\n", string(data))
	assert.Equal(t, "story_worktree.pdf", filepath.Base(res.Output))
	assert.Empty(t, x.calls)
}

func TestBuildUnknownSnapshot(t *testing.T) {
	text := testutil.TestText(t, t.TempDir(), "story", "story", "hello")
	_, err := newService(t, &fakeExec{}).Build(context.Background(), Request{TextDir: text, Ref: "rc"})
	var snf *apperr.SnapshotNotFoundError
	assert.True(t, errors.As(err, &snf), "err = %v", err)
}

func TestBuildsAreRecorded(t *testing.T) {
	db := testutil.TestDB(t)
	text := testutil.TestText(t, t.TempDir(), "story", "story", "hello")
	s := newService(t, &fakeExec{}, WithLedger(db))

	_, err := s.Build(context.Background(), Request{TextDir: text, Pipeline: "noop"})
	require.NoError(t, err)
	_, err = s.Build(context.Background(), Request{TextDir: text, Ref: "final"})
	require.Error(t, err)

	rows, err := db.Builds("story", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var ok, failed int
	for _, r := range rows {
		switch r.Status {
		case history.StatusOK:
			ok++
			assert.Equal(t, "worktree", r.Version)
			assert.NotEmpty(t, r.SourceChecksum)
		case history.StatusFailed:
			failed++
			assert.Contains(t, r.Error, "snapshot not found")
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, failed)
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "story_worktree.pdf", OutputName("story", "worktree", "pdf"))
	assert.Equal(t, "story_draft-1.pdf", OutputName("story", "draft-1", "pdf"))
}

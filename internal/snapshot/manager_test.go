package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/starford/mcodex/internal/apperr"
	"github.com/starford/mcodex/internal/models"
	"github.com/starford/mcodex/internal/repoconfig"
	"github.com/starford/mcodex/internal/testutil"
	"github.com/starford/mcodex/internal/vcs"
)

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithLockDir(t.TempDir()),
		WithClock(func() time.Time { return time.Date(2026, 1, 4, 9, 30, 0, 0, time.FixedZone("CET", 3600)) }),
	}
	return NewManager(append(base, opts...)...)
}

func TestCreateAutoNumbers(t *testing.T) {
	dir := testutil.TestText(t, t.TempDir(), "text_story", "story", "hello")
	m := newManager(t)
	ctx := context.Background()

	for i, want := range []string{"draft-1", "draft-2", "draft-3"} {
		info, err := m.Create(ctx, dir, "draft", "")
		if err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
		if info.Label != want {
			t.Errorf("label = %q, want %q", info.Label, want)
		}
	}
}

func TestCreateWritesRecord(t *testing.T) {
	dir := testutil.TestText(t, t.TempDir(), "text_story", "story", "hello")
	info, err := newManager(t).Create(context.Background(), dir, "draft", "  first  ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec, err := ReadRecord(info.Path)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if rec.Label != "draft-1" || rec.Note != "first" || rec.Text.Slug != "story" {
		t.Errorf("record = %+v", rec)
	}
	if rec.CreatedAt != "2026-01-04T09:30:00+01:00" {
		t.Errorf("created_at = %q", rec.CreatedAt)
	}
	if rec.Git != nil {
		t.Error("git tag recorded outside a git repository")
	}
	got, _ := os.ReadFile(filepath.Join(info.Path, models.TextFile))
	if string(got) != "hello" {
		t.Errorf("copied text = %q", got)
	}
}

func TestCreateExcludesNestedDirs(t *testing.T) {
	dir := testutil.TestText(t, t.TempDir(), "text_story", "story", "hello")
	for _, d := range []string{".git", "build", "__pycache__"} {
		_ = os.MkdirAll(filepath.Join(dir, d), 0o755)
		_ = os.WriteFile(filepath.Join(dir, d, "x"), []byte("x"), 0o644)
	}
	m := newManager(t)
	if _, err := m.Create(context.Background(), dir, "draft", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	info, err := m.Create(context.Background(), dir, "draft", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, d := range []string{models.SnapshotDir, ".git", "build", "__pycache__"} {
		if _, err := os.Stat(filepath.Join(info.Path, d)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("snapshot contains %s", d)
		}
	}
}

func TestStageRegressionRejected(t *testing.T) {
	dir := testutil.TestText(t, t.TempDir(), "text_story", "story", "hello")
	m := newManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, dir, "rc", ""); err != nil {
		t.Fatalf("Create rc: %v", err)
	}
	for _, s := range []string{"draft", "preview", "draft-9"} {
		_, err := m.Create(ctx, dir, s, "")
		var reg *apperr.StageRegressionError
		if !errors.As(err, &reg) {
			t.Fatalf("Create(%s) err = %v, want StageRegressionError", s, err)
		}
		if !reflect.DeepEqual(reg.Allowed, []string{"rc", "final", "published"}) {
			t.Errorf("allowed = %v", reg.Allowed)
		}
		if !errors.Is(err, apperr.ErrConflict) {
			t.Error("regression should be a conflict")
		}
	}
	for _, s := range []string{"rc", "final", "v1.0"} {
		if _, err := m.Create(ctx, dir, s, ""); err != nil {
			t.Errorf("Create(%s): %v", s, err)
		}
	}
}

func TestExplicitLabelCollision(t *testing.T) {
	dir := testutil.TestText(t, t.TempDir(), "text_story", "story", "hello")
	m := newManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, dir, "editor_review", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := m.Create(ctx, dir, "editor_review", "")
	var exists *apperr.SnapshotAlreadyExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("err = %v, want SnapshotAlreadyExistsError", err)
	}
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Error("should unwrap to ErrAlreadyExists")
	}
}

func TestInvalidLabel(t *testing.T) {
	dir := testutil.TestText(t, t.TempDir(), "text_story", "story", "hello")
	_, err := newManager(t).Create(context.Background(), dir, "-bad label", "")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestCreateRequiresMetadata(t *testing.T) {
	dir := t.TempDir()
	_, err := newManager(t).Create(context.Background(), dir, "draft", "")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestListAndStages(t *testing.T) {
	dir := testutil.TestText(t, t.TempDir(), "text_story", "story", "hello")
	m := newManager(t)

	stages, err := m.AvailableStages(dir)
	if err != nil {
		t.Fatalf("AvailableStages: %v", err)
	}
	if len(stages) != 5 {
		t.Errorf("fresh text stages = %v", stages)
	}
	if cur, _ := m.CurrentStage(dir); cur != "" {
		t.Errorf("current = %q, want none", cur)
	}

	for _, l := range []string{"rc-1", "draft-10", "draft-2", "custom", "preview-1", "Not A Label"} {
		testutil.TestSnapshotDir(t, dir, l)
	}
	_ = os.WriteFile(filepath.Join(dir, models.SnapshotDir, "notes.txt"), nil, 0o644)

	labels, err := m.List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"draft-10", "draft-2", "preview-1", "rc-1", "custom"}
	if !reflect.DeepEqual(labels, want) {
		t.Errorf("labels = %v, want %v", labels, want)
	}

	cur, _ := m.CurrentStage(dir)
	if cur != "rc" {
		t.Errorf("current = %q", cur)
	}
	stages, _ = m.AvailableStages(dir)
	if !reflect.DeepEqual(stages, []string{"rc", "final", "published"}) {
		t.Errorf("stages = %v", stages)
	}

	info, err := m.Create(context.Background(), dir, "rc", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.Label != "rc-2" {
		t.Errorf("label = %q", info.Label)
	}
}

func TestCreateInGitRepository(t *testing.T) {
	root := testutil.TestRepo(t)
	repo := testutil.TestGit(t, root)
	dir := testutil.TestText(t, root, "text_story", "story", "hello")

	m := newManager(t, WithVCS(vcs.New(nil)))
	info, err := m.Create(context.Background(), dir, "draft", "first")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !info.Committed {
		t.Error("snapshot not committed")
	}
	if info.Record.Git == nil || info.Record.Git.Tag != "mcodex/story/draft-1" {
		t.Fatalf("record git = %+v", info.Record.Git)
	}
	rec, _ := ReadRecord(info.Path)
	if rec.Git == nil || rec.Git.Tag != "mcodex/story/draft-1" {
		t.Errorf("snapshot.yaml git = %+v", rec.Git)
	}

	ref, err := repo.Tag("mcodex/story/draft-1")
	if err != nil {
		t.Fatalf("tag missing: %v", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		t.Fatalf("CommitObject: %v", err)
	}
	if commit.Message != "Snapshot: story / draft-1 — first" {
		t.Errorf("message = %q", commit.Message)
	}
}

type failingVCS struct{ root string }

func (f failingVCS) FindRoot(string) (string, error) { return f.root, nil }
func (f failingVCS) Commit(string, []string, string) error {
	return &apperr.VersionControlOperationError{Operation: "commit", Err: errors.New("boom")}
}
func (f failingVCS) Tag(string, string) error { return nil }

func TestVCSFailureKeepsSnapshot(t *testing.T) {
	parent := t.TempDir()
	dir := testutil.TestText(t, parent, "text_story", "story", "hello")

	info, err := newManager(t, WithVCS(failingVCS{root: parent})).Create(context.Background(), dir, "draft", "")
	var vcsErr *apperr.VersionControlOperationError
	if !errors.As(err, &vcsErr) {
		t.Fatalf("err = %v, want VersionControlOperationError", err)
	}
	if info == nil {
		t.Fatal("info should describe the snapshot left on disk")
	}
	if _, err := os.Stat(filepath.Join(info.Path, models.SnapshotFile)); err != nil {
		t.Errorf("snapshot removed after vcs failure: %v", err)
	}
}

func TestRenderCommitMessage(t *testing.T) {
	tpl := "Snapshot: {slug} / {label} — {note}"
	if got := RenderCommitMessage(tpl, "story", "draft-1", "first"); got != "Snapshot: story / draft-1 — first" {
		t.Errorf("with note: %q", got)
	}
	if got := RenderCommitMessage(tpl, "story", "draft-1", ""); got != "Snapshot: story / draft-1" {
		t.Errorf("without note: %q", got)
	}
	if got := RenderCommitMessage("{label}", "s", "v1-", ""); !strings.HasSuffix(got, "v1-") {
		t.Errorf("label suffix trimmed: %q", got)
	}

	tests := []struct {
		tpl, note, want string
	}{
		{"{slug}/{label} - {note}", "", "story/draft-1"},
		{"{slug}/{label} - {note}", "first", "story/draft-1 - first"},
		{"{label}: {note}", "", "draft-1"},
		{"[{label}] {note} (auto)", "", "[draft-1] (auto)"},
		{"{slug} {label}", "", "story draft-1"},
	}
	for _, tt := range tests {
		if got := RenderCommitMessage(tt.tpl, "story", "draft-1", tt.note); got != tt.want {
			t.Errorf("RenderCommitMessage(%q, note=%q) = %q, want %q", tt.tpl, tt.note, got, tt.want)
		}
	}
}

func TestInvalidRepoConfigRejected(t *testing.T) {
	root := testutil.TestRepo(t)
	dir := testutil.TestText(t, root, "text_story", "story", "hello")
	if err := os.WriteFile(repoconfig.ConfigPath(root), []byte("artifacts_dir: a/b\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := newManager(t).Create(context.Background(), dir, "draft", "")
	if !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, models.SnapshotDir, "draft-1")); !os.IsNotExist(statErr) {
		t.Errorf("snapshot created despite invalid config: %v", statErr)
	}
}

type brokenVCS struct{ failingVCS }

func (brokenVCS) FindRoot(string) (string, error) { return "", errors.New("corrupt .git") }

func TestGitOpenFailureAborts(t *testing.T) {
	dir := testutil.TestText(t, t.TempDir(), "text_story", "story", "hello")

	info, err := newManager(t, WithVCS(brokenVCS{})).Create(context.Background(), dir, "draft", "")
	var vcsErr *apperr.VersionControlOperationError
	if !errors.As(err, &vcsErr) {
		t.Fatalf("err = %v, want VersionControlOperationError", err)
	}
	if vcsErr.Operation != "open" {
		t.Errorf("operation = %q", vcsErr.Operation)
	}
	if info != nil {
		t.Errorf("info = %+v, want nil", info)
	}
	if _, statErr := os.Stat(filepath.Join(dir, models.SnapshotDir, "draft-1")); !os.IsNotExist(statErr) {
		t.Errorf("snapshot created despite git failure: %v", statErr)
	}
}

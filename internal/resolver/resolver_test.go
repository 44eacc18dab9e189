package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/mcodex/internal/apperr"
	"github.com/starford/mcodex/internal/testutil"
)

func newResolver(t *testing.T, wd string) *Resolver {
	t.Helper()
	r, err := New(wd)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestInTextDirectory(t *testing.T) {
	root := testutil.TestRepo(t)
	text := testutil.TestText(t, root, "text_story", "story", "hello")
	r := newResolver(t, text)

	if got := r.Context(); got != InText {
		t.Fatalf("Context = %v, want text", got)
	}

	target, err := r.Build()
	if err != nil {
		t.Fatalf("Build(): %v", err)
	}
	if target.TextDir != text || target.Ref != Worktree {
		t.Errorf("Build() = %+v", target)
	}

	target, err = r.Build("draft-1")
	if err != nil {
		t.Fatalf("Build(ref): %v", err)
	}
	if target.TextDir != text || target.Ref != "draft-1" {
		t.Errorf("one argument in a text dir is a ref: %+v", target)
	}
}

func TestInTextDirectoryTwoArgs(t *testing.T) {
	root := testutil.TestRepo(t)
	story := testutil.TestText(t, root, "text_story", "story", "hello")
	other := testutil.TestText(t, root, "text_other", "other", "hi")

	target, err := newResolver(t, story).Build("other", "rc")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if target.TextDir != other || target.Ref != "rc" {
		t.Errorf("Build = %+v", target)
	}
}

func TestInRepositoryRoot(t *testing.T) {
	root := testutil.TestRepo(t)
	text := testutil.TestText(t, root, "text_story", "story", "hello")
	r := newResolver(t, root)

	if got := r.Context(); got != InRepo {
		t.Fatalf("Context = %v, want repository", got)
	}

	target, err := r.Build("story")
	if err != nil {
		t.Fatalf("Build(text): %v", err)
	}
	if target.TextDir != text || target.Ref != Worktree {
		t.Errorf("one argument in a repo is a text: %+v", target)
	}

	target, err = r.Build("story", "draft-1")
	if err != nil {
		t.Fatalf("Build(text, ref): %v", err)
	}
	if target.TextDir != text || target.Ref != "draft-1" {
		t.Errorf("Build = %+v", target)
	}

	_, err = r.Build()
	var amb *apperr.AmbiguousContextError
	if !errors.As(err, &amb) {
		t.Errorf("no args in repo: err = %v, want AmbiguousContextError", err)
	}
}

func TestSlugFromMetadata(t *testing.T) {
	root := testutil.TestRepo(t)
	text := testutil.TestText(t, root, "renamed", "story", "hello")

	got, err := newResolver(t, root).Text("story")
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != text {
		t.Errorf("Text = %s, want %s", got, text)
	}
}

func TestUnknownSlug(t *testing.T) {
	root := testutil.TestRepo(t)
	_, err := newResolver(t, root).Text("nope")
	var nf *apperr.TextNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want TextNotFoundError", err)
	}
	if nf.Path != filepath.Join(root, "text_nope") {
		t.Errorf("attempted path = %s", nf.Path)
	}
}

func TestOutsideRepository(t *testing.T) {
	base := t.TempDir()
	outside := filepath.Join(base, "outside")
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	text := testutil.TestText(t, base, "text_dir", "story", "hello")
	r := newResolver(t, outside)

	if got := r.Context(); got != OutsideRepo {
		t.Fatalf("Context = %v, want outside", got)
	}

	_, err := r.Build("story")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("slug outside repo: err = %v, want not found", err)
	}

	target, err := r.Build(text, ".")
	if err != nil {
		t.Fatalf("Build(path, .): %v", err)
	}
	if target.TextDir != text || target.Ref != Worktree {
		t.Errorf("Build = %+v", target)
	}

	target, err = r.Build("../text_dir")
	if err != nil {
		t.Fatalf("Build(relative path): %v", err)
	}
	if target.TextDir != text {
		t.Errorf("relative path resolved to %s", target.TextDir)
	}

	var amb *apperr.AmbiguousContextError
	if _, err := r.Build(); !errors.As(err, &amb) {
		t.Errorf("no args outside: err = %v", err)
	}
	if _, err := r.Build("draft-1"); !errors.As(err, &amb) {
		t.Errorf("ref only outside: err = %v", err)
	}
}

func TestTooManyArgs(t *testing.T) {
	_, err := newResolver(t, t.TempDir()).Build("a", "b", "c")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestTextRequiresMetadataInWorkingDir(t *testing.T) {
	_, err := newResolver(t, t.TempDir()).Text("")
	var amb *apperr.AmbiguousContextError
	if !errors.As(err, &amb) {
		t.Errorf("err = %v, want AmbiguousContextError", err)
	}
}

func TestVersion(t *testing.T) {
	text := testutil.TestText(t, t.TempDir(), "text_story", "story", "hello")
	testutil.TestSnapshotDir(t, text, "draft-2")
	testutil.TestSnapshotDir(t, text, "draft-10")
	testutil.TestSnapshotDir(t, text, "v1.0")

	src, err := Version(text, ".")
	if err != nil {
		t.Fatalf("Version(.): %v", err)
	}
	if src.Dir != text || src.Label != WorktreeLabel || src.Snapshot {
		t.Errorf("worktree source = %+v", src)
	}

	src, err = Version(text, "draft")
	if err != nil {
		t.Fatalf("Version(draft): %v", err)
	}
	if src.Label != "draft-10" || !src.Snapshot {
		t.Errorf("stage shorthand = %+v, want draft-10", src)
	}
	if src.Dir != filepath.Join(text, ".snapshot", "draft-10") {
		t.Errorf("dir = %s", src.Dir)
	}

	src, err = Version(text, "v1.0")
	if err != nil || src.Label != "v1.0" {
		t.Errorf("custom label = %+v, %v", src, err)
	}

	var snf *apperr.SnapshotNotFoundError
	if _, err := Version(text, "draft-3"); !errors.As(err, &snf) {
		t.Errorf("missing label: err = %v", err)
	}
	if _, err := Version(text, "rc"); !errors.As(err, &snf) {
		t.Errorf("stage with no snapshots: err = %v", err)
	}
	if _, err := Version(text, "../escape"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("invalid ref: err = %v", err)
	}
}

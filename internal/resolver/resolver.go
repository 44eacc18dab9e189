// Package resolver maps the working directory and up to two positional
// arguments onto a text directory and a version selector.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/mcodex/internal/apperr"
	"github.com/starford/mcodex/internal/metadata"
	"github.com/starford/mcodex/internal/models"
	"github.com/starford/mcodex/internal/repoconfig"
	"github.com/starford/mcodex/internal/snapshot"
	"github.com/starford/mcodex/internal/stage"
	"github.com/starford/mcodex/internal/storage"
)

// Worktree selects the live text directory instead of a snapshot.
const Worktree = "."

// WorktreeLabel is the version label reported for worktree builds.
const WorktreeLabel = "worktree"

// Context classifies where a command was started.
type Context int

const (
	OutsideRepo Context = iota
	InRepo
	InText
)

func (c Context) String() string {
	switch c {
	case InText:
		return "text"
	case InRepo:
		return "repository"
	default:
		return "outside"
	}
}

// Target is a resolved text directory plus an unresolved version reference.
type Target struct {
	TextDir string
	Ref     string
}

// Resolver resolves arguments relative to a working directory.
type Resolver struct {
	wd string
}

// New returns a resolver for the working directory wd.
func New(wd string) (*Resolver, error) {
	abs, err := filepath.Abs(wd)
	if err != nil {
		return nil, fmt.Errorf("resolver: resolve %s: %w", wd, err)
	}
	return &Resolver{wd: abs}, nil
}

// Context reports whether the working directory is a text directory, lies
// inside a repository, or neither.
func (r *Resolver) Context() Context {
	if metadata.Exists(r.wd) {
		return InText
	}
	if repoconfig.IsUnderRepo(r.wd) {
		return InRepo
	}
	return OutsideRepo
}

// Build resolves the arguments of a build or snapshot-targeting command.
func (r *Resolver) Build(args ...string) (Target, error) {
	if len(args) > 2 {
		return Target{}, apperr.Validation("expected at most two arguments (text, ref), got %d", len(args))
	}
	ctx := r.Context()
	switch {
	case ctx == InText && len(args) == 0:
		return Target{TextDir: r.wd, Ref: Worktree}, nil
	case ctx == InText && len(args) == 1:
		return Target{TextDir: r.wd, Ref: normalizeRef(args[0])}, nil
	case len(args) == 2:
		dir, err := r.Text(args[0])
		if err != nil {
			return Target{}, err
		}
		return Target{TextDir: dir, Ref: normalizeRef(args[1])}, nil
	case ctx == InRepo && len(args) == 1:
		dir, err := r.Text(args[0])
		if err != nil {
			return Target{}, err
		}
		return Target{TextDir: dir, Ref: Worktree}, nil
	case ctx == InRepo:
		return Target{}, &apperr.AmbiguousContextError{Reason: "inside a repository, name the text to build"}
	case len(args) == 1 && r.isPathToText(args[0]):
		dir, err := r.Text(args[0])
		if err != nil {
			return Target{}, err
		}
		return Target{TextDir: dir, Ref: Worktree}, nil
	case len(args) == 1 && looksLikeRef(args[0]):
		return Target{}, &apperr.AmbiguousContextError{
			Reason: fmt.Sprintf("%q looks like a version, but outside a repository the text must be given as a path", args[0]),
		}
	case len(args) == 1:
		return Target{}, &apperr.TextNotFoundError{
			Path:   r.abs(args[0]),
			Reason: "outside a repository the text must be a path to a directory with " + models.MetadataFile,
		}
	default:
		return Target{}, &apperr.AmbiguousContextError{
			Reason: "not inside a text directory or repository; pass the path of a text directory",
		}
	}
}

// Text resolves an optional text argument. An empty argument means the
// working directory, which must then be a text directory.
func (r *Resolver) Text(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		if metadata.Exists(r.wd) {
			return r.wd, nil
		}
		return "", &apperr.AmbiguousContextError{
			Reason: "no " + models.MetadataFile + " in the current directory; run inside a text directory or name the text",
		}
	}
	if r.isPathToText(arg) {
		return r.abs(arg), nil
	}

	root, err := repoconfig.FindRoot(r.wd)
	if err != nil {
		if repoconfig.IsNotFound(err) {
			return "", &apperr.TextNotFoundError{
				Path:   r.abs(arg),
				Reason: "outside a repository the text must be a path to a directory with " + models.MetadataFile,
			}
		}
		return "", err
	}
	repo, err := repoconfig.Load(root)
	if err != nil {
		return "", err
	}
	return bySlug(repo, arg)
}

// bySlug looks for a text in the repository root: first by directory name
// (with and without the text prefix), then by the slug in each metadata record.
func bySlug(repo *repoconfig.Repo, slug string) (string, error) {
	root := repo.Root()
	prefixed := filepath.Join(root, repo.TextPrefix()+slug)
	for _, dir := range []string{prefixed, filepath.Join(root, slug)} {
		if metadata.Exists(dir) {
			return dir, nil
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("resolver: list %s: %w", root, err)
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if !metadata.Exists(dir) {
			continue
		}
		meta, err := metadata.Peek(dir)
		if err != nil {
			continue
		}
		if meta.Slug == slug {
			return dir, nil
		}
	}
	return "", &apperr.TextNotFoundError{Path: prefixed, Reason: "no text with slug " + slug}
}

func (r *Resolver) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(r.wd, p)
}

func (r *Resolver) isPathToText(p string) bool {
	return metadata.Exists(r.abs(p))
}

func normalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Worktree
	}
	return ref
}

func looksLikeRef(arg string) bool {
	if arg == Worktree || stage.IsStage(arg) {
		return true
	}
	_, ok := stage.ParseStageLabel(arg)
	return ok
}

// Source is a concrete build source.
type Source struct {
	Dir      string
	Label    string
	Snapshot bool
}

// Version turns ref into a concrete source. The worktree sentinel selects
// textDir itself; an existing snapshot label selects that snapshot; a bare
// stage name selects the highest-numbered snapshot of that stage.
func Version(textDir, ref string) (Source, error) {
	ref = normalizeRef(ref)
	if ref == Worktree {
		return Source{Dir: textDir, Label: WorktreeLabel}, nil
	}

	label, err := stage.ParseLabel(ref)
	if err != nil {
		return Source{}, err
	}
	snapshotDir := filepath.Join(textDir, models.SnapshotDir, label.Raw)
	if info, err := os.Stat(snapshotDir); err == nil && info.IsDir() {
		return Source{Dir: snapshotDir, Label: label.Raw, Snapshot: true}, nil
	}

	if stage.IsStage(label.Raw) {
		store, err := storage.NewFS(textDir)
		if err != nil {
			return Source{}, &apperr.TextNotFoundError{Path: textDir, Reason: "directory does not exist"}
		}
		latest, ok, err := snapshot.NewCatalog(store).Latest(label.Raw)
		if err != nil {
			return Source{}, err
		}
		if ok {
			return Source{
				Dir:      filepath.Join(textDir, models.SnapshotDir, latest.Raw),
				Label:    latest.Raw,
				Snapshot: true,
			}, nil
		}
	}
	return Source{}, &apperr.SnapshotNotFoundError{TextDir: textDir, Ref: ref}
}

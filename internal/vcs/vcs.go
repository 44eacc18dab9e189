// Package vcs commits and tags snapshots in the enclosing git repository.
package vcs

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/starford/mcodex/internal/apperr"
)

// ErrNotRepository is returned by FindRoot outside a git working tree.
var ErrNotRepository = fmt.Errorf("%w: not inside a git repository", apperr.ErrNotFound)

// Fallback identity used when git config names no user.
const (
	FallbackName  = "mcodex"
	FallbackEmail = "mcodex@localhost"
)

// Adapter is the version-control surface the snapshot manager needs.
type Adapter interface {
	FindRoot(path string) (string, error)
	Commit(root string, paths []string, message string) error
	Tag(root, name string) error
}

// Git implements Adapter with go-git, so no git binary is required.
type Git struct {
	logger *slog.Logger
	now    func() time.Time
}

var _ Adapter = (*Git)(nil)

// New creates a git adapter.
func New(logger *slog.Logger) *Git {
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{logger: logger, now: time.Now}
}

// FindRoot returns the working tree root containing path.
func (g *Git) FindRoot(path string) (string, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", ErrNotRepository
		}
		return "", fmt.Errorf("vcs: open %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		if errors.Is(err, git.ErrIsBareRepository) {
			return "", ErrNotRepository
		}
		return "", fmt.Errorf("vcs: worktree: %w", err)
	}
	return wt.Filesystem.Root(), nil
}

// Commit stages paths and records a commit with message.
func (g *Git) Commit(root string, paths []string, message string) error {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return &apperr.VersionControlOperationError{Operation: "add", Err: err}
	}
	wt, err := repo.Worktree()
	if err != nil {
		return &apperr.VersionControlOperationError{Operation: "add", Err: err}
	}

	for _, p := range paths {
		rel, err := relativeTo(wt.Filesystem.Root(), p)
		if err != nil {
			return &apperr.VersionControlOperationError{Operation: "add", Err: err}
		}
		if _, err := wt.Add(rel); err != nil {
			return &apperr.VersionControlOperationError{Operation: "add", Err: fmt.Errorf("%s: %w", rel, err)}
		}
	}

	sig := g.signature(repo)
	hash, err := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return &apperr.VersionControlOperationError{Operation: "commit", Err: err}
	}
	g.logger.Debug("committed", slog.String("hash", hash.String()), slog.String("root", root))
	return nil
}

// Tag creates a lightweight tag at HEAD.
func (g *Git) Tag(root, name string) error {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return &apperr.VersionControlOperationError{Operation: "tag", Err: err}
	}
	head, err := repo.Head()
	if err != nil {
		return &apperr.VersionControlOperationError{Operation: "tag", Err: err}
	}
	if _, err := repo.CreateTag(name, head.Hash(), nil); err != nil {
		return &apperr.VersionControlOperationError{Operation: "tag", Err: fmt.Errorf("%s: %w", name, err)}
	}
	g.logger.Debug("tagged", slog.String("tag", name), slog.String("hash", head.Hash().String()))
	return nil
}

func (g *Git) signature(repo *git.Repository) *object.Signature {
	sig := &object.Signature{Name: FallbackName, Email: FallbackEmail, When: g.now()}
	cfg, err := repo.ConfigScoped(config.GlobalScope)
	if err != nil {
		g.logger.Debug("git config unavailable", slog.String("error", err.Error()))
		return sig
	}
	if name := strings.TrimSpace(cfg.User.Name); name != "" {
		sig.Name = name
	}
	if email := strings.TrimSpace(cfg.User.Email); email != "" {
		sig.Email = email
	}
	return sig
}

func relativeTo(root, path string) (string, error) {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path)), nil
	}
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}
	if p, err := filepath.EvalSymlinks(path); err == nil {
		path = p
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the working tree %s", path, root)
	}
	return filepath.ToSlash(rel), nil
}

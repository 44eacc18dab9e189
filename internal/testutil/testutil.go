// Package testutil provides shared test helpers for setting up repositories,
// text directories and history databases.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/starford/mcodex/internal/history"
	"github.com/starford/mcodex/internal/metadata"
	"github.com/starford/mcodex/internal/models"
	"github.com/starford/mcodex/internal/repoconfig"
)

// TestDB creates a temporary history database that is automatically cleaned up.
func TestDB(t *testing.T) *history.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "mcodex-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := history.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRepo initialises a repository with the default configuration and
// returns its root.
func TestRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if _, err := repoconfig.Init(root, false); err != nil {
		t.Fatalf("init repo: %v", err)
	}
	return root
}

// TestText creates parent/dirName as a text directory with slug and body.
func TestText(t *testing.T, parent, dirName, slug, body string) string {
	t.Helper()
	dir := filepath.Join(parent, dirName)
	if err := os.MkdirAll(filepath.Join(dir, models.SnapshotDir), 0o755); err != nil {
		t.Fatalf("mkdir text: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, models.SnapshotDir, ".gitkeep"), nil, 0o644); err != nil {
		t.Fatalf("write .gitkeep: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, models.TextFile), []byte(body), 0o644); err != nil {
		t.Fatalf("write text: %v", err)
	}
	meta := &models.TextMetadata{
		MetadataVersion: models.LatestMetadataVersion,
		ID:              "test-" + slug,
		Title:           slug,
		Slug:            slug,
		CreatedAt:       "2026-01-03T10:00:00+01:00",
		Authors: []models.Author{
			{Nickname: "jdoe", FirstName: "Jane", LastName: "Doe", Email: "jane@example.com"},
		},
	}
	if err := metadata.Write(dir, meta); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	return dir
}

// TestSnapshotDir creates an empty snapshot directory named label.
func TestSnapshotDir(t *testing.T, textDir, label string) string {
	t.Helper()
	dir := filepath.Join(textDir, models.SnapshotDir, label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir snapshot: %v", err)
	}
	return dir
}

// TestGit turns dir into a git working tree with one commit.
func TestGit(t *testing.T, dir string) *git.Repository {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("git init: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".keep"), nil, 0o644); err != nil {
		t.Fatalf("write .keep: %v", err)
	}
	if _, err := wt.Add(".keep"); err != nil {
		t.Fatalf("add: %v", err)
	}
	sig := &object.Signature{Name: "tester", Email: "t@example.com", When: time.Now()}
	if _, err := wt.Commit("initial", &git.CommitOptions{Author: sig}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return repo
}

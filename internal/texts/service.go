// Package texts creates text directories and edits their author lists.
package texts

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/mcodex/internal/apperr"
	"github.com/starford/mcodex/internal/metadata"
	"github.com/starford/mcodex/internal/models"
	"github.com/starford/mcodex/internal/repoconfig"
	"github.com/starford/mcodex/internal/storage"
	"github.com/starford/mcodex/internal/templates"
)

// Files copied from the repository's text templates into every new text.
var templateFiles = []string{"todo.md", "checklist.md"}

// Service creates texts and manages their authors.
type Service struct {
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides text id generation.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// NewService creates a text service.
func NewService(opts ...Option) *Service {
	s := &Service{
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest describes a new text.
type CreateRequest struct {
	Title   string
	Root    string
	Authors []string
}

// Created is the result of Create.
type Created struct {
	Dir      string
	Metadata *models.TextMetadata
}

// Create makes <root>/<text_prefix><slug> with an empty source, the todo and
// checklist templates, an empty snapshot folder and a fresh metadata record.
func (s *Service) Create(req CreateRequest) (*Created, error) {
	root, err := filepath.Abs(req.Root)
	if err != nil {
		return nil, fmt.Errorf("texts: resolve %s: %w", req.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: root directory does not exist: %s", apperr.ErrNotFound, root)
	}
	if !info.IsDir() {
		return nil, apperr.Validation("root path is not a directory: %s", root)
	}

	repo, err := repoconfig.Open(root)
	if err != nil {
		return nil, err
	}

	slug, err := Slugify(req.Title)
	if err != nil {
		return nil, err
	}
	target := filepath.Join(root, repo.TextPrefix()+slug)
	if _, err := os.Stat(target); err == nil {
		return nil, fmt.Errorf("%w: target directory already exists: %s", apperr.ErrAlreadyExists, target)
	}

	authors, err := resolveAuthors(repo, req.Authors)
	if err != nil {
		return nil, err
	}

	tplDir := filepath.Join(repo.TemplatesDir(), templates.TextDir)
	for _, name := range templateFiles {
		if _, err := os.Stat(filepath.Join(tplDir, name)); err != nil {
			return nil, apperr.Configuration("missing text templates under %s; run `mcodex init` first", tplDir)
		}
	}

	if err := os.Mkdir(target, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: target directory already exists: %s", apperr.ErrAlreadyExists, target)
		}
		return nil, fmt.Errorf("texts: create %s: %w", target, err)
	}

	meta := &models.TextMetadata{
		MetadataVersion: models.LatestMetadataVersion,
		ID:              s.newID(),
		Title:           req.Title,
		Slug:            slug,
		CreatedAt:       models.Timestamp(s.now()),
		Authors:         authors,
	}
	if err := populate(target, tplDir, meta); err != nil {
		_ = os.RemoveAll(target)
		return nil, err
	}

	s.logger.Info("text created", slog.String("path", target), slog.String("slug", slug))
	return &Created{Dir: target, Metadata: meta}, nil
}

func populate(target, tplDir string, meta *models.TextMetadata) error {
	if err := storage.WriteFile(filepath.Join(target, models.TextFile), nil); err != nil {
		return fmt.Errorf("texts: write source: %w", err)
	}
	for _, name := range templateFiles {
		if err := storage.CopyFile(filepath.Join(tplDir, name), filepath.Join(target, name), 0o644); err != nil {
			return fmt.Errorf("texts: copy %s: %w", name, err)
		}
	}
	if err := storage.WriteFile(filepath.Join(target, models.SnapshotDir, ".gitkeep"), nil); err != nil {
		return fmt.Errorf("texts: create snapshot folder: %w", err)
	}
	return metadata.Write(target, meta)
}

// resolveAuthors deduplicates nicknames and looks each up in the registry.
func resolveAuthors(repo *repoconfig.Repo, nicknames []string) ([]models.Author, error) {
	registry := repo.Authors()
	seen := make(map[string]struct{}, len(nicknames))
	var unique, missing []string
	for _, n := range nicknames {
		nick := strings.TrimSpace(n)
		if nick == "" {
			continue
		}
		if _, dup := seen[nick]; dup {
			continue
		}
		seen[nick] = struct{}{}
		unique = append(unique, nick)
		if _, ok := registry[nick]; !ok {
			missing = append(missing, nick)
		}
	}
	if len(unique) == 0 {
		return nil, apperr.Validation("at least one --author=<nickname> is required")
	}
	if len(missing) > 0 {
		return nil, apperr.Validation("unknown author nickname(s): %s", strings.Join(missing, ", "))
	}
	out := make([]models.Author, len(unique))
	for i, nick := range unique {
		out[i] = registry[nick]
	}
	return out, nil
}

// AddAuthor copies a registry entry into the text's metadata. It reports
// false when the author was already listed.
func (s *Service) AddAuthor(textDir, nickname string) (bool, error) {
	nickname = strings.TrimSpace(nickname)
	repo, err := repoconfig.Open(textDir)
	if err != nil {
		return false, err
	}
	author, ok := repo.Authors()[nickname]
	if !ok {
		return false, apperr.Validation("unknown author nickname: %s", nickname)
	}

	meta, err := metadata.Load(textDir)
	if err != nil {
		return false, err
	}
	if meta.HasAuthor(nickname) {
		return false, nil
	}
	meta.Authors = append(meta.Authors, author)
	if err := metadata.Write(textDir, meta); err != nil {
		return false, err
	}
	s.logger.Info("text author added", slog.String("path", textDir), slog.String("nickname", nickname))
	return true, nil
}

// RemoveAuthor drops nickname from the text's metadata. It reports false
// when the author was not listed.
func (s *Service) RemoveAuthor(textDir, nickname string) (bool, error) {
	nickname = strings.TrimSpace(nickname)
	meta, err := metadata.Load(textDir)
	if err != nil {
		return false, err
	}
	if !meta.HasAuthor(nickname) {
		return false, nil
	}
	kept := make([]models.Author, 0, len(meta.Authors))
	for _, a := range meta.Authors {
		if a.Nickname != nickname {
			kept = append(kept, a)
		}
	}
	meta.Authors = kept
	if err := metadata.Write(textDir, meta); err != nil {
		return false, err
	}
	s.logger.Info("text author removed", slog.String("path", textDir), slog.String("nickname", nickname))
	return true, nil
}

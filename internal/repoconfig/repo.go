package repoconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/mcodex/internal/apperr"
	"github.com/starford/mcodex/internal/models"
	"github.com/starford/mcodex/internal/pipeline"
	"github.com/starford/mcodex/pkg/config"
)

// Repo is a loaded repository configuration.
type Repo struct {
	root string
	cfg  *Config
}

// FindRoot walks upward from start to the first directory holding
// .mcodex/config.yaml.
func FindRoot(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("repoconfig: resolve %s: %w", start, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		abs = filepath.Dir(abs)
	}
	for dir := abs; ; {
		if Exists(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", &apperr.RepoConfigNotFoundError{Start: start}
		}
		dir = parent
	}
}

// Open finds the repository above start and loads it.
func Open(start string) (*Repo, error) {
	root, err := FindRoot(start)
	if err != nil {
		return nil, err
	}
	return Load(root)
}

// Load reads the configuration of the repository at root.
func Load(root string) (*Repo, error) {
	cfg := &Config{}
	if err := config.Load(ConfigPath(root), cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrConfiguration, err)
	}
	return &Repo{root: root, cfg: cfg}, nil
}

// Root returns the repository root directory.
func (r *Repo) Root() string { return r.root }

// Config returns the loaded configuration.
func (r *Repo) Config() *Config { return r.cfg }

// TemplatesDir returns the repository template override root.
func (r *Repo) TemplatesDir() string {
	return filepath.Join(r.root, Dir, TemplatesDir)
}

// Save writes the configuration back to disk.
func (r *Repo) Save() error {
	if err := config.Save(ConfigPath(r.root), r.cfg); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrConfiguration, err)
	}
	return nil
}

// ArtifactsDir returns the artifacts directory name.
func (r *Repo) ArtifactsDir() string {
	v := strings.Trim(strings.TrimSpace(r.cfg.ArtifactsDir), "/")
	if v == "" {
		return DefaultArtifactsDir
	}
	return v
}

// ArtifactsPath returns the absolute artifacts directory.
func (r *Repo) ArtifactsPath() string {
	return filepath.Join(r.root, r.ArtifactsDir())
}

// TextPrefix returns the directory prefix of new texts.
func (r *Repo) TextPrefix() string {
	v := strings.TrimSpace(r.cfg.TextPrefix)
	if v == "" {
		return DefaultTextPrefix
	}
	return v
}

// SnapshotCommitTemplate returns the snapshot commit message template.
func (r *Repo) SnapshotCommitTemplate() string {
	v := strings.TrimSpace(r.cfg.Git.CommitTemplates.Snapshot)
	if v == "" {
		return DefaultSnapshotTemplate
	}
	return v
}

// TagNamespace returns the first component of snapshot tags.
func (r *Repo) TagNamespace() string {
	v := strings.Trim(strings.TrimSpace(r.cfg.Git.TagNamespace), "/")
	if v == "" {
		return DefaultTagNamespace
	}
	return v
}

// PipelineSpecs returns the configured pipelines.
func (r *Repo) PipelineSpecs() map[string]pipeline.Spec {
	return r.cfg.Pipelines
}

// Pipeline validates the configured pipelines and returns the named one.
func (r *Repo) Pipeline(name string) (pipeline.Definition, error) {
	return Lookup(r.cfg.Pipelines, name)
}

// Lookup validates specs and returns the named definition.
func Lookup(specs map[string]pipeline.Spec, name string) (pipeline.Definition, error) {
	defs, err := pipeline.Validate(specs)
	if err != nil {
		return pipeline.Definition{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return pipeline.Definition{}, &apperr.PipelineConfigError{Step: -1, Reason: "pipeline name cannot be empty"}
	}
	def, ok := defs[name]
	if !ok {
		return pipeline.Definition{}, &apperr.PipelineNotFoundError{Requested: name, Available: pipeline.Names(specs)}
	}
	return def, nil
}

// Authors returns the registry keyed by nickname.
func (r *Repo) Authors() map[string]models.Author {
	out := make(map[string]models.Author, len(r.cfg.Authors))
	for _, a := range r.cfg.Authors {
		out[a.Nickname] = a
	}
	return out
}

// AuthorList returns the registry sorted by nickname.
func (r *Repo) AuthorList() []models.Author {
	out := append([]models.Author(nil), r.cfg.Authors...)
	sort.Slice(out, func(i, j int) bool { return out[i].Nickname < out[j].Nickname })
	return out
}

// AddAuthor registers a new author and saves the configuration.
func (r *Repo) AddAuthor(a models.Author) error {
	a.Nickname = strings.TrimSpace(a.Nickname)
	a.FirstName = strings.TrimSpace(a.FirstName)
	a.LastName = strings.TrimSpace(a.LastName)
	a.Email = strings.TrimSpace(a.Email)
	if err := ValidateAuthor(&a); err != nil {
		return fmt.Errorf("%w: author: %v", apperr.ErrValidation, err)
	}
	if _, ok := r.Authors()[a.Nickname]; ok {
		return fmt.Errorf("%w: author nickname already exists: %s", apperr.ErrAlreadyExists, a.Nickname)
	}
	r.cfg.Authors = append(r.cfg.Authors, a)
	return r.Save()
}

// RemoveAuthor drops an author from the registry and saves the configuration.
func (r *Repo) RemoveAuthor(nickname string) error {
	nickname = strings.TrimSpace(nickname)
	if !nicknameRe.MatchString(nickname) {
		return apperr.Validation("nickname must match [a-zA-Z0-9_]+")
	}
	kept := r.cfg.Authors[:0:0]
	for _, a := range r.cfg.Authors {
		if a.Nickname != nickname {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(r.cfg.Authors) {
		return fmt.Errorf("%w: author nickname not found: %s", apperr.ErrNotFound, nickname)
	}
	r.cfg.Authors = kept
	return r.Save()
}

// IsUnderRepo reports whether start lies inside a repository.
func IsUnderRepo(start string) bool {
	_, err := FindRoot(start)
	return err == nil
}

// IsNotFound reports whether err means no repository anchor was found.
func IsNotFound(err error) bool {
	var nf *apperr.RepoConfigNotFoundError
	return errors.As(err, &nf)
}

// Package repoconfig reads and writes the repository configuration anchored
// at .mcodex/config.yaml.
package repoconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mcodex/internal/models"
	"github.com/starford/mcodex/internal/pipeline"
)

// Layout of the repository anchor.
const (
	Dir          = ".mcodex"
	ConfigFile   = "config.yaml"
	TemplatesDir = "templates"
)

// Defaults.
const (
	DefaultArtifactsDir     = "artifacts"
	DefaultTextPrefix       = "text_"
	DefaultSnapshotTemplate = "Snapshot: {slug} / {label} — {note}"
	DefaultTagNamespace     = "mcodex"
)

var nicknameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Config is the typed repository configuration.
type Config struct {
	ArtifactsDir string                   `yaml:"artifacts_dir,omitempty"`
	TextPrefix   string                   `yaml:"text_prefix,omitempty"`
	Git          GitConfig                `yaml:"git,omitempty"`
	Authors      []models.Author          `yaml:"authors,omitempty"`
	Pipelines    map[string]pipeline.Spec `yaml:"pipelines,omitempty"`
	Extra        map[string]any           `yaml:",inline"`
}

// GitConfig holds version-control settings.
type GitConfig struct {
	CommitTemplates CommitTemplates `yaml:"commit_templates,omitempty"`
	TagNamespace    string          `yaml:"tag_namespace,omitempty"`
}

// CommitTemplates holds commit message templates per operation.
type CommitTemplates struct {
	Snapshot string `yaml:"snapshot,omitempty"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ArtifactsDir, validation.By(singleSegment)),
		validation.Field(&c.TextPrefix, validation.By(singleSegment)),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.Git,
		validation.Field(&c.Git.TagNamespace, validation.By(tagNamespace)),
	); err != nil {
		return fmt.Errorf("git: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Authors))
	for i := range c.Authors {
		if err := ValidateAuthor(&c.Authors[i]); err != nil {
			return fmt.Errorf("authors[%d]: %w", i, err)
		}
		if _, dup := seen[c.Authors[i].Nickname]; dup {
			return fmt.Errorf("authors[%d]: duplicate nickname %q", i, c.Authors[i].Nickname)
		}
		seen[c.Authors[i].Nickname] = struct{}{}
	}
	return nil
}

// ValidateAuthor checks the registry constraints of one author.
func ValidateAuthor(a *models.Author) error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Nickname, validation.Required, validation.Match(nicknameRe).Error("must match [a-zA-Z0-9_]+")),
		validation.Field(&a.FirstName, validation.Required),
		validation.Field(&a.LastName, validation.Required),
		validation.Field(&a.Email, validation.Required, validation.By(looksLikeEmail)),
	)
}

func singleSegment(value any) error {
	s, _ := value.(string)
	s = strings.Trim(strings.TrimSpace(s), "/")
	if strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
		return errors.New("must be a single directory name (no slashes)")
	}
	return nil
}

func tagNamespace(value any) error {
	s, _ := value.(string)
	if strings.ContainsAny(s, " ~^:?*[\\") || strings.Contains(s, "..") {
		return errors.New("is not a valid git ref component")
	}
	return nil
}

func looksLikeEmail(value any) error {
	s, _ := value.(string)
	if !strings.Contains(s, "@") {
		return errors.New("must look like an email address")
	}
	return nil
}

// NewDefaultConfig returns the configuration written by init.
func NewDefaultConfig() *Config {
	return &Config{
		ArtifactsDir: DefaultArtifactsDir,
		TextPrefix:   DefaultTextPrefix,
		Git: GitConfig{
			CommitTemplates: CommitTemplates{Snapshot: DefaultSnapshotTemplate},
			TagNamespace:    DefaultTagNamespace,
		},
		Pipelines: pipeline.Defaults(),
	}
}

// ConfigPath returns the anchor file of a repository root.
func ConfigPath(root string) string {
	return filepath.Join(root, Dir, ConfigFile)
}

// Exists reports whether root carries a repository anchor.
func Exists(root string) bool {
	info, err := os.Stat(ConfigPath(root))
	return err == nil && info.Mode().IsRegular()
}

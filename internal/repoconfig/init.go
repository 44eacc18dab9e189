package repoconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/mcodex/internal/apperr"
	"github.com/starford/mcodex/internal/storage"
	"github.com/starford/mcodex/internal/templates"
	"github.com/starford/mcodex/pkg/config"
)

// InitResult describes what Init changed.
type InitResult struct {
	Root            string
	ConfigCreated   bool
	TemplatesCopied []string
	GitignoreEdited bool
}

// Init creates the repository anchor at root: a default configuration when
// none exists, the packaged templates and an artifacts/ ignore rule.
// Existing template files are kept unless force is set.
func Init(root string, force bool) (*InitResult, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("repoconfig: resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: repository root does not exist: %s", apperr.ErrNotFound, abs)
	}
	if !info.IsDir() {
		return nil, apperr.Validation("repository root is not a directory: %s", abs)
	}

	res := &InitResult{Root: abs}

	if !Exists(abs) {
		if err := config.Save(ConfigPath(abs), NewDefaultConfig()); err != nil {
			return nil, fmt.Errorf("repoconfig: write default config: %w", err)
		}
		res.ConfigCreated = true
	}

	dst := filepath.Join(abs, Dir, TemplatesDir)
	written, err := templates.CopyTree(templates.FS(), ".", dst, force)
	if err != nil {
		return nil, err
	}
	res.TemplatesCopied = written

	edited, err := ensureLine(filepath.Join(abs, ".gitignore"), DefaultArtifactsDir+"/")
	if err != nil {
		return nil, err
	}
	res.GitignoreEdited = edited
	return res, nil
}

func ensureLine(path, line string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("repoconfig: read %s: %w", path, err)
	}
	content := string(data)
	for _, l := range strings.Split(content, "\n") {
		if strings.TrimRight(l, "\r") == line {
			return false, nil
		}
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += line + "\n"
	if err := storage.WriteFile(path, []byte(content)); err != nil {
		return false, fmt.Errorf("repoconfig: update %s: %w", path, err)
	}
	return true, nil
}

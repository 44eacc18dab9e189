// Package templates carries the packaged default templates: the LaTeX tree
// used by latexmk steps, pandoc override notes and the files copied into
// every new text.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed all:files
var files embed.FS

// Subdirectories of a template root.
const (
	LatexDir  = "latex"
	PandocDir = "pandoc"
	TextDir   = "text"
)

// FS returns the packaged template tree rooted at its top directory.
func FS() fs.FS {
	sub, err := fs.Sub(files, "files")
	if err != nil {
		panic(fmt.Sprintf("templates: embedded tree: %v", err))
	}
	return sub
}

// CopyTree writes every file under dir of src into dst. Existing files are
// left alone unless overwrite is set. It returns the relative paths written.
func CopyTree(src fs.FS, dir, dst string, overwrite bool) ([]string, error) {
	var written []string
	err := fs.WalkDir(src, dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(filepath.FromSlash(dir), filepath.FromSlash(p))
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !overwrite {
			if _, err := os.Stat(target); err == nil {
				return nil
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}
		data, err := fs.ReadFile(src, p)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return err
		}
		written = append(written, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return written, fmt.Errorf("templates: copy %s: %w", dir, err)
	}
	return written, nil
}

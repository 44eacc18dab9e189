package pipeline

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// TemplateSource is one tier of template lookup. Dir is the on-disk root of
// FS, or empty for trees that only exist in memory.
type TemplateSource struct {
	Name string
	FS   fs.FS
	Dir  string
}

// TemplateChain is consulted in order; the first tier holding a file wins.
type TemplateChain []TemplateSource

// DirSource returns an on-disk tier rooted at dir.
func DirSource(name, dir string) TemplateSource {
	return TemplateSource{Name: name, FS: os.DirFS(dir), Dir: dir}
}

// File returns the on-disk path of rel in the first tier that has it.
// In-memory tiers are skipped since external tools need a real path.
func (c TemplateChain) File(rel string) (string, bool) {
	for _, src := range c {
		if src.Dir == "" || src.FS == nil {
			continue
		}
		info, err := fs.Stat(src.FS, rel)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return filepath.Join(src.Dir, filepath.FromSlash(rel)), true
	}
	return "", false
}

// Tree returns the first tier whose dir contains the file want.
func (c TemplateChain) Tree(dir, want string) (TemplateSource, bool) {
	for _, src := range c {
		if src.FS == nil {
			continue
		}
		if _, err := fs.Stat(src.FS, path.Join(dir, want)); err == nil {
			return src, true
		}
	}
	return TemplateSource{}, false
}

// Package storage defines the text-directory file-system abstraction.
package storage

// Provider is the interface for file operations under one root directory.
// All paths are relative to the root.
type Provider interface {
	// Root returns the absolute root directory.
	Root() string
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Exists reports whether path exists.
	Exists(path string) bool
	// ListDirs returns the names of the immediate subdirectories of dir.
	ListDirs(dir string) ([]string, error)
	// CopyTree copies the whole root into dst, which must not exist yet.
	// Entries whose base name is in exclude are skipped at any depth.
	CopyTree(dst string, exclude []string) error
}

// Package metadata loads, upgrades and writes the metadata.yaml record of a
// text directory.
package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/starford/mcodex/internal/apperr"
	"github.com/starford/mcodex/internal/models"
	"github.com/starford/mcodex/internal/storage"
)

// Path returns the metadata file location inside textDir.
func Path(textDir string) string {
	return filepath.Join(textDir, models.MetadataFile)
}

// Exists reports whether dir holds a metadata record.
func Exists(dir string) bool {
	info, err := os.Stat(Path(dir))
	return err == nil && info.Mode().IsRegular()
}

// Load reads the record of textDir, upgrading and persisting it when it
// predates the latest schema version.
func Load(textDir string) (*models.TextMetadata, error) {
	path := Path(textDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &apperr.TextNotFoundError{Path: textDir, Reason: "missing " + models.MetadataFile}
		}
		return nil, fmt.Errorf("metadata: read %s: %w", path, err)
	}

	meta, changed, err := Decode(data)
	if err != nil {
		return nil, &apperr.InvalidMetadataError{Path: path, Reason: err.Error()}
	}
	if changed {
		if err := Write(textDir, meta); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

// Peek reads the record of dir without persisting an upgrade. Snapshot
// directories are read this way so they stay untouched.
func Peek(dir string) (*models.TextMetadata, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &apperr.TextNotFoundError{Path: dir, Reason: "missing " + models.MetadataFile}
		}
		return nil, fmt.Errorf("metadata: read %s: %w", path, err)
	}
	meta, _, err := Decode(data)
	if err != nil {
		return nil, &apperr.InvalidMetadataError{Path: path, Reason: err.Error()}
	}
	return meta, nil
}

// Decode parses a record and upgrades it in memory. changed reports whether
// the upgrade altered anything that has to be persisted.
func Decode(data []byte) (*models.TextMetadata, bool, error) {
	var probe struct {
		Version *int `yaml:"metadata_version"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, false, fmt.Errorf("parse: %w", err)
	}

	var meta models.TextMetadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, false, fmt.Errorf("parse: %w", err)
	}

	changed := false
	if probe.Version == nil {
		upgradeV0(&meta)
		changed = true
	}
	if meta.MetadataVersion != models.LatestMetadataVersion {
		return nil, false, fmt.Errorf("unsupported metadata_version %d (latest is %d)",
			meta.MetadataVersion, models.LatestMetadataVersion)
	}
	return &meta, changed, nil
}

func upgradeV0(meta *models.TextMetadata) {
	meta.MetadataVersion = 1
	if meta.Authors == nil {
		meta.Authors = []models.Author{}
	}
}

// Encode renders the record in its canonical key order.
func Encode(meta *models.TextMetadata) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
		return nil, fmt.Errorf("metadata: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("metadata: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Write persists meta atomically into textDir.
func Write(textDir string, meta *models.TextMetadata) error {
	if meta.Authors == nil {
		meta.Authors = []models.Author{}
	}
	data, err := Encode(meta)
	if err != nil {
		return err
	}
	if err := storage.WriteFile(Path(textDir), data); err != nil {
		return fmt.Errorf("metadata: write: %w", err)
	}
	return nil
}

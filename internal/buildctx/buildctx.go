// Package buildctx produces the side files handed to pandoc: a metadata
// file with substitution variables and a short header for document targets.
package buildctx

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/mcodex/internal/apperr"
	"github.com/starford/mcodex/internal/metadata"
	"github.com/starford/mcodex/internal/models"
	"github.com/starford/mcodex/internal/storage"
)

// File names written into the scratch workspace.
const (
	ContextFile = "build_context.yaml"
	HeaderFile  = "build_header.md"
)

// Context is the content of build_context.yaml.
type Context struct {
	Title         string         `yaml:"title"`
	Author        []string       `yaml:"author"`
	Build         Build          `yaml:"build"`
	Snapshot      map[string]any `yaml:"snapshot,omitempty"`
	SnapshotLabel string         `yaml:"snapshot_label,omitempty"`
}

// Build describes the running build.
type Build struct {
	Pipeline string `yaml:"pipeline"`
	Version  string `yaml:"version"`
	BuiltAt  string `yaml:"built_at"`
}

// Files are the paths of the written side files.
type Files struct {
	Context string
	Header  string
}

// New assembles the context for sourceDir. When sourceDir is a snapshot its
// snapshot.yaml is merged in under "snapshot". A source without metadata
// gets an empty title and author list.
func New(sourceDir, pipeline, version string, now time.Time) (*Context, error) {
	meta, err := metadata.Peek(sourceDir)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		meta = &models.TextMetadata{}
	case err != nil:
		return nil, err
	}
	ctx := &Context{
		Title:  meta.Title,
		Author: make([]string, 0, len(meta.Authors)),
		Build: Build{
			Pipeline: pipeline,
			Version:  version,
			BuiltAt:  models.Timestamp(now),
		},
	}
	for _, a := range meta.Authors {
		ctx.Author = append(ctx.Author, a.FullName())
	}

	snap, err := readSnapshot(sourceDir)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		ctx.Snapshot = snap
		ctx.SnapshotLabel = version
		if label, ok := snap["label"].(string); ok && label != "" {
			ctx.SnapshotLabel = label
		}
	}
	return ctx, nil
}

func readSnapshot(dir string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(dir, models.SnapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("buildctx: read snapshot record: %w", err)
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("buildctx: parse snapshot record: %w", err)
	}
	return out, nil
}

// Paths returns where Write puts the side files inside dir.
func Paths(dir string) Files {
	return Files{
		Context: filepath.Join(dir, ContextFile),
		Header:  filepath.Join(dir, HeaderFile),
	}
}

// Write renders ctx into dir.
func Write(dir string, ctx *Context) (Files, error) {
	files := Paths(dir)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(ctx); err != nil {
		return Files{}, fmt.Errorf("buildctx: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return Files{}, fmt.Errorf("buildctx: encode: %w", err)
	}
	if err := storage.WriteFile(files.Context, buf.Bytes()); err != nil {
		return Files{}, fmt.Errorf("buildctx: write context: %w", err)
	}
	if err := storage.WriteFile(files.Header, []byte(Header(ctx))); err != nil {
		return Files{}, fmt.Errorf("buildctx: write header: %w", err)
	}
	return files, nil
}

// Header renders the markdown block placed before the document body.
func Header(ctx *Context) string {
	var b strings.Builder
	if len(ctx.Author) > 0 {
		fmt.Fprintf(&b, "*%s*\n\n", strings.Join(ctx.Author, ", "))
	}
	fmt.Fprintf(&b, "Version: %s, built %s\n", ctx.Build.Version, ctx.Build.BuiltAt)
	return b.String()
}

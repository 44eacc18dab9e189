// Package status summarizes a text directory: metadata, stage progression,
// snapshots and statistics of the working text.
package status

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/mcodex/internal/metadata"
	"github.com/starford/mcodex/internal/models"
	"github.com/starford/mcodex/internal/parser"
	"github.com/starford/mcodex/internal/snapshot"
)

// NoStage is reported when no stage-numbered snapshot exists yet.
const NoStage = "none"

// Stages is the part of the snapshot manager a report needs.
type Stages interface {
	List(textDir string) ([]string, error)
	CurrentStage(textDir string) (string, error)
	AvailableStages(textDir string) ([]string, error)
}

var _ Stages = (*snapshot.Manager)(nil)

// Snapshot is one row of the snapshot listing.
type Snapshot struct {
	Label     string `json:"label"`
	CreatedAt string `json:"created_at,omitempty"`
	Note      string `json:"note,omitempty"`
	Tag       string `json:"tag,omitempty"`
}

// Report is the status of one text directory.
type Report struct {
	TextDir         string          `json:"text_dir"`
	Title           string          `json:"title"`
	Slug            string          `json:"slug"`
	Authors         []models.Author `json:"authors"`
	CurrentStage    string          `json:"current_stage"`
	AvailableStages []string        `json:"available_stages"`
	Snapshots       []Snapshot      `json:"snapshots"`
	Heading         string          `json:"heading,omitempty"`
	Words           int             `json:"words"`
	Paragraphs      int             `json:"paragraphs"`
	Images          []string        `json:"images,omitempty"`
	MissingImages   []string        `json:"missing_images,omitempty"`
}

// Collect builds the report for textDir.
func Collect(textDir string, stages Stages) (*Report, error) {
	meta, err := metadata.Load(textDir)
	if err != nil {
		return nil, err
	}
	r := &Report{
		TextDir: textDir,
		Title:   meta.Title,
		Slug:    meta.Slug,
		Authors: meta.Authors,
	}

	current, err := stages.CurrentStage(textDir)
	if err != nil {
		return nil, err
	}
	if current == "" {
		current = NoStage
	}
	r.CurrentStage = current
	if r.AvailableStages, err = stages.AvailableStages(textDir); err != nil {
		return nil, err
	}

	labels, err := stages.List(textDir)
	if err != nil {
		return nil, err
	}
	for _, label := range labels {
		r.Snapshots = append(r.Snapshots, describe(textDir, label))
	}

	if err := r.readText(textDir); err != nil {
		return nil, err
	}
	return r, nil
}

// describe reads the snapshot record. Snapshots without one still list.
func describe(textDir, label string) Snapshot {
	s := Snapshot{Label: label}
	rec, err := snapshot.ReadRecord(filepath.Join(textDir, models.SnapshotDir, label))
	if err != nil {
		return s
	}
	s.CreatedAt = rec.CreatedAt
	s.Note = rec.Note
	if rec.Git != nil {
		s.Tag = rec.Git.Tag
	}
	return s
}

func (r *Report) readText(textDir string) error {
	data, err := os.ReadFile(filepath.Join(textDir, models.TextFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("status: read text: %w", err)
	}
	res, err := parser.Parse(data)
	if err != nil {
		return fmt.Errorf("status: parse text: %w", err)
	}
	if len(res.Headings) > 0 {
		r.Heading = res.Headings[0]
	}
	r.Words = res.Words
	r.Paragraphs = res.Paragraphs
	r.Images = res.Images
	for _, img := range res.Images {
		if isRemote(img) {
			continue
		}
		if _, err := os.Stat(filepath.Join(textDir, filepath.FromSlash(img))); err != nil {
			r.MissingImages = append(r.MissingImages, img)
		}
	}
	return nil
}

func isRemote(dest string) bool {
	return strings.Contains(dest, "://") || strings.HasPrefix(dest, "data:")
}

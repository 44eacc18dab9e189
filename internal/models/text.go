// Package models defines the domain types for mcodex.
package models

import (
	"fmt"
	"time"
)

// Standard names inside a text directory.
const (
	MetadataFile = "metadata.yaml"
	TextFile     = "text.md"
	SnapshotDir  = ".snapshot"
	SnapshotFile = "snapshot.yaml"
)

// LatestMetadataVersion is the metadata schema version written by this build.
const LatestMetadataVersion = 1

// Author is a registry entry. Texts store a copy, not a reference.
type Author struct {
	Nickname  string `yaml:"nickname" json:"nickname"`
	FirstName string `yaml:"first_name" json:"first_name"`
	LastName  string `yaml:"last_name" json:"last_name"`
	Email     string `yaml:"email" json:"email"`
}

// DisplayName renders the author for listings.
func (a Author) DisplayName() string {
	return fmt.Sprintf("%s %s (@%s) <%s>", a.FirstName, a.LastName, a.Nickname, a.Email)
}

// FullName returns "First Last", falling back to the nickname.
func (a Author) FullName() string {
	switch {
	case a.FirstName != "" && a.LastName != "":
		return a.FirstName + " " + a.LastName
	case a.FirstName != "":
		return a.FirstName
	case a.LastName != "":
		return a.LastName
	default:
		return a.Nickname
	}
}

// TextMetadata is the metadata.yaml record of a text directory.
// Extra keeps unknown keys so an upgrade never drops user data.
type TextMetadata struct {
	MetadataVersion int            `yaml:"metadata_version"`
	ID              string         `yaml:"id"`
	Title           string         `yaml:"title"`
	Slug            string         `yaml:"slug"`
	CreatedAt       string         `yaml:"created_at"`
	Authors         []Author       `yaml:"authors"`
	Extra           map[string]any `yaml:",inline"`
}

// HasAuthor reports whether nickname is already listed.
func (m *TextMetadata) HasAuthor(nickname string) bool {
	for _, a := range m.Authors {
		if a.Nickname == nickname {
			return true
		}
	}
	return false
}

// SnapshotRecord is the snapshot.yaml side record.
type SnapshotRecord struct {
	Label     string       `yaml:"label" json:"label"`
	CreatedAt string       `yaml:"created_at" json:"created_at"`
	Note      string       `yaml:"note,omitempty" json:"note,omitempty"`
	Text      SnapshotText `yaml:"text" json:"text"`
	Git       *SnapshotGit `yaml:"git,omitempty" json:"git,omitempty"`
}

// SnapshotText identifies the text a snapshot was taken from.
type SnapshotText struct {
	Slug string `yaml:"slug" json:"slug"`
}

// SnapshotGit holds version-control provenance.
type SnapshotGit struct {
	Tag string `yaml:"tag" json:"tag"`
}

// Timestamp formats t as ISO-8601 with offset, the format used in every record.
func Timestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

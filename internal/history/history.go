package history

import (
	"fmt"
	"sort"
	"time"
)

// Build outcomes.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Ledger is the view of the history store the services depend on.
type Ledger interface {
	RecordBuild(b BuildRow) error
	RecordSnapshot(s SnapshotRow) error
	Builds(slug string, limit int) ([]BuildRow, error)
	Snapshots(slug string, limit int) ([]SnapshotRow, error)
	Recent(slug string, limit int) ([]Entry, error)
	Close() error
}

var _ Ledger = (*DB)(nil)

// BuildRow is one recorded pipeline run.
type BuildRow struct {
	ID             int64
	TextDir        string
	Slug           string
	Pipeline       string
	Version        string
	Output         string
	SourceChecksum string
	DryRun         bool
	Status         string
	Error          string
	Duration       time.Duration
	CreatedAt      time.Time
}

// SnapshotRow is one recorded snapshot.
type SnapshotRow struct {
	ID        int64
	TextDir   string
	Slug      string
	Label     string
	Note      string
	Tag       string
	Committed bool
	CreatedAt time.Time
}

// Entry is a build or snapshot in a merged timeline.
type Entry struct {
	Kind      string    `json:"kind"` // "build" or "snapshot"
	Slug      string    `json:"slug"`
	Version   string    `json:"version"`
	Detail    string    `json:"detail"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordBuild appends a build row.
func (db *DB) RecordBuild(b BuildRow) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := db.conn.Exec(`
		INSERT INTO builds (text_dir, slug, pipeline, version, output, source_checksum,
			dry_run, status, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.TextDir, b.Slug, b.Pipeline, b.Version, b.Output, b.SourceChecksum,
		b.DryRun, b.Status, b.Error, b.Duration.Milliseconds(), b.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("history: record build: %w", err)
	}
	return nil
}

// RecordSnapshot appends a snapshot row.
func (db *DB) RecordSnapshot(s SnapshotRow) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := db.conn.Exec(`
		INSERT INTO snapshots (text_dir, slug, label, note, tag, committed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.TextDir, s.Slug, s.Label, s.Note, s.Tag, s.Committed, s.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("history: record snapshot: %w", err)
	}
	return nil
}

// Builds returns the newest builds first. An empty slug matches every text.
func (db *DB) Builds(slug string, limit int) ([]BuildRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id, text_dir, slug, pipeline, version, output, source_checksum,
			dry_run, status, error, duration_ms, created_at
		FROM builds
		WHERE ? = '' OR slug = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, slug, slug, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list builds: %w", err)
	}
	defer rows.Close()

	var out []BuildRow
	for rows.Next() {
		var b BuildRow
		var ms int64
		if err := rows.Scan(&b.ID, &b.TextDir, &b.Slug, &b.Pipeline, &b.Version, &b.Output,
			&b.SourceChecksum, &b.DryRun, &b.Status, &b.Error, &ms, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, b)
	}
	return out, rows.Err()
}

// Snapshots returns the newest snapshots first. An empty slug matches every text.
func (db *DB) Snapshots(slug string, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id, text_dir, slug, label, note, tag, committed, created_at
		FROM snapshots
		WHERE ? = '' OR slug = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, slug, slug, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var s SnapshotRow
		if err := rows.Scan(&s.ID, &s.TextDir, &s.Slug, &s.Label, &s.Note, &s.Tag,
			&s.Committed, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Recent merges builds and snapshots into one timeline, newest first.
func (db *DB) Recent(slug string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	builds, err := db.Builds(slug, limit)
	if err != nil {
		return nil, err
	}
	snaps, err := db.Snapshots(slug, limit)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(builds)+len(snaps))
	for _, b := range builds {
		detail := b.Pipeline + " -> " + b.Output
		if b.DryRun {
			detail = b.Pipeline + " (dry run)"
		}
		if b.Error != "" {
			detail = b.Pipeline + ": " + b.Error
		}
		out = append(out, Entry{Kind: "build", Slug: b.Slug, Version: b.Version, Detail: detail, Status: b.Status, CreatedAt: b.CreatedAt})
	}
	for _, s := range snaps {
		status := "local"
		if s.Committed {
			status = "committed"
		}
		out = append(out, Entry{Kind: "snapshot", Slug: s.Slug, Version: s.Label, Detail: s.Note, Status: status, CreatedAt: s.CreatedAt})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

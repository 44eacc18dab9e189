package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/starford/mcodex/internal/apperr"
	"github.com/starford/mcodex/internal/checksum"
	"github.com/starford/mcodex/internal/history"
	"github.com/starford/mcodex/internal/metadata"
	"github.com/starford/mcodex/internal/models"
	"github.com/starford/mcodex/internal/repoconfig"
	"github.com/starford/mcodex/internal/stage"
	"github.com/starford/mcodex/internal/storage"
	"github.com/starford/mcodex/internal/vcs"
)

// BaseExcludes are never copied into a snapshot.
var BaseExcludes = []string{models.SnapshotDir, ".git", "__pycache__", "build", "exports"}

const lockRetryDelay = 50 * time.Millisecond

// Info describes a created snapshot.
type Info struct {
	Label     string
	Path      string
	Record    models.SnapshotRecord
	GitRoot   string
	Committed bool
}

// Manager creates snapshots and answers stage queries.
type Manager struct {
	logger  *slog.Logger
	vcs     vcs.Adapter
	ledger  history.Ledger
	now     func() time.Time
	lockDir string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithVCS sets the version-control adapter. A nil adapter disables commits.
func WithVCS(a vcs.Adapter) Option {
	return func(m *Manager) { m.vcs = a }
}

// WithLedger records created snapshots in the history ledger.
func WithLedger(l history.Ledger) Option {
	return func(m *Manager) { m.ledger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLockDir sets where per-text lock files live.
func WithLockDir(dir string) Option {
	return func(m *Manager) { m.lockDir = dir }
}

// NewManager creates a snapshot manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger:  slog.Default(),
		now:     time.Now,
		lockDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create copies textDir into .snapshot/<label> and records it.
//
// labelOrStage is either a bare stage name, numbered automatically, or an
// explicit label used verbatim. When textDir lies in a git working tree the
// snapshot is committed and tagged; a failure there returns the Info of the
// snapshot already on disk together with a VersionControlOperationError.
func (m *Manager) Create(ctx context.Context, textDir, labelOrStage, note string) (*Info, error) {
	abs, err := textDirectory(textDir)
	if err != nil {
		return nil, err
	}
	meta, err := metadata.Load(abs)
	if err != nil {
		return nil, err
	}
	slug := strings.TrimSpace(meta.Slug)
	if slug == "" {
		slug = filepath.Base(abs)
	}

	requested := strings.TrimSpace(labelOrStage)
	bare := stage.IsStage(requested)
	var parsed stage.Label
	if !bare {
		if parsed, err = stage.ParseLabel(requested); err != nil {
			return nil, err
		}
	}

	settings, err := m.repoSettings(abs)
	if err != nil {
		return nil, err
	}
	gitRoot, err := m.gitRoot(abs)
	if err != nil {
		return nil, err
	}

	unlock, err := m.lock(ctx, abs)
	if err != nil {
		return nil, err
	}
	info, err := m.copy(abs, slug, requested, bare, parsed, strings.TrimSpace(note), settings, gitRoot)
	unlock()
	if err != nil {
		return nil, err
	}

	m.logger.Info("snapshot created",
		slog.String("text", slug),
		slog.String("label", info.Label),
		slog.String("path", info.Path))

	if gitRoot != "" {
		if err := m.commit(gitRoot, slug, info, settings.commitTemplate); err != nil {
			m.record(abs, slug, info)
			return info, err
		}
	}
	m.record(abs, slug, info)
	return info, nil
}

func (m *Manager) commit(gitRoot, slug string, info *Info, template string) error {
	msg := RenderCommitMessage(template, slug, info.Label, info.Record.Note)
	if err := m.vcs.Commit(gitRoot, []string{info.Path}, msg); err != nil {
		return err
	}
	if err := m.vcs.Tag(gitRoot, info.Record.Git.Tag); err != nil {
		return err
	}
	info.Committed = true
	m.logger.Info("snapshot committed", slog.String("tag", info.Record.Git.Tag))
	return nil
}

func (m *Manager) record(textDir, slug string, info *Info) {
	if m.ledger == nil {
		return
	}
	row := history.SnapshotRow{
		TextDir:   textDir,
		Slug:      slug,
		Label:     info.Label,
		Note:      info.Record.Note,
		Committed: info.Committed,
	}
	if info.Record.Git != nil {
		row.Tag = info.Record.Git.Tag
	}
	if t, err := time.Parse(time.RFC3339, info.Record.CreatedAt); err == nil {
		row.CreatedAt = t
	}
	if err := m.ledger.RecordSnapshot(row); err != nil {
		m.logger.Warn("history: snapshot not recorded", slog.String("error", err.Error()))
	}
}

func (m *Manager) copy(textDir, slug, requested string, bare bool, parsed stage.Label,
	note string, settings repoSettings, gitRoot string) (*Info, error) {
	store, err := storage.NewFS(textDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	cat := NewCatalog(store)

	highest, reached, err := cat.HighestStageIndex()
	if err != nil {
		return nil, fmt.Errorf("snapshot: scan: %w", err)
	}

	target := parsed
	if bare {
		target = stage.Label{Stage: requested}
	}
	if !target.IsCustom() && reached && target.StageIndex() < highest {
		return nil, &apperr.StageRegressionError{
			Stage:   target.Stage,
			Current: stage.Name(highest),
			Allowed: stage.From(highest),
		}
	}

	label := parsed.Raw
	if bare {
		n, err := cat.NextNumber(requested)
		if err != nil {
			return nil, fmt.Errorf("snapshot: scan: %w", err)
		}
		label = stage.Format(requested, n)
	}

	rel := models.SnapshotDir + "/" + label
	dst := filepath.Join(textDir, models.SnapshotDir, label)
	if err := store.CopyTree(rel, settings.excludes); err != nil {
		if errors.Is(err, storage.ErrDestinationExists) {
			return nil, &apperr.SnapshotAlreadyExistsError{Label: label, Path: dst}
		}
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	record := models.SnapshotRecord{
		Label:     label,
		CreatedAt: models.Timestamp(m.now()),
		Note:      note,
		Text:      models.SnapshotText{Slug: slug},
	}
	if gitRoot != "" {
		record.Git = &models.SnapshotGit{Tag: TagName(settings.tagNamespace, slug, label)}
	}
	if err := writeRecord(dst, record); err != nil {
		_ = os.RemoveAll(dst)
		return nil, err
	}
	return &Info{Label: label, Path: dst, Record: record, GitRoot: gitRoot}, nil
}

// List returns the snapshot labels of textDir in catalog order.
func (m *Manager) List(textDir string) ([]string, error) {
	cat, err := openCatalog(textDir)
	if err != nil {
		return nil, err
	}
	return cat.List()
}

// CurrentStage returns the highest stage reached, or "" when no
// stage-numbered snapshot exists.
func (m *Manager) CurrentStage(textDir string) (string, error) {
	cat, err := openCatalog(textDir)
	if err != nil {
		return "", err
	}
	idx, ok, err := cat.HighestStageIndex()
	if err != nil || !ok {
		return "", err
	}
	return stage.Name(idx), nil
}

// AvailableStages returns the stages a new snapshot may still use.
func (m *Manager) AvailableStages(textDir string) ([]string, error) {
	cat, err := openCatalog(textDir)
	if err != nil {
		return nil, err
	}
	idx, ok, err := cat.HighestStageIndex()
	if err != nil {
		return nil, err
	}
	if !ok {
		return stage.All(), nil
	}
	return stage.From(idx), nil
}

// ReadRecord loads the snapshot.yaml of a snapshot directory.
func ReadRecord(snapshotDir string) (*models.SnapshotRecord, error) {
	data, err := os.ReadFile(filepath.Join(snapshotDir, models.SnapshotFile))
	if err != nil {
		return nil, fmt.Errorf("snapshot: read record: %w", err)
	}
	var rec models.SnapshotRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("snapshot: parse record: %w", err)
	}
	return &rec, nil
}

// TagName returns "<namespace>/<slug>/<label>".
func TagName(namespace, slug, label string) string {
	return namespace + "/" + slug + "/" + label
}

// RenderCommitMessage fills the {slug}, {label} and {note} placeholders.
// Without a note the separator in front of {note} is dropped too.
func RenderCommitMessage(tpl, slug, label, note string) string {
	if note == "" {
		if i := strings.Index(tpl, "{note}"); i >= 0 {
			tpl = strings.TrimRightFunc(tpl[:i], isSeparator) + tpl[i+len("{note}"):]
		}
	}
	return strings.NewReplacer("{slug}", slug, "{label}", label, "{note}", note).Replace(tpl)
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || unicode.Is(unicode.Pd, r) || strings.ContainsRune(":;,/|", r)
}

func writeRecord(dir string, rec models.SnapshotRecord) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("snapshot: encode record: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("snapshot: encode record: %w", err)
	}
	if err := storage.WriteFile(filepath.Join(dir, models.SnapshotFile), buf.Bytes()); err != nil {
		return fmt.Errorf("snapshot: write record: %w", err)
	}
	return nil
}

type repoSettings struct {
	commitTemplate string
	tagNamespace   string
	excludes       []string
}

// repoSettings falls back to the defaults only when no repository encloses
// textDir. A repository whose config cannot be loaded is an error.
func (m *Manager) repoSettings(textDir string) (repoSettings, error) {
	s := repoSettings{
		commitTemplate: repoconfig.DefaultSnapshotTemplate,
		tagNamespace:   repoconfig.DefaultTagNamespace,
		excludes:       append([]string(nil), BaseExcludes...),
	}
	repo, err := repoconfig.Open(textDir)
	if err != nil {
		if repoconfig.IsNotFound(err) {
			return s, nil
		}
		return s, fmt.Errorf("snapshot: repository config: %w", err)
	}
	s.commitTemplate = repo.SnapshotCommitTemplate()
	s.tagNamespace = repo.TagNamespace()
	s.excludes = append(s.excludes, repo.ArtifactsDir())
	return s, nil
}

// gitRoot returns "" outside a git working tree.
func (m *Manager) gitRoot(textDir string) (string, error) {
	if m.vcs == nil {
		return "", nil
	}
	root, err := m.vcs.FindRoot(textDir)
	if err != nil {
		if errors.Is(err, vcs.ErrNotRepository) {
			return "", nil
		}
		return "", &apperr.VersionControlOperationError{Operation: "open", Err: err}
	}
	return root, nil
}

// lock serialises snapshot creation for one text directory across processes.
func (m *Manager) lock(ctx context.Context, textDir string) (func(), error) {
	name := "mcodex-" + checksum.Sum([]byte(textDir))[:16] + ".lock"
	fl := flock.New(filepath.Join(m.lockDir, name))
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("snapshot: lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("snapshot: lock: %s is busy", textDir)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			m.logger.Warn("snapshot unlock failed", slog.String("error", err.Error()))
		}
	}, nil
}

func textDirectory(textDir string) (string, error) {
	abs, err := filepath.Abs(textDir)
	if err != nil {
		return "", fmt.Errorf("snapshot: resolve %s: %w", textDir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", &apperr.TextNotFoundError{Path: abs, Reason: "directory does not exist"}
	}
	if !info.IsDir() {
		return "", &apperr.TextNotFoundError{Path: abs, Reason: "not a directory"}
	}
	return abs, nil
}

func openCatalog(textDir string) (*Catalog, error) {
	abs, err := textDirectory(textDir)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewFS(abs)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return NewCatalog(store), nil
}

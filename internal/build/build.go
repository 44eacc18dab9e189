// Package build turns a text directory and a version reference into an
// artifact under the repository's artifacts directory.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/mcodex/internal/checksum"
	"github.com/starford/mcodex/internal/history"
	"github.com/starford/mcodex/internal/metadata"
	"github.com/starford/mcodex/internal/models"
	"github.com/starford/mcodex/internal/pipeline"
	"github.com/starford/mcodex/internal/repoconfig"
	"github.com/starford/mcodex/internal/resolver"
	"github.com/starford/mcodex/internal/storage"
)

// DefaultPipeline is used when a request names none.
const DefaultPipeline = "pdf"

// NoopPipeline resolves everything but writes a placeholder instead of
// running external tools.
const NoopPipeline = "noop"

// Request is one build.
type Request struct {
	TextDir  string
	Ref      string
	Pipeline string
	DryRun   bool
}

// Result describes a finished build.
type Result struct {
	TextDir  string             `json:"text_dir"`
	Output   string             `json:"output"`
	Slug     string             `json:"slug"`
	Label    string             `json:"label"`
	Source   string             `json:"source"`
	Pipeline string             `json:"pipeline"`
	Commands []pipeline.Command `json:"commands,omitempty"`
	DryRun   bool               `json:"dry_run"`
	Duration time.Duration      `json:"duration_ns"`
}

// Service builds texts.
type Service struct {
	engine *pipeline.Engine
	ledger history.Ledger
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithLedger records every build in the history ledger.
func WithLedger(l history.Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a build service running pipelines on engine.
func NewService(engine *pipeline.Engine, opts ...Option) *Service {
	s := &Service{
		engine: engine,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Build resolves the version, picks the artifact path and runs the pipeline.
func (s *Service) Build(ctx context.Context, req Request) (*Result, error) {
	start := s.now()
	name := strings.ToLower(strings.TrimSpace(req.Pipeline))
	if name == "" {
		name = DefaultPipeline
	}

	res, err := s.build(ctx, req, name)
	if res != nil {
		res.Duration = s.now().Sub(start)
	}
	s.record(req, name, res, err, start)
	return res, err
}

func (s *Service) build(ctx context.Context, req Request, name string) (*Result, error) {
	textDir, err := filepath.Abs(req.TextDir)
	if err != nil {
		return nil, fmt.Errorf("build: resolve %s: %w", req.TextDir, err)
	}
	src, err := resolver.Version(textDir, req.Ref)
	if err != nil {
		return nil, err
	}
	slug := slugOf(src.Dir, textDir)
	outDir, err := ArtifactsDir(textDir)
	if err != nil {
		return nil, err
	}

	res := &Result{TextDir: textDir, Slug: slug, Label: src.Label, Source: src.Dir, Pipeline: name, DryRun: req.DryRun}

	if name == NoopPipeline {
		res.Output = filepath.Join(outDir, OutputName(slug, src.Label, "pdf"))
		if req.DryRun {
			return res, nil
		}
		content := fmt.Sprintf("noop build: %s / %s\n", slug, src.Label)
		if err := storage.WriteFile(res.Output, []byte(content)); err != nil {
			return nil, fmt.Errorf("build: write %s: %w", res.Output, err)
		}
		return res, nil
	}

	def, _, err := s.engine.Resolve(name, src.Dir)
	if err != nil {
		return nil, err
	}
	res.Output = filepath.Join(outDir, OutputName(slug, src.Label, def.OutputExt()))

	if !req.DryRun {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, fmt.Errorf("build: create artifacts dir: %w", err)
		}
	}

	run, err := s.engine.Run(ctx, pipeline.Request{
		Pipeline:     name,
		SourceDir:    src.Dir,
		OutputPath:   res.Output,
		VersionLabel: src.Label,
		DryRun:       req.DryRun,
	})
	if err != nil {
		return nil, err
	}
	res.Commands = run.Commands
	return res, nil
}

func (s *Service) record(req Request, name string, res *Result, buildErr error, start time.Time) {
	if s.ledger == nil {
		return
	}
	row := history.BuildRow{
		TextDir:   req.TextDir,
		Pipeline:  name,
		Version:   req.Ref,
		DryRun:    req.DryRun,
		Status:    history.StatusOK,
		CreatedAt: start,
	}
	if sum, err := checksum.File(filepath.Join(req.TextDir, models.TextFile)); err == nil {
		row.SourceChecksum = sum
	}
	if res != nil {
		row.TextDir = res.TextDir
		row.Slug = res.Slug
		row.Version = res.Label
		row.Output = res.Output
		row.Duration = res.Duration
	}
	if buildErr != nil {
		row.Status = history.StatusFailed
		row.Error = buildErr.Error()
		if row.Slug == "" {
			row.Slug = slugOf(req.TextDir, req.TextDir)
		}
	}
	if err := s.ledger.RecordBuild(row); err != nil {
		s.logger.Warn("history: build not recorded", slog.String("error", err.Error()))
	}
}

// ArtifactsDir returns <repoRoot>/<artifacts_dir> for texts inside a
// repository and <textDir>/../artifacts otherwise.
func ArtifactsDir(textDir string) (string, error) {
	repo, err := repoconfig.Open(textDir)
	if err != nil {
		if repoconfig.IsNotFound(err) {
			return filepath.Join(filepath.Dir(filepath.Clean(textDir)), repoconfig.DefaultArtifactsDir), nil
		}
		return "", err
	}
	return repo.ArtifactsPath(), nil
}

// OutputName is the artifact file name for a slug and version label.
func OutputName(slug, label, ext string) string {
	return slug + "_" + label + "." + ext
}

// slugOf reads the slug from the source's metadata without upgrading it,
// falling back to the text directory name.
func slugOf(sourceDir, textDir string) string {
	if meta, err := metadata.Peek(sourceDir); err == nil {
		if slug := strings.TrimSpace(meta.Slug); slug != "" {
			return slug
		}
	}
	return filepath.Base(textDir)
}

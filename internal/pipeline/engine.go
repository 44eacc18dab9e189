// Package pipeline runs declarative build pipelines: pandoc conversion,
// vlna typographic fixes and latexmk typesetting, threaded through a
// scratch workspace.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/mcodex/internal/apperr"
	"github.com/starford/mcodex/internal/buildctx"
	"github.com/starford/mcodex/internal/models"
	"github.com/starford/mcodex/internal/storage"
	"github.com/starford/mcodex/internal/templates"
)

// LogTailBudget bounds the latexmk log excerpt attached to a failure.
const LogTailBudget = 4000

// DefaultTimeout bounds a single external tool run.
const DefaultTimeout = 5 * time.Minute

// Tools names the external executables.
type Tools struct {
	Pandoc  string
	Vlna    string
	Latexmk string
}

// DefaultTools returns the plain executable names.
func DefaultTools() Tools {
	return Tools{Pandoc: "pandoc", Vlna: "vlna", Latexmk: "latexmk"}
}

// Repository is the view of a configured repository the engine needs.
type Repository interface {
	Root() string
	TemplatesDir() string
	Pipeline(name string) (Definition, error)
}

// RepoFinder locates the repository enclosing a path. It returns an
// *apperr.RepoConfigNotFoundError outside any repository.
type RepoFinder func(start string) (Repository, error)

// Request is one pipeline run.
type Request struct {
	Pipeline     string
	SourceDir    string
	OutputPath   string
	VersionLabel string
	DryRun       bool
}

// Result reports the artifact and every command issued, in order.
type Result struct {
	OutputPath string
	Commands   []Command
	Context    *buildctx.Context
}

// Engine executes pipelines.
type Engine struct {
	logger   *slog.Logger
	exec     Executor
	lookPath LookPathFunc
	timeout  time.Duration
	tools    Tools
	findRepo RepoFinder
	packaged fs.FS
	tempDir  string
	now      func() time.Time
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(x Executor) Option {
	return func(e *Engine) {
		if x != nil {
			e.exec = x
		}
	}
}

// WithLookPath overrides executable resolution.
func WithLookPath(f LookPathFunc) Option {
	return func(e *Engine) {
		if f != nil {
			e.lookPath = f
		}
	}
}

// WithTimeout bounds each external tool run.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithTools sets the executable names.
func WithTools(t Tools) Option {
	return func(e *Engine) {
		def := DefaultTools()
		if t.Pandoc == "" {
			t.Pandoc = def.Pandoc
		}
		if t.Vlna == "" {
			t.Vlna = def.Vlna
		}
		if t.Latexmk == "" {
			t.Latexmk = def.Latexmk
		}
		e.tools = t
	}
}

// WithRepoFinder sets how the enclosing repository is found.
func WithRepoFinder(f RepoFinder) Option {
	return func(e *Engine) { e.findRepo = f }
}

// WithPackagedTemplates replaces the built-in template tree.
func WithPackagedTemplates(fsys fs.FS) Option {
	return func(e *Engine) { e.packaged = fsys }
}

// WithTempDir sets where scratch workspaces are created.
func WithTempDir(dir string) Option {
	return func(e *Engine) { e.tempDir = dir }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a pipeline engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:   slog.Default(),
		exec:     commandExecutor{},
		lookPath: exec.LookPath,
		timeout:  DefaultTimeout,
		tools:    DefaultTools(),
		packaged: templates.FS(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve returns the definition of name for sourceDir: from the enclosing
// repository when there is one, else from the built-in defaults.
func (e *Engine) Resolve(name, sourceDir string) (Definition, Repository, error) {
	if e.findRepo != nil {
		repo, err := e.findRepo(sourceDir)
		if err == nil {
			def, err := repo.Pipeline(name)
			return def, repo, err
		}
		var notFound *apperr.RepoConfigNotFoundError
		if !errors.As(err, &notFound) {
			return Definition{}, nil, err
		}
	}
	defs, err := Validate(Defaults())
	if err != nil {
		return Definition{}, nil, err
	}
	def, ok := defs[strings.TrimSpace(name)]
	if !ok {
		return Definition{}, nil, &apperr.PipelineNotFoundError{Requested: name, Available: Names(Defaults())}
	}
	return def, nil, nil
}

// Chain returns the template lookup order for repo, which may be nil.
func (e *Engine) Chain(repo Repository) TemplateChain {
	var chain TemplateChain
	if repo != nil {
		chain = append(chain, DirSource("repository", repo.TemplatesDir()))
	}
	if e.packaged != nil {
		chain = append(chain, TemplateSource{Name: "packaged", FS: e.packaged})
	}
	return chain
}

// Run executes the pipeline described by req.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	source, err := filepath.Abs(req.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve source: %w", err)
	}
	output, err := filepath.Abs(req.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve output: %w", err)
	}
	version := req.VersionLabel
	if version == "" {
		version = "worktree"
	}

	def, repo, err := e.Resolve(req.Pipeline, source)
	if err != nil {
		return nil, err
	}

	srcText := filepath.Join(source, models.TextFile)
	if info, err := os.Stat(srcText); err != nil || !info.Mode().IsRegular() {
		return nil, &apperr.SourceNotFoundError{Path: srcText}
	}

	bctx, err := buildctx.New(source, def.Name, version, e.now())
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp(e.tempDir, "mcodex-build-")
	if err != nil {
		return nil, fmt.Errorf("pipeline: scratch workspace: %w", err)
	}
	defer os.RemoveAll(tmp)

	files := buildctx.Paths(tmp)
	if !req.DryRun {
		if files, err = buildctx.Write(tmp, bctx); err != nil {
			return nil, err
		}
	}

	r := &run{
		engine: e,
		ctx:    ctx,
		def:    def,
		chain:  e.Chain(repo),
		source: source,
		srcMD:  srcText,
		output: output,
		tmp:    tmp,
		files:  files,
		dryRun: req.DryRun,
	}

	e.logger.Info("pipeline started",
		slog.String("pipeline", def.Name),
		slog.String("source", source),
		slog.String("version", version),
		slog.Bool("dry_run", req.DryRun))

	for i, step := range def.Steps {
		if err := r.step(step); err != nil {
			e.logger.Error("pipeline step failed",
				slog.String("pipeline", def.Name),
				slog.Int("step", i),
				slog.String("kind", step.Kind()),
				slog.String("error", err.Error()))
			return nil, err
		}
	}

	if _, ok := def.Steps[len(def.Steps)-1].(PandocStep); ok && !req.DryRun && r.pandocOut != output {
		if err := copyFile(r.pandocOut, output); err != nil {
			return nil, err
		}
	}

	e.logger.Info("pipeline finished", slog.String("pipeline", def.Name), slog.String("output", output))
	return &Result{OutputPath: output, Commands: r.commands, Context: bctx}, nil
}

// run threads intermediate outputs between the steps of one execution.
type run struct {
	engine *Engine
	ctx    context.Context
	def    Definition
	chain  TemplateChain
	source string
	srcMD  string
	output string
	tmp    string
	files  buildctx.Files
	dryRun bool

	pandocOut string
	vlnaOut   string
	commands  []Command
}

func (r *run) step(s Step) error {
	switch s := s.(type) {
	case PandocStep:
		return r.pandoc(s)
	case VlnaStep:
		return r.vlna(s)
	case LatexmkStep:
		return r.latexmk(s)
	default:
		return &apperr.PipelineConfigError{Pipeline: r.def.Name, Step: -1, Reason: "unexpected step kind: " + s.Kind()}
	}
}

func (r *run) pandoc(s PandocStep) error {
	bin, err := requireExecutable(r.engine.lookPath, r.engine.tools.Pandoc)
	if err != nil {
		return err
	}

	out := filepath.Join(r.tmp, s.OutputName())
	if s.Final() {
		out = r.output
	}

	args := []string{
		r.srcMD,
		"--from=" + s.From,
		"--to=" + s.To,
		"--metadata-file=" + r.files.Context,
	}
	switch s.To {
	case "docx":
		if p, ok := r.chain.File(templates.PandocDir + "/reference.docx"); ok {
			args = append(args, "--reference-doc="+p)
		}
	case "pdf":
		if p, ok := r.chain.File(templates.PandocDir + "/template.tex"); ok {
			args = append(args, "--template="+p)
		}
	}
	if s.Final() {
		args = append(args, "--include-before-body="+r.files.Header)
		if !r.dryRun {
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return fmt.Errorf("pipeline: output dir: %w", err)
			}
		}
	}
	args = append(args, "-o", out)

	if err := r.exec(Command{Path: bin, Args: args, Dir: r.source}); err != nil {
		return err
	}
	r.pandocOut = out
	return nil
}

func (r *run) vlna(s VlnaStep) error {
	bin, err := requireExecutable(r.engine.lookPath, r.engine.tools.Vlna)
	if err != nil {
		return err
	}
	in := filepath.Join(r.tmp, s.Input)
	out := filepath.Join(r.tmp, s.Output)
	if err := r.exec(Command{Path: bin, Args: []string{"-f", "-l", "-m", "-n", in, out}, Dir: r.tmp}); err != nil {
		return err
	}
	r.vlnaOut = out
	return nil
}

func (r *run) latexmk(s LatexmkStep) error {
	bin, err := requireExecutable(r.engine.lookPath, r.engine.tools.Latexmk)
	if err != nil {
		return err
	}

	body := r.vlnaOut
	if body == "" {
		body = r.pandocOut
	}
	if body == "" {
		return &apperr.MissingPriorStepOutputError{Step: KindLatexmk}
	}

	if !r.dryRun {
		if _, err := os.Stat(body); err != nil {
			return &apperr.MissingPriorStepOutputError{Step: KindLatexmk, Path: body}
		}
		src, ok := r.chain.Tree(templates.LatexDir, s.Main)
		if !ok {
			return apperr.Configuration("LaTeX main template %s not found in any template tier", s.Main)
		}
		if _, err := templates.CopyTree(src.FS, templates.LatexDir, r.tmp, true); err != nil {
			return err
		}
		if bodyTex := filepath.Join(r.tmp, "body.tex"); body != bodyTex {
			if err := copyFile(body, bodyTex); err != nil {
				return err
			}
		}
	}

	args := []string{
		"-pdf",
		"-interaction=nonstopmode",
		"-halt-on-error",
		"-file-line-error",
		"-e", fmt.Sprintf("$pdflatex=q/%s %%O %%S/;", s.EngineName()),
		s.Main,
	}
	cmd := Command{Path: bin, Args: args, Dir: r.tmp}
	if err := r.exec(cmd); err != nil {
		var te *apperr.ExternalToolError
		if errors.As(err, &te) {
			logName := strings.TrimSuffix(s.Main, filepath.Ext(s.Main)) + ".log"
			if tail := logTail(filepath.Join(r.tmp, logName), LogTailBudget); tail != "" {
				te.Output = strings.TrimRight(te.Output, "\n") + "\n--- " + logName + " (tail) ---\n" + tail
			}
		}
		return err
	}
	if r.dryRun {
		return nil
	}

	built := filepath.Join(r.tmp, strings.TrimSuffix(s.Main, filepath.Ext(s.Main))+".pdf")
	if _, err := os.Stat(built); err != nil {
		return &apperr.ExternalToolError{Tool: cmd.Tool(), ExitCode: 0, Output: "latexmk finished without producing " + filepath.Base(built)}
	}
	return copyFile(built, r.output)
}

func (r *run) exec(cmd Command) error {
	r.commands = append(r.commands, cmd)
	if r.dryRun {
		r.engine.logger.Debug("dry run", slog.String("command", cmd.String()))
		return nil
	}
	r.engine.logger.Info("running", slog.String("tool", cmd.Tool()), slog.String("dir", cmd.Dir))

	ctx, cancel := context.WithTimeout(r.ctx, r.engine.timeout)
	defer cancel()
	out, err := r.engine.exec.Run(ctx, cmd)
	if err != nil {
		return toolError(ctx, cmd, out, err)
	}
	return nil
}

func logTail(path string, budget int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if len(data) > budget {
		data = data[len(data)-budget:]
	}
	return string(data)
}

func copyFile(src, dst string) error {
	if err := storage.CopyFile(src, dst, 0o644); err != nil {
		return fmt.Errorf("pipeline: copy %s: %w", filepath.Base(src), err)
	}
	return nil
}

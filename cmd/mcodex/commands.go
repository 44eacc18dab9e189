package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/mcodex/internal"
	"github.com/starford/mcodex/internal/apperr"
	"github.com/starford/mcodex/internal/build"
	"github.com/starford/mcodex/internal/metadata"
	"github.com/starford/mcodex/internal/models"
	"github.com/starford/mcodex/internal/pipeline"
	"github.com/starford/mcodex/internal/repoconfig"
	"github.com/starford/mcodex/internal/resolver"
	"github.com/starford/mcodex/internal/status"
	"github.com/starford/mcodex/internal/texts"
)

// runner carries the process streams and working directory into commands.
type runner struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	wd     string
	opts   []internal.Option
}

func (r *runner) workDir() (string, error) {
	if r.wd != "" {
		return r.wd, nil
	}
	return os.Getwd()
}

func (r *runner) resolver() (*resolver.Resolver, error) {
	wd, err := r.workDir()
	if err != nil {
		return nil, err
	}
	return resolver.New(wd)
}

func (r *runner) repo() (*repoconfig.Repo, error) {
	wd, err := r.workDir()
	if err != nil {
		return nil, err
	}
	return repoconfig.Open(wd)
}

// path resolves p against the working directory.
func (r *runner) path(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := r.workDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func (r *runner) printf(format string, args ...any) {
	fmt.Fprintf(r.stdout, format, args...)
}

type appAction func(ctx context.Context, cmd *cli.Command, app *internal.App) error

// withApp builds the application for one command and closes it afterwards.
func (r *runner) withApp(fn appAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		app, err := loadApp(cmd, r.stderr, r.opts...)
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(ctx, cmd, app)
	}
}

func usageError(cmd *cli.Command) error {
	return apperr.Validation("usage: %s %s", cmd.FullName(), cmd.ArgsUsage)
}

func newRootCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:    "mcodex",
		Usage:   "Manage texts, staged snapshots and document builds",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: defaultConfigPath,
				Value:       defaultConfigPath,
				Sources:     cli.EnvVars("MCODEX_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log debug details to stderr",
			},
		},
		Commands: []*cli.Command{
			r.initCommand(),
			r.createCommand(),
			r.authorCommand(),
			r.textCommand(),
			r.buildCommand(),
			r.snapshotCommand(),
			r.statusCommand(),
			r.pipelineCommand(),
			r.historyCommand(),
			r.watchCommand(),
			r.mcpCommand(),
		},
	}
}

func (r *runner) initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create .mcodex/config.yaml and the template tree",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Value: ".", Usage: "Repository root"},
			&cli.BoolFlag{Name: "force", Usage: "Overwrite existing templates"},
		},
		Action: r.withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
			root, err := r.path(cmd.String("root"))
			if err != nil {
				return err
			}
			res, err := repoconfig.Init(root, cmd.Bool("force"))
			if err != nil {
				return err
			}
			for _, f := range res.TemplatesCopied {
				app.Logger.Debug("template written", slog.String("path", f))
			}
			r.printf("Initialized mcodex in: %s\n", res.Root)
			return nil
		}),
	}
}

func (r *runner) createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a new text directory",
		ArgsUsage: "<title>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Value: ".", Usage: "Directory the text is created in"},
			&cli.StringSliceFlag{Name: "author", Aliases: []string{"a"}, Usage: "Author nickname (repeatable)"},
		},
		Action: r.withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
			if cmd.Args().Len() != 1 {
				return usageError(cmd)
			}
			root, err := r.path(cmd.String("root"))
			if err != nil {
				return err
			}
			created, err := app.Texts.Create(texts.CreateRequest{
				Title:   cmd.Args().First(),
				Root:    root,
				Authors: cmd.StringSlice("author"),
			})
			if err != nil {
				return err
			}
			r.printf("Created: %s\n", created.Dir)
			return nil
		}),
	}
}

func (r *runner) authorCommand() *cli.Command {
	return &cli.Command{
		Name:  "author",
		Usage: "Manage the repository author registry",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Register an author",
				ArgsUsage: "<nickname> <first_name> <last_name> <email>",
				Action: r.withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					if cmd.Args().Len() != 4 {
						return usageError(cmd)
					}
					repo, err := r.repo()
					if err != nil {
						return err
					}
					a := cmd.Args().Slice()
					author := models.Author{Nickname: a[0], FirstName: a[1], LastName: a[2], Email: a[3]}
					if err := repo.AddAuthor(author); err != nil {
						return err
					}
					r.printf("Author added: %s\n", author.Nickname)
					return nil
				}),
			},
			{
				Name:      "remove",
				Usage:     "Remove an author from the registry",
				ArgsUsage: "<nickname>",
				Action: r.withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					if cmd.Args().Len() != 1 {
						return usageError(cmd)
					}
					repo, err := r.repo()
					if err != nil {
						return err
					}
					if err := repo.RemoveAuthor(cmd.Args().First()); err != nil {
						return err
					}
					r.printf("Author removed: %s\n", cmd.Args().First())
					return nil
				}),
			},
			{
				Name:  "list",
				Usage: "List registered authors",
				Action: r.withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					repo, err := r.repo()
					if err != nil {
						return err
					}
					authors := repo.AuthorList()
					if len(authors) == 0 {
						r.printf("No authors registered.\n")
						return nil
					}
					rows := make([][]string, 0, len(authors))
					for _, a := range authors {
						rows = append(rows, []string{a.Nickname, a.FullName(), a.Email})
					}
					r.printf("%s\n", renderTable([]string{"Nickname", "Name", "Email"}, rows, nil))
					return nil
				}),
			},
		},
	}
}

func (r *runner) textCommand() *cli.Command {
	edit := func(add bool) appAction {
		return func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
			if cmd.Args().Len() != 2 {
				return usageError(cmd)
			}
			res, err := r.resolver()
			if err != nil {
				return err
			}
			dir, err := res.Text(cmd.Args().Get(0))
			if err != nil {
				return err
			}
			nick := cmd.Args().Get(1)
			if add {
				changed, err := app.Texts.AddAuthor(dir, nick)
				if err != nil {
					return err
				}
				if changed {
					r.printf("Author %s added to %s\n", nick, dir)
				} else {
					r.printf("Author %s already listed\n", nick)
				}
				return nil
			}
			changed, err := app.Texts.RemoveAuthor(dir, nick)
			if err != nil {
				return err
			}
			if changed {
				r.printf("Author %s removed from %s\n", nick, dir)
			} else {
				r.printf("Author %s was not listed\n", nick)
			}
			return nil
		}
	}
	return &cli.Command{
		Name:  "text",
		Usage: "Edit a text's metadata",
		Commands: []*cli.Command{
			{
				Name:  "author",
				Usage: "Manage the authors of a text",
				Commands: []*cli.Command{
					{Name: "add", Usage: "Copy a registry author into the text", ArgsUsage: "<text> <nickname>", Action: r.withApp(edit(true))},
					{Name: "remove", Usage: "Drop an author from the text", ArgsUsage: "<text> <nickname>", Action: r.withApp(edit(false))},
				},
			},
		},
	}
}

func (r *runner) buildCommand() *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "Render a text version into the artifacts directory",
		ArgsUsage: "[text] [version]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pipeline", Aliases: []string{"p"}, Value: build.DefaultPipeline, Usage: "Pipeline name"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Print the commands without running them"},
		},
		Action: r.withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
			res, err := r.resolver()
			if err != nil {
				return err
			}
			target, err := res.Build(cmd.Args().Slice()...)
			if err != nil {
				return err
			}
			out, err := app.Builds.Build(ctx, build.Request{
				TextDir:  target.TextDir,
				Ref:      target.Ref,
				Pipeline: cmd.String("pipeline"),
				DryRun:   cmd.Bool("dry-run"),
			})
			if err != nil {
				return err
			}
			if out.DryRun {
				for _, c := range out.Commands {
					r.printf("%s\n", strings.Join(c.Argv(), " "))
				}
			}
			r.printf("%s\n", out.Output)
			return nil
		}),
	}
}

func (r *runner) snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Create and list immutable snapshots",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Freeze the text at a stage or under an explicit label",
				ArgsUsage: "<stage|label> [text]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "note", Aliases: []string{"n"}, Usage: "Note stored with the snapshot"},
				},
				Action: r.withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					if n := cmd.Args().Len(); n < 1 || n > 2 {
						return usageError(cmd)
					}
					dir, err := r.textArg(cmd, 1)
					if err != nil {
						return err
					}
					info, err := app.Snapshots.Create(ctx, dir, cmd.Args().Get(0), cmd.String("note"))
					if info != nil {
						r.printf("Snapshot created: %s\n", info.Label)
					}
					return err
				}),
			},
			{
				Name:      "list",
				Usage:     "List the snapshots of a text",
				ArgsUsage: "[text]",
				Action: r.withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					dir, err := r.textArg(cmd, 0)
					if err != nil {
						return err
					}
					report, err := status.Collect(dir, app.Snapshots)
					if err != nil {
						return err
					}
					if len(report.Snapshots) == 0 {
						r.printf("No snapshots.\n")
						return nil
					}
					r.printf("%s\n", snapshotTable(report.Snapshots))
					return nil
				}),
			},
		},
	}
}

// textArg resolves the optional text argument at position i.
func (r *runner) textArg(cmd *cli.Command, i int) (string, error) {
	res, err := r.resolver()
	if err != nil {
		return "", err
	}
	return res.Text(cmd.Args().Get(i))
}

func snapshotTable(snaps []status.Snapshot) string {
	rows := make([][]string, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, []string{s.Label, s.CreatedAt, s.Note, s.Tag})
	}
	return renderTable([]string{"Label", "Created", "Note", "Tag"}, rows, nil)
}

func (r *runner) statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the stage, snapshots and statistics of a text",
		ArgsUsage: "[text]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the report as JSON"},
		},
		Action: r.withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
			dir, err := r.textArg(cmd, 0)
			if err != nil {
				return err
			}
			report, err := status.Collect(dir, app.Snapshots)
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return writeJSON(r.stdout, report)
			}
			r.printf("%s\n", statusTable(report))
			if len(report.Snapshots) > 0 {
				r.printf("%s\n", snapshotTable(report.Snapshots))
			}
			return nil
		}),
	}
}

func statusTable(rep *status.Report) string {
	authors := make([]string, 0, len(rep.Authors))
	for _, a := range rep.Authors {
		authors = append(authors, a.FullName())
	}
	rows := [][]string{
		{"Text", rep.TextDir},
		{"Title", rep.Title},
		{"Slug", rep.Slug},
		{"Authors", strings.Join(authors, ", ")},
		{"Current stage", rep.CurrentStage},
		{"Available stages", strings.Join(rep.AvailableStages, ", ")},
		{"Heading", rep.Heading},
		{"Words", strconv.Itoa(rep.Words)},
		{"Paragraphs", strconv.Itoa(rep.Paragraphs)},
	}
	if len(rep.MissingImages) > 0 {
		rows = append(rows, []string{"Missing images", strings.Join(rep.MissingImages, ", ")})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func (r *runner) pipelineCommand() *cli.Command {
	return &cli.Command{
		Name:  "pipeline",
		Usage: "Inspect build pipelines",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List the pipelines available here",
				Action: r.withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
					specs := pipeline.Defaults()
					source := "built-in defaults"
					repo, err := r.repo()
					switch {
					case err == nil:
						specs = repo.PipelineSpecs()
						source = repoconfig.ConfigPath(repo.Root())
					case !repoconfig.IsNotFound(err):
						return err
					}
					defs, err := pipeline.Validate(specs)
					if err != nil {
						return err
					}
					r.printf("%s\n", pipelineTable(defs))
					r.printf("Source: %s\n", source)
					return nil
				}),
			},
		},
	}
}

func pipelineTable(defs map[string]pipeline.Definition) string {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows [][]string
	for _, name := range names {
		def := defs[name]
		label := name
		if name == build.DefaultPipeline {
			label += " (default)"
		}
		for i, s := range def.Steps {
			first := ""
			if i == 0 {
				first = label
			}
			rows = append(rows, []string{first, strconv.Itoa(i + 1), pipeline.Describe(s), ""})
		}
		rows[len(rows)-1][3] = def.OutputExt()
	}
	return renderTable([]string{"Pipeline", "Step", "Action", "Output"}, rows, []columnAlignment{alignLeft, alignRight})
}

func (r *runner) historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List recent builds and snapshots",
		ArgsUsage: "[text]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum number of entries"},
		},
		Action: r.withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
			if app.Ledger == nil {
				return fmt.Errorf("%w: history is disabled in the application config", apperr.ErrConfiguration)
			}
			slug := ""
			if cmd.Args().Len() > 0 {
				dir, err := r.textArg(cmd, 0)
				if err != nil {
					return err
				}
				meta, err := metadata.Peek(dir)
				if err != nil {
					return err
				}
				slug = meta.Slug
			}
			entries, err := app.Ledger.Recent(slug, int(cmd.Int("limit")))
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				r.printf("No history.\n")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.CreatedAt.Local().Format(time.DateTime), e.Kind, e.Slug, e.Version, e.Status, e.Detail,
				})
			}
			r.printf("%s\n", renderTable([]string{"When", "Kind", "Text", "Version", "Status", "Detail"}, rows, nil))
			return nil
		}),
	}
}

func (r *runner) watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Rebuild the working tree whenever the text changes",
		ArgsUsage: "[text]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pipeline", Aliases: []string{"p"}, Usage: "Pipeline name (default from config)"},
		},
		Action: r.withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
			dir, err := r.textArg(cmd, 0)
			if err != nil {
				return err
			}
			r.printf("Watching %s (Ctrl-C to stop)\n", dir)
			err = app.Watch(ctx, dir, cmd.String("pipeline"))
			if errors.Is(err, context.Canceled) {
				r.printf("Stopped.\n")
			}
			return err
		}),
	}
}

func (r *runner) mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the snapshot and build tools over MCP stdio",
		Action: r.withApp(func(ctx context.Context, cmd *cli.Command, app *internal.App) error {
			wd, err := r.workDir()
			if err != nil {
				return err
			}
			return app.ServeMCP(ctx, wd, version, r.stdin, r.stdout)
		}),
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/mcodex/internal"
	"github.com/starford/mcodex/internal/apperr"
	pkgconfig "github.com/starford/mcodex/pkg/config"
)

// version is set at link time.
var version = "dev"

const defaultConfigPath = "~/.config/mcodex/config.yaml"

// loadApp reads the application config and builds the services.
func loadApp(cmd *cli.Command, stderr io.Writer, extra ...internal.Option) (*internal.App, error) {
	cfg := internal.NewDefaultConfig()
	path := expandHome(cmd.String("config"))
	if cmd.IsSet("config") {
		if err := pkgconfig.Load(path, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse config: %v", apperr.ErrConfiguration, err)
		}
	} else if _, err := pkgconfig.LoadOptional(path, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", apperr.ErrConfiguration, err)
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVerbose(cmd.Bool("verbose")),
		internal.WithLogOutput(stderr),
	}
	return internal.New(append(opts, extra...)...)
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(&runner{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr})
	err := cmd.Run(ctx, os.Args)
	if err == nil {
		return
	}
	if ctx.Err() != nil && !errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%w: %v", context.Canceled, err)
	}
	slog.Error("command failed", slog.String("error", err.Error()))
	os.Exit(apperr.ExitCode(err))
}

package pipeline

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/mcodex/internal/apperr"
)

// Command is one external tool invocation.
type Command struct {
	Path string   `json:"path"`
	Args []string `json:"args"`
	Dir  string   `json:"dir"`
}

// Argv returns the program followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// Tool returns the program name without its directory.
func (c Command) Tool() string {
	return filepath.Base(c.Path)
}

func (c Command) String() string {
	parts := c.Argv()
	for i, p := range parts {
		if strings.ContainsAny(p, " \t$'\"") {
			parts[i] = "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
		}
	}
	return strings.Join(parts, " ")
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, cmd Command) (output []byte, err error)
}

// LookPathFunc resolves an executable name to a path.
type LookPathFunc func(name string) (string, error)

// waitDelay bounds how long a killed tool's children may keep its output open.
const waitDelay = 2 * time.Second

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, c Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...) //nolint:gosec
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay
	return cmd.CombinedOutput()
}

// toolError turns an execution failure into an ExternalToolError.
func toolError(ctx context.Context, c Command, output []byte, err error) error {
	te := &apperr.ExternalToolError{Tool: c.Tool(), ExitCode: -1, Output: string(output), Err: err}
	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		te.Err = ctx.Err()
	case errors.As(err, &exitErr):
		te.ExitCode = exitErr.ExitCode()
		te.Err = nil
	}
	return te
}

func requireExecutable(lookPath LookPathFunc, name string) (string, error) {
	p, err := lookPath(name)
	if err != nil || p == "" {
		return "", &apperr.ExecutableNotFoundError{Name: name}
	}
	return p, nil
}

package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTypedErrorsUnwrapToKind(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{&UnknownStageError{Stage: "beta"}, ErrValidation},
		{&InvalidLabelError{Label: "-x"}, ErrValidation},
		{&TextNotFoundError{Path: "/x"}, ErrNotFound},
		{&StageRegressionError{Stage: "draft"}, ErrConflict},
		{&SnapshotAlreadyExistsError{Label: "draft-1"}, ErrAlreadyExists},
		{&SnapshotAlreadyExistsError{Label: "draft-1"}, ErrConflict},
		{&PipelineConfigError{Reason: "empty"}, ErrConfiguration},
		{&PipelineNotFoundError{Requested: "x"}, ErrNotFound},
		{&ExecutableNotFoundError{Name: "vlna"}, ErrNotFound},
		{&ExternalToolError{Tool: "pandoc", ExitCode: 1}, ErrExternalTool},
		{&VersionControlOperationError{Operation: "tag", Err: errors.New("boom")}, ErrExternalTool},
	}
	for _, c := range cases {
		wrapped := fmt.Errorf("outer: %w", c.err)
		if !errors.Is(wrapped, c.kind) {
			t.Errorf("%T does not unwrap to %v", c.err, c.kind)
		}
	}
}

func TestPipelineNotFoundListsAvailable(t *testing.T) {
	err := &PipelineNotFoundError{Requested: "epub", Available: []string{"docx", "pdf"}}
	if !strings.Contains(err.Error(), "available: docx, pdf") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestExternalToolErrorKeepsOutput(t *testing.T) {
	err := &ExternalToolError{Tool: "latexmk", ExitCode: 12, Output: "! Undefined control sequence."}
	msg := err.Error()
	if !strings.Contains(msg, "latexmk failed with code 12") || !strings.Contains(msg, "Undefined control") {
		t.Errorf("message = %q", msg)
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != ExitOK {
		t.Errorf("nil = %d", got)
	}
	if got := ExitCode(&StageRegressionError{Stage: "draft"}); got != ExitDomain {
		t.Errorf("domain = %d", got)
	}
	if got := ExitCode(fmt.Errorf("build: %w", context.Canceled)); got != ExitInterrupt {
		t.Errorf("canceled = %d", got)
	}
	if got := ExitCode(errors.New("disk on fire")); got != ExitFailure {
		t.Errorf("other = %d", got)
	}
}

// Package apperr defines the mcodex error taxonomy.
//
// Every typed error unwraps to one of the kind sentinels below, so callers
// can branch with errors.Is and reach the payload with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrExternalTool  = errors.New("external tool failed")
	ErrConfiguration = errors.New("configuration error")
)

// UnknownStageError reports a stage name outside the fixed progression.
type UnknownStageError struct {
	Stage   string
	Allowed []string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("unknown stage %q (allowed: %s)", e.Stage, strings.Join(e.Allowed, ", "))
}

func (e *UnknownStageError) Unwrap() error { return ErrValidation }

// InvalidLabelError reports a snapshot label that matches neither label form.
type InvalidLabelError struct {
	Label string
}

func (e *InvalidLabelError) Error() string {
	return fmt.Sprintf("invalid snapshot label %q: expected <stage>-<number> or [A-Za-z0-9][A-Za-z0-9_.-]*", e.Label)
}

func (e *InvalidLabelError) Unwrap() error { return ErrValidation }

// InvalidMetadataError reports an unreadable or unsupported metadata record.
type InvalidMetadataError struct {
	Path   string
	Reason string
}

func (e *InvalidMetadataError) Error() string {
	return fmt.Sprintf("invalid metadata %s: %s", e.Path, e.Reason)
}

func (e *InvalidMetadataError) Unwrap() error { return ErrValidation }

// TextNotFoundError reports a text directory that could not be located.
type TextNotFoundError struct {
	Path   string
	Reason string
}

func (e *TextNotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("text not found: %s (%s)", e.Path, e.Reason)
	}
	return fmt.Sprintf("text not found: %s", e.Path)
}

func (e *TextNotFoundError) Unwrap() error { return ErrNotFound }

// AmbiguousContextError reports that neither the working directory nor the
// arguments identify a text.
type AmbiguousContextError struct {
	Reason string
}

func (e *AmbiguousContextError) Error() string {
	return "cannot determine text: " + e.Reason
}

func (e *AmbiguousContextError) Unwrap() error { return ErrValidation }

// SnapshotNotFoundError reports a version selector with no matching snapshot.
type SnapshotNotFoundError struct {
	TextDir string
	Ref     string
}

func (e *SnapshotNotFoundError) Error() string {
	return fmt.Sprintf("snapshot not found: %s in %s", e.Ref, e.TextDir)
}

func (e *SnapshotNotFoundError) Unwrap() error { return ErrNotFound }

// StageRegressionError reports an attempt to snapshot at an earlier stage
// than the text has already reached.
type StageRegressionError struct {
	Stage   string
	Current string
	Allowed []string
}

func (e *StageRegressionError) Error() string {
	return fmt.Sprintf("stage %q is no longer allowed for this text (current: %s); available stages: %s",
		e.Stage, e.Current, strings.Join(e.Allowed, ", "))
}

func (e *StageRegressionError) Unwrap() error { return ErrConflict }

// SnapshotAlreadyExistsError reports a label that is already taken.
type SnapshotAlreadyExistsError struct {
	Label string
	Path  string
}

func (e *SnapshotAlreadyExistsError) Error() string {
	return fmt.Sprintf("snapshot already exists: %s (%s)", e.Label, e.Path)
}

func (e *SnapshotAlreadyExistsError) Unwrap() []error {
	return []error{ErrConflict, ErrAlreadyExists}
}

// PipelineConfigError reports a malformed pipeline definition.
type PipelineConfigError struct {
	Pipeline string
	Step     int // -1 when the problem is not tied to a step
	Reason   string
}

func (e *PipelineConfigError) Error() string {
	switch {
	case e.Pipeline == "":
		return "invalid pipeline config: " + e.Reason
	case e.Step < 0:
		return fmt.Sprintf("invalid pipeline config: pipeline %q %s", e.Pipeline, e.Reason)
	default:
		return fmt.Sprintf("invalid pipeline config: pipeline %q step %d %s", e.Pipeline, e.Step, e.Reason)
	}
}

func (e *PipelineConfigError) Unwrap() error { return ErrConfiguration }

// PipelineNotFoundError reports a pipeline name absent from the configuration.
type PipelineNotFoundError struct {
	Requested string
	Available []string
}

func (e *PipelineNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("pipeline %q not found", e.Requested)
	}
	return fmt.Sprintf("pipeline %q not found; available: %s", e.Requested, strings.Join(e.Available, ", "))
}

func (e *PipelineNotFoundError) Unwrap() []error {
	return []error{ErrNotFound, ErrConfiguration}
}

// SourceNotFoundError reports a source directory without its text file.
type SourceNotFoundError struct {
	Path string
}

func (e *SourceNotFoundError) Error() string {
	return "source text not found: " + e.Path
}

func (e *SourceNotFoundError) Unwrap() error { return ErrNotFound }

// MissingPriorStepOutputError reports a latexmk step with nothing to typeset.
type MissingPriorStepOutputError struct {
	Step string
	Path string
}

func (e *MissingPriorStepOutputError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s step: prior output missing: %s", e.Step, e.Path)
	}
	return fmt.Sprintf("%s step requires prior pandoc output (and vlna output, if configured)", e.Step)
}

func (e *MissingPriorStepOutputError) Unwrap() error { return ErrValidation }

// ExecutableNotFoundError reports a required tool missing from PATH.
type ExecutableNotFoundError struct {
	Name string
}

func (e *ExecutableNotFoundError) Error() string {
	return fmt.Sprintf("required executable not found: %s; install it and ensure it is on PATH", e.Name)
}

func (e *ExecutableNotFoundError) Unwrap() error { return ErrNotFound }

// ExternalToolError reports a non-zero exit (or timeout) of an external tool.
type ExternalToolError struct {
	Tool     string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s failed with code %d", e.Tool, e.ExitCode)
	if e.Err != nil && e.ExitCode < 0 {
		msg = fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ":\n" + out
	}
	return msg
}

func (e *ExternalToolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrExternalTool, e.Err}
	}
	return []error{ErrExternalTool}
}

// VersionControlOperationError reports a failed add, commit or tag.
type VersionControlOperationError struct {
	Operation string
	Err       error
}

func (e *VersionControlOperationError) Error() string {
	return fmt.Sprintf("git %s failed: %v", e.Operation, e.Err)
}

func (e *VersionControlOperationError) Unwrap() []error {
	return []error{ErrExternalTool, e.Err}
}

// RepoConfigNotFoundError reports that no .mcodex/config.yaml exists above
// the start path.
type RepoConfigNotFoundError struct {
	Start string
}

func (e *RepoConfigNotFoundError) Error() string {
	return fmt.Sprintf("no .mcodex/config.yaml found above %s; run `mcodex init` first", e.Start)
}

func (e *RepoConfigNotFoundError) Unwrap() error { return ErrNotFound }

// Validation builds a plain validation failure.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Configuration builds a plain configuration failure.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

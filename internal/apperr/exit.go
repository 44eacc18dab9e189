package apperr

import (
	"context"
	"errors"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitDomain    = 2
	ExitInterrupt = 130
)

// IsDomain reports whether err belongs to the mcodex taxonomy.
func IsDomain(err error) bool {
	for _, kind := range []error{
		ErrValidation, ErrNotFound, ErrConflict, ErrAlreadyExists,
		ErrExternalTool, ErrConfiguration,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupt
	case IsDomain(err):
		return ExitDomain
	default:
		return ExitFailure
	}
}

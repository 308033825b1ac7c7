package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/nimbusfs/pkg/location"
	"github.com/3leaps/nimbusfs/pkg/match"
	"github.com/3leaps/nimbusfs/pkg/provider"
	"github.com/3leaps/nimbusfs/pkg/stream"
	"github.com/3leaps/nimbusfs/pkg/transfer"
)

// cliError carries the process exit code for a failed command.
type cliError struct {
	Code    int
	Message string
	Err     error
}

func (e *cliError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *cliError) Unwrap() error {
	return e.Err
}

func exitError(code int, message string, err error) error {
	return &cliError{Code: code, Message: message, Err: err}
}

// ExitCode returns the process exit code for an error returned by Execute.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return foundry.ExitInvalidArgument
}

// operationExitCode picks the exit code for a failed operation.
func operationExitCode(err error) int {
	var sizeErr *stream.SizeMismatchError
	switch {
	case errors.Is(err, transfer.ErrCancelled), errors.Is(err, context.Canceled):
		return foundry.ExitSignalInt
	case provider.IsNotFound(err):
		return foundry.ExitFileNotFound
	case errors.Is(err, location.ErrInvalidURI),
		errors.Is(err, location.ErrUnsupportedScheme),
		errors.Is(err, location.ErrMissingHost),
		errors.Is(err, transfer.ErrRecursiveRequired),
		errors.Is(err, transfer.ErrRootDelete),
		errors.Is(err, transfer.ErrSameFile),
		errors.Is(err, transfer.ErrNestedDestination),
		errors.Is(err, provider.ErrNotEmpty),
		errors.Is(err, match.ErrInvalidSize),
		errors.Is(err, match.ErrInvalidDate),
		errors.Is(err, match.ErrInvalidRegex),
		errors.As(err, &sizeErr),
		provider.IsAlreadyExists(err):
		return foundry.ExitInvalidArgument
	default:
		return foundry.ExitExternalServiceUnavailable
	}
}

package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/nimbusfs/pkg/output"
	"github.com/3leaps/nimbusfs/pkg/provider"
)

var (
	// ErrCancelled marks an item stopped by host or context cancellation,
	// including items that never started because the operation was stopped.
	ErrCancelled = errors.New("cancelled")

	// ErrRecursiveRequired is returned for a directory source when
	// Options.Recursive is off.
	ErrRecursiveRequired = fmt.Errorf("source is a directory and recursive is not set: %w", provider.ErrUnsupported)

	// ErrRootDelete is returned when asked to delete an endpoint root.
	ErrRootDelete = errors.New("refusing to delete endpoint root")

	// ErrSameFile is returned when a copy names the same file on both sides.
	ErrSameFile = errors.New("source and destination are the same")

	// ErrNestedDestination is returned when a directory would be copied or
	// moved into itself.
	ErrNestedDestination = errors.New("destination is inside the source directory")

	// ErrCrossEndpointRename is returned when a rename spans two endpoints.
	ErrCrossEndpointRename = fmt.Errorf("rename across endpoints: %w", provider.ErrUnsupported)
)

// SizeMismatchError indicates the source size changed between the stat that
// planned the transfer and the bytes actually relayed.
//
// It does not eliminate TOCTOU races.
type SizeMismatchError struct {
	Path     string
	Expected int64
	Got      int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("source size mismatch for %s: expected=%d got=%d", e.Path, e.Expected, e.Got)
}

// ErrorCode maps err onto an output error code.
func ErrorCode(err error) string {
	var sizeErr *SizeMismatchError
	switch {
	case errors.Is(err, ErrCancelled):
		return output.ErrCodeCancelled
	case provider.IsNotFound(err):
		return output.ErrCodeNotFound
	case provider.IsAlreadyExists(err):
		return output.ErrCodeAlreadyExists
	case provider.IsAccessDenied(err), errors.Is(err, ErrRootDelete):
		return output.ErrCodeAccessDenied
	case provider.IsInvalidCredentials(err):
		return output.ErrCodeInvalidCredentials
	case provider.IsThrottled(err):
		return output.ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		return output.ErrCodeProviderUnavailable
	case provider.IsUnsupported(err), errors.Is(err, ErrRecursiveRequired),
		errors.Is(err, provider.ErrNotEmpty),
		errors.Is(err, ErrSameFile), errors.Is(err, ErrNestedDestination):
		return output.ErrCodeUnsupported
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return output.ErrCodeTimeout
	case errors.As(err, &sizeErr):
		// The source changed under us; report it like a stale listing.
		return output.ErrCodeNotFound
	default:
		return output.ErrCodeInternal
	}
}

package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	// ErrNotFound indicates the requested file or directory does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the destination exists (or exists with the wrong type).
	ErrAlreadyExists = errors.New("already exists")

	// ErrIsDirectory indicates a file operation targeted a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotEmpty indicates a directory still has children.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrUnsupported indicates the backend lacks the requested capability.
	ErrUnsupported = errors.New("operation not supported")

	// ErrAborted indicates the progress callback vetoed continuation.
	ErrAborted = errors.New("transfer aborted")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProviderUnavailable indicates the backend service is unavailable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrThrottled indicates the request was rate limited by the backend.
	ErrThrottled = errors.New("request throttled")
)

// ProviderError wraps provider-specific errors with context.
type ProviderError struct {
	// Op is the operation that failed (e.g., "Download", "Stat").
	Op string

	// Provider is the provider type (e.g., "s3").
	Provider ProviderType

	// Path is the path the operation targeted, if applicable.
	Path string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	prefix := e.Op
	if e.Provider != "" {
		prefix = fmt.Sprintf("%s %s", e.Provider, e.Op)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates nothing exists at the path.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists returns true if the error indicates a conflicting destination.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsDirectory returns true if the error indicates a directory where a file was expected.
func IsDirectory(err error) bool {
	return errors.Is(err, ErrIsDirectory)
}

// IsUnsupported returns true if the error indicates a missing capability.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// IsAborted returns true if the error indicates a callback veto.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsProviderUnavailable returns true if the error indicates the backend is unavailable.
func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

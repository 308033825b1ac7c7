// Package provider defines the transfer primitive that every remote backend
// implements.
//
// A Provider performs exactly one blocking network operation per call:
// a ranged download into a byte sink, an upload from a byte source, a
// metadata lookup, or a single directory listing. Providers know nothing
// about batching, concurrency limits, or progress aggregation; those live in
// the scheduler and transfer packages.
package provider

import (
	"context"
	"io"
	"time"
)

// ProgressFunc is invoked periodically while a transfer runs.
//
// total is the expected number of bytes for the call (-1 if unknown) and done
// is the number of bytes moved so far by this call. Returning false vetoes
// continuation: the provider aborts the transfer and returns ErrAborted.
type ProgressFunc func(total, done int64) bool

// Provider abstracts a remote filesystem-like backend.
//
// Implementations should:
//   - Treat paths as slash-separated and relative to the endpoint root
//   - Call the progress callback at least once per chunk moved
//   - Be safe for concurrent use
type Provider interface {
	// Stat returns metadata for a single file or directory.
	// Returns ErrNotFound if nothing exists at path.
	Stat(ctx context.Context, path string) (*Entry, error)

	// List returns the immediate children of dir, ordered by name.
	List(ctx context.Context, dir string) ([]Entry, error)

	// Download streams the content of path, starting at offset, into w.
	// It returns the number of bytes written to w.
	Download(ctx context.Context, path string, offset int64, w io.Writer, progress ProgressFunc) (int64, error)

	// Upload replaces the content of path with everything read from r.
	// size is the expected length, or -1 when unknown.
	Upload(ctx context.Context, path string, r io.Reader, size int64, progress ProgressFunc) (int64, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Entry describes one file or directory.
type Entry struct {
	// Name is the final path element.
	Name string

	// IsDir reports whether the entry is a directory (or directory-like prefix).
	IsDir bool

	// Size is the content length in bytes. Zero for directories.
	Size int64

	// ModTime is the last modification time, if the backend reports one.
	ModTime time.Time
}

// TempPrefix marks in-progress uploads. Providers write to a sibling with this
// prefix, swap it into place on success, and omit such names from listings.
const TempPrefix = ".nimbusfs-put-"

// ProviderType identifies a backend implementation.
type ProviderType string

const (
	// ProviderFile represents the local filesystem.
	ProviderFile ProviderType = "file"

	// ProviderMem represents an in-process memory filesystem.
	ProviderMem ProviderType = "mem"

	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"

	// ProviderSFTP represents an SSH file transfer server.
	ProviderSFTP ProviderType = "sftp"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

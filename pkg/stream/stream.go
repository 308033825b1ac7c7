// Package stream bridges the callback-driven provider transfers into blocking
// io.Reader / io.Writer streams.
//
// Each open stream owns a fixed-size ring buffer and one background goroutine
// that runs provider transfers on its behalf. Reader supports random access:
// Seek bumps a generation counter, which aborts the in-flight download and
// discards everything buffered under the old position. Writer is sequential
// and performs a single upload for its whole lifetime.
package stream

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultBufferSize is the ring capacity of a stream.
const DefaultBufferSize = 1 << 20 // 1 MiB

var (
	// ErrClosed is returned by operations on a closed stream.
	ErrClosed = errors.New("stream closed")

	// ErrNegativePosition is returned by Seek when the result would be before
	// the start of the stream.
	ErrNegativePosition = errors.New("negative position")

	// ErrInvalidWhence is returned by Seek for an unknown origin.
	ErrInvalidWhence = errors.New("invalid whence")

	// ErrUploadEnded is returned by Write when the upload finished before all
	// input was accepted.
	ErrUploadEnded = errors.New("upload ended before end of input")

	// errStale aborts a download whose generation was superseded by Seek.
	errStale = errors.New("stale generation")
)

// SizeMismatchError is latched by a Writer whose input does not match the
// size declared with WithSize. The upload is discarded.
type SizeMismatchError struct {
	Path     string
	Expected int64
	Got      int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("upload size mismatch for %s: declared=%d got=%d", e.Path, e.Expected, e.Got)
}

type options struct {
	bufferSize int
	size       int64
	logger     *zap.Logger
}

// Option configures a stream.
type Option func(*options)

// WithBufferSize sets the ring capacity in bytes.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithSize declares the exact upload length for a Writer. Writing more, or
// committing fewer, bytes fails the stream. The default is -1 (unknown).
func WithSize(n int64) Option {
	return func(o *options) {
		o.size = n
	}
}

// WithLogger sets the stream logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		bufferSize: DefaultBufferSize,
		size:       -1,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

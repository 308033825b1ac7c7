package provider

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// DefaultChunkSize is the copy granularity used by Pump.
const DefaultChunkSize = 64 << 10 // 64 KiB

// PumpOptions configures a Pump call.
type PumpOptions struct {
	// Total is the expected byte count reported to Progress (-1 if unknown).
	Total int64

	// Progress is invoked after every chunk; returning false aborts.
	Progress ProgressFunc

	// Limiter shapes bandwidth when non-nil. Chunks never exceed its burst.
	Limiter *rate.Limiter

	// ChunkSize overrides DefaultChunkSize.
	ChunkSize int
}

// NewLimiter returns a byte-rate limiter for bytesPerSecond, or nil when the
// rate is unlimited (<= 0).
func NewLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := bytesPerSecond
	if burst > DefaultChunkSize {
		burst = DefaultChunkSize
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst))
}

// Pump copies src to dst chunk by chunk, reporting cumulative progress.
//
// It is the single copy loop every backend uses for Download and Upload, so
// cancellation, bandwidth shaping, and progress vetoes behave identically
// across transports. A vetoed transfer returns ErrAborted; a cancelled
// context returns ctx.Err().
func Pump(ctx context.Context, dst io.Writer, src io.Reader, opts PumpOptions) (int64, error) {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	if opts.Limiter != nil && chunk > opts.Limiter.Burst() {
		chunk = opts.Limiter.Burst()
	}

	if opts.Progress != nil && !opts.Progress(opts.Total, 0) {
		return 0, ErrAborted
	}

	buf := make([]byte, chunk)
	var done int64
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if opts.Limiter != nil {
				if err := opts.Limiter.WaitN(ctx, n); err != nil {
					return done, err
				}
			}
			written, writeErr := dst.Write(buf[:n])
			done += int64(written)
			if writeErr != nil {
				return done, writeErr
			}
			if written < n {
				return done, io.ErrShortWrite
			}
			if opts.Progress != nil && !opts.Progress(opts.Total, done) {
				return done, ErrAborted
			}
		}
		if readErr == io.EOF {
			return done, nil
		}
		if readErr != nil {
			return done, readErr
		}
	}
}

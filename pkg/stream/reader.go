package stream

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/satmath"
	"github.com/3leaps/nimbusfs/pkg/provider"
)

// Reader is a seekable read stream over a provider file.
//
// Reader is safe for use by one foreground goroutine at a time; Close may be
// called from any goroutine.
type Reader struct {
	id     string
	p      provider.Provider
	path   string
	size   int64
	logger *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	buf    *ring
	gen    uint64
	pos    int64 // position of the next byte returned by Read
	err    error
	eof    bool
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

var _ io.ReadSeekCloser = (*Reader)(nil)

// OpenReader stats path and starts the background download at offset 0.
// ctx bounds the lifetime of every transfer the stream performs.
func OpenReader(ctx context.Context, p provider.Provider, path string, opts ...Option) (*Reader, error) {
	o := buildOptions(opts)

	entry, err := p.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if entry.IsDir {
		return nil, &provider.ProviderError{Op: "OpenReader", Path: path, Err: provider.ErrIsDirectory}
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &Reader{
		id:     uuid.NewString(),
		p:      p,
		path:   path,
		size:   entry.Size,
		buf:    newRing(o.bufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.logger = o.logger.With(zap.String("stream_id", r.id), zap.String("path", path))
	r.cond = sync.NewCond(&r.mu)

	go r.run(ctx)
	r.logger.Debug("Opened read stream", zap.Int64("size", r.size))
	return r, nil
}

// ID returns the stream identifier used in logs.
func (r *Reader) ID() string { return r.id }

// Size returns the file size observed when the stream was opened.
func (r *Reader) Size() int64 { return r.size }

// Position returns the offset of the next byte Read will return.
func (r *Reader) Position() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

// Read blocks until buffered data, end of stream, or an error is available.
// A transfer error is latched and returned by every later Read until the
// next Seek.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.buf.len() == 0 && r.err == nil && !r.eof && !r.closed {
		r.cond.Wait()
	}
	if r.closed {
		return 0, ErrClosed
	}
	if r.buf.len() > 0 {
		n := r.buf.read(p)
		r.pos = satmath.Add(r.pos, int64(n))
		r.cond.Broadcast()
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}
	return 0, io.EOF
}

// Seek sets the position of the next Read. Seeking to a new position aborts
// the in-flight download and drops buffered bytes; the background goroutine
// restarts the transfer at the new offset. Seeking past the end is allowed and
// reads as end of stream.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = r.pos
	case io.SeekEnd:
		base = r.size
	default:
		return r.pos, fmt.Errorf("seek: %w", ErrInvalidWhence)
	}

	abs, err := satmath.AddChecked(base, offset)
	if err != nil {
		return r.pos, fmt.Errorf("seek: %w", err)
	}
	if abs < 0 {
		return r.pos, fmt.Errorf("seek: %w", ErrNegativePosition)
	}
	if abs == r.pos {
		return abs, nil
	}

	r.gen++
	r.pos = abs
	r.buf.reset()
	r.eof = false
	r.err = nil
	r.cond.Broadcast()
	return abs, nil
}

// Close stops the background transfer and waits for it to exit.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()

	r.cancel()
	<-r.done
	r.logger.Debug("Closed read stream")
	return nil
}

func (r *Reader) run(ctx context.Context) {
	defer close(r.done)

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		gen := r.gen
		start := satmath.Add(r.pos, int64(r.buf.len()))
		r.mu.Unlock()

		var err error
		if start < r.size {
			sink := &readSink{r: r, gen: gen}
			_, err = r.p.Download(ctx, r.path, start, sink, func(_, _ int64) bool {
				return r.current(gen)
			})
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		if r.gen == gen {
			if err != nil {
				r.err = err
				r.logger.Debug("Read stream transfer failed", zap.Int64("offset", start), zap.Error(err))
			} else {
				r.eof = true
			}
			r.cond.Broadcast()
			for r.gen == gen && !r.closed {
				r.cond.Wait()
			}
		} else {
			r.logger.Debug("Restarting read stream after seek", zap.Int64("abandoned_offset", start))
		}
		r.mu.Unlock()
	}
}

func (r *Reader) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen == gen && !r.closed
}

// readSink receives downloaded bytes for one generation.
type readSink struct {
	r   *Reader
	gen uint64
}

func (s *readSink) Write(p []byte) (int, error) {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()

	written := 0
	for len(p) > 0 {
		for r.buf.free() == 0 && r.gen == s.gen && !r.closed {
			r.cond.Wait()
		}
		if r.closed {
			return written, ErrClosed
		}
		if r.gen != s.gen {
			return written, errStale
		}
		n := r.buf.write(p)
		p = p[n:]
		written += n
		r.cond.Broadcast()
	}
	return written, nil
}

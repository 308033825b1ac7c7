package stream

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/satmath"
	"github.com/3leaps/nimbusfs/pkg/provider"
)

// Writer is a sequential write stream into a provider file.
//
// A single background upload consumes the ring buffer for the lifetime of the
// stream; the file becomes visible once Commit returns nil.
type Writer struct {
	id     string
	p      provider.Provider
	path   string
	size   int64
	logger *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	buf      *ring
	pos      int64 // bytes accepted from Write
	eoi      bool  // no more input
	aborted  bool
	finished bool
	err      error

	commitOnce sync.Once
	commitErr  error

	cancel context.CancelFunc
	done   chan struct{}
}

var _ io.WriteCloser = (*Writer)(nil)

// OpenWriter starts the background upload of path. Use WithSize when the
// final length is known in advance.
func OpenWriter(ctx context.Context, p provider.Provider, path string, opts ...Option) (*Writer, error) {
	o := buildOptions(opts)

	ctx, cancel := context.WithCancel(ctx)
	w := &Writer{
		id:     uuid.NewString(),
		p:      p,
		path:   path,
		size:   o.size,
		buf:    newRing(o.bufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	w.logger = o.logger.With(zap.String("stream_id", w.id), zap.String("path", path))
	w.cond = sync.NewCond(&w.mu)

	go w.run(ctx)
	w.logger.Debug("Opened write stream", zap.Int64("size", w.size))
	return w, nil
}

// ID returns the stream identifier used in logs.
func (w *Writer) ID() string { return w.id }

// Position returns the number of bytes accepted so far.
func (w *Writer) Position() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos
}

// Write blocks until all of p is buffered or the upload fails. Upload errors
// are latched and returned by every later Write.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.eoi {
		return 0, ErrClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	if end := satmath.Add(w.pos, int64(len(p))); w.size >= 0 && end > w.size {
		w.failLocked(&SizeMismatchError{Path: w.path, Expected: w.size, Got: end})
		return 0, w.err
	}

	written := 0
	for len(p) > 0 {
		for w.buf.free() == 0 && w.err == nil && !w.finished {
			w.cond.Wait()
		}
		if w.err != nil {
			return written, w.err
		}
		if w.finished {
			return written, ErrUploadEnded
		}
		n := w.buf.write(p)
		p = p[n:]
		written += n
		w.pos = satmath.Add(w.pos, int64(n))
		w.cond.Broadcast()
	}
	return written, nil
}

// Commit signals end of input, waits for the upload to finish, and returns
// its result. Repeated calls return the same result without uploading again.
func (w *Writer) Commit() error {
	w.commitOnce.Do(func() {
		w.mu.Lock()
		w.eoi = true
		w.cond.Broadcast()
		w.mu.Unlock()

		<-w.done
		w.cancel()

		w.mu.Lock()
		w.commitErr = w.err
		w.mu.Unlock()

		if w.commitErr != nil {
			w.logger.Debug("Write stream commit failed", zap.Error(w.commitErr))
			return
		}
		w.logger.Debug("Committed write stream", zap.Int64("bytes", w.Position()))
	})
	return w.commitErr
}

// Abort cancels the upload. A later Commit or Close reports ErrAborted.
// Aborting a committed stream has no effect.
func (w *Writer) Abort() {
	w.mu.Lock()
	if !w.finished {
		w.aborted = true
		if w.err == nil {
			w.err = provider.ErrAborted
		}
		w.cond.Broadcast()
	}
	w.mu.Unlock()

	w.cancel()
	<-w.done
}

// failLocked latches err and stops the upload from reading further, so the
// provider discards what it received.
func (w *Writer) failLocked(err error) {
	if w.err == nil {
		w.err = err
	}
	if !w.finished {
		w.aborted = true
	}
	w.cond.Broadcast()
}

// Close commits the stream if it has not been committed yet.
func (w *Writer) Close() error {
	return w.Commit()
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)

	n, err := w.p.Upload(ctx, w.path, writeSource{w}, w.size, nil)

	w.mu.Lock()
	w.finished = true
	if err != nil && w.err == nil {
		w.err = err
	}
	// A sized upload may stop reading once it has everything it expects.
	if w.err == nil && !w.eoi && (w.size < 0 || n < w.size) {
		w.err = ErrUploadEnded
	}
	stored := false
	if w.err == nil && w.eoi && w.size >= 0 && n != w.size {
		w.err = &SizeMismatchError{Path: w.path, Expected: w.size, Got: n}
		stored = true
	}
	w.cond.Broadcast()
	w.mu.Unlock()

	if stored {
		if rmErr := provider.Remove(ctx, w.p, w.path); rmErr != nil && !provider.IsNotFound(rmErr) {
			w.logger.Warn("Failed to remove upload of wrong size", zap.Error(rmErr))
		}
	}
}

// writeSource feeds the upload from the ring buffer.
type writeSource struct {
	w *Writer
}

func (s writeSource) Read(p []byte) (int, error) {
	w := s.w
	if len(p) == 0 {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for w.buf.len() == 0 && !w.eoi && !w.aborted {
		w.cond.Wait()
	}
	if w.aborted {
		return 0, provider.ErrAborted
	}
	if w.buf.len() > 0 {
		n := w.buf.read(p)
		w.cond.Broadcast()
		return n, nil
	}
	if w.size >= 0 && w.pos != w.size {
		if w.err == nil {
			w.err = &SizeMismatchError{Path: w.path, Expected: w.size, Got: w.pos}
		}
		return 0, w.err
	}
	return 0, io.EOF
}

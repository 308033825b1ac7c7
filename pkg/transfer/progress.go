package transfer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/3leaps/nimbusfs/internal/satmath"
	"github.com/3leaps/nimbusfs/pkg/provider"
)

// tracker aggregates progress for one operation and owns its stop flags.
//
// Byte counters are updated lock-free from every worker. Host callbacks are
// serialized under mu.
type tracker struct {
	ctx   context.Context
	op    Op
	host  Host
	items int

	totalBytes satmath.Counter
	doneBytes  satmath.Counter

	// cancel latches host or context cancellation. halt stops dispatching
	// new items after a failure.
	cancel atomic.Bool
	halt   atomic.Bool

	// closed drops host callbacks once the operation has returned.
	closed atomic.Bool

	mu        sync.Mutex
	doneItems int
}

func newTracker(ctx context.Context, op Op, host Host, items int) *tracker {
	if host == nil {
		host = NopHost{}
	}
	return &tracker{ctx: ctx, op: op, host: host, items: items}
}

// cancelled polls the host and the context. Once observed, cancellation
// sticks for the rest of the operation.
func (t *tracker) cancelled() bool {
	if t.cancel.Load() || t.closed.Load() {
		return true
	}
	if t.ctx.Err() != nil || t.host.ShouldCancel() {
		t.cancel.Store(true)
		return true
	}
	return false
}

// stopped reports whether new items should be skipped.
func (t *tracker) stopped() bool {
	return t.halt.Load() || t.cancelled()
}

func (t *tracker) stop() {
	t.halt.Store(true)
}

// close ends host notifications. Work still running afterwards sees the
// operation as cancelled.
func (t *tracker) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed.Store(true)
}

// settle applies cancellation precedence: once cancellation is observed,
// any failure is reported as ErrCancelled.
func (t *tracker) settle(err error) error {
	if err == nil {
		return nil
	}
	if isCancelled(err) {
		return err
	}
	if t.cancelled() || errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return err
}

func (t *tracker) addTotal(units int64) {
	t.totalBytes.Add(units)
}

func (t *tracker) complete(c ItemCompletion) {
	c.Op = t.op
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return
	}
	if !c.Nested {
		t.doneItems++
	}
	t.host.OnItemCompleted(c)
}

func (t *tracker) report(f *fileProgress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return
	}
	t.host.OnProgress(Progress{
		Op:         t.op,
		TotalItems: t.items,
		DoneItems:  t.doneItems,
		TotalBytes: t.totalBytes.Load(),
		DoneBytes:  t.doneBytes.Load(),
		CurrentSrc: f.src,
		CurrentDst: f.dst,
		ItemTotal:  f.total,
		ItemDone:   f.done,
		StreamID:   f.stream,
	})
}

// fileProgress tracks one file transfer. Its callbacks run on a single
// goroutine at a time, so only the shared counters need synchronizing.
type fileProgress struct {
	t      *tracker
	src    string
	dst    string
	total  int64
	done   int64
	stream int
}

// file starts tracking a transfer of total units. When counted is false the
// units were not yet part of the operation total and are added now.
func (t *tracker) file(src, dst string, total int64, stream int, counted bool) *fileProgress {
	if !counted {
		t.addTotal(total)
	}
	return &fileProgress{t: t, src: src, dst: dst, total: total, stream: stream}
}

// phase returns a provider callback whose byte counts start at base units.
// The callback vetoes the transfer once cancellation is observed.
func (f *fileProgress) phase(base int64) provider.ProgressFunc {
	return func(_, done int64) bool {
		f.advance(satmath.Add(base, done))
		return !f.t.cancelled()
	}
}

func (f *fileProgress) advance(units int64) {
	if units > f.done {
		f.t.doneBytes.Add(units - f.done)
		f.done = units
	}
	if f.done > f.total {
		// The source grew after it was planned.
		f.t.addTotal(f.done - f.total)
		f.total = f.done
	}
	f.t.report(f)
}

// finish credits any units the provider did not report.
func (f *fileProgress) finish() {
	f.advance(f.total)
}

func isCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

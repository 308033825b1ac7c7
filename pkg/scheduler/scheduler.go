// Package scheduler runs indexed batches of work on a small worker pool shared
// by every batch in the process.
//
// A Job is a range of indices [0, total) plus a work function and a per-job
// concurrency cap. Workers claim indices round-robin across all active jobs,
// so one large job cannot starve a small one, and no job ever has more than
// its cap executing at once.
package scheduler

import (
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// MaxWorkers is the upper bound on the automatically sized pool.
const MaxWorkers = 4

// WorkFunc processes one index of a job. workerID identifies the executing
// worker (1..N), or 0 when the job runs synchronously on the caller.
//
// WorkFunc must report failures through its own side channel; the scheduler
// only counts completions.
type WorkFunc func(index, workerID int)

// Job is one submitted batch.
type Job struct {
	fn       WorkFunc
	total    int
	maxConc  int
	next     int
	inFlight int

	// finished is guarded by the pool lock; done is closed exactly once.
	finished bool
	done     chan struct{}
}

// Wait blocks until every index of the job has been processed, or until the
// pool is shut down.
func (j *Job) Wait() {
	<-j.done
}

// Done returns a channel that is closed when the job completes.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Total returns the number of indices in the job.
func (j *Job) Total() int {
	return j.total
}

// MaxConcurrency returns the effective concurrency cap.
func (j *Job) MaxConcurrency() int {
	return j.maxConc
}

func (j *Job) schedulable() bool {
	return j.inFlight < j.maxConc && j.next < j.total
}

func (j *Job) complete() bool {
	return j.next >= j.total && j.inFlight == 0
}

// markDone must be called with the pool lock held (or before the job is shared).
func (j *Job) markDone() {
	if j.finished {
		return
	}
	j.finished = true
	close(j.done)
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers fixes the worker count instead of deriving it from the CPU count.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithLogger sets the logger used for worker lifecycle and recovered panics.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pool is the shared worker pool.
//
// Workers are started lazily on the first StartJob. A nil *Pool, or one that
// has been shut down, runs submitted jobs synchronously on the caller so that
// work is never lost.
type Pool struct {
	size   int
	logger *zap.Logger

	startOnce sync.Once
	wg        sync.WaitGroup

	mu       sync.Mutex
	cond     *sync.Cond
	jobs     []*Job
	cursor   int
	shutdown bool
}

// New creates a pool. Size defaults to clamp(runtime.NumCPU(), 1, MaxWorkers).
func New(opts ...Option) *Pool {
	p := &Pool{
		size:   clamp(runtime.NumCPU(), 1, MaxWorkers),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Size returns the number of workers the pool runs.
func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return p.size
}

// StartJob submits a job of total indices with the given concurrency cap,
// clamped to [1, total], and returns its handle.
func (p *Pool) StartJob(maxConcurrency, total int, fn WorkFunc) *Job {
	if total < 0 {
		total = 0
	}
	j := &Job{
		fn:      fn,
		total:   total,
		maxConc: clamp(maxConcurrency, 1, max(total, 1)),
		done:    make(chan struct{}),
	}
	if total == 0 {
		j.markDone()
		return j
	}

	if p == nil {
		p.runSync(j)
		return j
	}

	p.startOnce.Do(p.start)

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		p.runSync(j)
		return j
	}
	p.jobs = append(p.jobs, j)
	p.cond.Broadcast()
	p.mu.Unlock()
	return j
}

// WaitJob blocks until j completes. It is equivalent to j.Wait.
func (p *Pool) WaitJob(j *Job) {
	j.Wait()
}

// Shutdown stops all workers and force-completes every pending job so that
// blocked waiters are released. Workers finish the index they are executing
// before exiting. Shutdown is idempotent.
func (p *Pool) Shutdown() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	pending := len(p.jobs)
	for _, j := range p.jobs {
		j.markDone()
	}
	p.jobs = nil
	p.cursor = 0
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug("Scheduler pool stopped", zap.Int("pending_jobs", pending))
}

func (p *Pool) start() {
	p.logger.Debug("Starting scheduler pool", zap.Int("workers", p.size))
	for i := 1; i <= p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.mu.Lock()
	for {
		p.sweepLocked()
		for !p.shutdown && !p.hasWorkLocked() {
			p.cond.Wait()
			p.sweepLocked()
		}
		if p.shutdown {
			p.mu.Unlock()
			return
		}

		j, index := p.claimLocked()
		p.mu.Unlock()

		p.execute(j, index, id)

		p.mu.Lock()
		j.inFlight--
		// The freed slot may make this job schedulable for an idle worker.
		p.cond.Broadcast()
	}
}

func (p *Pool) execute(j *Job, index, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			p.log().Error("Recovered panic in scheduled work",
				zap.Int("index", index),
				zap.Int("worker", workerID),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	j.fn(index, workerID)
}

func (p *Pool) hasWorkLocked() bool {
	for _, j := range p.jobs {
		if j.schedulable() {
			return true
		}
	}
	return false
}

// claimLocked scans the job list once, starting at the shared cursor, and
// claims the next index of the first schedulable job. The caller guarantees
// that at least one job is schedulable.
func (p *Pool) claimLocked() (*Job, int) {
	n := len(p.jobs)
	if p.cursor >= n {
		p.cursor = 0
	}
	for i := 0; i < n; i++ {
		pos := (p.cursor + i) % n
		j := p.jobs[pos]
		if !j.schedulable() {
			continue
		}
		index := j.next
		j.next++
		j.inFlight++
		p.cursor = pos + 1
		return j, index
	}
	panic("scheduler: claim without schedulable job")
}

// sweepLocked marks finished jobs done and drops them from the list.
func (p *Pool) sweepLocked() {
	kept := p.jobs[:0]
	for i, j := range p.jobs {
		if j.complete() {
			j.markDone()
			if i < p.cursor {
				p.cursor--
			}
			continue
		}
		kept = append(kept, j)
	}
	for i := len(kept); i < len(p.jobs); i++ {
		p.jobs[i] = nil
	}
	p.jobs = kept
	if p.cursor < 0 {
		p.cursor = 0
	}
}

// log tolerates a nil pool, which runs jobs synchronously.
func (p *Pool) log() *zap.Logger {
	if p == nil || p.logger == nil {
		return zap.NewNop()
	}
	return p.logger
}

// runSync runs every index on the caller. p may be nil.
func (p *Pool) runSync(j *Job) {
	for i := 0; i < j.total; i++ {
		p.execute(j, i, 0)
	}
	j.next = j.total
	j.markDone()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package transfer orchestrates copy, move, rename, and delete operations
// across provider endpoints.
//
// An Engine resolves locations, walks directory trees, picks a relay
// strategy per file, and runs batches on a shared scheduler pool. Progress
// and per-item outcomes are reported to a Host.
package transfer

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/satmath"
	"github.com/3leaps/nimbusfs/pkg/location"
	"github.com/3leaps/nimbusfs/pkg/match"
	"github.com/3leaps/nimbusfs/pkg/provider"
	"github.com/3leaps/nimbusfs/pkg/scheduler"
)

// DefaultBatchConcurrency bounds how many items of one batch run at once.
const DefaultBatchConcurrency = 4

// Resolver maps a location string to an endpoint and the path inside it.
// *location.Registry implements Resolver.
type Resolver interface {
	Resolve(ctx context.Context, uri string) (*location.Endpoint, string, error)
}

// Config holds engine-wide settings.
type Config struct {
	// BatchConcurrency caps concurrent items per operation (default 4).
	BatchConcurrency int

	// TempDir holds relay files. Empty means os.TempDir().
	TempDir string

	// BufferSize is the ring capacity for OpenReader and OpenWriter
	// (0 = stream default).
	BufferSize int
}

// Options control a single operation.
type Options struct {
	// Recursive allows directory sources for copy and lets delete descend
	// into sub-directories. Move and rename of a directory are always
	// recursive.
	Recursive bool

	// Overwrite replaces existing destination files. Without it an
	// existing destination fails the item with provider.ErrAlreadyExists.
	Overwrite bool

	// ContinueOnError keeps dispatching items and walking trees after a
	// failure. Without it the first failure stops new work.
	ContinueOnError bool

	// Includes and Excludes are doublestar globs matched against paths
	// relative to each directory item. Excluded directories are not
	// descended into.
	Includes []string
	Excludes []string

	// SkipHidden drops dot-files and dot-directories during walks.
	SkipHidden bool

	// Filter restricts walked files by size, modification time, or path.
	Filter *match.FilterConfig

	// Host receives progress and completions. Nil means NopHost.
	Host Host
}

// Item is one source/destination pair. Dst is ignored for deletes.
type Item struct {
	Src string `json:"src" yaml:"src"`
	Dst string `json:"dst,omitempty" yaml:"dst,omitempty"`
}

// ItemResult is the outcome of one top-level item.
type ItemResult struct {
	Index int
	Src   string
	Dst   string
	Bytes int64
	Err   error
}

// BatchResult summarizes an operation.
type BatchResult struct {
	// Items holds one result per requested item, in request order.
	Items []ItemResult

	// Completed is the number of items that reached a terminal outcome.
	Completed int

	// Err is ErrCancelled if the operation was cancelled, otherwise the
	// first failure in request order, or nil.
	Err error
}

// Failed returns the number of items that did not succeed.
func (r *BatchResult) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Err != nil {
			n++
		}
	}
	return n
}

// Engine runs transfer operations. It is safe for concurrent use.
type Engine struct {
	resolver Resolver
	pool     *scheduler.Pool
	cfg      Config
	logger   *zap.Logger
}

// New creates an engine. A nil pool runs items on the caller's goroutine.
func New(resolver Resolver, pool *scheduler.Pool, cfg Config, logger *zap.Logger) *Engine {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = DefaultBatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{resolver: resolver, pool: pool, cfg: cfg, logger: logger}
}

// Copy copies src to dst.
func (e *Engine) Copy(ctx context.Context, src, dst string, opts Options) error {
	return e.run(ctx, OpCopy, []Item{{Src: src, Dst: dst}}, opts).Err
}

// Move moves src to dst. Within one endpoint it renames when the backend
// can; otherwise it copies and then deletes the source.
func (e *Engine) Move(ctx context.Context, src, dst string, opts Options) error {
	return e.run(ctx, OpMove, []Item{{Src: src, Dst: dst}}, opts).Err
}

// Rename renames src within its endpoint. A dst without a slash is taken as
// a new name in the same directory.
func (e *Engine) Rename(ctx context.Context, src, dst string, opts Options) error {
	return e.run(ctx, OpRename, []Item{{Src: src, Dst: dst}}, opts).Err
}

// Delete removes src. Directories are emptied bottom-up and then removed.
func (e *Engine) Delete(ctx context.Context, src string, opts Options) error {
	return e.run(ctx, OpDelete, []Item{{Src: src}}, opts).Err
}

// CopyItems copies every item, up to Config.BatchConcurrency at a time.
func (e *Engine) CopyItems(ctx context.Context, items []Item, opts Options) *BatchResult {
	return e.run(ctx, OpCopy, items, opts)
}

// MoveItems moves every item.
func (e *Engine) MoveItems(ctx context.Context, items []Item, opts Options) *BatchResult {
	return e.run(ctx, OpMove, items, opts)
}

// RenameItems renames every item.
func (e *Engine) RenameItems(ctx context.Context, items []Item, opts Options) *BatchResult {
	return e.run(ctx, OpRename, items, opts)
}

// DeleteItems deletes every item's Src.
func (e *Engine) DeleteItems(ctx context.Context, items []Item, opts Options) *BatchResult {
	return e.run(ctx, OpDelete, items, opts)
}

// Run dispatches to the batch method for op.
func (e *Engine) Run(ctx context.Context, op Op, items []Item, opts Options) (*BatchResult, error) {
	switch op {
	case OpCopy, OpMove, OpRename, OpDelete:
		return e.run(ctx, op, items, opts), nil
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
}

// task is a planned top-level item.
type task struct {
	index int
	src   side
	dst   side
	entry *provider.Entry
}

// side is one end of a transfer: an endpoint, a path inside it, and the
// location string used in reports.
type side struct {
	ep   *location.Endpoint
	path string
	uri  string
}

func (s side) child(name string) side {
	return side{ep: s.ep, path: path.Join(s.path, name), uri: strings.TrimSuffix(s.uri, "/") + "/" + name}
}

func (e *Engine) run(ctx context.Context, op Op, items []Item, opts Options) *BatchResult {
	t := newTracker(ctx, op, opts.Host, len(items))
	res := &BatchResult{Items: make([]ItemResult, len(items))}
	for i, it := range items {
		res.Items[i] = ItemResult{Index: i, Src: it.Src, Dst: it.Dst}
	}

	// Each item finishes once. After closed is set, late finishes from
	// work the pool abandoned are dropped.
	var mu sync.Mutex
	finished := make([]bool, len(items))
	closed := false
	finish := func(i int, bytes int64, err error) bool {
		mu.Lock()
		defer mu.Unlock()
		if closed || finished[i] {
			return false
		}
		finished[i] = true
		res.Items[i].Bytes = bytes
		res.Items[i].Err = err
		t.complete(ItemCompletion{Index: i, Src: items[i].Src, Dst: items[i].Dst, Bytes: bytes, Err: err})
		return true
	}
	defer t.close()

	sel, err := newSelector(opts)
	if err != nil {
		for i := range items {
			finish(i, 0, err)
		}
		return e.summarize(t, res)
	}

	var cache *listCache
	if len(items) > 1 {
		cache = newListCache()
	}

	// Plan sequentially so stats share parent listings.
	tasks := make([]*task, 0, len(items))
	for i, it := range items {
		if t.stopped() {
			finish(i, 0, ErrCancelled)
			continue
		}
		tk, done, err := e.plan(ctx, t, op, i, it, opts, cache)
		if err != nil {
			err = t.settle(err)
			finish(i, 0, err)
			if !isCancelled(err) && !opts.ContinueOnError {
				t.stop()
			}
			continue
		}
		if done {
			finish(i, 0, nil)
			continue
		}
		tasks = append(tasks, tk)
	}

	if len(tasks) > 0 {
		concurrency := min(e.cfg.BatchConcurrency, len(tasks))
		job := e.pool.StartJob(concurrency, len(tasks), func(n, workerID int) {
			tk := tasks[n]
			if t.stopped() {
				finish(tk.index, 0, ErrCancelled)
				return
			}
			x := &xfer{e: e, t: t, opts: opts, sel: sel, index: tk.index, stream: workerID}
			bytes, err := x.execute(ctx, op, tk)
			err = t.settle(err)
			if err != nil {
				e.logger.Debug("item failed",
					zap.String("op", string(op)),
					zap.Int("index", tk.index),
					zap.String("src", tk.src.uri),
					zap.Error(err))
				if !isCancelled(err) && !opts.ContinueOnError {
					t.stop()
				}
			}
			finish(tk.index, bytes, err)
		})
		e.logger.Debug("Dispatched batch",
			zap.String("op", string(op)),
			zap.Int("items", len(tasks)),
			zap.Int("concurrency", job.MaxConcurrency()))
		e.pool.WaitJob(job)

		// A shut-down pool releases the job before every item ran.
		abandoned := 0
		for _, tk := range tasks {
			if finish(tk.index, 0, ErrCancelled) {
				abandoned++
			}
		}
		if abandoned > 0 {
			e.logger.Warn("Scheduler released batch before all items finished",
				zap.String("op", string(op)),
				zap.Int("abandoned", abandoned))
			t.cancel.Store(true)
		}
	}

	mu.Lock()
	closed = true
	mu.Unlock()
	return e.summarize(t, res)
}

func (e *Engine) summarize(t *tracker, res *BatchResult) *BatchResult {
	t.mu.Lock()
	res.Completed = t.doneItems
	t.mu.Unlock()

	if t.cancel.Load() {
		res.Err = ErrCancelled
		return res
	}
	for _, it := range res.Items {
		if it.Err != nil && !isCancelled(it.Err) {
			res.Err = it.Err
			return res
		}
	}
	for _, it := range res.Items {
		if it.Err != nil {
			res.Err = it.Err
			return res
		}
	}
	return res
}

// plan resolves and stats one item. done reports an item that needs no
// work, such as a move onto itself.
func (e *Engine) plan(ctx context.Context, t *tracker, op Op, index int, it Item, opts Options, cache *listCache) (*task, bool, error) {
	srcEp, srcPath, err := e.resolver.Resolve(ctx, it.Src)
	if err != nil {
		return nil, false, err
	}
	tk := &task{index: index, src: side{ep: srcEp, path: srcPath, uri: it.Src}}

	if op == OpDelete {
		if srcPath == "/" {
			return nil, false, fmt.Errorf("%s: %w", it.Src, ErrRootDelete)
		}
	} else {
		if it.Dst == "" {
			return nil, false, fmt.Errorf("%s: missing destination", it.Src)
		}
		if op == OpRename && !strings.Contains(it.Dst, "/") {
			tk.dst = side{ep: srcEp, path: path.Join(path.Dir(srcPath), it.Dst), uri: it.Dst}
		} else {
			dstEp, dstPath, err := e.resolver.Resolve(ctx, it.Dst)
			if err != nil {
				return nil, false, err
			}
			tk.dst = side{ep: dstEp, path: dstPath, uri: it.Dst}
		}

		same := srcEp.Conn.SameEndpoint(tk.dst.ep.Conn)
		if op == OpRename && !same {
			return nil, false, fmt.Errorf("%s -> %s: %w", it.Src, it.Dst, ErrCrossEndpointRename)
		}
		if same && tk.dst.path == srcPath {
			if op == OpCopy {
				return nil, false, fmt.Errorf("%s: %w", it.Src, ErrSameFile)
			}
			return nil, true, nil
		}
		if same && strings.HasPrefix(tk.dst.path, strings.TrimSuffix(srcPath, "/")+"/") {
			return nil, false, fmt.Errorf("%s -> %s: %w", it.Src, it.Dst, ErrNestedDestination)
		}
	}

	entry, err := cache.stat(ctx, srcEp, srcPath)
	if err != nil {
		return nil, false, err
	}
	if entry.IsDir && op == OpCopy && !opts.Recursive {
		return nil, false, fmt.Errorf("%s: %w", it.Src, ErrRecursiveRequired)
	}
	tk.entry = entry

	if !entry.IsDir && (op == OpCopy || op == OpMove) {
		units := e.strategy(tk.src.ep, tk.dst.ep).units(entry.Size)
		if op == OpMove && renames(tk) {
			units = 0
		}
		t.addTotal(units)
	}
	return tk, false, nil
}

// renames reports whether a move of tk will be a server-side rename.
func renames(tk *task) bool {
	if !tk.src.ep.Conn.SameEndpoint(tk.dst.ep.Conn) {
		return false
	}
	_, ok := tk.src.ep.Provider.(provider.Renamer)
	return ok
}

// xfer carries the state of one top-level item while it runs.
type xfer struct {
	e      *Engine
	t      *tracker
	opts   Options
	sel    *selector
	index  int
	stream int
}

func (x *xfer) execute(ctx context.Context, op Op, tk *task) (int64, error) {
	switch op {
	case OpCopy:
		return x.copyEntry(ctx, tk.src, tk.dst, tk.entry, true, false)
	case OpMove:
		return x.move(ctx, tk.src, tk.dst, tk.entry)
	case OpRename:
		return x.rename(ctx, tk.src, tk.dst, tk.entry)
	case OpDelete:
		return 0, x.remove(ctx, tk.src, tk.entry, true)
	default:
		return 0, fmt.Errorf("unknown operation %q", op)
	}
}

// nested reports a child outcome and decides whether the walk goes on.
// It returns a non-nil error when the walk must stop.
func (x *xfer) nested(src, dst side, bytes int64, err error, report bool, w *walkErrs) error {
	err = x.t.settle(err)
	if report {
		c := ItemCompletion{Index: x.index, Src: src.uri, Nested: true, Bytes: bytes, Err: err}
		if dst.ep != nil {
			c.Dst = dst.uri
		}
		x.t.complete(c)
	}
	if err == nil {
		return nil
	}
	if isCancelled(err) {
		return err
	}
	w.add(err)
	if !x.opts.ContinueOnError {
		return err
	}
	return nil
}

// walkErrs collects child failures of one directory.
type walkErrs struct {
	first  error
	failed int
}

func (w *walkErrs) add(err error) {
	if w.first == nil {
		w.first = err
	}
	w.failed++
}

func (w *walkErrs) err(dir string) error {
	if w.first == nil {
		return nil
	}
	return fmt.Errorf("%s: %d entries failed: %w", dir, w.failed, w.first)
}

// selector applies include/exclude patterns and metadata filters.
type selector struct {
	matcher *match.Matcher
	filter  *match.CompositeFilter
}

func newSelector(opts Options) (*selector, error) {
	m, err := match.New(match.Config{
		Includes:   opts.Includes,
		Excludes:   opts.Excludes,
		SkipHidden: opts.SkipHidden,
	})
	if err != nil {
		return nil, err
	}
	f, err := match.NewFilterFromConfig(opts.Filter)
	if err != nil {
		return nil, err
	}
	return &selector{matcher: m, filter: f}, nil
}

// keep reports whether the walk should visit the child at rel.
func (s *selector) keep(rel string, e *provider.Entry) bool {
	if e.IsDir {
		return !s.matcher.Prune(rel)
	}
	return s.matcher.Match(rel) && s.filter.Match(rel, e)
}

func addBytes(total, n int64) int64 {
	return satmath.Add(total, n)
}

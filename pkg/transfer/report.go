package transfer

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/nimbusfs/internal/satmath"
	"github.com/3leaps/nimbusfs/pkg/output"
)

// DefaultProgressInterval is the minimum spacing of progress records.
const DefaultProgressInterval = 500 * time.Millisecond

// Reporter is a Host that writes every completion, and throttled progress,
// as JSONL records. It cancels the operation when ctx is done, which lets a
// CLI wire SIGINT to a context.
type Reporter struct {
	ctx      context.Context
	w        output.Writer
	logger   *zap.Logger
	progress rate.Sometimes
	start    time.Time
}

var _ Host = (*Reporter)(nil)

// NewReporter creates a reporter. interval <= 0 means
// DefaultProgressInterval.
func NewReporter(ctx context.Context, w output.Writer, logger *zap.Logger, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		ctx:      ctx,
		w:        w,
		logger:   logger,
		progress: rate.Sometimes{First: 1, Interval: interval},
		start:    time.Now(),
	}
}

func (r *Reporter) ShouldCancel() bool {
	return r.ctx.Err() != nil
}

func (r *Reporter) OnProgress(p Progress) {
	r.progress.Do(func() {
		r.write("progress", r.w.WriteProgress(r.writeCtx(), &output.ProgressRecord{
			ItemsTotal: p.TotalItems,
			ItemsDone:  p.DoneItems,
			BytesTotal: p.TotalBytes,
			BytesDone:  p.DoneBytes,
			Current:    p.CurrentSrc,
		}))
	})
}

func (r *Reporter) OnItemCompleted(c ItemCompletion) {
	rec := &output.ItemRecord{
		Index:  c.Index,
		Src:    c.Src,
		Dst:    c.Dst,
		Nested: c.Nested,
		Status: c.Status(),
		Bytes:  c.Bytes,
	}
	if c.Err != nil {
		rec.Code = ErrorCode(c.Err)
		rec.Error = c.Err.Error()
	}
	r.write("item", r.w.WriteItem(r.writeCtx(), rec))
}

// ReportError writes an error record for a failure not tied to one item.
func (r *Reporter) ReportError(path string, err error) {
	r.write("error", r.w.WriteError(r.writeCtx(), &output.ErrorRecord{
		Code:    ErrorCode(err),
		Message: err.Error(),
		Path:    path,
	}))
}

// Finish writes the summary record for res.
func (r *Reporter) Finish(res *BatchResult) {
	sum := &output.SummaryRecord{Items: len(res.Items)}
	for _, it := range res.Items {
		switch {
		case it.Err == nil:
			sum.Succeeded++
		case isCancelled(it.Err):
			sum.Cancelled++
		default:
			sum.Failed++
		}
		sum.Bytes = satmath.Add(sum.Bytes, it.Bytes)
	}
	sum.BytesHuman = humanize.IBytes(uint64(max(sum.Bytes, 0)))
	sum.Duration = time.Since(r.start)
	sum.DurationHuman = sum.Duration.Round(time.Millisecond).String()
	r.write("summary", r.w.WriteSummary(r.writeCtx(), sum))
}

// writeCtx keeps records flowing after the operation context is cancelled,
// so cancelled items are still reported.
func (r *Reporter) writeCtx() context.Context {
	return context.WithoutCancel(r.ctx)
}

func (r *Reporter) write(kind string, err error) {
	if err != nil {
		r.logger.Warn("Failed to write record", zap.String("record", kind), zap.Error(err))
	}
}

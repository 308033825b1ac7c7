package transfer

import "github.com/3leaps/nimbusfs/pkg/output"

// Op names an orchestrated operation.
type Op string

const (
	OpCopy   Op = "copy"
	OpMove   Op = "move"
	OpRename Op = "rename"
	OpDelete Op = "delete"
)

// Progress is a snapshot of an operation in flight.
//
// Byte counts are progress units. A file relayed through a temporary file
// is counted twice (download then upload), so ItemTotal is twice its size.
// Totals grow as recursive walks discover files; done counts never
// decrease.
type Progress struct {
	Op Op

	// TotalItems and DoneItems count top-level items only.
	TotalItems int
	DoneItems  int

	TotalBytes int64
	DoneBytes  int64

	// The file that produced this update.
	CurrentSrc string
	CurrentDst string
	ItemTotal  int64
	ItemDone   int64

	// StreamID is the scheduler worker moving the file.
	StreamID int
}

// ItemCompletion reports the terminal outcome of one item.
type ItemCompletion struct {
	Op Op

	// Index is the position of the top-level item in the request. Nested
	// completions carry their top-level item's index.
	Index int

	Src string
	Dst string

	// Nested marks a child reached by a recursive walk.
	Nested bool

	// Bytes is the content moved for this item.
	Bytes int64

	Err error
}

// Status returns the output status for the completion.
func (c ItemCompletion) Status() string {
	switch {
	case c.Err == nil:
		return output.StatusOK
	case isCancelled(c.Err):
		return output.StatusCancelled
	default:
		return output.StatusFailed
	}
}

// Host receives notifications from a running operation.
//
// ShouldCancel may be polled from several goroutines at once.
// OnProgress and OnItemCompleted calls are serialized.
type Host interface {
	// ShouldCancel is polled between items and on every progress update.
	// Once it returns true the operation winds down and remaining items
	// complete with ErrCancelled.
	ShouldCancel() bool

	OnProgress(p Progress)

	// OnItemCompleted fires exactly once per top-level item, and once per
	// child of a recursive walk with Nested set.
	OnItemCompleted(c ItemCompletion)
}

// NopHost ignores every notification and never cancels.
type NopHost struct{}

func (NopHost) ShouldCancel() bool             { return false }
func (NopHost) OnProgress(Progress)            {}
func (NopHost) OnItemCompleted(ItemCompletion) {}

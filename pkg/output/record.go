// Package output provides JSONL output for transfer operations.
//
// Output is structured as typed record envelopes containing per-item
// results, errors, progress updates, and a final summary. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: nimbusfs.<type>.v<version>
const (
	// TypeItem identifies per-item completion records.
	TypeItem = "nimbusfs.item.v1"

	// TypeError identifies error records.
	TypeError = "nimbusfs.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "nimbusfs.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "nimbusfs.summary.v1"

	// TypePreflight identifies preflight check records.
	TypePreflight = "nimbusfs.preflight.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "nimbusfs.item.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this operation.
	JobID string `json:"job_id"`

	// Op is the operation being performed (copy, move, rename, delete).
	Op string `json:"op"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// ItemRecord is the data payload for a finished item.
//
// One record is emitted per top-level item, plus one per child of a
// recursive walk with Nested set.
type ItemRecord struct {
	// Index is the position of the top-level item in the request.
	Index int `json:"index"`

	// Src is the source location.
	Src string `json:"src"`

	// Dst is the destination location. Empty for deletes.
	Dst string `json:"dst,omitempty"`

	// Nested marks children reached through a recursive walk.
	Nested bool `json:"nested,omitempty"`

	// Status is "ok", "failed", or "cancelled".
	Status string `json:"status"`

	// Bytes is the number of content bytes moved for this item.
	Bytes int64 `json:"bytes"`

	// Code is the error code when Status is not "ok".
	Code string `json:"code,omitempty"`

	// Error is the error message when Status is not "ok".
	Error string `json:"error,omitempty"`
}

// Item status values.
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrorRecord is the data payload for errors.
//
// Errors that are not tied to a single item (resolution failures,
// manifest problems) are emitted as error records.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Path is the location related to this error, if applicable.
	Path string `json:"path,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord and failed items.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the file, directory, or bucket was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeAlreadyExists indicates the destination exists and overwrite was off.
	ErrCodeAlreadyExists = "ALREADY_EXISTS"

	// ErrCodeUnsupported indicates the backend lacks the needed capability.
	ErrCodeUnsupported = "UNSUPPORTED"

	// ErrCodeCancelled indicates the item was stopped by cancellation.
	ErrCodeCancelled = "CANCELLED"

	// ErrCodeInvalidCredentials indicates authentication failed.
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"

	// ErrCodeProviderUnavailable indicates the backend could not be reached.
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
//
// Progress records are emitted periodically during long-running
// operations. Byte counts are progress units: a file relayed through a
// temp file counts its size twice.
type ProgressRecord struct {
	// ItemsTotal is the number of top-level items requested.
	ItemsTotal int `json:"items_total"`

	// ItemsDone is the number of top-level items finished.
	ItemsDone int `json:"items_done"`

	// BytesTotal is the number of progress units known so far.
	BytesTotal int64 `json:"bytes_total"`

	// BytesDone is the number of progress units completed.
	BytesDone int64 `json:"bytes_done"`

	// Current is the source of the most recent update, if any.
	Current string `json:"current,omitempty"`
}

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted at the end of an operation with aggregate
// statistics.
type SummaryRecord struct {
	// Items is the number of top-level items requested.
	Items int `json:"items"`

	// Succeeded is the number of top-level items that finished without error.
	Succeeded int `json:"succeeded"`

	// Failed is the number of top-level items that failed.
	Failed int `json:"failed"`

	// Cancelled is the number of top-level items stopped by cancellation.
	Cancelled int `json:"cancelled"`

	// Bytes is the number of content bytes moved.
	Bytes int64 `json:"bytes"`

	// BytesHuman is Bytes in IEC units.
	BytesHuman string `json:"bytes_human"`

	// Duration is the total operation duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// PreflightRecord is the data payload for preflight results. It is
// emitted once, before any item records.
type PreflightRecord struct {
	// Mode is the preflight mode (plan-only, read-safe, write-probe).
	Mode string `json:"mode"`

	// ProbeStrategy names how write access was proven, if it was.
	ProbeStrategy string `json:"probe_strategy,omitempty"`

	// ProbePrefix is the name prefix of probe files.
	ProbePrefix string `json:"probe_prefix,omitempty"`

	// Results lists every check in the order it ran.
	Results []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is the outcome of one capability check.
type PreflightCheckResult struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method"`
	ErrorCode  string `json:"error_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

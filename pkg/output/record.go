// Package output provides JSONL output for scan and verification runs.
//
// Output is structured as typed record envelopes: classified entries,
// traversal errors, run summaries, and cluster verdicts. Each line is a
// self-contained JSON object that can be parsed independently, so
// downstream tooling can stream-consume a run while it is still going.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: rinextank.<type>.v<version>
const (
	// TypeEntry identifies classified archive entries.
	TypeEntry = "rinextank.entry.v1"

	// TypeTraversalError identifies per-path scan failures.
	TypeTraversalError = "rinextank.traversal_error.v1"

	// TypeSummary identifies end-of-scan summaries.
	TypeSummary = "rinextank.summary.v1"

	// TypeVerdict identifies cluster verification verdicts.
	TypeVerdict = "rinextank.verdict.v1"
)

// Record is the envelope for all JSONL output. The type field determines
// how to interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "rinextank.entry.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID correlates every record of one run.
	RunID string `json:"run_id"`

	// Source identifies where the run read from (e.g., "fs", "s3",
	// "cluster").
	Source string `json:"source"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// TraversalErrorRecord is the data payload for per-path scan failures.
// These are emitted as records rather than failing the scan, so partial
// results survive an unreadable subtree.
type TraversalErrorRecord struct {
	// Path is the directory or listing prefix that could not be read.
	Path string `json:"path"`

	// Message is the human-readable cause.
	Message string `json:"message"`
}

// SummaryRecord is the data payload emitted once at the end of a scan.
type SummaryRecord struct {
	// Root is the scanned tree root or mirror prefix.
	Root string `json:"root"`

	// DirsVisited counts directories read (or listing pages fetched).
	DirsVisited int64 `json:"dirs_visited"`

	// FilesSeen counts regular files (or keys) considered.
	FilesSeen int64 `json:"files_seen"`

	// EntriesMatched counts files that classified under a grammar.
	EntriesMatched int64 `json:"entries_matched"`

	// TraversalErrors counts unreadable paths.
	TraversalErrors int64 `json:"traversal_errors"`

	// Duration is the total scan duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Prefixes lists the mirror prefixes scanned, if any.
	Prefixes []string `json:"prefixes,omitempty"`
}

// VerdictRecord is the data payload for one cluster verification run.
type VerdictRecord struct {
	// Overall is "verified" or "failed".
	Overall string `json:"overall"`

	// FailedNode identifies the first node that sank the run.
	FailedNode string `json:"failed_node,omitempty"`

	// Cause is the human-readable failure cause.
	Cause string `json:"cause,omitempty"`

	// Nodes carries one probe result per configured node.
	Nodes []NodeProbeRecord `json:"nodes,omitempty"`

	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// NodeProbeRecord is one node's probe outcome inside a VerdictRecord.
type NodeProbeRecord struct {
	Node      string `json:"node"`
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
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

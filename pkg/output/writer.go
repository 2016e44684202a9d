package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gnssops/rinextank/pkg/rinex"
)

// Writer outputs JSONL records for scan and verification runs.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits a complete record as a single
// line of JSON followed by a newline.
type Writer interface {
	// WriteEntry emits one classified archive entry.
	WriteEntry(ctx context.Context, entry rinex.Entry) error

	// WriteTraversalError emits one per-path scan failure.
	WriteTraversalError(ctx context.Context, rec *TraversalErrorRecord) error

	// WriteSummary emits the end-of-scan summary.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// WriteVerdict emits a cluster verification verdict.
	WriteVerdict(ctx context.Context, v *VerdictRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using a
// mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	w      io.Writer
	runID  string
	source string
	mu     sync.Mutex

	closed bool
}

// NewJSONLWriter creates a new JSONL writer emitting records correlated
// under runID from the given source ("fs", "s3", "cluster").
func NewJSONLWriter(w io.Writer, runID, source string) *JSONLWriter {
	return &JSONLWriter{
		w:      w,
		runID:  runID,
		source: source,
	}
}

func (jw *JSONLWriter) WriteEntry(ctx context.Context, entry rinex.Entry) error {
	return jw.writeRecord(ctx, TypeEntry, entry)
}

func (jw *JSONLWriter) WriteTraversalError(ctx context.Context, rec *TraversalErrorRecord) error {
	return jw.writeRecord(ctx, TypeTraversalError, rec)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

func (jw *JSONLWriter) WriteVerdict(ctx context.Context, v *VerdictRecord) error {
	return jw.writeRecord(ctx, TypeVerdict, v)
}

// Close marks the writer as closed. The underlying writer is NOT
// closed; the caller owns it.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line, holding
// the mutex for the whole write so lines never interleave.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Payload marshals outside the lock.
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		Type:   recordType,
		TS:     time.Now().UTC(),
		RunID:  jw.runID,
		Source: jw.source,
		Data:   dataBytes,
	}
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Compile-time check that JSONLWriter implements Writer.
var _ Writer = (*JSONLWriter)(nil)

package archivestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunKind separates scan runs from verification runs in the history.
type RunKind string

const (
	RunKindScan   RunKind = "scan"
	RunKindVerify RunKind = "verify"
)

// RunStatus is the lifecycle status of a recorded run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is in progress.
	RunStatusRunning RunStatus = "running"
	// RunStatusSuccess indicates the run completed cleanly.
	RunStatusSuccess RunStatus = "success"
	// RunStatusPartial indicates the run completed with localized
	// failures (traversal errors, unwritten records).
	RunStatusPartial RunStatus = "partial"
	// RunStatusFailed indicates the run failed outright.
	RunStatusFailed RunStatus = "failed"
)

// Run is one row of run history.
type Run struct {
	ID          string     `json:"run_id"`
	Kind        RunKind    `json:"kind"`
	ScopeHash   string     `json:"scope_hash,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Status      RunStatus  `json:"status"`
	Entries     int64      `json:"entries"`
	Errors      int64      `json:"errors"`
	Detail      string     `json:"detail,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
}

// RunEvent is one append-only audit line of a run.
type RunEvent struct {
	RunID      string
	Seq        int64
	OccurredAt time.Time
	Level      string
	Message    string
}

// BeginRun records a new run in running status and returns its id.
func (s *Store) BeginRun(ctx context.Context, kind RunKind, scopeHash string) (string, error) {
	runID := uuid.NewString()
	now := time.Now().UTC()

	_, err := s.exec(ctx,
		`INSERT INTO runs (run_id, kind, scope_hash, started_at, status, heartbeat_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, string(kind), scopeHash, formatTime(now), string(RunStatusRunning), formatTime(now))
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return runID, nil
}

// Heartbeat stamps the run as still alive. Long scans call this
// periodically so stale running rows can be told apart from live ones.
func (s *Store) Heartbeat(ctx context.Context, runID string) error {
	_, err := s.exec(ctx,
		`UPDATE runs SET heartbeat_at = ? WHERE run_id = ?`,
		formatTime(time.Now().UTC()), runID)
	if err != nil {
		return fmt.Errorf("heartbeat run %s: %w", runID, err)
	}
	return nil
}

// AppendEvent appends one audit line to the run's event trail.
func (s *Store) AppendEvent(ctx context.Context, runID, level, message string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx, s.rebind(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM run_events WHERE run_id = ?`), runID).Scan(&seq); err != nil {
		return fmt.Errorf("next event seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO run_events (run_id, seq, occurred_at, level, message)
		 VALUES (?, ?, ?, ?, ?)`),
		runID, seq, formatTime(time.Now().UTC()), level, message); err != nil {
		return fmt.Errorf("append run event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event tx: %w", err)
	}
	return nil
}

// FinishRun records the run's terminal status and counters.
func (s *Store) FinishRun(ctx context.Context, runID string, status RunStatus, entries, errCount int64, detail string) error {
	_, err := s.exec(ctx,
		`UPDATE runs
		 SET status = ?, finished_at = ?, entries = ?, errors = ?, detail = ?
		 WHERE run_id = ?`,
		string(status), formatTime(time.Now().UTC()), entries, errCount, detail, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// GetRun retrieves one run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.queryRow(ctx,
		`SELECT run_id, kind, scope_hash, started_at, finished_at, status,
		        entries, errors, detail, heartbeat_at
		 FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return r, err
}

// ListRuns returns the most recent runs of one kind, newest first.
// An empty kind lists every run.
func (s *Store) ListRuns(ctx context.Context, kind RunKind, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = s.query(ctx,
			`SELECT run_id, kind, scope_hash, started_at, finished_at, status,
			        entries, errors, detail, heartbeat_at
			 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.query(ctx,
			`SELECT run_id, kind, scope_hash, started_at, finished_at, status,
			        entries, errors, detail, heartbeat_at
			 FROM runs WHERE kind = ? ORDER BY started_at DESC LIMIT ?`, string(kind), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recent run of one kind, or nil when the
// history holds none.
func (s *Store) LatestRun(ctx context.Context, kind RunKind) (*Run, error) {
	row := s.queryRow(ctx,
		`SELECT run_id, kind, scope_hash, started_at, finished_at, status,
		        entries, errors, detail, heartbeat_at
		 FROM runs WHERE kind = ? ORDER BY started_at DESC LIMIT 1`, string(kind))
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListRunEvents returns a run's audit trail in append order.
func (s *Store) ListRunEvents(ctx context.Context, runID string) ([]RunEvent, error) {
	rows, err := s.query(ctx,
		`SELECT run_id, seq, occurred_at, level, message
		 FROM run_events WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []RunEvent
	for rows.Next() {
		var (
			e          RunEvent
			occurredAt string
		)
		if err := rows.Scan(&e.RunID, &e.Seq, &occurredAt, &e.Level, &e.Message); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		if e.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r           Run
		kind        string
		status      string
		scopeHash   sql.NullString
		startedAt   string
		finishedAt  sql.NullString
		detail      sql.NullString
		heartbeatAt sql.NullString
	)
	err := row.Scan(&r.ID, &kind, &scopeHash, &startedAt, &finishedAt,
		&status, &r.Entries, &r.Errors, &detail, &heartbeatAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	r.Kind = RunKind(kind)
	r.Status = RunStatus(status)
	r.ScopeHash = scopeHash.String
	r.Detail = detail.String
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = parseOptionalTime(finishedAt); err != nil {
		return nil, err
	}
	if r.HeartbeatAt, err = parseOptionalTime(heartbeatAt); err != nil {
		return nil, err
	}
	return &r, nil
}

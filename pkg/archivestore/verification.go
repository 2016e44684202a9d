package archivestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gnssops/rinextank/pkg/cluster"
	"github.com/gnssops/rinextank/pkg/verify"
)

// NodeResultRow is one persisted per-node probe outcome.
type NodeResultRow struct {
	RunID     string
	Node      string
	JobID     string
	Outcome   cluster.Outcome
	Detail    string
	ElapsedMS int64
}

// RecordVerification persists a verdict under an existing run: one row
// per node plus the run's terminal status. Node names come from the
// verdict's node snapshot so nodes the run never probed (aborted before
// submission) still appear, with an empty job id.
func (s *Store) RecordVerification(ctx context.Context, runID string, v *verify.Verdict) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO verification_nodes (run_id, node, job_id, outcome, detail, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, node) DO UPDATE SET
		   job_id = excluded.job_id,
		   outcome = excluded.outcome,
		   detail = excluded.detail,
		   elapsed_ms = excluded.elapsed_ms`))
	if err != nil {
		return fmt.Errorf("prepare node result upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, node := range v.Nodes {
		res, probed := v.PerNode[node.Name]
		outcome := cluster.OutcomeFailure
		detail := "no probe submitted"
		jobID := ""
		var elapsedMS int64
		if probed {
			outcome = res.Outcome
			detail = res.Detail
			jobID = res.JobID
			elapsedMS = res.Elapsed.Milliseconds()
		}
		if _, err := stmt.ExecContext(ctx,
			runID, node.Name, jobID, string(outcome), detail, elapsedMS); err != nil {
			return fmt.Errorf("record node %s: %w", node.Name, err)
		}
	}

	status := RunStatusSuccess
	if v.Overall != verify.Verified {
		status = RunStatusFailed
	}
	succeeded := int64(v.SuccessCount())
	failed := int64(len(v.Nodes)) - succeeded
	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE runs
		 SET status = ?, finished_at = ?, entries = ?, errors = ?, detail = ?
		 WHERE run_id = ?`),
		string(status), formatTime(v.StartedAt.Add(v.Elapsed)),
		succeeded, failed, v.Summary(), runID); err != nil {
		return fmt.Errorf("finish verification run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit verification tx: %w", err)
	}
	return nil
}

// ListNodeResults returns the per-node outcomes recorded for a run.
func (s *Store) ListNodeResults(ctx context.Context, runID string) ([]NodeResultRow, error) {
	rows, err := s.query(ctx,
		`SELECT run_id, node, job_id, outcome, detail, elapsed_ms
		 FROM verification_nodes WHERE run_id = ? ORDER BY node`, runID)
	if err != nil {
		return nil, fmt.Errorf("list node results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []NodeResultRow
	for rows.Next() {
		var (
			r       NodeResultRow
			jobID   sql.NullString
			outcome string
			detail  sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Node, &jobID, &outcome, &detail, &r.ElapsedMS); err != nil {
			return nil, fmt.Errorf("scan node result: %w", err)
		}
		r.JobID = jobID.String
		r.Outcome = cluster.Outcome(outcome)
		r.Detail = detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// VerificationRecorder adapts the store to the verify.Recorder boundary:
// every recorded verdict becomes one verify-kind run with per-node rows.
type VerificationRecorder struct {
	store     *Store
	scopeHash string
}

// Recorder returns a verify.Recorder writing into this store. scopeHash
// groups the verification history with the campaign it guards; empty is
// allowed for ad-hoc runs.
func (s *Store) Recorder(scopeHash string) *VerificationRecorder {
	return &VerificationRecorder{store: s, scopeHash: scopeHash}
}

// RecordRun implements verify.Recorder.
func (r *VerificationRecorder) RecordRun(ctx context.Context, v *verify.Verdict) error {
	runID, err := r.store.BeginRun(ctx, RunKindVerify, r.scopeHash)
	if err != nil {
		return err
	}
	return r.store.RecordVerification(ctx, runID, v)
}

var _ verify.Recorder = (*VerificationRecorder)(nil)

package archivestore

import (
	"context"
	"fmt"
)

// SchemaVersion is bumped whenever Migrate learns a new statement.
const SchemaVersion = 1

// Migrate creates (or upgrades) the archive schema in place. It is
// idempotent and safe to run on every startup.
//
// Tables:
//   - entries: current classified archive files, upserted by path
//   - runs: scan and verification run provenance with heartbeats
//   - run_events: append-only audit trail per run
//   - verification_nodes: per-node probe outcomes of verification runs
func (s *Store) Migrate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS entries (
			path TEXT PRIMARY KEY,
			station TEXT NOT NULL,
			network TEXT NOT NULL DEFAULT '???',
			doy INTEGER NOT NULL,
			session TEXT NOT NULL,
			yy INTEGER NOT NULL,
			kind TEXT NOT NULL,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			run_id TEXT NOT NULL,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_entries_station ON entries(station);`,
		`CREATE INDEX IF NOT EXISTS idx_entries_network ON entries(network);`,
		`CREATE INDEX IF NOT EXISTS idx_entries_doy ON entries(yy, doy);`,

		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			scope_hash TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			entries INTEGER NOT NULL DEFAULT 0,
			errors INTEGER NOT NULL DEFAULT 0,
			detail TEXT,
			heartbeat_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_kind_started ON runs(kind, started_at);`,

		`CREATE TABLE IF NOT EXISTS run_events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			occurred_at TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			PRIMARY KEY(run_id, seq)
		);`,

		`CREATE TABLE IF NOT EXISTS verification_nodes (
			run_id TEXT NOT NULL,
			node TEXT NOT NULL,
			job_id TEXT,
			outcome TEXT NOT NULL,
			detail TEXT,
			elapsed_ms BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY(run_id, node)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO schema_meta (id, schema_version) VALUES (1, ?)
		 ON CONFLICT(id) DO NOTHING`), SchemaVersion); err != nil {
		return fmt.Errorf("seed schema_version: %w", err)
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE schema_meta SET schema_version=? WHERE id=1`), SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

package archivestore

import (
	"context"
	"fmt"
	"time"

	"github.com/gnssops/rinextank/pkg/rinex"
)

// EntryRow is one persisted archive entry.
type EntryRow struct {
	Path      string     `json:"path"`
	Station   string     `json:"station"`
	Network   string     `json:"network"`
	DayOfYear int        `json:"doy"`
	Session   string     `json:"session"`
	Year      int        `json:"yy"`
	Kind      rinex.Kind `json:"kind"`
	SizeBytes int64      `json:"size_bytes"`
	RunID     string     `json:"run_id"`
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`
}

// EntryStats aggregates the current entry table.
type EntryStats struct {
	Total      int64                `json:"total"`
	ByKind     map[rinex.Kind]int64 `json:"by_kind"`
	Stations   int64                `json:"stations"`
	Unassigned int64                `json:"unassigned"`
}

// UpsertEntries writes a batch of classified entries in one transaction,
// keyed by path. Re-seen paths keep their first_seen and move last_seen
// and run attribution forward.
func (s *Store) UpsertEntries(ctx context.Context, runID string, entries []rinex.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO entries
		 (path, station, network, doy, session, yy, kind, run_id, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   station = excluded.station,
		   doy = excluded.doy,
		   session = excluded.session,
		   yy = excluded.yy,
		   kind = excluded.kind,
		   run_id = excluded.run_id,
		   last_seen = excluded.last_seen`))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := formatTime(time.Now().UTC())
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.Path, e.Station, e.Network, e.DayOfYear, e.Session, e.Year,
			string(e.Kind), runID, now, now); err != nil {
			return fmt.Errorf("upsert entry %s: %w", e.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entries tx: %w", err)
	}
	return nil
}

// AssignNetwork moves every entry of one station to the given network.
// Returns the number of entries updated.
func (s *Store) AssignNetwork(ctx context.Context, station, network string) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE entries SET network = ? WHERE station = ?`, network, station)
	if err != nil {
		return 0, fmt.Errorf("assign network: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("assign network rows: %w", err)
	}
	return n, nil
}

// EntryStats summarizes the current entry table: totals by kind, distinct
// stations, and how many entries still carry the unassigned network.
func (s *Store) EntryStats(ctx context.Context) (*EntryStats, error) {
	stats := &EntryStats{ByKind: make(map[rinex.Kind]int64)}

	rows, err := s.query(ctx, `SELECT kind, COUNT(*) FROM entries GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("entry stats by kind: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			kind  string
			count int64
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		stats.ByKind[rinex.Kind(kind)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.queryRow(ctx,
		`SELECT COUNT(DISTINCT station) FROM entries`).Scan(&stats.Stations); err != nil {
		return nil, fmt.Errorf("entry stats stations: %w", err)
	}
	if err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM entries WHERE network = ?`, rinex.UnassignedNetwork).Scan(&stats.Unassigned); err != nil {
		return nil, fmt.Errorf("entry stats unassigned: %w", err)
	}
	return stats, nil
}

// ListUnassigned returns entries whose station has no network yet.
func (s *Store) ListUnassigned(ctx context.Context, limit int) ([]EntryRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx,
		`SELECT path, station, network, doy, session, yy, kind, size_bytes,
		        run_id, first_seen, last_seen
		 FROM entries WHERE network = ? ORDER BY path LIMIT ?`,
		rinex.UnassignedNetwork, limit)
	if err != nil {
		return nil, fmt.Errorf("list unassigned: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EntryRow
	for rows.Next() {
		var (
			e                   EntryRow
			kind                string
			firstSeen, lastSeen string
		)
		if err := rows.Scan(&e.Path, &e.Station, &e.Network, &e.DayOfYear,
			&e.Session, &e.Year, &kind, &e.SizeBytes, &e.RunID, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Kind = rinex.Kind(kind)
		if e.FirstSeen, err = parseTime(firstSeen); err != nil {
			return nil, err
		}
		if e.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEntries returns the number of persisted entries.
func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	var n int64
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

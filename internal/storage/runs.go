package storage

import (
	"context"
	"database/sql"
	"time"
)

// AppendRun records one refresh attempt. Rows are immutable once written;
// there is deliberately no update or delete path in this subsystem.
func (s *Store) AppendRun(ctx context.Context, r MaintenanceRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO maintenance_runs(id, run_type, started_at, finished_at, status, message,
		 races_deleted, races_saved, triggers_set, events_skipped, triggers_purged)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Type, r.StartedAt.UTC().Format(time.RFC3339Nano), r.FinishedAt.UTC().Format(time.RFC3339Nano),
		r.Status, nullStr(r.Message),
		r.RacesDeleted, r.RacesSaved, r.TriggersSet, r.EventsSkipped, r.TriggersPurged,
	)
	return err
}

// ListRuns returns the newest runs first, at most limit rows.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]MaintenanceRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_type, started_at, finished_at, status, message,
		 races_deleted, races_saved, triggers_set, events_skipped, triggers_purged
		 FROM maintenance_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MaintenanceRun
	for rows.Next() {
		var (
			r                 MaintenanceRun
			started, finished string
			message           sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Type, &started, &finished, &r.Status, &message,
			&r.RacesDeleted, &r.RacesSaved, &r.TriggersSet, &r.EventsSkipped, &r.TriggersPurged); err != nil {
			return nil, err
		}
		r.Message = message.String
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			r.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finished); err == nil {
			r.FinishedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertTriggerIfAbsent registers a trigger under its deterministic id.
// The existence check and the insert run in one transaction, so concurrent
// callers (hourly check, manual refresh, post-refresh rescheduling) cannot
// both create a row for the same id. Returns false when a live trigger with
// that id already exists, a benign outcome rather than an error.
func (s *Store) InsertTriggerIfAbsent(ctx context.Context, tr Trigger) (bool, error) {
	if tr.ID == "" {
		return false, errors.New("trigger id required")
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM triggers WHERE id = ?`, tr.ID).Scan(&one)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("trigger lookup %s: %w", tr.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO triggers(id, purpose, fire_at, payload, grace_ms, created_at) VALUES(?,?,?,?,?,?)`,
		tr.ID, string(tr.Purpose), tr.FireAt.UTC().UnixMilli(), nullStr(tr.Payload),
		tr.Grace.Milliseconds(), tr.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("trigger insert %s: %w", tr.ID, err)
	}
	return true, tx.Commit()
}

// DeleteTrigger removes one trigger. The scheduler loop uses the returned
// bool as its claim: whoever observes rows-affected == 1 owns the fire, so
// a concurrent Cancel and the loop can never both act on the same row.
func (s *Store) DeleteTrigger(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DeleteTriggersByPurpose removes every trigger with the given purpose.
// The maintenance wipe uses it to drop derived race-action triggers.
func (s *Store) DeleteTriggersByPurpose(ctx context.Context, p Purpose) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE purpose = ?`, string(p))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DueTriggers returns triggers whose fire time is at or before now,
// earliest first. Misfire handling is the loop's job.
func (s *Store) DueTriggers(ctx context.Context, now time.Time) ([]Trigger, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, purpose, fire_at, payload, grace_ms, created_at
		 FROM triggers WHERE fire_at <= ? ORDER BY fire_at ASC`, now.UTC().UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTriggers(rows)
}

// ListTriggers returns every live trigger ordered by fire time.
func (s *Store) ListTriggers(ctx context.Context) ([]Trigger, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, purpose, fire_at, payload, grace_ms, created_at
		 FROM triggers ORDER BY fire_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTriggers(rows)
}

func collectTriggers(rows *sql.Rows) ([]Trigger, error) {
	var out []Trigger
	for rows.Next() {
		var (
			tr      Trigger
			purpose string
			fireAt  int64
			payload sql.NullString
			graceMS int64
			created int64
		)
		if err := rows.Scan(&tr.ID, &purpose, &fireAt, &payload, &graceMS, &created); err != nil {
			return nil, err
		}
		tr.Purpose = Purpose(purpose)
		tr.FireAt = time.UnixMilli(fireAt).UTC()
		tr.Payload = payload.String
		tr.Grace = time.Duration(graceMS) * time.Millisecond
		tr.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, tr)
	}
	return out, rows.Err()
}

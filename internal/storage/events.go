package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertEvents matches incoming records to existing rows by unibet_id,
// updating all mutable fields in place and inserting the rest. Events not
// present in recs are left untouched; only the maintenance wipe removes
// rows. The returned slice carries resolved ids in input order.
func (s *Store) UpsertEvents(ctx context.Context, recs []Event) ([]Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	out := make([]Event, 0, len(recs))
	for _, r := range recs {
		if r.FetchedAt.IsZero() {
			r.FetchedAt = time.Now().UTC()
		}
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM events WHERE unibet_id = ?`, r.UnibetID).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx,
				`INSERT INTO events(unibet_id, name, meeting, race_time, url, surface, distance_m, fetched_at)
				 VALUES(?,?,?,?,?,?,?,?)`,
				r.UnibetID, r.Name, r.Meeting, r.RaceTime, r.URL, nullStr(r.Surface), nullInt(r.DistanceM),
				r.FetchedAt.Format(time.RFC3339Nano),
			)
			if err != nil {
				return nil, fmt.Errorf("insert event %s: %w", r.UnibetID, err)
			}
			id, err = res.LastInsertId()
			if err != nil {
				return nil, err
			}
		case err != nil:
			return nil, fmt.Errorf("lookup event %s: %w", r.UnibetID, err)
		default:
			_, err := tx.ExecContext(ctx,
				`UPDATE events SET name=?, meeting=?, race_time=?, url=?, surface=?, distance_m=?, fetched_at=?
				 WHERE id=?`,
				r.Name, r.Meeting, r.RaceTime, r.URL, nullStr(r.Surface), nullInt(r.DistanceM),
				r.FetchedAt.Format(time.RFC3339Nano), id,
			)
			if err != nil {
				return nil, fmt.Errorf("update event %s: %w", r.UnibetID, err)
			}
		}
		r.ID = id
		out = append(out, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEvents returns all persisted events ordered by sourced race time.
// Window filtering happens in the caller after UTC resolution; race_time is
// stored as sourced and cannot be compared inside SQL.
func (s *Store) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, unibet_id, name, meeting, race_time, url, surface, distance_m, fetched_at
		 FROM events ORDER BY race_time ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventByID returns (zero, false, nil) when the row is missing.
func (s *Store) EventByID(ctx context.Context, id int64) (Event, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, unibet_id, name, meeting, race_time, url, surface, distance_m, fetched_at
		 FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	return e, true, nil
}

// DeleteAllEvents wipes the programme ahead of a refetch.
func (s *Store) DeleteAllEvents(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (Event, error) {
	var (
		e        Event
		surface  sql.NullString
		distance sql.NullInt64
		fetched  string
	)
	if err := r.Scan(&e.ID, &e.UnibetID, &e.Name, &e.Meeting, &e.RaceTime, &e.URL, &surface, &distance, &fetched); err != nil {
		return Event{}, err
	}
	e.Surface = surface.String
	e.DistanceM = int(distance.Int64)
	if t, err := time.Parse(time.RFC3339Nano, fetched); err == nil {
		e.FetchedAt = t
	}
	return e, nil
}

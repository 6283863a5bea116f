package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"paddock/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "paddock.sqlite")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleEvents() []Event {
	return []Event{
		{UnibetID: "u-100", Name: "Prix du Moulin", Meeting: "Longchamp", RaceTime: "2026-09-06T15:10:00+02:00", URL: "https://example.test/turf/course/u-100"},
		{UnibetID: "u-101", Name: "Prix Vermeille", Meeting: "Longchamp", RaceTime: "2026-09-06T15:45:00+02:00", URL: "https://example.test/turf/course/u-101", Surface: "turf", DistanceM: 2400},
	}
}

func TestUpsertEventsIdempotent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	first, err := st.UpsertEvents(ctx, sampleEvents())
	if err != nil {
		t.Fatalf("UpsertEvents: %v", err)
	}
	if len(first) != 2 || first[0].ID == 0 || first[1].ID == 0 {
		t.Fatalf("ids not resolved: %+v", first)
	}

	second, err := st.UpsertEvents(ctx, sampleEvents())
	if err != nil {
		t.Fatalf("UpsertEvents again: %v", err)
	}
	for i := range first {
		if second[i].ID != first[i].ID {
			t.Fatalf("id changed on re-upsert: %d -> %d", first[i].ID, second[i].ID)
		}
	}

	all, err := st.ListEvents(ctx)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 events after double upsert, got %d", len(all))
	}
}

func TestUpsertEventsUpdatesMutableFields(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	recs := sampleEvents()
	saved, err := st.UpsertEvents(ctx, recs)
	if err != nil {
		t.Fatalf("UpsertEvents: %v", err)
	}

	recs[0].Name = "Prix du Moulin de Longchamp"
	recs[0].RaceTime = "2026-09-06T15:20:00+02:00"
	again, err := st.UpsertEvents(ctx, recs)
	if err != nil {
		t.Fatalf("UpsertEvents update: %v", err)
	}
	if again[0].ID != saved[0].ID {
		t.Fatalf("id not stable across update")
	}

	got, ok, err := st.EventByID(ctx, saved[0].ID)
	if err != nil || !ok {
		t.Fatalf("EventByID: ok=%v err=%v", ok, err)
	}
	if got.Name != "Prix du Moulin de Longchamp" || got.RaceTime != "2026-09-06T15:20:00+02:00" {
		t.Fatalf("fields not updated in place: %+v", got)
	}
}

func TestInsertTriggerIfAbsent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	fireAt := time.Now().Add(30 * time.Minute).UTC()

	created, err := st.InsertTriggerIfAbsent(ctx, Trigger{
		ID: "race_7", Purpose: PurposeRaceAction, FireAt: fireAt, Payload: "7", Grace: time.Minute,
	})
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}

	created, err = st.InsertTriggerIfAbsent(ctx, Trigger{
		ID: "race_7", Purpose: PurposeRaceAction, FireAt: fireAt.Add(time.Hour), Payload: "7", Grace: time.Minute,
	})
	if err != nil {
		t.Fatalf("duplicate insert errored: %v", err)
	}
	if created {
		t.Fatal("duplicate insert must be a no-op")
	}

	live, err := st.ListTriggers(ctx)
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("expected exactly one live trigger, got %d", len(live))
	}
	got := live[0]
	if !got.FireAt.Equal(fireAt.Truncate(time.Millisecond)) {
		t.Fatalf("fire time overwritten by duplicate: %v vs %v", got.FireAt, fireAt)
	}
	if got.Grace != time.Minute || got.Payload != "7" || got.Purpose != PurposeRaceAction {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDeleteTriggerClaim(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.InsertTriggerIfAbsent(ctx, Trigger{ID: "db_refresh_delayed", Purpose: PurposeDelayedRefresh, FireAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	claimed, err := st.DeleteTrigger(ctx, "db_refresh_delayed")
	if err != nil || !claimed {
		t.Fatalf("first delete: claimed=%v err=%v", claimed, err)
	}
	claimed, err = st.DeleteTrigger(ctx, "db_refresh_delayed")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if claimed {
		t.Fatal("second delete must not claim")
	}
}

func TestDueTriggersOrdering(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, tr := range []Trigger{
		{ID: "race_2", Purpose: PurposeRaceAction, FireAt: now.Add(-time.Minute)},
		{ID: "race_1", Purpose: PurposeRaceAction, FireAt: now.Add(-2 * time.Minute)},
		{ID: "race_3", Purpose: PurposeRaceAction, FireAt: now.Add(time.Hour)},
	} {
		if _, err := st.InsertTriggerIfAbsent(ctx, tr); err != nil {
			t.Fatalf("insert %s: %v", tr.ID, err)
		}
	}

	due, err := st.DueTriggers(ctx, now)
	if err != nil {
		t.Fatalf("DueTriggers: %v", err)
	}
	if len(due) != 2 || due[0].ID != "race_1" || due[1].ID != "race_2" {
		t.Fatalf("unexpected due set: %+v", due)
	}
}

func TestWipePurgesActionTriggersOnly(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := st.UpsertEvents(ctx, sampleEvents()); err != nil {
		t.Fatalf("UpsertEvents: %v", err)
	}
	for _, tr := range []Trigger{
		{ID: "race_1", Purpose: PurposeRaceAction, FireAt: now.Add(time.Hour)},
		{ID: "race_2", Purpose: PurposeRaceAction, FireAt: now.Add(2 * time.Hour)},
		{ID: "hourly_refresh_check", Purpose: PurposePeriodicCheck, FireAt: now.Add(30 * time.Minute)},
	} {
		if _, err := st.InsertTriggerIfAbsent(ctx, tr); err != nil {
			t.Fatalf("insert %s: %v", tr.ID, err)
		}
	}

	deleted, err := st.DeleteAllEvents(ctx)
	if err != nil || deleted != 2 {
		t.Fatalf("DeleteAllEvents: n=%d err=%v", deleted, err)
	}
	purged, err := st.DeleteTriggersByPurpose(ctx, PurposeRaceAction)
	if err != nil || purged != 2 {
		t.Fatalf("DeleteTriggersByPurpose: n=%d err=%v", purged, err)
	}

	left, err := st.ListTriggers(ctx)
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	if len(left) != 1 || left[0].Purpose != PurposePeriodicCheck {
		t.Fatalf("periodic check trigger must survive the wipe: %+v", left)
	}
}

func TestAppendAndListRuns(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 9, 6, 10, 0, 0, 0, time.UTC)

	for i, status := range []string{RunStatusOK, RunStatusError} {
		err := st.AppendRun(ctx, MaintenanceRun{
			ID:         "run-" + status,
			Type:       "refresh",
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			Status:     status,
			Message:    "saved 12 races",
			RacesSaved: 12,
		})
		if err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}

	runs, err := st.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Status != RunStatusError {
		t.Fatalf("newest run first, got %s", runs[0].Status)
	}
	if runs[1].RacesSaved != 12 || runs[1].Message != "saved 12 races" {
		t.Fatalf("round trip mismatch: %+v", runs[1])
	}
}

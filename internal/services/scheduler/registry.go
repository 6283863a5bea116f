package scheduler

import (
	"context"
	"errors"

	"paddock/internal/storage"
	"paddock/pkg/logx"
)

// Register stores a trigger under its deterministic id. The returned bool
// reports whether a new row was created; false with a nil error means an
// identical registration already exists (benign, not surfaced as failure).
// A store error is a hard failure (scheduling without durability is
// meaningless) and must propagate to the caller.
func (s *Service) Register(ctx context.Context, tr storage.Trigger) (bool, error) {
	if tr.ID == "" {
		return false, errors.New("trigger id required")
	}
	if tr.FireAt.IsZero() {
		return false, errors.New("trigger fire time required")
	}
	created, err := s.store.InsertTriggerIfAbsent(ctx, tr)
	if err != nil {
		return false, err
	}
	if created {
		s.log.Debug("trigger registered",
			logx.String("trigger", tr.ID),
			logx.String("purpose", string(tr.Purpose)),
			logx.Time("fire_at", tr.FireAt),
			logx.Duration("grace", tr.Grace))
	} else {
		s.log.Debug("trigger already registered; skipping",
			logx.String("trigger", tr.ID))
	}
	return created, nil
}

// Cancel removes a not-yet-fired trigger. A trigger the loop already
// claimed is in flight and cannot be recalled; Cancel then returns false.
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	removed, err := s.store.DeleteTrigger(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		s.log.Debug("trigger cancelled", logx.String("trigger", id))
	}
	return removed, nil
}

// List returns every live trigger for the admin surface.
func (s *Service) List(ctx context.Context) ([]storage.Trigger, error) {
	return s.store.ListTriggers(ctx)
}

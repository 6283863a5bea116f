package raceday

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"paddock/internal/storage"
	"paddock/internal/timeutil"
	"paddock/pkg/logx"
)

// Config controls trigger derivation.
type Config struct {
	// LeadTime is how long before the race start the action fires.
	LeadTime time.Duration
	// MisfireGrace bounds how late a due action may still run.
	MisfireGrace time.Duration
	// Venue resolves naive race times.
	Venue *time.Location
}

// EventStore is the slice of storage this service needs.
type EventStore interface {
	UpsertEvents(ctx context.Context, recs []storage.Event) ([]storage.Event, error)
	ListEvents(ctx context.Context) ([]storage.Event, error)
	EventByID(ctx context.Context, id int64) (storage.Event, bool, error)
}

// Registrar registers triggers; the scheduler service implements it.
type Registrar interface {
	Register(ctx context.Context, tr storage.Trigger) (bool, error)
}

// Runner performs the per-race action at fire time (detail retrieval plus
// forwarding downstream). It must tolerate at-least-once invocation.
type Runner interface {
	RunRace(ctx context.Context, ev storage.Event) error
}

// Report summarizes one derivation pass.
type Report struct {
	Scheduled  int
	AlreadySet int
	Stale      int
	SkippedTZ  int
	Failed     int
}

type Service struct {
	cfg    Config
	store  EventStore
	reg    Registrar
	runner Runner
	log    logx.Logger

	now func() time.Time
}

func New(cfg Config, store EventStore, reg Registrar, runner Runner, log logx.Logger) *Service {
	if cfg.LeadTime <= 0 {
		cfg.LeadTime = 3 * time.Minute
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = 60 * time.Second
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		reg:    reg,
		runner: runner,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// ActionTriggerID is the deterministic trigger id for one race's action.
func ActionTriggerID(eventID int64) string {
	return fmt.Sprintf("race_%d", eventID)
}

// UpsertEvents persists the fetched programme, matching by external id.
// Races already stored but absent from recs are left alone; only the
// maintenance wipe removes races.
func (s *Service) UpsertEvents(ctx context.Context, recs []storage.Event) ([]storage.Event, error) {
	saved, err := s.store.UpsertEvents(ctx, recs)
	if err != nil {
		return nil, fmt.Errorf("upsert events: %w", err)
	}
	s.log.Info("programme saved", logx.Int("races", len(saved)))
	return saved, nil
}

// ScheduleActions derives one action trigger per race.
//
// A race whose time cannot be resolved, or whose fire time has already
// passed, is skipped without aborting the batch. Registry persistence
// failures are likewise isolated per race but joined into the returned
// error so the caller still sees the hard failure.
func (s *Service) ScheduleActions(ctx context.Context, events []storage.Event) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	now := s.now()

	for _, ev := range events {
		startUTC, err := timeutil.ResolveUTC(ev.RaceTime, s.cfg.Venue)
		if err != nil {
			rep.SkippedTZ++
			s.log.Warn("race time unresolvable; skipping race",
				logx.Int64("race", ev.ID),
				logx.String("race_time", ev.RaceTime),
				logx.Err(err))
			continue
		}

		fireAt := startUTC.Add(-s.cfg.LeadTime)
		if !fireAt.After(now) {
			rep.Stale++
			s.log.Debug("action time already passed; skipping race",
				logx.Int64("race", ev.ID),
				logx.Time("fire_at", fireAt))
			continue
		}

		created, err := s.reg.Register(ctx, storage.Trigger{
			ID:      ActionTriggerID(ev.ID),
			Purpose: storage.PurposeRaceAction,
			FireAt:  fireAt,
			Payload: strconv.FormatInt(ev.ID, 10),
			Grace:   s.cfg.MisfireGrace,
		})
		if err != nil {
			rep.Failed++
			errs = append(errs, fmt.Errorf("race %d: %w", ev.ID, err))
			s.log.Error("action trigger registration failed",
				logx.Int64("race", ev.ID), logx.Err(err))
			continue
		}
		if !created {
			rep.AlreadySet++
			continue
		}
		rep.Scheduled++
		s.log.Info("action scheduled",
			logx.Int64("race", ev.ID),
			logx.Time("fire_at", fireAt),
			logx.String("local", timeutil.FormatVenue(startUTC, s.cfg.Venue)))
	}

	return rep, errors.Join(errs...)
}

// RescheduleAll re-derives action triggers for the full current event set.
// Used after manual edits or to recover from partial failures.
func (s *Service) RescheduleAll(ctx context.Context) (Report, error) {
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list events: %w", err)
	}
	return s.ScheduleActions(ctx, events)
}

// HandleAction is the fire callback for race_action triggers.
//
// The race may have been wiped between registration and fire (refresh runs
// delete derived triggers, but a claim can already be in flight); that is
// treated as stale work, not an error.
func (s *Service) HandleAction(ctx context.Context, tr storage.Trigger) error {
	id, err := strconv.ParseInt(tr.Payload, 10, 64)
	if err != nil {
		return fmt.Errorf("bad action payload %q: %w", tr.Payload, err)
	}
	ev, ok, err := s.store.EventByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load race %d: %w", id, err)
	}
	if !ok {
		s.log.Warn("race gone before action fired; dropping", logx.Int64("race", id))
		return nil
	}
	if err := s.runner.RunRace(ctx, ev); err != nil {
		return fmt.Errorf("race %d action: %w", id, err)
	}
	return nil
}

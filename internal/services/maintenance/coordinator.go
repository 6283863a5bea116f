package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"paddock/internal/metrics"
	"paddock/internal/services/raceday"
	"paddock/internal/storage"
	"paddock/internal/timeutil"
	"paddock/pkg/logx"
)

// Deterministic trigger ids. A fired or cancelled instance is removed from
// the store; the next attempt is a fresh row under the same id.
const (
	TriggerImmediateRefresh = "db_refresh_immediate"
	TriggerDelayedRefresh   = "db_refresh_delayed"
	TriggerHourlyCheck      = "hourly_refresh_check"
	TriggerInitialCheck     = "initial_refresh_check"
)

// Config controls the refresh cycle.
type Config struct {
	// Enabled gates the whole cycle. When false, runs are still recorded
	// so the admin surface shows the cycle is off rather than silent.
	Enabled bool
	Window  WindowOptions
	// ImmediateDelay is the lead on a "safe now" refresh trigger.
	ImmediateDelay time.Duration
	// MisfireGrace bounds how late a due refresh may still run.
	MisfireGrace time.Duration
	// CheckSpec is the cron expression for the periodic check.
	CheckSpec string
	// StartupDelay is the lead on the one-shot check after process start.
	StartupDelay time.Duration
	// Venue resolves naive race times when planning the window.
	Venue *time.Location
}

func (c Config) withDefaults() Config {
	if c.ImmediateDelay <= 0 {
		c.ImmediateDelay = 5 * time.Second
	}
	if c.MisfireGrace <= 0 {
		c.MisfireGrace = 5 * time.Minute
	}
	if c.CheckSpec == "" {
		c.CheckSpec = "0 * * * *"
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = 30 * time.Second
	}
	return c
}

// Store is the slice of storage the coordinator mutates.
type Store interface {
	ListEvents(ctx context.Context) ([]storage.Event, error)
	DeleteAllEvents(ctx context.Context) (int64, error)
	DeleteTriggersByPurpose(ctx context.Context, p storage.Purpose) (int64, error)
	AppendRun(ctx context.Context, r storage.MaintenanceRun) error
}

// Registry registers and cancels durable triggers.
type Registry interface {
	Register(ctx context.Context, tr storage.Trigger) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
}

// Feed fetches the day's programme from the source.
type Feed interface {
	FetchToday(ctx context.Context) ([]storage.Event, error)
}

// Races re-derives per-race action triggers after a refetch.
type Races interface {
	UpsertEvents(ctx context.Context, recs []storage.Event) ([]storage.Event, error)
	ScheduleActions(ctx context.Context, events []storage.Event) (raceday.Report, error)
}

type Coordinator struct {
	cfg   Config
	sched cron.Schedule
	store Store
	reg   Registry
	feed  Feed
	races Races
	met   *metrics.Set
	log   logx.Logger

	now func() time.Time
}

func New(cfg Config, store Store, reg Registry, feed Feed, races Races, met *metrics.Set, log logx.Logger) (*Coordinator, error) {
	cfg = cfg.withDefaults()
	sched, err := cron.ParseStandard(cfg.CheckSpec)
	if err != nil {
		return nil, fmt.Errorf("parse check spec %q: %w", cfg.CheckSpec, err)
	}
	return &Coordinator{
		cfg:   cfg,
		sched: sched,
		store: store,
		reg:   reg,
		feed:  feed,
		races: races,
		met:   met,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock overrides the time source. Tests only.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// Bootstrap registers the startup and hourly check triggers. Both carry no
// grace: a check must survive arbitrary downtime so the cadence re-arms.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	now := c.now()
	if _, err := c.reg.Register(ctx, storage.Trigger{
		ID:      TriggerInitialCheck,
		Purpose: storage.PurposePeriodicCheck,
		FireAt:  now.Add(c.cfg.StartupDelay),
	}); err != nil {
		return fmt.Errorf("register initial check: %w", err)
	}
	if err := c.armHourlyCheck(ctx, now); err != nil {
		return err
	}
	c.log.Info("maintenance checks armed",
		logx.Bool("enabled", c.cfg.Enabled),
		logx.String("cadence", c.cfg.CheckSpec))
	return nil
}

func (c *Coordinator) armHourlyCheck(ctx context.Context, now time.Time) error {
	next := c.sched.Next(now)
	if _, err := c.reg.Register(ctx, storage.Trigger{
		ID:      TriggerHourlyCheck,
		Purpose: storage.PurposePeriodicCheck,
		FireAt:  next,
	}); err != nil {
		return fmt.Errorf("register hourly check: %w", err)
	}
	return nil
}

// RequestRefresh plans the next refresh and registers a one-shot trigger
// for it, superseding any still-pending refresh trigger. Concurrent calls
// converge on the registry's check-and-insert; the last planner to cancel
// and re-register wins, which is correct because every plan is computed
// from the same stored programme.
func (c *Coordinator) RequestRefresh(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.log.Debug("refresh disabled; request ignored")
		return nil
	}
	for _, id := range []string{TriggerImmediateRefresh, TriggerDelayedRefresh} {
		if _, err := c.reg.Cancel(ctx, id); err != nil {
			return fmt.Errorf("cancel %s: %w", id, err)
		}
	}

	now := c.now()
	starts, err := c.upcomingStarts(ctx)
	if err != nil {
		return err
	}
	at, safeNow := NextSafeInstant(now, starts, c.cfg.Window)

	tr := storage.Trigger{
		Purpose: storage.PurposeDelayedRefresh,
		FireAt:  at,
		Grace:   c.cfg.MisfireGrace,
	}
	tr.ID = TriggerDelayedRefresh
	if safeNow {
		tr.ID = TriggerImmediateRefresh
		tr.Purpose = storage.PurposeImmediateRefresh
		tr.FireAt = now.Add(c.cfg.ImmediateDelay)
	}
	if _, err := c.reg.Register(ctx, tr); err != nil {
		return fmt.Errorf("register %s: %w", tr.ID, err)
	}
	c.log.Info("refresh planned",
		logx.String("trigger", tr.ID),
		logx.Time("fire_at", tr.FireAt))
	return nil
}

func (c *Coordinator) upcomingStarts(ctx context.Context) ([]time.Time, error) {
	events, err := c.store.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	starts := make([]time.Time, 0, len(events))
	for _, ev := range events {
		utc, err := timeutil.ResolveUTC(ev.RaceTime, c.cfg.Venue)
		if err != nil {
			c.log.Warn("race time unresolvable; ignoring for window planning",
				logx.Int64("race", ev.ID), logx.Err(err))
			continue
		}
		starts = append(starts, utc)
	}
	return starts, nil
}

// PerformRefresh is the fire callback for refresh triggers: wipe the
// programme and its derived action triggers, refetch, re-derive. Failures
// are recorded in the run row, not propagated; the hourly check is the
// retry path.
//
// The wipe and the refetch are deliberately not one transaction. A crash
// in between leaves an empty programme, which the next periodic check
// repairs within the hour.
func (c *Coordinator) PerformRefresh(ctx context.Context, tr storage.Trigger) error {
	run := storage.MaintenanceRun{
		ID:        uuid.NewString(),
		Type:      string(tr.Purpose),
		StartedAt: c.now(),
	}
	if !c.cfg.Enabled {
		run.Status = storage.RunStatusDisabled
		return c.finishRun(ctx, run)
	}

	deleted, err := c.store.DeleteAllEvents(ctx)
	if err != nil {
		return c.failRun(ctx, run, fmt.Errorf("wipe events: %w", err))
	}
	run.RacesDeleted = int(deleted)
	purged, err := c.store.DeleteTriggersByPurpose(ctx, storage.PurposeRaceAction)
	if err != nil {
		return c.failRun(ctx, run, fmt.Errorf("purge action triggers: %w", err))
	}
	run.TriggersPurged = int(purged)

	fetched, err := c.feed.FetchToday(ctx)
	if err != nil {
		return c.failRun(ctx, run, fmt.Errorf("fetch programme: %w", err))
	}
	saved, err := c.races.UpsertEvents(ctx, fetched)
	if err != nil {
		return c.failRun(ctx, run, fmt.Errorf("save programme: %w", err))
	}
	run.RacesSaved = len(saved)
	c.met.StoredRaces.Set(float64(len(saved)))

	rep, err := c.races.ScheduleActions(ctx, saved)
	run.TriggersSet = rep.Scheduled
	run.EventsSkipped = rep.SkippedTZ + rep.Stale
	if err != nil {
		run.Status = storage.RunStatusPartial
		run.Message = err.Error()
		c.log.Error("refresh completed with scheduling failures", logx.Err(err))
	} else {
		run.Status = storage.RunStatusOK
		c.log.Info("refresh completed",
			logx.Int("deleted", run.RacesDeleted),
			logx.Int("saved", run.RacesSaved),
			logx.Int("scheduled", run.TriggersSet),
			logx.Int("skipped", run.EventsSkipped))
	}
	return c.finishRun(ctx, run)
}

func (c *Coordinator) failRun(ctx context.Context, run storage.MaintenanceRun, cause error) error {
	c.log.Error("refresh failed", logx.String("run", run.ID), logx.Err(cause))
	run.Status = storage.RunStatusError
	run.Message = cause.Error()
	return c.finishRun(ctx, run)
}

func (c *Coordinator) finishRun(ctx context.Context, run storage.MaintenanceRun) error {
	run.FinishedAt = c.now()
	c.met.RefreshRuns.WithLabelValues(run.Status).Inc()
	if err := c.store.AppendRun(ctx, run); err != nil {
		return fmt.Errorf("append run %s: %w", run.ID, err)
	}
	return nil
}

// PeriodicCheck is the fire callback for the check triggers. The hourly
// instance re-arms itself before doing anything else, so a failing refresh
// path can never break the cadence.
func (c *Coordinator) PeriodicCheck(ctx context.Context, tr storage.Trigger) error {
	if tr.ID == TriggerHourlyCheck {
		if err := c.armHourlyCheck(ctx, c.now()); err != nil {
			return err
		}
	}
	return c.RequestRefresh(ctx)
}

// Package app assembles the daemon: config, logging, storage, the trigger
// scheduler, the race-day planner, the maintenance coordinator, the feed
// and executor adapters, and the admin surface.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdd "github.com/coreos/go-systemd/v22/daemon"

	"paddock/internal/adapters/executor"
	"paddock/internal/adapters/telegram"
	"paddock/internal/adapters/unibet"
	"paddock/internal/admin"
	"paddock/internal/config"
	"paddock/internal/metrics"
	"paddock/internal/services/maintenance"
	"paddock/internal/services/raceday"
	"paddock/internal/services/scheduler"
	"paddock/internal/storage"
	"paddock/internal/timeutil"
	"paddock/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store *storage.Store
	met   *metrics.Set
	sched *scheduler.Service
	races *raceday.Service
	coord *maintenance.Coordinator
	admin *admin.Server

	cancelBG context.CancelFunc
	bgWG     sync.WaitGroup
	adminErr <-chan error
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logCfg(cfg))
	log = log.With(logx.String("app", "paddockd"))
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	if cfg.Telegram != nil && cfg.Logging.Relay.Enabled {
		sender, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, ChatID: cfg.Telegram.ChatID})
		if err != nil {
			logSvc.Close()
			return nil, fmt.Errorf("telegram relay: %w", err)
		}
		logSvc.SetSender(sender)
	}

	a := &App{cfgMgr: mgr, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	venue, err := timeutil.LoadVenue(cfg.Feed.VenueTimezone)
	if err != nil {
		return err
	}

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	a.met = metrics.New()

	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval, time.Second)
	if err != nil {
		return err
	}
	a.sched = scheduler.New(scheduler.Config{
		Workers:      cfg.Scheduler.Workers,
		QueueSize:    cfg.Scheduler.QueueSize,
		PollInterval: poll,
		HistorySize:  cfg.Scheduler.HistorySize,
	}, store, a.met, a.log.With(logx.String("comp", "scheduler")))

	lead, err := config.ParseDurationOrDefault("actions.lead_time", cfg.Actions.LeadTime, 3*time.Minute)
	if err != nil {
		return err
	}
	actionGrace, err := config.ParseDurationOrDefault("actions.misfire_grace", cfg.Actions.MisfireGrace, time.Minute)
	if err != nil {
		return err
	}
	actionTimeout, err := config.ParseDurationField("actions.timeout", cfg.Actions.Timeout)
	if err != nil {
		return err
	}
	exec := executor.New(executor.Config{
		PredictURL: cfg.Actions.PredictURL,
		PlaceURL:   cfg.Actions.PlaceURL,
		RatePerSec: cfg.Actions.RatePerSec,
		Timeout:    actionTimeout,
	}, a.log.With(logx.String("comp", "executor")))

	a.races = raceday.New(raceday.Config{
		LeadTime:     lead,
		MisfireGrace: actionGrace,
		Venue:        venue,
	}, store, a.sched, exec, a.log.With(logx.String("comp", "raceday")))

	feedTimeout, err := config.ParseDurationField("feed.timeout", cfg.Feed.Timeout)
	if err != nil {
		return err
	}
	feed, err := unibet.New(unibet.Config{
		ProgrammeURL: cfg.Feed.ProgrammeURL,
		Venue:        venue,
		Timeout:      feedTimeout,
	}, a.log.With(logx.String("comp", "feed")))
	if err != nil {
		return fmt.Errorf("feed adapter: %w", err)
	}

	coordCfg, err := refreshCfg(cfg, venue)
	if err != nil {
		return err
	}
	a.coord, err = maintenance.New(coordCfg, store, a.sched, feed, a.races,
		a.met, a.log.With(logx.String("comp", "maintenance")))
	if err != nil {
		return err
	}

	a.sched.Handle(storage.PurposeRaceAction, a.races.HandleAction)
	a.sched.Handle(storage.PurposeImmediateRefresh, a.coord.PerformRefresh)
	a.sched.Handle(storage.PurposeDelayedRefresh, a.coord.PerformRefresh)
	a.sched.Handle(storage.PurposePeriodicCheck, a.coord.PeriodicCheck)

	if cfg.Admin.Enabled {
		a.admin = admin.New(admin.Config{Addr: cfg.Admin.Addr},
			a.coord, a.races, a.sched, store, a.met,
			a.log.With(logx.String("comp", "admin")))
	}
	return nil
}

func logCfg(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Relay.Enabled,
			MinLevel:   cfg.Logging.Relay.MinLevel,
			RatePerSec: cfg.Logging.Relay.RatePerSec,
		},
	}
}

func refreshCfg(cfg *config.Config, venue *time.Location) (maintenance.Config, error) {
	horizon, err := config.ParseDurationField("refresh.horizon", cfg.Refresh.Horizon)
	if err != nil {
		return maintenance.Config{}, err
	}
	buffer, err := config.ParseDurationField("refresh.safety_buffer", cfg.Refresh.SafetyBuffer)
	if err != nil {
		return maintenance.Config{}, err
	}
	busyDur, err := config.ParseDurationField("refresh.action_duration", cfg.Refresh.ActionDuration)
	if err != nil {
		return maintenance.Config{}, err
	}
	immediate, err := config.ParseDurationField("refresh.immediate_delay", cfg.Refresh.ImmediateDelay)
	if err != nil {
		return maintenance.Config{}, err
	}
	grace, err := config.ParseDurationField("refresh.misfire_grace", cfg.Refresh.MisfireGrace)
	if err != nil {
		return maintenance.Config{}, err
	}
	startup, err := config.ParseDurationField("refresh.startup_delay", cfg.Refresh.StartupDelay)
	if err != nil {
		return maintenance.Config{}, err
	}
	return maintenance.Config{
		Enabled: cfg.Refresh.Enabled,
		Window: maintenance.WindowOptions{
			Horizon:        horizon,
			SafetyBuffer:   buffer,
			ActionDuration: busyDur,
		},
		ImmediateDelay: immediate,
		MisfireGrace:   grace,
		CheckSpec:      cfg.Refresh.CheckSpec,
		StartupDelay:   startup,
		Venue:          venue,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sched.Start(ctx)
	if err := a.coord.Bootstrap(ctx); err != nil {
		return err
	}
	if a.admin != nil {
		a.adminErr = a.admin.Start()
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancelBG = cancel
	a.watchConfig(bgCtx)
	a.notifySystemd(bgCtx)

	a.log.Info("paddockd started")
	return nil
}

// watchConfig hot-reloads the logging section; everything else requires a
// restart because the pieces are wired at construction time.
func (a *App) watchConfig(ctx context.Context) {
	sub := a.cfgMgr.Subscribe(1)
	a.bgWG.Add(2)
	go func() {
		defer a.bgWG.Done()
		if err := a.cfgMgr.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		defer a.bgWG.Done()
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.logSvc.Apply(logCfg(cfg))
				a.log.Info("logging config reloaded")
			}
		}
	}()
}

// notifySystemd reports readiness and, when a watchdog is configured on
// the unit, pings it at half the configured interval. Outside systemd both
// calls are no-ops.
func (a *App) notifySystemd(ctx context.Context) {
	_, _ = sdd.SdNotify(false, sdd.SdNotifyReady)

	interval, err := sdd.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = sdd.SdNotify(false, sdd.SdNotifyWatchdog)
			}
		}
	}()
}

// AdminErr yields the admin listener's terminal error, if the listener is
// enabled and fails.
func (a *App) AdminErr() <-chan error { return a.adminErr }

func (a *App) Stop(ctx context.Context) error {
	_, _ = sdd.SdNotify(false, sdd.SdNotifyStopping)

	if a.cancelBG != nil {
		a.cancelBG()
	}
	if a.admin != nil {
		if err := a.admin.Stop(ctx); err != nil {
			a.log.Warn("admin shutdown", logx.Err(err))
		}
	}
	a.sched.Stop(ctx)
	a.bgWG.Wait()

	err := a.store.Close()
	a.log.Info("paddockd stopped")
	if cerr := a.logSvc.Close(); err == nil {
		err = cerr
	}
	return err
}

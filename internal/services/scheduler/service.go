package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	"paddock/internal/metrics"
	"paddock/internal/storage"
	"paddock/pkg/logx"
)

func New(cfg Config, store TriggerStore, met *metrics.Set, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	return &Service{
		log:      log,
		cfg:      cfg,
		store:    store,
		met:      met,
		now:      func() time.Time { return time.Now().UTC() },
		handlers: map[storage.Purpose]Handler{},
	}
}

// SetClock overrides the loop's time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Handle binds a purpose to its fire callback. Bind everything before
// Start; a due trigger with no handler is claimed and logged as an error.
func (s *Service) Handle(p storage.Purpose, h Handler) {
	s.mu.Lock()
	s.handlers[p] = h
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.queue = make(chan task, s.cfg.QueueSize)

	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.worker(ctx, stopCh, queue, idx)
		}()
	}

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.loop(ctx, stopCh, queue)
	}()

	s.log.Info("scheduler started",
		logx.Int("workers", s.cfg.Workers),
		logx.Duration("poll_interval", s.cfg.PollInterval))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	s.stopCh = nil
	s.queue = nil
	s.mu.Unlock()

	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		// workers finish in the background; pending claims re-derive
		// on the next periodic check
		s.log.Warn("scheduler stop timed out; continuing shutdown")
	}
}

func (s *Service) loop(ctx context.Context, stopCh <-chan struct{}, queue chan task) {
	tick := time.NewTicker(s.cfg.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-tick.C:
			s.evaluate(ctx, queue)
		}
	}
}

// evaluate claims due triggers and hands them to the workers. When the
// queue has no room left, remaining due triggers simply stay in the store
// and are re-evaluated next tick: backpressure through durability instead
// of dropped work.
func (s *Service) evaluate(ctx context.Context, queue chan task) {
	s.mu.Lock()
	now := s.now()
	s.mu.Unlock()

	due, err := s.store.DueTriggers(ctx, now)
	if err != nil {
		s.log.Error("due trigger query failed", logx.Err(err))
		return
	}

	for i, tr := range due {
		if tr.Misfired(now) {
			claimed, err := s.store.DeleteTrigger(ctx, tr.ID)
			if err != nil {
				s.log.Error("misfired trigger cleanup failed", logx.String("trigger", tr.ID), logx.Err(err))
				continue
			}
			if claimed {
				s.log.Warn("missed fire: trigger due beyond grace window",
					logx.String("trigger", tr.ID),
					logx.String("purpose", string(tr.Purpose)),
					logx.Time("fire_at", tr.FireAt),
					logx.Duration("late_by", now.Sub(tr.FireAt)),
					logx.Duration("grace", tr.Grace))
				if s.met != nil {
					s.met.TriggersMisfired.WithLabelValues(string(tr.Purpose)).Inc()
				}
			}
			continue
		}

		if len(queue) == cap(queue) {
			s.log.Warn("worker queue full; deferring due triggers to next tick",
				logx.Int("deferred", len(due)-i))
			return
		}
		claimed, err := s.store.DeleteTrigger(ctx, tr.ID)
		if err != nil {
			s.log.Error("trigger claim failed", logx.String("trigger", tr.ID), logx.Err(err))
			continue
		}
		if !claimed {
			// cancelled between the query and the claim
			continue
		}
		if s.met != nil {
			s.met.TriggersFired.WithLabelValues(string(tr.Purpose)).Inc()
		}
		queue <- task{tr: tr}
	}

	if s.met != nil {
		if live, err := s.store.ListTriggers(ctx); err == nil {
			s.met.LiveTriggers.Set(float64(len(live)))
		}
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in trigger handler",
				logx.String("trigger", t.tr.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	s.mu.Lock()
	h := s.handlers[t.tr.Purpose]
	s.mu.Unlock()

	var err error
	if h == nil {
		s.log.Error("no handler for fired trigger",
			logx.String("trigger", t.tr.ID),
			logx.String("purpose", string(t.tr.Purpose)))
	} else {
		err = h(ctx, t.tr)
	}

	dur := time.Since(start)
	item := HistoryItem{
		TriggerID: t.tr.ID,
		Purpose:   t.tr.Purpose,
		Started:   start,
		Duration:  dur,
	}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("trigger handler failed",
			logx.String("trigger", t.tr.ID),
			logx.Duration("dur", dur),
			logx.Err(err))
	} else {
		s.log.Info("trigger fired",
			logx.String("trigger", t.tr.ID),
			logx.String("purpose", string(t.tr.Purpose)),
			logx.Duration("dur", dur))
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

// History returns a copy of the recent fire log, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

// Package admin exposes the operator HTTP surface: manual refresh and
// reschedule, live trigger and programme inspection, run history, health
// and metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"paddock/internal/metrics"
	"paddock/internal/services/raceday"
	"paddock/internal/storage"
	"paddock/pkg/logx"
)

type Config struct {
	Addr string
}

// Refresher accepts an asynchronous refresh request.
type Refresher interface {
	RequestRefresh(ctx context.Context) error
}

// Rescheduler re-derives action triggers for the stored programme.
type Rescheduler interface {
	RescheduleAll(ctx context.Context) (raceday.Report, error)
}

// Registry lists live triggers.
type Registry interface {
	List(ctx context.Context) ([]storage.Trigger, error)
}

// Reader serves the stored programme and the run history.
type Reader interface {
	ListEvents(ctx context.Context) ([]storage.Event, error)
	ListRuns(ctx context.Context, limit int) ([]storage.MaintenanceRun, error)
}

type Server struct {
	cfg   Config
	ref   Refresher
	races Rescheduler
	reg   Registry
	data  Reader
	met   *metrics.Set
	log   logx.Logger

	srv *http.Server
}

func New(cfg Config, ref Refresher, races Rescheduler, reg Registry, data Reader, met *metrics.Set, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8090"
	}
	s := &Server{cfg: cfg, ref: ref, races: races, reg: reg, data: data, met: met, log: log}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.met.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/refresh", s.handleRefresh)
		r.Post("/reschedule", s.handleReschedule)
		r.Get("/triggers", s.handleTriggers)
		r.Get("/races", s.handleRaces)
		r.Get("/runs", s.handleRuns)
	})
	return r
}

// Start begins serving in the background. The returned channel yields the
// listener's terminal error, if any.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin server listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRefresh is fire-and-forget: planning happens off-request so a slow
// store never holds the operator's connection.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.ref.RequestRefresh(ctx); err != nil {
			s.log.Error("manual refresh request failed", logx.Err(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleReschedule(w http.ResponseWriter, _ *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		rep, err := s.races.RescheduleAll(ctx)
		if err != nil {
			s.log.Error("manual reschedule failed", logx.Err(err))
			return
		}
		s.log.Info("manual reschedule completed",
			logx.Int("scheduled", rep.Scheduled),
			logx.Int("already_set", rep.AlreadySet))
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type triggerView struct {
	ID      string    `json:"id"`
	Purpose string    `json:"purpose"`
	RaceID  *int64    `json:"race_id,omitempty"`
	FireAt  time.Time `json:"fire_at"`
	Grace   string    `json:"grace,omitempty"`
}

func (s *Server) handleTriggers(w http.ResponseWriter, r *http.Request) {
	trs, err := s.reg.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]triggerView, 0, len(trs))
	for _, tr := range trs {
		v := triggerView{
			ID:      tr.ID,
			Purpose: string(tr.Purpose),
			FireAt:  tr.FireAt,
		}
		if tr.Grace > 0 {
			v.Grace = tr.Grace.String()
		}
		if tr.Purpose == storage.PurposeRaceAction {
			if id, err := strconv.ParseInt(tr.Payload, 10, 64); err == nil {
				v.RaceID = &id
			}
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": views})
}

func (s *Server) handleRaces(w http.ResponseWriter, r *http.Request) {
	events, err := s.data.ListEvents(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"races": eventViews(events)})
}

type eventView struct {
	ID        int64  `json:"id"`
	UnibetID  string `json:"unibet_id"`
	Name      string `json:"name"`
	Meeting   string `json:"meeting"`
	RaceTime  string `json:"race_time"`
	URL       string `json:"url,omitempty"`
	DistanceM int    `json:"distance_m,omitempty"`
}

func eventViews(events []storage.Event) []eventView {
	out := make([]eventView, 0, len(events))
	for _, ev := range events {
		out = append(out, eventView{
			ID:        ev.ID,
			UnibetID:  ev.UnibetID,
			Name:      ev.Name,
			Meeting:   ev.Meeting,
			RaceTime:  ev.RaceTime,
			URL:       ev.URL,
			DistanceM: ev.DistanceM,
		})
	}
	return out
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.data.ListRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, runView{
			ID:             run.ID,
			Type:           run.Type,
			StartedAt:      run.StartedAt,
			FinishedAt:     run.FinishedAt,
			Status:         run.Status,
			Message:        run.Message,
			RacesDeleted:   run.RacesDeleted,
			RacesSaved:     run.RacesSaved,
			TriggersSet:    run.TriggersSet,
			EventsSkipped:  run.EventsSkipped,
			TriggersPurged: run.TriggersPurged,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": views})
}

type runView struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Status         string    `json:"status"`
	Message        string    `json:"message,omitempty"`
	RacesDeleted   int       `json:"races_deleted"`
	RacesSaved     int       `json:"races_saved"`
	TriggersSet    int       `json:"triggers_set"`
	EventsSkipped  int       `json:"events_skipped"`
	TriggersPurged int       `json:"triggers_purged"`
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.log.Error("admin request failed", logx.Err(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

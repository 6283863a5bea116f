package maintenance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"paddock/internal/metrics"
	"paddock/internal/services/raceday"
	"paddock/internal/storage"
	"paddock/pkg/logx"
)

// --- Test doubles ---

type fakeStore struct {
	mu     sync.Mutex
	events []storage.Event
	runs   []storage.MaintenanceRun
}

func (f *fakeStore) ListEvents(context.Context) ([]storage.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.Event(nil), f.events...), nil
}

func (f *fakeStore) DeleteAllEvents(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.events))
	f.events = nil
	return n, nil
}

func (f *fakeStore) DeleteTriggersByPurpose(context.Context, storage.Purpose) (int64, error) {
	return 0, nil
}

func (f *fakeStore) AppendRun(_ context.Context, r storage.MaintenanceRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return nil
}

func (f *fakeStore) lastRun(t *testing.T) storage.MaintenanceRun {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runs) == 0 {
		t.Fatal("no maintenance runs recorded")
	}
	return f.runs[len(f.runs)-1]
}

type fakeRegistry struct {
	mu   sync.Mutex
	byID map[string]storage.Trigger
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{byID: map[string]storage.Trigger{}}
}

func (f *fakeRegistry) Register(_ context.Context, tr storage.Trigger) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[tr.ID]; ok {
		return false, nil
	}
	f.byID[tr.ID] = tr
	return true, nil
}

func (f *fakeRegistry) Cancel(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return false, nil
	}
	delete(f.byID, id)
	return true, nil
}

func (f *fakeRegistry) live() map[string]storage.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]storage.Trigger, len(f.byID))
	for k, v := range f.byID {
		out[k] = v
	}
	return out
}

type fakeFeed struct {
	events []storage.Event
	err    error
}

func (f *fakeFeed) FetchToday(context.Context) ([]storage.Event, error) {
	return f.events, f.err
}

// fakeRaces delegates persistence to the store so wipe+save is observable.
type fakeRaces struct {
	st        *fakeStore
	scheduled int
	schedErr  error
}

func (f *fakeRaces) UpsertEvents(_ context.Context, recs []storage.Event) ([]storage.Event, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.events = append(f.st.events, recs...)
	return recs, nil
}

func (f *fakeRaces) ScheduleActions(_ context.Context, events []storage.Event) (raceday.Report, error) {
	f.scheduled += len(events)
	return raceday.Report{Scheduled: len(events)}, f.schedErr
}

// --- Harness ---

type harness struct {
	co    *Coordinator
	st    *fakeStore
	reg   *fakeRegistry
	feed  *fakeFeed
	races *fakeRaces
	now   time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		st:   &fakeStore{},
		reg:  newFakeRegistry(),
		feed: &fakeFeed{},
		now:  time.Date(2026, 9, 6, 12, 30, 0, 0, time.UTC),
	}
	h.races = &fakeRaces{st: h.st}
	co, err := New(cfg, h.st, h.reg, h.feed, h.races, metrics.New(), logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	co.SetClock(func() time.Time { return h.now })
	h.co = co
	return h
}

func enabledCfg() Config {
	return Config{Enabled: true, ImmediateDelay: 5 * time.Second, MisfireGrace: 5 * time.Minute}
}

// --- Tests ---

func TestRequestRefreshSafeNow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, enabledCfg())

	if err := h.co.RequestRefresh(context.Background()); err != nil {
		t.Fatalf("RequestRefresh: %v", err)
	}
	live := h.reg.live()
	tr, ok := live[TriggerImmediateRefresh]
	if !ok || len(live) != 1 {
		t.Fatalf("want exactly the immediate trigger, got %v", live)
	}
	if want := h.now.Add(5 * time.Second); !tr.FireAt.Equal(want) {
		t.Fatalf("fire at %v, want %v", tr.FireAt, want)
	}
	if tr.Grace != 5*time.Minute {
		t.Fatalf("grace = %v, want 5m", tr.Grace)
	}
}

func TestRequestRefreshDelayedDuringRacing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, enabledCfg())
	h.st.events = []storage.Event{
		{ID: 1, RaceTime: h.now.Add(1 * time.Minute).Format(time.RFC3339)},
		{ID: 2, RaceTime: h.now.Add(90 * time.Minute).Format(time.RFC3339)},
	}

	if err := h.co.RequestRefresh(context.Background()); err != nil {
		t.Fatalf("RequestRefresh: %v", err)
	}
	live := h.reg.live()
	tr, ok := live[TriggerDelayedRefresh]
	if !ok || len(live) != 1 {
		t.Fatalf("want exactly the delayed trigger, got %v", live)
	}
	if want := h.now.Add(11 * time.Minute); !tr.FireAt.Equal(want) {
		t.Fatalf("fire at %v, want %v", tr.FireAt, want)
	}
}

func TestRequestRefreshSupersedesPending(t *testing.T) {
	t.Parallel()
	h := newHarness(t, enabledCfg())
	ctx := context.Background()

	if err := h.co.RequestRefresh(ctx); err != nil {
		t.Fatalf("first request: %v", err)
	}
	h.now = h.now.Add(time.Second)
	if err := h.co.RequestRefresh(ctx); err != nil {
		t.Fatalf("second request: %v", err)
	}
	live := h.reg.live()
	if len(live) != 1 {
		t.Fatalf("want one live refresh trigger after supersession, got %v", live)
	}
	if tr := live[TriggerImmediateRefresh]; !tr.FireAt.Equal(h.now.Add(5 * time.Second)) {
		t.Fatalf("pending trigger not re-planned: fires at %v", tr.FireAt)
	}
}

func TestRequestRefreshDisabled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Enabled: false})
	if err := h.co.RequestRefresh(context.Background()); err != nil {
		t.Fatalf("RequestRefresh: %v", err)
	}
	if live := h.reg.live(); len(live) != 0 {
		t.Fatalf("disabled coordinator registered triggers: %v", live)
	}
}

func TestPerformRefreshHappyPath(t *testing.T) {
	t.Parallel()
	h := newHarness(t, enabledCfg())
	ctx := context.Background()
	h.st.events = []storage.Event{{ID: 1, UnibetID: "old"}}
	h.feed.events = []storage.Event{
		{UnibetID: "u-1", RaceTime: h.now.Add(time.Hour).Format(time.RFC3339)},
		{UnibetID: "u-2", RaceTime: h.now.Add(2 * time.Hour).Format(time.RFC3339)},
	}

	tr := storage.Trigger{ID: TriggerImmediateRefresh, Purpose: storage.PurposeImmediateRefresh}
	if err := h.co.PerformRefresh(ctx, tr); err != nil {
		t.Fatalf("PerformRefresh: %v", err)
	}
	run := h.st.lastRun(t)
	if run.Status != storage.RunStatusOK {
		t.Fatalf("status = %q, want ok (message: %s)", run.Status, run.Message)
	}
	if run.RacesDeleted != 1 || run.RacesSaved != 2 || run.TriggersSet != 2 {
		t.Fatalf("unexpected counts: %+v", run)
	}
	if run.ID == "" || run.Type != string(storage.PurposeImmediateRefresh) {
		t.Fatalf("run identity not recorded: %+v", run)
	}
}

func TestPerformRefreshFeedErrorRecorded(t *testing.T) {
	t.Parallel()
	h := newHarness(t, enabledCfg())
	h.feed.err = errors.New("programme endpoint 503")

	tr := storage.Trigger{ID: TriggerDelayedRefresh, Purpose: storage.PurposeDelayedRefresh}
	if err := h.co.PerformRefresh(context.Background(), tr); err != nil {
		t.Fatalf("feed failure must be recorded, not propagated: %v", err)
	}
	run := h.st.lastRun(t)
	if run.Status != storage.RunStatusError || !strings.Contains(run.Message, "503") {
		t.Fatalf("run = %+v", run)
	}
}

func TestPerformRefreshPartialOnSchedulingFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, enabledCfg())
	h.races.schedErr = errors.New("race 7: disk full")
	h.feed.events = []storage.Event{{UnibetID: "u-1", RaceTime: h.now.Add(time.Hour).Format(time.RFC3339)}}

	tr := storage.Trigger{ID: TriggerImmediateRefresh, Purpose: storage.PurposeImmediateRefresh}
	if err := h.co.PerformRefresh(context.Background(), tr); err != nil {
		t.Fatalf("PerformRefresh: %v", err)
	}
	if run := h.st.lastRun(t); run.Status != storage.RunStatusPartial {
		t.Fatalf("status = %q, want partial", run.Status)
	}
}

func TestPerformRefreshDisabled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Enabled: false})
	tr := storage.Trigger{ID: TriggerImmediateRefresh, Purpose: storage.PurposeImmediateRefresh}
	if err := h.co.PerformRefresh(context.Background(), tr); err != nil {
		t.Fatalf("PerformRefresh: %v", err)
	}
	if run := h.st.lastRun(t); run.Status != storage.RunStatusDisabled {
		t.Fatalf("status = %q, want disabled", run.Status)
	}
}

func TestBootstrapArmsChecks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, enabledCfg())
	if err := h.co.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	live := h.reg.live()
	initial, ok := live[TriggerInitialCheck]
	if !ok {
		t.Fatal("initial check not registered")
	}
	if want := h.now.Add(30 * time.Second); !initial.FireAt.Equal(want) {
		t.Fatalf("initial check fires at %v, want %v", initial.FireAt, want)
	}
	hourly, ok := live[TriggerHourlyCheck]
	if !ok {
		t.Fatal("hourly check not registered")
	}
	// Clock is 12:30:00; default spec fires at the top of the hour.
	if want := time.Date(2026, 9, 6, 13, 0, 0, 0, time.UTC); !hourly.FireAt.Equal(want) {
		t.Fatalf("hourly check fires at %v, want %v", hourly.FireAt, want)
	}
	if initial.Grace != 0 || hourly.Grace != 0 {
		t.Fatal("check triggers must never misfire")
	}
}

func TestPeriodicCheckRearmsAndRequests(t *testing.T) {
	t.Parallel()
	h := newHarness(t, enabledCfg())
	ctx := context.Background()

	tr := storage.Trigger{ID: TriggerHourlyCheck, Purpose: storage.PurposePeriodicCheck}
	if err := h.co.PeriodicCheck(ctx, tr); err != nil {
		t.Fatalf("PeriodicCheck: %v", err)
	}
	live := h.reg.live()
	if _, ok := live[TriggerHourlyCheck]; !ok {
		t.Fatal("hourly check did not re-arm")
	}
	if _, ok := live[TriggerImmediateRefresh]; !ok {
		t.Fatal("check did not request a refresh")
	}

	// The one-shot startup check requests a refresh without re-arming.
	h2 := newHarness(t, enabledCfg())
	if err := h2.co.PeriodicCheck(ctx, storage.Trigger{ID: TriggerInitialCheck, Purpose: storage.PurposePeriodicCheck}); err != nil {
		t.Fatalf("initial check: %v", err)
	}
	if _, ok := h2.reg.live()[TriggerHourlyCheck]; ok {
		t.Fatal("initial check must not arm the hourly trigger")
	}
}

package unibet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paddock/pkg/logx"
)

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("load Europe/Paris: %v", err)
	}
	return loc
}

func TestFetchToday(t *testing.T) {
	t.Parallel()
	// 1784034000000 ms = 2026-07-14T13:00:00Z = 15:00 in Paris (CEST).
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/programme" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"races":[
			{"raceId":"3301587","startTime":1784034000000,"raceTitle":"Prix de la Ville","meetingTitle":"Vincennes","url":"https://example.test/turf/course/3301587","distance":"2700m"},
			{"raceId":"3301588","startTime":1784037600000,"raceTitle":"Prix du Nord","meetingTitle":"Vincennes","distance":"2100 m"},
			{"raceId":"","startTime":1784034000000,"raceTitle":"orphan"},
			{"raceId":"3301589","startTime":0,"raceTitle":"no clock"}
		]}`))
	}))
	defer srv.Close()

	c, err := New(Config{ProgrammeURL: srv.URL + "/programme", Venue: paris(t)}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fetchedAt := time.Date(2026, 7, 14, 9, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return fetchedAt })

	events, err := c.FetchToday(context.Background())
	if err != nil {
		t.Fatalf("FetchToday: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}

	first := events[0]
	if first.UnibetID != "3301587" || first.Meeting != "Vincennes" {
		t.Fatalf("unexpected event: %+v", first)
	}
	if first.RaceTime != "2026-07-14T15:00:00+02:00" {
		t.Fatalf("race time %q, want venue-local with offset", first.RaceTime)
	}
	if first.DistanceM != 2700 {
		t.Fatalf("distance = %d, want 2700", first.DistanceM)
	}
	if !first.FetchedAt.Equal(fetchedAt) {
		t.Fatalf("fetched at %v", first.FetchedAt)
	}
	// The second race carries no URL; the canonical course path is derived
	// from the programme host.
	if want := srv.URL + "/turf/course/3301588"; events[1].URL != want {
		t.Fatalf("derived url %q, want %q", events[1].URL, want)
	}
}

func TestFetchTodayErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := New(Config{ProgrammeURL: srv.URL, Venue: paris(t)}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.FetchToday(context.Background()); err == nil {
		t.Fatal("non-200 must be an error")
	}

	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("empty programme url must be rejected")
	}
}

func TestParseDistance(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want int
	}{
		{"2700m", 2700},
		{"2100 m", 2100},
		{"", 0},
		{"soft", 0},
		{"-5m", 0},
	}
	for _, tt := range tests {
		if got := parseDistance(tt.in); got != tt.want {
			t.Errorf("parseDistance(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

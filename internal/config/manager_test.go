package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
  relay:
    enabled: false
storage:
  path: ./paddock.sqlite
scheduler:
  workers: 3
  poll_interval: 500ms
feed:
  programme_url: https://example.test/turf/programme.json
  venue_timezone: Europe/Paris
actions:
  lead_time: 3m
  misfire_grace: 60s
refresh:
  enabled: true
  check_spec: "0 * * * *"
admin:
  enabled: true
  addr: 127.0.0.1:8090
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Workers != 3 {
		t.Fatalf("workers = %d, want 3", cfg.Scheduler.Workers)
	}
	if cfg.Feed.VenueTimezone != "Europe/Paris" {
		t.Fatalf("venue tz = %q", cfg.Feed.VenueTimezone)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: info
  legacy_sink: somewhere
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestLoadRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"admin":{"enabled":true}}{"extra":1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected trailing-data error")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5)
	if err != nil || d != 5 {
		t.Fatalf("default not applied: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-3m"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if _, err := ParseDurationField("x", "threeish"); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

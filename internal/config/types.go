package config

// Config is the full paddockd configuration.
//
// All duration fields are Go duration strings (e.g. "5s", "3m", "24h").
// The file may be JSON or YAML; YAML is coerced to JSON before strict
// decoding so unknown keys are rejected in both formats.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Feed      FeedConfig      `json:"feed"`
	Actions   ActionsConfig   `json:"actions"`
	Refresh   RefreshConfig   `json:"refresh"`
	Admin     AdminConfig     `json:"admin"`
	Telegram  *TelegramConfig `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	// Relay forwards warn+ lines to the ops Telegram chat when a
	// telegram section is configured.
	Relay LoggingRelay `json:"relay"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingRelay struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the SQLite registry file.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the trigger evaluation loop.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - poll_interval: "1s"
//   - history_size: 200
type SchedulerConfig struct {
	Workers      int    `json:"workers,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	HistorySize  int    `json:"history_size,omitempty"`
}

// FeedConfig locates the daily programme feed.
type FeedConfig struct {
	ProgrammeURL string `json:"programme_url"`
	// VenueTimezone resolves naive race times; default "Europe/Paris".
	VenueTimezone string `json:"venue_timezone,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
}

// ActionsConfig controls per-race action triggers.
type ActionsConfig struct {
	// LeadTime is how long before the race start the action fires ("3m").
	LeadTime string `json:"lead_time,omitempty"`
	// MisfireGrace drops an action trigger that comes due later than this ("60s").
	MisfireGrace string `json:"misfire_grace,omitempty"`

	// Downstream endpoints the executor forwards to.
	PredictURL string `json:"predict_url,omitempty"`
	PlaceURL   string `json:"place_url,omitempty"`
	// RatePerSec throttles downstream calls; default 2.
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// RefreshConfig controls the wipe-and-refetch maintenance cycle.
//
// Defaults match the production behavior: a 24h look-ahead horizon, a 3m
// safety buffer around imminent races, a 10m busy window per race, an
// hourly check at minute 0 plus one check 30s after start, and a 5m
// misfire grace on refresh triggers.
type RefreshConfig struct {
	Enabled        bool   `json:"enabled"`
	Horizon        string `json:"horizon,omitempty"`
	SafetyBuffer   string `json:"safety_buffer,omitempty"`
	ActionDuration string `json:"action_duration,omitempty"`
	ImmediateDelay string `json:"immediate_delay,omitempty"`
	MisfireGrace   string `json:"misfire_grace,omitempty"`
	CheckSpec      string `json:"check_spec,omitempty"`
	StartupDelay   string `json:"startup_delay,omitempty"`
}

// AdminConfig controls the administrative HTTP listener.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8090"
}

// TelegramConfig configures the ops notification chat.
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

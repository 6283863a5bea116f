package storage

import "time"

// Purpose tags what a trigger does when it fires.
type Purpose string

const (
	PurposeRaceAction       Purpose = "race_action"
	PurposeImmediateRefresh Purpose = "refresh_immediate"
	PurposeDelayedRefresh   Purpose = "refresh_delayed"
	PurposePeriodicCheck    Purpose = "periodic_check"
)

// Event is one race from the daily programme.
//
// UnibetID is the natural key for upserts; ID is assigned on first insert
// and stable afterwards. RaceTime is stored exactly as sourced (venue-local,
// with or without offset) and is only resolved to UTC at the point of use
// via timeutil.ResolveUTC.
type Event struct {
	ID        int64
	UnibetID  string
	Name      string
	Meeting   string
	RaceTime  string
	URL       string
	Surface   string
	DistanceM int
	FetchedAt time.Time
}

// Trigger is a durable, uniquely identified future action.
//
// The ID is deterministic over (target, purpose), e.g. "race_42", so a
// second registration attempt for the same work is a benign no-op. At most
// one live row exists per ID.
type Trigger struct {
	ID        string
	Purpose   Purpose
	FireAt    time.Time // UTC
	Payload   string    // event id for race actions, empty otherwise
	Grace     time.Duration
	CreatedAt time.Time
}

// Misfired reports whether the trigger came due too long ago to still be
// allowed to fire.
func (t Trigger) Misfired(now time.Time) bool {
	return t.Grace > 0 && now.Sub(t.FireAt) > t.Grace
}

// Run statuses for the maintenance log.
const (
	RunStatusOK       = "ok"
	RunStatusError    = "error"
	RunStatusDisabled = "disabled"
	RunStatusPartial  = "partial"
)

// MaintenanceRun is one append-only row per refresh attempt, including
// failed ones. Rows are never mutated after FinishedAt is set.
type MaintenanceRun struct {
	ID         string
	Type       string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Message    string

	RacesDeleted   int
	RacesSaved     int
	TriggersSet    int
	EventsSkipped  int
	TriggersPurged int
}

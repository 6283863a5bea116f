package maintenance

import (
	"sort"
	"time"
)

// WindowOptions tunes the safe-window search.
type WindowOptions struct {
	// Horizon bounds how far ahead races are considered.
	Horizon time.Duration
	// SafetyBuffer is the minimum clearance before the next race start.
	SafetyBuffer time.Duration
	// ActionDuration is how long a race keeps the system busy after its
	// start (the action itself plus its downstream work).
	ActionDuration time.Duration
}

func (o WindowOptions) withDefaults() WindowOptions {
	if o.Horizon <= 0 {
		o.Horizon = 24 * time.Hour
	}
	if o.SafetyBuffer <= 0 {
		o.SafetyBuffer = 3 * time.Minute
	}
	if o.ActionDuration <= 0 {
		o.ActionDuration = 10 * time.Minute
	}
	return o
}

// NextSafeInstant returns the earliest instant at which a refresh avoids
// every upcoming race, or safeNow=true when it can run immediately.
//
// starts are race start times already resolved to UTC by the caller; mixing
// resolved and unresolved values here silently corrupts the comparison, so
// the resolution happens in exactly one place upstream.
func NextSafeInstant(now time.Time, starts []time.Time, opts WindowOptions) (at time.Time, safeNow bool) {
	opts = opts.withDefaults()
	now = now.UTC()

	horizonEnd := now.Add(opts.Horizon)
	upcoming := make([]time.Time, 0, len(starts))
	for _, s := range starts {
		s = s.UTC()
		if s.After(now) && !s.After(horizonEnd) {
			upcoming = append(upcoming, s)
		}
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].Before(upcoming[j]) })

	if len(upcoming) == 0 || upcoming[0].After(now.Add(opts.SafetyBuffer)) {
		return time.Time{}, true
	}

	// Walk forward and stop at the first gap wide enough; the earliest
	// qualifying instant wins, never a later one.
	for i, start := range upcoming {
		busyEnd := start.Add(opts.ActionDuration)
		if i == len(upcoming)-1 {
			return busyEnd, false
		}
		if upcoming[i+1].Sub(busyEnd) >= opts.SafetyBuffer {
			return busyEnd, false
		}
	}

	// Racing back to back through the whole horizon: push to the quiet
	// hours of the next day.
	y, m, d := now.Date()
	return time.Date(y, m, d, 1, 0, 0, 0, time.UTC).AddDate(0, 0, 1), false
}

// Package raceday turns the daily programme into per-race action triggers.
//
// Each race gets one trigger that fires a fixed lead time before the start,
// under the deterministic id "race_<id>". Re-running the derivation over
// the same or an overlapping programme never duplicates triggers and never
// re-schedules an action whose fire time has passed.
package raceday

// Package maintenance owns the wipe-and-refetch cycle of the programme
// database.
//
// A refresh is disruptive: it deletes every stored race and its derived
// action triggers before refetching, so it must never run while a race
// action is imminent or in flight. The window planner picks the earliest
// instant clear of all upcoming races; the coordinator turns that choice
// into durable one-shot triggers and records every attempt as an
// append-only maintenance run.
//
// Nothing here retries locally. A failed or skipped refresh is
// re-evaluated by the hourly periodic check, which is itself a durable
// trigger that re-arms on every fire.
package maintenance

// Package scheduler runs the durable trigger loop.
//
// # Overview
//
// Triggers live in the SQLite registry, not in memory, so pending work
// survives a redeploy. A single evaluation loop polls the store for due
// triggers and dispatches each to a worker pool; callbacks therefore never
// block evaluation of other due triggers, and many fires may run
// concurrently.
//
// # Identity and dedup
//
// Trigger ids are deterministic over (target, purpose), like "race_42"
// or "db_refresh_delayed", and registration is check-and-insert inside one
// store transaction. A duplicate registration is a benign no-op.
//
// # Misfires
//
// A trigger that comes due later than its grace window allows (process
// downtime, long GC of the host) is dropped and recorded as a missed fire.
// That is an accepted consequence of downtime, not an application error;
// unrelated due triggers still fire normally.
//
// # Claiming
//
// Firing claims the trigger row by deleting it and observing rows-affected,
// so the loop and an explicit Cancel can never both act on the same
// instance. A fired or cancelled trigger is never reused; the next attempt
// registers a fresh row under the same deterministic id.
package scheduler

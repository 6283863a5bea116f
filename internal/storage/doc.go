// Package storage persists races, the trigger registry, and the
// maintenance run log in a single SQLite file.
//
// The trigger registry is the durability boundary for scheduling: a
// pending trigger must survive a redeploy, so registration and claiming
// both go through transactions here rather than in-memory state.
package storage

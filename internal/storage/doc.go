// Package storage holds the world database: nations with their update index,
// regions with their first nation and tags, and the notifier's dedup state.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite file, WAL journal, embedded schema
//   - "memory": in-process maps, used by tests and one-shot runs
package storage

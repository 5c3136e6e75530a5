// Package store provides the durable per-agent event log using SQLite.
//
// # Architecture
//
// The package is interface driven:
//
//   - EventLog: append-only per-agent log with optimistic versioning
//   - SnapshotStore: latest serialized state per agent, to shorten replay
//   - Store: both, plus agent listing and correlation queries
//
// SQLiteStore implements Store. MockStore is an in-memory Store for tests.
//
// # Data Model
//
//   - agent_events: one row per applied event, keyed by (agent_id, version)
//   - agent_state: the latest snapshot per agent
//
// Event bodies are deterministic CBOR (see internal/codec) tagged with the
// event's registered shape name.
//
// # SQLite Configuration
//
// Two drivers are supported:
//
//   - "sqlite": modernc.org/sqlite, pure Go (default)
//   - "sqlite3": github.com/mattn/go-sqlite3, cgo
//
// Both run with WAL mode and a single connection:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrVersionConflict: Append saw a different head version than expected
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore on a t.TempDir() path
// for integration tests with real SQLite.
package store

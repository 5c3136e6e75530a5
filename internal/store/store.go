// ABOUTME: Store interfaces and record types for the durable agent event log
// ABOUTME: Defines EventLog, SnapshotStore, and the combined Store interface

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when an append races another writer of the same agent
var ErrVersionConflict = errors.New("version conflict")

// Record is one persisted event in an agent's log
type Record struct {
	AgentID       string
	Version       int64
	EventType     string
	CorrelationID uuid.UUID
	Data          []byte
	Event         envelope.Event // decoded body, nil when decoding was not requested
	RecordedAt    time.Time
}

// Snapshot is the latest serialized state of an agent
type Snapshot struct {
	AgentID   string
	Version   int64
	State     []byte
	UpdatedAt time.Time
}

// EventLog is the append-only per-agent log consumed by the agent core
type EventLog interface {
	// Append writes ev as version expectedVersion+1 and returns the new version.
	Append(ctx context.Context, agentID string, expectedVersion int64, ev envelope.Event) (int64, error)
	// Load returns the decoded events of agentID with version > afterVersion, oldest first.
	Load(ctx context.Context, agentID string, afterVersion int64) ([]Record, error)
}

// SnapshotStore keeps the latest state snapshot per agent
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, agentID string, version int64, state []byte) error
	LoadSnapshot(ctx context.Context, agentID string) (*Snapshot, error)
}

// Store is the full persistence surface
type Store interface {
	EventLog
	SnapshotStore

	// Agents lists agent ids that have at least one event
	Agents(ctx context.Context) ([]string, error)
	// Records returns raw records for an agent without decoding bodies
	Records(ctx context.Context, agentID string, limit int) ([]Record, error)
	// ByCorrelation returns raw records across agents that share a correlation id
	ByCorrelation(ctx context.Context, correlationID uuid.UUID, limit int) ([]Record, error)

	// Close releases any resources held by the store
	Close() error
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject append failures

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aevatarAI/aevatar-station-sub002/internal/codec"
	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	events    map[string][]Record // keyed by agent ID
	snapshots map[string]*Snapshot
	seq       int64

	// AppendErr, when set, is returned by every Append
	AppendErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		events:    make(map[string][]Record),
		snapshots: make(map[string]*Snapshot),
	}
}

// Append encodes ev and stores it as the next version of agentID.
func (m *MockStore) Append(ctx context.Context, agentID string, expectedVersion int64, ev envelope.Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return 0, m.AppendErr
	}

	head := int64(len(m.events[agentID]))
	if head != expectedVersion {
		return 0, fmt.Errorf("appending to %s at %d (head %d): %w", agentID, expectedVersion, head, ErrVersionConflict)
	}

	// Encoding mirrors SQLiteStore so unregistered events fail the same way
	name, data, err := codec.EncodeEvent(ev)
	if err != nil {
		return 0, err
	}

	m.seq++
	rec := Record{
		AgentID:       agentID,
		Version:       head + 1,
		EventType:     name,
		CorrelationID: ev.EventMeta().CorrelationID,
		Data:          data,
		// Monotonic fake clock keeps ByCorrelation ordering stable
		RecordedAt: time.Unix(0, m.seq).UTC(),
	}
	m.events[agentID] = append(m.events[agentID], rec)
	return rec.Version, nil
}

// Load decodes events newer than afterVersion.
func (m *MockStore) Load(ctx context.Context, agentID string, afterVersion int64) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Record
	for _, rec := range m.events[agentID] {
		if rec.Version <= afterVersion {
			continue
		}
		ev, err := codec.DecodeEvent(rec.EventType, rec.Data)
		if err != nil {
			return nil, fmt.Errorf("replaying %s version %d: %w", agentID, rec.Version, err)
		}
		rec.Event = ev
		result = append(result, rec)
	}
	return result, nil
}

// Records returns raw records of an agent.
func (m *MockStore) Records(ctx context.Context, agentID string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.events[agentID]
	limit = clampLimit(limit)
	if len(recs) > limit {
		recs = recs[:limit]
	}
	result := make([]Record, len(recs))
	copy(result, recs)
	return result, nil
}

// ByCorrelation returns raw records across agents sharing correlationID.
func (m *MockStore) ByCorrelation(ctx context.Context, correlationID uuid.UUID, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Record
	for _, recs := range m.events {
		for _, rec := range recs {
			if rec.CorrelationID == correlationID {
				result = append(result, rec)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RecordedAt.Before(result[j].RecordedAt)
	})

	limit = clampLimit(limit)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Agents lists agent ids with events.
func (m *MockStore) Agents(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make([]string, 0, len(m.events))
	for id, recs := range m.events {
		if len(recs) > 0 {
			agents = append(agents, id)
		}
	}
	sort.Strings(agents)
	return agents, nil
}

// SaveSnapshot keeps the snapshot if it is newer than the stored one.
func (m *MockStore) SaveSnapshot(ctx context.Context, agentID string, version int64, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.snapshots[agentID]; ok && existing.Version >= version {
		return nil
	}

	// Make a copy to avoid external modification
	data := make([]byte, len(state))
	copy(data, state)
	m.snapshots[agentID] = &Snapshot{
		AgentID:   agentID,
		Version:   version,
		State:     data,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

// LoadSnapshot returns the stored snapshot or ErrNotFound.
func (m *MockStore) LoadSnapshot(ctx context.Context, agentID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[agentID]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *snap
	result.State = append([]byte(nil), snap.State...)
	return &result, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

var _ Store = (*MockStore)(nil)
var _ Store = (*SQLiteStore)(nil)

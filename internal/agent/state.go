// ABOUTME: Event-sourced state transitions, replay, and snapshots
// ABOUTME: RaiseEvent appends, applies, and schedules the version-gated notification

package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/aevatarAI/aevatar-station-sub002/internal/codec"
	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
	"github.com/aevatarAI/aevatar-station-sub002/internal/store"
)

// snapshotDoc is the persisted form of an agent's full state at a version.
type snapshotDoc struct {
	Parent        *envelope.Address  `cbor:"parent,omitempty"`
	Children      []envelope.Address `cbor:"children,omitempty"`
	Subscriptions map[string]string  `cbor:"subscriptions,omitempty"`
	State         []byte             `cbor:"state"`
}

// RaiseEvent appends ev to the agent's log, applies it, and schedules the
// state-change notification. It does not wait for the notification.
func (c *Core) RaiseEvent(ctx context.Context, ev envelope.Event) error {
	if ev == nil {
		return errors.New("raising nil event")
	}

	c.mu.Lock()
	if !c.replayed {
		c.mu.Unlock()
		return fmt.Errorf("raising %s on %s: %w", envelope.TypeName(ev), c.self, ErrNotActivated)
	}

	meta := ev.EventMeta()
	if meta.CorrelationID == uuid.Nil && c.inTurn {
		meta.CorrelationID = c.correlation
	}
	if meta.PublisherID.IsZero() {
		meta.PublisherID = c.self
	}

	version, err := c.log.Append(ctx, c.self.String(), c.version, ev)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("raising %s on %s: %w", envelope.TypeName(ev), c.self, err)
	}

	c.applyLocked(ev)
	c.version = version

	var snapshot []byte
	if c.snapshots != nil && c.every > 0 && version%int64(c.every) == 0 {
		if snapshot, err = c.encodeSnapshotLocked(); err != nil {
			c.logger.Warn("encoding snapshot failed", "version", version, "error", err)
			snapshot = nil
		}
	}

	var copied any
	consumer := c.state.hasConsumer()
	if consumer {
		if copied, err = c.state.copyState(); err != nil {
			c.logger.Error("copying state for notification failed", "version", version, "error", err)
			consumer = false
		}
	}
	c.mu.Unlock()

	c.logger.Debug("raised event",
		"version", version,
		"shape", envelope.TypeName(ev),
	)

	if snapshot != nil {
		if err := c.snapshots.SaveSnapshot(ctx, c.self.String(), version, snapshot); err != nil {
			c.logger.Warn("saving snapshot failed", "version", version, "error", err)
		}
	}

	if consumer {
		c.runner.Go(ctx, "state-changed", func(ctx context.Context) error {
			if !c.gate.TryAdvance(version) {
				return nil
			}
			if err := c.state.deliverState(ctx, version, copied); err != nil {
				return fmt.Errorf("notifying %s version %d: %w", c.self, version, err)
			}
			c.telemetry.Notified(ctx, c.self.Type)
			return nil
		})
	}
	return nil
}

// Replay restores the agent from its snapshot, if any, and the log events after it.
func (c *Core) Replay(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.replayed {
		c.restoreSnapshotLocked(ctx)
	}

	records, err := c.log.Load(ctx, c.self.String(), c.version)
	if err != nil {
		return fmt.Errorf("replaying %s: %w", c.self, err)
	}
	for _, rec := range records {
		if rec.Version != c.version+1 {
			return fmt.Errorf("replaying %s: version %d follows %d: %w", c.self, rec.Version, c.version, store.ErrVersionConflict)
		}
		c.applyLocked(rec.Event)
		c.version = rec.Version
	}

	c.replayed = true
	c.logger.Debug("replayed log", "events", len(records), "version", c.version)
	return nil
}

func (c *Core) restoreSnapshotLocked(ctx context.Context) {
	if c.snapshots == nil {
		return
	}

	snap, err := c.snapshots.LoadSnapshot(ctx, c.self.String())
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		c.logger.Warn("loading snapshot failed, replaying full log", "error", err)
		return
	}

	var doc snapshotDoc
	if err := codec.Unmarshal(snap.State, &doc); err != nil {
		c.logger.Warn("decoding snapshot failed, replaying full log", "error", err)
		return
	}
	if err := c.state.decodeState(doc.State); err != nil {
		c.logger.Warn("decoding snapshot state failed, replaying full log", "error", err)
		c.state.resetState()
		return
	}

	c.parent = doc.Parent
	c.children = doc.Children
	c.subscriptions = doc.Subscriptions
	if c.subscriptions == nil {
		c.subscriptions = make(map[string]string)
	}
	c.version = snap.Version
	c.logger.Debug("restored snapshot", "version", snap.Version)
}

func (c *Core) encodeSnapshotLocked() ([]byte, error) {
	state, err := c.state.encodeState()
	if err != nil {
		return nil, err
	}
	return codec.Marshal(snapshotDoc{
		Parent:        c.parent,
		Children:      c.children,
		Subscriptions: c.subscriptions,
		State:         state,
	})
}

// applyLocked folds ev into relationship, subscription, or domain state.
func (c *Core) applyLocked(ev envelope.Event) {
	switch e := ev.(type) {
	case *ChildAdded:
		if !slices.Contains(c.children, e.Child) {
			c.children = append(c.children, e.Child)
		}
	case *ChildRemoved:
		c.children = slices.DeleteFunc(slices.Clone(c.children), func(a envelope.Address) bool {
			return a == e.Child
		})
	case *ParentSet:
		parent := e.Parent
		c.parent = &parent
	case *ParentCleared:
		c.parent = nil
	case *SubscriptionsAdded:
		for _, entry := range e.Entries {
			c.subscriptions[entry.Key] = entry.HandleID
		}
	case *SubscriptionsRemoved:
		for _, key := range e.Keys {
			delete(c.subscriptions, key)
		}
	default:
		c.state.applyEvent(ev)
	}
}

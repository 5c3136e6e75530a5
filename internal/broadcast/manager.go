// ABOUTME: Batched, crash-resumable subscription manager for broadcast channels
// ABOUTME: Resolves persisted key to handle mappings against live transport handles

package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
	"github.com/aevatarAI/aevatar-station-sub002/internal/transport"
)

// ErrAmbiguousHandle is returned when a persisted handle id matches more than one live handle.
var ErrAmbiguousHandle = errors.New("ambiguous subscription handle")

// Entry is one persisted subscription mapping.
type Entry struct {
	Key      string
	HandleID string
}

// Subscription is one resolved live subscription.
type Subscription struct {
	Key    string
	Handle transport.Handle
}

// Target names a subscription to remove.
type Target struct {
	Channel string
	Shape   string
}

// Key returns the persisted subscription key of target.
func (t Target) Key() string {
	return Key(t.Channel, t.Shape)
}

// Key builds the subscription key for a channel and payload shape.
func Key(channel, shape string) string {
	return channel + "." + shape
}

// Ledger persists subscription mappings. The agent core implements it by
// raising batch events, so each Record call is one durable event.
type Ledger interface {
	// Subscriptions returns the persisted key to handle id mapping.
	Subscriptions() map[string]string
	RecordSubscriptions(ctx context.Context, entries []Entry) error
	RecordUnsubscriptions(ctx context.Context, keys []string) error
}

// Manager stages, commits, and removes broadcast subscriptions for one agent.
type Manager struct {
	transport transport.Transport
	ledger    Ledger
	logger    *slog.Logger

	mu             sync.Mutex
	pendingEntries []Entry
	pendingHandles []Subscription
	resolved       []Subscription
}

// NewManager creates a Manager over t that persists through ledger.
func NewManager(t transport.Transport, ledger Ledger, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		transport: t,
		ledger:    ledger,
		logger:    logger.With("component", "broadcast"),
	}
}

// BeginBatch discards anything staged but not committed. Handles subscribed
// in the discarded batch are unsubscribed, resumed ones are detached again.
func (m *Manager) BeginBatch(ctx context.Context) error {
	m.mu.Lock()
	entries, handles := m.pendingEntries, m.pendingHandles
	m.pendingEntries = nil
	m.pendingHandles = nil
	m.mu.Unlock()

	return m.release(ctx, entries, handles)
}

// AddSubscription stages a subscription of observer to shape payloads on channel.
// A persisted mapping for the key is resumed when exactly one live handle matches it.
func (m *Manager) AddSubscription(ctx context.Context, channel, shape string, observer transport.Observer) (transport.Handle, error) {
	key := Key(channel, shape)
	logger := m.logger.With("key", key)

	if handleID, ok := m.ledger.Subscriptions()[key]; ok {
		live, err := m.transport.LiveHandles(ctx, channel)
		if err != nil {
			return transport.Handle{}, fmt.Errorf("listing live handles on %s: %w", channel, err)
		}

		matches := matchHandles(live, handleID)
		switch len(matches) {
		case 0:
			logger.Info("persisted handle no longer live, subscribing fresh", "handle_id", handleID)
		case 1:
			handle, err := m.transport.Resume(ctx, matches[0], observer)
			if err != nil {
				return transport.Handle{}, fmt.Errorf("resuming %s on %s: %w", handleID, channel, err)
			}
			logger.Debug("resumed subscription", "handle_id", handle.ID)

			m.mu.Lock()
			m.pendingHandles = append(m.pendingHandles, Subscription{Key: key, Handle: handle})
			m.mu.Unlock()
			return handle, nil
		default:
			logger.Error("persisted handle matches several live handles",
				"handle_id", handleID,
				"matches", len(matches),
			)
			return transport.Handle{}, fmt.Errorf("resolving %s (handle %s, %d live): %w", key, handleID, len(matches), ErrAmbiguousHandle)
		}
	}

	handle, err := m.transport.Subscribe(ctx, channel, observer)
	if err != nil {
		return transport.Handle{}, fmt.Errorf("subscribing to %s: %w", channel, err)
	}
	logger.Debug("subscribed", "handle_id", handle.ID)

	m.mu.Lock()
	m.pendingEntries = append(m.pendingEntries, Entry{Key: key, HandleID: handle.ID})
	m.pendingHandles = append(m.pendingHandles, Subscription{Key: key, Handle: handle})
	m.mu.Unlock()
	return handle, nil
}

// Add stages a typed subscription: fn only sees payloads of type T, other
// payloads on the channel are ignored.
func Add[T envelope.Event](ctx context.Context, m *Manager, channel string, fn func(ctx context.Context, ev T) error) (transport.Handle, error) {
	shape := envelope.TypeNameOf(reflect.TypeFor[T]())
	observer := func(ctx context.Context, env *envelope.Envelope) error {
		ev, ok := env.Payload.(T)
		if !ok {
			return nil
		}
		return fn(ctx, ev)
	}
	return m.AddSubscription(ctx, channel, shape, observer)
}

// CommitBatch persists every staged mapping as one ledger record and returns
// all resolved subscriptions. With nothing staged it returns the previous set
// without touching the ledger.
func (m *Manager) CommitBatch(ctx context.Context) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pendingEntries) == 0 && len(m.pendingHandles) == 0 {
		return m.snapshotLocked(), nil
	}

	if len(m.pendingEntries) > 0 {
		entries := make([]Entry, len(m.pendingEntries))
		copy(entries, m.pendingEntries)
		if err := m.ledger.RecordSubscriptions(ctx, entries); err != nil {
			return nil, fmt.Errorf("persisting %d subscriptions: %w", len(entries), err)
		}
	}

	for _, sub := range m.pendingHandles {
		m.resolved = addResolved(m.resolved, sub)
	}
	m.logger.Debug("committed subscription batch",
		"mappings", len(m.pendingEntries),
		"handles", len(m.pendingHandles),
	)
	m.pendingEntries = nil
	m.pendingHandles = nil
	return m.snapshotLocked(), nil
}

// Unsubscribe removes the subscription of shape payloads on channel.
func (m *Manager) Unsubscribe(ctx context.Context, channel, shape string) error {
	return m.UnsubscribeBatch(ctx, []Target{{Channel: channel, Shape: shape}})
}

// UnsubscribeBatch removes several subscriptions and persists one removal
// record listing the keys that were found in state. Keys without a persisted
// mapping are logged and skipped. Every target is resolved before any handle
// is touched, so an ambiguous mapping leaves the batch unapplied.
func (m *Manager) UnsubscribeBatch(ctx context.Context, targets []Target) error {
	type removal struct {
		key      string
		handleID string
		handle   *transport.Handle
	}

	state := m.ledger.Subscriptions()
	liveByChannel := make(map[string][]transport.Handle)
	seen := make(map[string]bool, len(targets))
	claimed := make(map[string]bool, len(targets))

	var plan []removal
	for _, target := range targets {
		key := target.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		handleID, ok := state[key]
		if !ok {
			m.logger.Warn("unsubscribe of unknown subscription skipped", "key", key)
			continue
		}

		live, fetched := liveByChannel[target.Channel]
		if !fetched {
			var err error
			live, err = m.transport.LiveHandles(ctx, target.Channel)
			if err != nil {
				return fmt.Errorf("listing live handles on %s: %w", target.Channel, err)
			}
			liveByChannel[target.Channel] = live
		}

		r := removal{key: key, handleID: handleID}
		matches := matchHandles(live, handleID)
		switch {
		case len(matches) > 1:
			return fmt.Errorf("resolving %s (handle %s, %d live): %w", key, handleID, len(matches), ErrAmbiguousHandle)
		case len(matches) == 1 && !claimed[handleID]:
			claimed[handleID] = true
			r.handle = &matches[0]
		}
		plan = append(plan, r)
	}

	var (
		removed []string
		failed  error
	)
	for _, r := range plan {
		if r.handle == nil {
			m.logger.Info("persisted handle already gone", "key", r.key, "handle_id", r.handleID)
		} else if err := m.transport.Unsubscribe(ctx, *r.handle); err != nil {
			if !errors.Is(err, transport.ErrUnknownHandle) {
				failed = fmt.Errorf("removing %s: %w", r.key, err)
				break
			}
			m.logger.Info("persisted handle already gone", "key", r.key, "handle_id", r.handleID)
		}
		removed = append(removed, r.key)
		m.dropResolved(r.key, r.handleID)
	}

	if len(removed) == 0 {
		return failed
	}
	if err := m.ledger.RecordUnsubscriptions(ctx, removed); err != nil {
		return errors.Join(failed, fmt.Errorf("persisting %d unsubscriptions: %w", len(removed), err))
	}
	return failed
}

// Resolved returns the committed live subscriptions.
func (m *Manager) Resolved() []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Close detaches every committed handle from its observer without touching
// the ledger. The handles stay live on the transport, so a later activation
// resumes them through their persisted mappings. Anything still staged is
// released as BeginBatch would.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	resolved := m.resolved
	entries, handles := m.pendingEntries, m.pendingHandles
	m.resolved = nil
	m.pendingEntries = nil
	m.pendingHandles = nil
	m.mu.Unlock()

	errs := []error{m.release(ctx, entries, handles)}
	for _, sub := range resolved {
		if err := m.detach(ctx, sub.Handle); err != nil {
			errs = append(errs, fmt.Errorf("detaching %s: %w", sub.Key, err))
		}
	}
	return errors.Join(errs...)
}

// release undoes a staged batch: fresh handles are unsubscribed, resumed
// handles go back to being live but unobserved.
func (m *Manager) release(ctx context.Context, entries []Entry, handles []Subscription) error {
	fresh := make(map[string]bool, len(entries))
	for _, e := range entries {
		fresh[e.HandleID] = true
	}

	var errs []error
	for _, sub := range handles {
		if fresh[sub.Handle.ID] {
			err := m.transport.Unsubscribe(ctx, sub.Handle)
			if err != nil && !gone(err) {
				errs = append(errs, fmt.Errorf("releasing %s: %w", sub.Key, err))
			}
			continue
		}
		if err := m.detach(ctx, sub.Handle); err != nil {
			errs = append(errs, fmt.Errorf("releasing %s: %w", sub.Key, err))
		}
	}
	if len(handles) > 0 {
		m.logger.Debug("released staged subscriptions", "handles", len(handles), "fresh", len(entries))
	}
	return errors.Join(errs...)
}

// detach points h at an observer that ignores every delivery.
func (m *Manager) detach(ctx context.Context, h transport.Handle) error {
	_, err := m.transport.Resume(ctx, h, discard)
	if err != nil && !gone(err) {
		return err
	}
	return nil
}

func discard(context.Context, *envelope.Envelope) error { return nil }

// gone reports whether err means the handle no longer exists.
func gone(err error) bool {
	return errors.Is(err, transport.ErrUnknownHandle) || errors.Is(err, transport.ErrClosed)
}

func (m *Manager) dropResolved(key, handleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.resolved[:0]
	for _, sub := range m.resolved {
		if sub.Key == key && sub.Handle.ID == handleID {
			continue
		}
		kept = append(kept, sub)
	}
	m.resolved = kept
}

func (m *Manager) snapshotLocked() []Subscription {
	out := make([]Subscription, len(m.resolved))
	copy(out, m.resolved)
	return out
}

func addResolved(resolved []Subscription, sub Subscription) []Subscription {
	for i, existing := range resolved {
		if existing.Handle.ID == sub.Handle.ID {
			resolved[i] = sub
			return resolved
		}
	}
	return append(resolved, sub)
}

func matchHandles(live []transport.Handle, handleID string) []transport.Handle {
	var matches []transport.Handle
	for _, h := range live {
		if h.ID == handleID {
			matches = append(matches, h)
		}
	}
	return matches
}

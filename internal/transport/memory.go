// ABOUTME: In-memory channel transport with per-subscription ordered delivery
// ABOUTME: Handles survive observer loss so reactivated agents can resume them

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// DefaultBufferSize is the per-subscription queue length used when none is configured.
const DefaultBufferSize = 64

type subscription struct {
	handle   Handle
	observer atomic.Pointer[Observer]
	queue    chan *envelope.Envelope
	done     chan struct{}
}

// Memory is an in-process Transport.
type Memory struct {
	mu       sync.RWMutex
	channels map[string]map[string]*subscription // channel -> handleID -> sub
	closed   bool

	bufferSize  int
	sendTimeout atomic.Int64 // nanoseconds, 0 waits for the caller's context
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemory creates an in-memory transport. Pass nil logger for default and
// bufferSize <= 0 for DefaultBufferSize.
func NewMemory(logger *slog.Logger, bufferSize int) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Memory{
		channels:   make(map[string]map[string]*subscription),
		bufferSize: bufferSize,
		logger:     logger.With("component", "transport"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetSendTimeout bounds how long Send waits for a full subscription queue.
// Zero or less waits as long as the caller's context allows.
func (m *Memory) SetSendTimeout(d time.Duration) {
	m.sendTimeout.Store(int64(max(d, 0)))
}

// Send queues env for every live subscription on channel.
func (m *Memory) Send(ctx context.Context, channel string, env *envelope.Envelope) error {
	if d := time.Duration(m.sendTimeout.Load()); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	subs := m.channels[channel]
	targets := make([]*subscription, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	m.mu.RUnlock()

	if len(targets) == 0 {
		m.logger.Debug("no subscribers for channel",
			"channel", channel,
			"event_id", env.EventID)
		return nil
	}

	for _, sub := range targets {
		select {
		case sub.queue <- env:
		case <-sub.done:
			// Unsubscribed while we were sending
		case <-ctx.Done():
			return fmt.Errorf("sending to %s: %w", channel, ctx.Err())
		case <-m.ctx.Done():
			return ErrClosed
		}
	}
	return nil
}

// Subscribe registers observer on channel and starts its delivery loop.
func (m *Memory) Subscribe(ctx context.Context, channel string, observer Observer) (Handle, error) {
	sub := &subscription{
		handle: Handle{ID: uuid.New().String(), Channel: channel},
		queue:  make(chan *envelope.Envelope, m.bufferSize),
		done:   make(chan struct{}),
	}
	sub.observer.Store(&observer)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Handle{}, ErrClosed
	}
	if _, ok := m.channels[channel]; !ok {
		m.channels[channel] = make(map[string]*subscription)
	}
	m.channels[channel][sub.handle.ID] = sub
	m.wg.Add(1)
	m.mu.Unlock()

	go m.deliver(sub)

	m.logger.Debug("subscriber added",
		"channel", channel,
		"handle", sub.handle.ID)
	return sub.handle, nil
}

// LiveHandles lists the live subscriptions on channel, ordered by handle ID.
func (m *Memory) LiveHandles(ctx context.Context, channel string) ([]Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	handles := make([]Handle, 0, len(m.channels[channel]))
	for _, sub := range m.channels[channel] {
		handles = append(handles, sub.handle)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].ID < handles[j].ID })
	return handles, nil
}

// Resume rebinds a live subscription to a new observer.
func (m *Memory) Resume(ctx context.Context, handle Handle, observer Observer) (Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Handle{}, ErrClosed
	}
	sub, ok := m.channels[handle.Channel][handle.ID]
	if !ok {
		return Handle{}, fmt.Errorf("resuming %s on %s: %w", handle.ID, handle.Channel, ErrUnknownHandle)
	}
	sub.observer.Store(&observer)

	m.logger.Debug("subscriber resumed",
		"channel", handle.Channel,
		"handle", handle.ID)
	return sub.handle, nil
}

// Unsubscribe removes a subscription. Envelopes still queued for it are dropped.
func (m *Memory) Unsubscribe(ctx context.Context, handle Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.channels[handle.Channel]
	if !ok {
		return fmt.Errorf("unsubscribing %s from %s: %w", handle.ID, handle.Channel, ErrUnknownHandle)
	}
	sub, ok := subs[handle.ID]
	if !ok {
		return fmt.Errorf("unsubscribing %s from %s: %w", handle.ID, handle.Channel, ErrUnknownHandle)
	}

	delete(subs, handle.ID)
	close(sub.done)
	if len(subs) == 0 {
		delete(m.channels, handle.Channel)
	}

	m.logger.Debug("subscriber removed",
		"channel", handle.Channel,
		"handle", handle.ID)
	return nil
}

// Close stops every delivery loop and rejects further use.
func (m *Memory) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for channel, subs := range m.channels {
		for id, sub := range subs {
			close(sub.done)
			delete(subs, id)
		}
		delete(m.channels, channel)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.logger.Debug("transport closed")
}

func (m *Memory) deliver(sub *subscription) {
	defer m.wg.Done()

	for {
		select {
		case env := <-sub.queue:
			m.dispatch(sub, env)
		case <-sub.done:
			return
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Memory) dispatch(sub *subscription, env *envelope.Envelope) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("observer panicked",
				"channel", sub.handle.Channel,
				"handle", sub.handle.ID,
				"event_id", env.EventID,
				"panic", fmt.Sprint(p))
		}
	}()

	observer := sub.observer.Load()
	if observer == nil || *observer == nil {
		return
	}
	if err := (*observer)(m.ctx, env); err != nil {
		m.logger.Warn("observer failed",
			"channel", sub.handle.Channel,
			"handle", sub.handle.ID,
			"event_id", env.EventID,
			"error", err)
	}
}

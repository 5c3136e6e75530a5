// ABOUTME: TTL and size bounded window of recently delivered envelope keys
// ABOUTME: Lets the dispatch pipeline drop redelivered envelopes before handler lookup

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// Defaults used when a Window is built from zero values
const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 10000
)

type entry struct {
	key    string
	seenAt time.Time
}

// Window is a thread-safe record of delivery keys seen within ttl.
// The oldest key is evicted when the window holds maxSize keys.
type Window struct {
	mu      sync.Mutex
	keys    map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a window and starts a sweeper that drops expired keys every sweep.
// A sweep of zero disables the background goroutine.
func New(ttl time.Duration, maxSize int, sweep time.Duration) *Window {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	w := &Window{
		keys:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if sweep > 0 {
		go w.sweeper(sweep)
	}
	return w
}

// Key builds the key of env delivered to receiver.
func Key(receiver envelope.Address, env *envelope.Envelope) string {
	return receiver.String() + "|" + env.EventID.String() + "|" + env.PublisherID.String() + "|" + env.Shape()
}

// Seen reports whether env was already delivered to receiver within the
// window and marks it otherwise. The check and the mark happen under one lock.
func (w *Window) Seen(receiver envelope.Address, env *envelope.Envelope) bool {
	return w.SeenKey(Key(receiver, env))
}

// SeenKey is Seen for a precomputed key.
func (w *Window) SeenKey(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if elem, ok := w.keys[key]; ok {
		e := elem.Value.(*entry)
		if now.Sub(e.seenAt) < w.ttl {
			return true
		}
		// Expired: treat as new and refresh its position
		e.seenAt = now
		w.order.MoveToBack(elem)
		return false
	}

	if len(w.keys) >= w.maxSize {
		w.evictOldestLocked()
	}
	w.keys[key] = w.order.PushBack(&entry{key: key, seenAt: now})
	return false
}

// Forget removes the key of env at receiver so a later redelivery is processed again.
func (w *Window) Forget(receiver envelope.Address, env *envelope.Envelope) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := Key(receiver, env)
	if elem, ok := w.keys[key]; ok {
		w.order.Remove(elem)
		delete(w.keys, key)
	}
}

// Len returns the number of keys currently held, expired or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.keys)
}

func (w *Window) evictOldestLocked() {
	front := w.order.Front()
	if front == nil {
		return
	}
	w.order.Remove(front)
	delete(w.keys, front.Value.(*entry).key)
}

func (w *Window) sweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Sweep()
		case <-w.done:
			return
		}
	}
}

// Sweep drops every expired key. Keys are ordered by last mark, so it stops
// at the first live one.
func (w *Window) Sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		e := front.Value.(*entry)
		if now.Sub(e.seenAt) < w.ttl {
			return
		}
		w.order.Remove(front)
		delete(w.keys, e.key)
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		close(w.done)
		w.closed = true
	}
}

// ABOUTME: Recording Transport wrapper for tests
// ABOUTME: Captures every Send and can fail sends per channel

package transport

import (
	"context"
	"sync"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// Sent is one recorded Send call.
type Sent struct {
	Channel  string
	Envelope *envelope.Envelope
}

// Recorder records sends and forwards every call to an inner Transport.
// With a nil inner transport, subscriptions are no-ops and sends only record.
type Recorder struct {
	inner Transport

	mu       sync.Mutex
	sent     []Sent
	failures map[string]error
}

// NewRecorder wraps inner, which may be nil.
func NewRecorder(inner Transport) *Recorder {
	return &Recorder{
		inner:    inner,
		failures: make(map[string]error),
	}
}

// FailChannel makes every Send to channel return err. A nil err clears it.
func (r *Recorder) FailChannel(channel string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err == nil {
		delete(r.failures, channel)
		return
	}
	r.failures[channel] = err
}

// Sent returns a copy of the recorded sends.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// SentTo returns the envelopes recorded for channel.
func (r *Recorder) SentTo(channel string) []*envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*envelope.Envelope
	for _, s := range r.sent {
		if s.Channel == channel {
			out = append(out, s.Envelope)
		}
	}
	return out
}

// Reset forgets recorded sends.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

func (r *Recorder) Send(ctx context.Context, channel string, env *envelope.Envelope) error {
	r.mu.Lock()
	if err, ok := r.failures[channel]; ok {
		r.mu.Unlock()
		return err
	}
	r.sent = append(r.sent, Sent{Channel: channel, Envelope: env})
	r.mu.Unlock()

	if r.inner == nil {
		return nil
	}
	return r.inner.Send(ctx, channel, env)
}

func (r *Recorder) Subscribe(ctx context.Context, channel string, observer Observer) (Handle, error) {
	if r.inner == nil {
		return Handle{Channel: channel}, nil
	}
	return r.inner.Subscribe(ctx, channel, observer)
}

func (r *Recorder) LiveHandles(ctx context.Context, channel string) ([]Handle, error) {
	if r.inner == nil {
		return nil, nil
	}
	return r.inner.LiveHandles(ctx, channel)
}

func (r *Recorder) Resume(ctx context.Context, handle Handle, observer Observer) (Handle, error) {
	if r.inner == nil {
		return handle, nil
	}
	return r.inner.Resume(ctx, handle, observer)
}

func (r *Recorder) Unsubscribe(ctx context.Context, handle Handle) error {
	if r.inner == nil {
		return nil
	}
	return r.inner.Unsubscribe(ctx, handle)
}

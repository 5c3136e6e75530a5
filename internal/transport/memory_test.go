// ABOUTME: Tests for the in-memory channel transport
// ABOUTME: Covers fan-out, ordering, resume, unsubscribe, closed transport, and recorder

package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

type note struct {
	envelope.Meta
	Text string
}

func makeEnvelope(text string) *envelope.Envelope {
	addr := envelope.NewAddress("test", "sender")
	return envelope.New(&note{Text: text}, addr, addr, uuid.Nil)
}

func collector() (Observer, <-chan *envelope.Envelope) {
	ch := make(chan *envelope.Envelope, 16)
	return func(ctx context.Context, env *envelope.Envelope) error {
		ch <- env
		return nil
	}, ch
}

func receive(t *testing.T, ch <-chan *envelope.Envelope) *envelope.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func assertQuiet(t *testing.T, ch <-chan *envelope.Envelope) {
	t.Helper()
	select {
	case env := <-ch:
		t.Fatalf("unexpected envelope %s", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemory_FanOutToAllSubscribers(t *testing.T) {
	m := NewMemory(nil, 0)
	defer m.Close()
	ctx := t.Context()

	obs1, ch1 := collector()
	obs2, ch2 := collector()
	_, err := m.Subscribe(ctx, "orders", obs1)
	require.NoError(t, err)
	_, err = m.Subscribe(ctx, "orders", obs2)
	require.NoError(t, err)

	env := makeEnvelope("hello")
	require.NoError(t, m.Send(ctx, "orders", env))

	assert.Equal(t, env.EventID, receive(t, ch1).EventID)
	assert.Equal(t, env.EventID, receive(t, ch2).EventID)
}

func TestMemory_ChannelsAreIsolated(t *testing.T) {
	m := NewMemory(nil, 0)
	defer m.Close()
	ctx := t.Context()

	obs, ch := collector()
	_, err := m.Subscribe(ctx, "a", obs)
	require.NoError(t, err)

	require.NoError(t, m.Send(ctx, "b", makeEnvelope("x")))
	assertQuiet(t, ch)
}

func TestMemory_PreservesOrderPerSubscription(t *testing.T) {
	m := NewMemory(nil, 0)
	defer m.Close()
	ctx := t.Context()

	obs, ch := collector()
	_, err := m.Subscribe(ctx, "seq", obs)
	require.NoError(t, err)

	var sent []uuid.UUID
	for i := 0; i < 10; i++ {
		env := makeEnvelope("n")
		sent = append(sent, env.EventID)
		require.NoError(t, m.Send(ctx, "seq", env))
	}
	for _, id := range sent {
		assert.Equal(t, id, receive(t, ch).EventID)
	}
}

func TestMemory_SendWithoutSubscribersIsNotAnError(t *testing.T) {
	m := NewMemory(nil, 0)
	defer m.Close()
	assert.NoError(t, m.Send(t.Context(), "nobody", makeEnvelope("x")))
}

func TestMemory_LiveHandlesAndResume(t *testing.T) {
	m := NewMemory(nil, 0)
	defer m.Close()
	ctx := t.Context()

	oldObs, oldCh := collector()
	h, err := m.Subscribe(ctx, "orders", oldObs)
	require.NoError(t, err)
	assert.Equal(t, "orders", h.Channel)
	assert.NotEmpty(t, h.ID)

	handles, err := m.LiveHandles(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []Handle{h}, handles)

	newObs, newCh := collector()
	resumed, err := m.Resume(ctx, h, newObs)
	require.NoError(t, err)
	assert.Equal(t, h, resumed)

	require.NoError(t, m.Send(ctx, "orders", makeEnvelope("after resume")))
	receive(t, newCh)
	assertQuiet(t, oldCh)

	handles, err = m.LiveHandles(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, handles, 1)
}

func TestMemory_ResumeUnknownHandle(t *testing.T) {
	m := NewMemory(nil, 0)
	defer m.Close()

	obs, _ := collector()
	_, err := m.Resume(t.Context(), Handle{ID: "missing", Channel: "orders"}, obs)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestMemory_Unsubscribe(t *testing.T) {
	m := NewMemory(nil, 0)
	defer m.Close()
	ctx := t.Context()

	obs, ch := collector()
	h, err := m.Subscribe(ctx, "orders", obs)
	require.NoError(t, err)

	require.NoError(t, m.Unsubscribe(ctx, h))
	require.NoError(t, m.Send(ctx, "orders", makeEnvelope("x")))
	assertQuiet(t, ch)

	handles, err := m.LiveHandles(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, handles)

	assert.ErrorIs(t, m.Unsubscribe(ctx, h), ErrUnknownHandle)
}

func TestMemory_ObserverErrorsAndPanicsDoNotStopDelivery(t *testing.T) {
	m := NewMemory(nil, 0)
	defer m.Close()
	ctx := t.Context()

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	_, err := m.Subscribe(ctx, "flaky", func(ctx context.Context, env *envelope.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch calls {
		case 1:
			return errors.New("boom")
		case 2:
			panic("kaboom")
		default:
			close(done)
		}
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Send(ctx, "flaky", makeEnvelope("x")))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delivery stopped after a failing observer")
	}
}

func TestMemory_SendHonoursContextWhenQueueFull(t *testing.T) {
	m := NewMemory(nil, 1)
	defer m.Close()

	block := make(chan struct{})
	defer close(block)
	_, err := m.Subscribe(t.Context(), "slow", func(ctx context.Context, env *envelope.Envelope) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	var sendErr error
	for i := 0; i < 5 && sendErr == nil; i++ {
		sendErr = m.Send(ctx, "slow", makeEnvelope("x"))
	}
	assert.ErrorIs(t, sendErr, context.DeadlineExceeded)
}

func TestMemory_SendTimeoutBoundsBlockedSends(t *testing.T) {
	m := NewMemory(nil, 1)
	defer m.Close()
	m.SetSendTimeout(50 * time.Millisecond)

	block := make(chan struct{})
	defer close(block)
	_, err := m.Subscribe(t.Context(), "slow", func(ctx context.Context, env *envelope.Envelope) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	var sendErr error
	for i := 0; i < 5 && sendErr == nil; i++ {
		sendErr = m.Send(t.Context(), "slow", makeEnvelope("x"))
	}
	assert.ErrorIs(t, sendErr, context.DeadlineExceeded)
}

func TestMemory_Closed(t *testing.T) {
	m := NewMemory(nil, 0)
	m.Close()
	m.Close()

	obs, _ := collector()
	_, err := m.Subscribe(t.Context(), "x", obs)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Send(t.Context(), "x", makeEnvelope("x")), ErrClosed)
	_, err = m.LiveHandles(t.Context(), "x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRecorder_RecordsAndFails(t *testing.T) {
	r := NewRecorder(nil)
	ctx := t.Context()

	env := makeEnvelope("x")
	require.NoError(t, r.Send(ctx, "a", env))
	require.NoError(t, r.Send(ctx, "b", env))

	boom := errors.New("link down")
	r.FailChannel("c", boom)
	assert.ErrorIs(t, r.Send(ctx, "c", env), boom)

	assert.Len(t, r.Sent(), 2)
	assert.Len(t, r.SentTo("a"), 1)
	assert.Empty(t, r.SentTo("c"))

	r.FailChannel("c", nil)
	require.NoError(t, r.Send(ctx, "c", env))
	r.Reset()
	assert.Empty(t, r.Sent())
}

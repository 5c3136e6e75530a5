// ABOUTME: Tests for the broadcast subscription manager
// ABOUTME: Covers staging, batched persistence, crash resume, ambiguity, unsubscribe, and release

package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
	"github.com/aevatarAI/aevatar-station-sub002/internal/transport"
)

type orderPlaced struct {
	envelope.Meta
	OrderID string
}

type orderCancelled struct {
	envelope.Meta
	OrderID string
}

// memoryLedger applies records the way the agent core folds batch events
type memoryLedger struct {
	mu       sync.Mutex
	state    map[string]string
	adds     [][]Entry
	removals [][]string
	err      error
}

func newLedger() *memoryLedger {
	return &memoryLedger{state: make(map[string]string)}
}

func (l *memoryLedger) Subscriptions() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]string, len(l.state))
	for k, v := range l.state {
		out[k] = v
	}
	return out
}

func (l *memoryLedger) RecordSubscriptions(ctx context.Context, entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return l.err
	}
	l.adds = append(l.adds, entries)
	for _, e := range entries {
		l.state[e.Key] = e.HandleID
	}
	return nil
}

func (l *memoryLedger) RecordUnsubscriptions(ctx context.Context, keys []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return l.err
	}
	l.removals = append(l.removals, keys)
	for _, k := range keys {
		delete(l.state, k)
	}
	return nil
}

// duplicatingTransport reports every live handle twice, on every channel
// or only on channel when it is set
type duplicatingTransport struct {
	transport.Transport
	channel string
}

func (d duplicatingTransport) LiveHandles(ctx context.Context, channel string) ([]transport.Handle, error) {
	live, err := d.Transport.LiveHandles(ctx, channel)
	if err != nil || (d.channel != "" && d.channel != channel) {
		return live, err
	}
	return append(live, live...), nil
}

// flakyTransport keeps unsubscribing, but reports err for handles on channel
type flakyTransport struct {
	transport.Transport
	channel string
	err     error
	forward bool
}

func (f flakyTransport) Unsubscribe(ctx context.Context, h transport.Handle) error {
	if h.Channel != f.channel {
		return f.Transport.Unsubscribe(ctx, h)
	}
	if f.forward {
		if err := f.Transport.Unsubscribe(ctx, h); err != nil {
			return err
		}
	}
	return fmt.Errorf("unsubscribing %s from %s: %w", h.ID, h.Channel, f.err)
}

func sinkObserver(ch chan<- *envelope.Envelope) transport.Observer {
	return func(ctx context.Context, env *envelope.Envelope) error {
		ch <- env
		return nil
	}
}

func noopObserver(ctx context.Context, env *envelope.Envelope) error { return nil }

func publish(t *testing.T, tr transport.Transport, channel string, ev envelope.Event) {
	t.Helper()
	from := envelope.NewAddress("shop", "1")
	require.NoError(t, tr.Send(t.Context(), channel, envelope.New(ev, from, from, uuid.Nil)))
}

func TestAddSubscription_TwiceStagesTwoHandlesCommittedInOneEvent(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	defer tr.Close()
	ledger := newLedger()
	m := NewManager(tr, ledger, nil)
	ctx := t.Context()

	require.NoError(t, m.BeginBatch(t.Context()))
	h1, err := m.AddSubscription(ctx, "orders", "broadcast.orderPlaced", noopObserver)
	require.NoError(t, err)
	h2, err := m.AddSubscription(ctx, "orders", "broadcast.orderPlaced", noopObserver)
	require.NoError(t, err)
	assert.NotEqual(t, h1.ID, h2.ID, "no persisted key, so each call subscribes fresh")

	subs, err := m.CommitBatch(ctx)
	require.NoError(t, err)

	require.Len(t, ledger.adds, 1, "one batch event for the whole batch")
	assert.Equal(t, []Entry{
		{Key: "orders.broadcast.orderPlaced", HandleID: h1.ID},
		{Key: "orders.broadcast.orderPlaced", HandleID: h2.ID},
	}, ledger.adds[0])
	assert.Len(t, subs, 2)

	live, err := tr.LiveHandles(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestAddSubscription_ResumesSinglePersistedHandle(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	defer tr.Close()
	ctx := t.Context()

	// A previous activation left a live subscription and its persisted mapping
	stale := make(chan *envelope.Envelope, 4)
	old, err := tr.Subscribe(ctx, "orders", sinkObserver(stale))
	require.NoError(t, err)
	ledger := newLedger()
	ledger.state["orders.broadcast.orderPlaced"] = old.ID

	m := NewManager(tr, ledger, nil)
	fresh := make(chan *envelope.Envelope, 4)

	require.NoError(t, m.BeginBatch(t.Context()))
	h, err := m.AddSubscription(ctx, "orders", "broadcast.orderPlaced", sinkObserver(fresh))
	require.NoError(t, err)
	assert.Equal(t, old.ID, h.ID)

	subs, err := m.CommitBatch(ctx)
	require.NoError(t, err)
	assert.Empty(t, ledger.adds, "resumed mapping is unchanged and not re-persisted")
	require.Len(t, subs, 1)
	assert.Equal(t, old.ID, subs[0].Handle.ID)

	live, err := tr.LiveHandles(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, live, 1, "no duplicate subscription")

	publish(t, tr, "orders", &orderPlaced{OrderID: "o-1"})
	select {
	case env := <-fresh:
		assert.Equal(t, "o-1", env.Payload.(*orderPlaced).OrderID)
	case <-time.After(time.Second):
		t.Fatal("resumed handle did not reach the new observer")
	}
	assert.Empty(t, stale)
}

func TestAddSubscription_AmbiguousHandleErrors(t *testing.T) {
	mem := transport.NewMemory(nil, 0)
	defer mem.Close()
	tr := duplicatingTransport{Transport: mem}
	ctx := t.Context()

	old, err := mem.Subscribe(ctx, "orders", noopObserver)
	require.NoError(t, err)
	ledger := newLedger()
	ledger.state["orders.broadcast.orderPlaced"] = old.ID

	m := NewManager(tr, ledger, nil)
	require.NoError(t, m.BeginBatch(t.Context()))
	_, err = m.AddSubscription(ctx, "orders", "broadcast.orderPlaced", noopObserver)
	require.ErrorIs(t, err, ErrAmbiguousHandle)

	live, err := mem.LiveHandles(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, live, 1, "ambiguity never falls back to a fresh subscribe")
}

func TestAddSubscription_StaleMappingSubscribesFresh(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	defer tr.Close()
	ledger := newLedger()
	ledger.state["orders.broadcast.orderPlaced"] = "gone"
	m := NewManager(tr, ledger, nil)
	ctx := t.Context()

	require.NoError(t, m.BeginBatch(t.Context()))
	h, err := m.AddSubscription(ctx, "orders", "broadcast.orderPlaced", noopObserver)
	require.NoError(t, err)
	assert.NotEqual(t, "gone", h.ID)

	_, err = m.CommitBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.ID, ledger.state["orders.broadcast.orderPlaced"])
}

func TestCommitBatch_NothingStagedReturnsPrevious(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	defer tr.Close()
	ledger := newLedger()
	m := NewManager(tr, ledger, nil)
	ctx := t.Context()

	require.NoError(t, m.BeginBatch(t.Context()))
	_, err := m.AddSubscription(ctx, "orders", "broadcast.orderPlaced", noopObserver)
	require.NoError(t, err)
	first, err := m.CommitBatch(ctx)
	require.NoError(t, err)

	require.NoError(t, m.BeginBatch(t.Context()))
	second, err := m.CommitBatch(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, ledger.adds, 1)
}

func TestCommitBatch_LedgerFailureKeepsStaged(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	defer tr.Close()
	ledger := newLedger()
	m := NewManager(tr, ledger, nil)
	ctx := t.Context()

	require.NoError(t, m.BeginBatch(t.Context()))
	_, err := m.AddSubscription(ctx, "orders", "broadcast.orderPlaced", noopObserver)
	require.NoError(t, err)

	boom := errors.New("disk full")
	ledger.err = boom
	_, err = m.CommitBatch(ctx)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, m.Resolved())

	ledger.err = nil
	subs, err := m.CommitBatch(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestBeginBatch_DiscardsStaged(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	defer tr.Close()
	ledger := newLedger()
	m := NewManager(tr, ledger, nil)
	ctx := t.Context()

	got := make(chan *envelope.Envelope, 4)
	require.NoError(t, m.BeginBatch(t.Context()))
	_, err := m.AddSubscription(ctx, "orders", "broadcast.orderPlaced", sinkObserver(got))
	require.NoError(t, err)
	require.NoError(t, m.BeginBatch(t.Context()))

	subs, err := m.CommitBatch(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.Empty(t, ledger.adds)

	live, err := tr.LiveHandles(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, live, "a discarded fresh subscribe is unsubscribed")

	publish(t, tr, "orders", &orderPlaced{OrderID: "o-1"})
	assertQuiet(t, got)
}

func TestBeginBatch_DetachesDiscardedResume(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	defer tr.Close()
	ctx := t.Context()

	old, err := tr.Subscribe(ctx, "orders", noopObserver)
	require.NoError(t, err)
	ledger := newLedger()
	ledger.state["orders.broadcast.orderPlaced"] = old.ID
	m := NewManager(tr, ledger, nil)

	got := make(chan *envelope.Envelope, 4)
	require.NoError(t, m.BeginBatch(ctx))
	h, err := m.AddSubscription(ctx, "orders", "broadcast.orderPlaced", sinkObserver(got))
	require.NoError(t, err)
	assert.Equal(t, old.ID, h.ID)
	require.NoError(t, m.BeginBatch(ctx))

	live, err := tr.LiveHandles(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, live, 1, "a discarded resume keeps the persisted handle")
	assert.Equal(t, old.ID, live[0].ID)
	assert.Equal(t, old.ID, ledger.Subscriptions()["orders.broadcast.orderPlaced"])

	publish(t, tr, "orders", &orderPlaced{OrderID: "o-1"})
	assertQuiet(t, got)
}

func TestAdd_FiltersByPayloadType(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	defer tr.Close()
	ledger := newLedger()
	m := NewManager(tr, ledger, nil)
	ctx := t.Context()

	got := make(chan string, 4)
	require.NoError(t, m.BeginBatch(t.Context()))
	_, err := Add(ctx, m, "orders", func(ctx context.Context, ev *orderPlaced) error {
		got <- ev.OrderID
		return nil
	})
	require.NoError(t, err)
	_, err = m.CommitBatch(ctx)
	require.NoError(t, err)

	assert.Contains(t, ledger.state, "orders.broadcast.orderPlaced")

	publish(t, tr, "orders", &orderCancelled{OrderID: "skip"})
	publish(t, tr, "orders", &orderPlaced{OrderID: "o-7"})

	select {
	case id := <-got:
		assert.Equal(t, "o-7", id)
	case <-time.After(time.Second):
		t.Fatal("typed observer not invoked")
	}
}

func TestUnsubscribeBatch_RemovesFoundKeysInOneEvent(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	defer tr.Close()
	ledger := newLedger()
	m := NewManager(tr, ledger, nil)
	ctx := t.Context()

	require.NoError(t, m.BeginBatch(t.Context()))
	_, err := m.AddSubscription(ctx, "orders", "placed", noopObserver)
	require.NoError(t, err)
	_, err = m.AddSubscription(ctx, "orders", "cancelled", noopObserver)
	require.NoError(t, err)
	_, err = m.AddSubscription(ctx, "refunds", "issued", noopObserver)
	require.NoError(t, err)
	_, err = m.CommitBatch(ctx)
	require.NoError(t, err)

	err = m.UnsubscribeBatch(ctx, []Target{
		{Channel: "orders", Shape: "placed"},
		{Channel: "orders", Shape: "cancelled"},
		{Channel: "orders", Shape: "never-subscribed"},
	})
	require.NoError(t, err)

	require.Len(t, ledger.removals, 1)
	assert.Equal(t, []string{"orders.placed", "orders.cancelled"}, ledger.removals[0])
	assert.Equal(t, map[string]string{"refunds.issued": ledger.state["refunds.issued"]}, ledger.Subscriptions())

	live, err := tr.LiveHandles(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, live)

	resolved := m.Resolved()
	require.Len(t, resolved, 1)
	assert.Equal(t, "refunds.issued", resolved[0].Key)
}

func TestUnsubscribeBatch_DuplicateTargetsRemoveOnce(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	defer tr.Close()
	ledger := newLedger()
	m := NewManager(tr, ledger, nil)
	ctx := t.Context()

	require.NoError(t, m.BeginBatch(ctx))
	_, err := m.AddSubscription(ctx, "orders", "placed", noopObserver)
	require.NoError(t, err)
	_, err = m.CommitBatch(ctx)
	require.NoError(t, err)

	err = m.UnsubscribeBatch(ctx, []Target{
		{Channel: "orders", Shape: "placed"},
		{Channel: "orders", Shape: "placed"},
	})
	require.NoError(t, err)

	require.Len(t, ledger.removals, 1)
	assert.Equal(t, []string{"orders.placed"}, ledger.removals[0])
	assert.Empty(t, ledger.Subscriptions())
	assert.Empty(t, m.Resolved())
}

func TestUnsubscribeBatch_AmbiguityLeavesBatchUnapplied(t *testing.T) {
	mem := transport.NewMemory(nil, 0)
	defer mem.Close()
	ledger := newLedger()
	ctx := t.Context()

	setup := NewManager(mem, ledger, nil)
	require.NoError(t, setup.BeginBatch(ctx))
	_, err := setup.AddSubscription(ctx, "refunds", "issued", noopObserver)
	require.NoError(t, err)
	_, err = setup.AddSubscription(ctx, "orders", "placed", noopObserver)
	require.NoError(t, err)
	_, err = setup.CommitBatch(ctx)
	require.NoError(t, err)

	m := NewManager(duplicatingTransport{Transport: mem, channel: "orders"}, ledger, nil)
	err = m.UnsubscribeBatch(ctx, []Target{
		{Channel: "refunds", Shape: "issued"},
		{Channel: "orders", Shape: "placed"},
	})
	require.ErrorIs(t, err, ErrAmbiguousHandle)

	assert.Empty(t, ledger.removals)
	assert.Len(t, ledger.Subscriptions(), 2)
	live, err := mem.LiveHandles(ctx, "refunds")
	require.NoError(t, err)
	assert.Len(t, live, 1, "targets resolved before the ambiguity are not unsubscribed")
}

func TestUnsubscribeBatch_VanishedHandleStillRemoved(t *testing.T) {
	mem := transport.NewMemory(nil, 0)
	defer mem.Close()
	tr := flakyTransport{Transport: mem, channel: "orders", err: transport.ErrUnknownHandle, forward: true}
	ledger := newLedger()
	m := NewManager(tr, ledger, nil)
	ctx := t.Context()

	require.NoError(t, m.BeginBatch(ctx))
	_, err := m.AddSubscription(ctx, "orders", "placed", noopObserver)
	require.NoError(t, err)
	_, err = m.CommitBatch(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Unsubscribe(ctx, "orders", "placed"))
	require.Len(t, ledger.removals, 1)
	assert.Empty(t, ledger.Subscriptions())
	assert.Empty(t, m.Resolved())
}

func TestUnsubscribeBatch_TransportFailurePersistsEarlierRemovals(t *testing.T) {
	mem := transport.NewMemory(nil, 0)
	defer mem.Close()
	boom := errors.New("broker down")
	tr := flakyTransport{Transport: mem, channel: "refunds", err: boom}
	ledger := newLedger()
	m := NewManager(tr, ledger, nil)
	ctx := t.Context()

	require.NoError(t, m.BeginBatch(ctx))
	_, err := m.AddSubscription(ctx, "orders", "placed", noopObserver)
	require.NoError(t, err)
	_, err = m.AddSubscription(ctx, "refunds", "issued", noopObserver)
	require.NoError(t, err)
	_, err = m.CommitBatch(ctx)
	require.NoError(t, err)

	err = m.UnsubscribeBatch(ctx, []Target{
		{Channel: "orders", Shape: "placed"},
		{Channel: "refunds", Shape: "issued"},
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, strings.Count(err.Error(), "unsubscribing"), "error context appears once: %v", err)

	require.Len(t, ledger.removals, 1)
	assert.Equal(t, []string{"orders.placed"}, ledger.removals[0])
	assert.Contains(t, ledger.Subscriptions(), "refunds.issued")
}

func TestUnsubscribe_UnknownKeyIsSkipped(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	defer tr.Close()
	ledger := newLedger()
	m := NewManager(tr, ledger, nil)

	require.NoError(t, m.Unsubscribe(t.Context(), "orders", "placed"))
	assert.Empty(t, ledger.removals)
}

func TestUnsubscribe_PersistedButNotLiveStillRemoved(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	defer tr.Close()
	ledger := newLedger()
	ledger.state["orders.placed"] = "gone"
	m := NewManager(tr, ledger, nil)

	require.NoError(t, m.Unsubscribe(t.Context(), "orders", "placed"))
	require.Len(t, ledger.removals, 1)
	assert.Empty(t, ledger.Subscriptions())
}

func TestClose_DetachesHandlesForResume(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	defer tr.Close()
	ledger := newLedger()
	m := NewManager(tr, ledger, nil)
	ctx := t.Context()

	before := make(chan *envelope.Envelope, 4)
	require.NoError(t, m.BeginBatch(ctx))
	h, err := m.AddSubscription(ctx, "orders", "placed", sinkObserver(before))
	require.NoError(t, err)
	_, err = m.CommitBatch(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx))

	assert.Len(t, ledger.Subscriptions(), 1)
	live, err := tr.LiveHandles(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, live, 1, "closing keeps the handle for the next activation")
	assert.Equal(t, h.ID, live[0].ID)

	publish(t, tr, "orders", &orderPlaced{OrderID: "o-1"})
	assertQuiet(t, before)

	after := make(chan *envelope.Envelope, 4)
	next := NewManager(tr, ledger, nil)
	require.NoError(t, next.BeginBatch(ctx))
	resumed, err := next.AddSubscription(ctx, "orders", "placed", sinkObserver(after))
	require.NoError(t, err)
	assert.Equal(t, h.ID, resumed.ID)
	_, err = next.CommitBatch(ctx)
	require.NoError(t, err)
	assert.Len(t, ledger.adds, 1, "resuming does not persist the mapping again")

	publish(t, tr, "orders", &orderPlaced{OrderID: "o-2"})
	select {
	case env := <-after:
		assert.Equal(t, "o-2", env.Payload.(*orderPlaced).OrderID)
	case <-time.After(time.Second):
		t.Fatal("resumed observer not invoked")
	}
	assertQuiet(t, before)
}

func TestClose_ReleasesDiscardedBatch(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	defer tr.Close()
	m := NewManager(tr, newLedger(), nil)
	ctx := t.Context()

	got := make(chan *envelope.Envelope, 4)
	require.NoError(t, m.BeginBatch(ctx))
	_, err := m.AddSubscription(ctx, "orders", "placed", sinkObserver(got))
	require.NoError(t, err)
	require.NoError(t, m.BeginBatch(ctx))
	require.NoError(t, m.Close(ctx))

	live, err := tr.LiveHandles(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, live)

	publish(t, tr, "orders", &orderPlaced{OrderID: "o-1"})
	assertQuiet(t, got)
}

func TestClose_AfterTransportClosed(t *testing.T) {
	tr := transport.NewMemory(nil, 0)
	m := NewManager(tr, newLedger(), nil)
	ctx := t.Context()

	require.NoError(t, m.BeginBatch(ctx))
	_, err := m.AddSubscription(ctx, "orders", "placed", noopObserver)
	require.NoError(t, err)
	_, err = m.CommitBatch(ctx)
	require.NoError(t, err)

	tr.Close()
	assert.NoError(t, m.Close(ctx))
}

func assertQuiet(t *testing.T, ch <-chan *envelope.Envelope) {
	t.Helper()
	select {
	case env := <-ch:
		t.Fatalf("detached observer invoked with %T", env.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "orders.placed", Key("orders", "placed"))
	assert.Equal(t, "orders.placed", Target{Channel: "orders", Shape: "placed"}.Key())
}

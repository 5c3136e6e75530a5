// ABOUTME: Test agents and fixtures shared by the agent core tests
// ABOUTME: A counter agent with typed, response, envelope, and config handlers

package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
	"github.com/aevatarAI/aevatar-station-sub002/internal/registry"
	"github.com/aevatarAI/aevatar-station-sub002/internal/store"
	"github.com/aevatarAI/aevatar-station-sub002/internal/transport"
)

type bump struct {
	envelope.Meta
	By int
}

type echo struct {
	envelope.Meta
	Text string
}

type echoed struct {
	envelope.Meta
	Text string
}

type explode struct {
	envelope.Meta
}

type silent struct {
	envelope.Meta
}

type loopback struct {
	envelope.Meta
}

type tune struct {
	envelope.Meta
	Step int
}

// bumped is the domain event raised by the counter
type bumped struct {
	envelope.Meta
	By int
}

func init() {
	envelope.RegisterName("agent_test.bumped", &bumped{})
}

type counterState struct {
	Total int
	Steps []int
}

type counter struct {
	*Base[counterState]

	mu       sync.Mutex
	calls    []string
	seen     []*envelope.Envelope
	step     int
	notified chan notification
}

type notification struct {
	version int64
	state   counterState
}

func (c *counter) RegisterHandlers(b *registry.Builder) {
	registry.On(b, "OnBump", (*counter).OnBump)
	registry.OnResponse(b, "OnEcho", (*counter).OnEcho)
	registry.On(b, "OnExplode", (*counter).OnExplode)
	registry.OnResponse(b, "OnSilent", (*counter).OnSilent)
	registry.On(b, "OnLoopback", (*counter).OnLoopback, registry.AllowSelfHandling())
	registry.OnEnvelope(b, "Audit", (*counter).Audit, registry.Priority(10))
	registry.OnConfig(b, "Tune", (*counter).Tune)
}

func (c *counter) record(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
}

func (c *counter) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *counter) OnBump(ctx context.Context, ev *bump) error {
	c.record("OnBump")
	return c.RaiseEvent(ctx, &bumped{By: ev.By})
}

func (c *counter) OnEcho(ctx context.Context, ev *echo) (*echoed, error) {
	c.record("OnEcho")
	return &echoed{Text: ev.Text}, nil
}

func (c *counter) OnExplode(ctx context.Context, ev *explode) error {
	c.record("OnExplode")
	panic("exploded")
}

func (c *counter) OnSilent(ctx context.Context, ev *silent) (*echoed, error) {
	c.record("OnSilent")
	return nil, nil
}

func (c *counter) OnLoopback(ctx context.Context, ev *loopback) error {
	c.record("OnLoopback")
	return nil
}

func (c *counter) Audit(ctx context.Context, env *envelope.Envelope) error {
	c.record("Audit")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, env)
	return nil
}

func (c *counter) Tune(ctx context.Context, cfg *tune) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Step <= 0 {
		return errors.New("step must be positive")
	}
	c.step = cfg.Step
	return nil
}

func counterBehavior(notified chan notification) Behavior[counterState] {
	behavior := Behavior[counterState]{
		Transition: func(s counterState, ev envelope.Event) counterState {
			if b, ok := ev.(*bumped); ok {
				s.Total += b.By
				s.Steps = append(s.Steps, b.By)
			}
			return s
		},
	}
	if notified != nil {
		behavior.OnStateChanged = func(ctx context.Context, version int64, s counterState) error {
			notified <- notification{version: version, state: s}
			return nil
		}
	}
	return behavior
}

type fixture struct {
	transport *transport.Recorder
	store     *store.MockStore
	registry  *registry.Cache
}

func newFixture(inner transport.Transport) *fixture {
	return &fixture{
		transport: transport.NewRecorder(inner),
		store:     store.NewMockStore(),
		registry:  registry.NewCache(nil),
	}
}

func (f *fixture) options() Options {
	return Options{
		Transport: f.transport,
		Log:       f.store,
		Snapshots: f.store,
		Registry:  f.registry,
	}
}

func (f *fixture) counter(t *testing.T, key string, notified chan notification) *counter {
	t.Helper()
	c := &counter{notified: notified}
	base, err := NewBase(c, envelope.NewAddress("counter", key), counterBehavior(notified), f.options())
	require.NoError(t, err)
	c.Base = base
	require.NoError(t, c.Activate(t.Context()))
	t.Cleanup(func() {
		c.Deactivate(context.Background())
		c.Wait()
	})
	return c
}

var (
	caller = envelope.NewAddress("caller", "1")
)

func from(publisher envelope.Address, ev envelope.Event) *envelope.Envelope {
	return envelope.New(ev, publisher, publisher, uuid.New())
}

func waitNotification(t *testing.T, ch <-chan notification) notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state notification")
		return notification{}
	}
}

// ABOUTME: Agent core holding identity, collaborators, relationships, and subscriptions
// ABOUTME: Activation replays the log, subscribes the own channel, and opens the notify gate

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/aevatarAI/aevatar-station-sub002/internal/broadcast"
	"github.com/aevatarAI/aevatar-station-sub002/internal/dedupe"
	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
	"github.com/aevatarAI/aevatar-station-sub002/internal/notify"
	"github.com/aevatarAI/aevatar-station-sub002/internal/registry"
	"github.com/aevatarAI/aevatar-station-sub002/internal/store"
	"github.com/aevatarAI/aevatar-station-sub002/internal/telemetry"
	"github.com/aevatarAI/aevatar-station-sub002/internal/transport"
)

// ErrNotActivated is returned when an agent is used before its log was replayed.
var ErrNotActivated = errors.New("agent not activated")

// Options wires an agent to its collaborators.
type Options struct {
	Transport transport.Transport // required
	Log       store.EventLog      // required

	// Snapshots, when set with SnapshotEvery > 0, stores state every SnapshotEvery versions
	Snapshots     store.SnapshotStore
	SnapshotEvery int

	Registry  *registry.Cache        // defaults to registry.Shared()
	Dedupe    *dedupe.Window         // optional duplicate-delivery guard
	Telemetry *telemetry.Instruments // optional
	Runner    *notify.Runner         // defaults to a runner per agent
	Logger    *slog.Logger
}

// stateful is the domain side of an agent, provided by Base.
// Every method is called with Core.mu held.
type stateful interface {
	applyEvent(ev envelope.Event)
	resetState()
	encodeState() ([]byte, error)
	decodeState(data []byte) error
	hasConsumer() bool
	copyState() (any, error)
	deliverState(ctx context.Context, version int64, state any) error
}

// Core is the messaging and state machinery shared by every agent.
type Core struct {
	self      envelope.Address
	impl      any
	table     *registry.Table
	transport transport.Transport
	log       store.EventLog
	snapshots store.SnapshotStore
	every     int
	dedupe    *dedupe.Window
	telemetry *telemetry.Instruments
	runner    *notify.Runner
	logger    *slog.Logger

	broadcasts *broadcast.Manager
	gate       notify.Gate

	// turn serializes handler invocations
	turn sync.Mutex

	mu            sync.RWMutex
	state         stateful
	replayed      bool
	version       int64
	parent        *envelope.Address
	children      []envelope.Address
	subscriptions map[string]string
	inTurn        bool
	correlation   uuid.UUID
	ownHandle     *transport.Handle
}

func newCore(impl any, self envelope.Address, state stateful, opts Options) (*Core, error) {
	if self.IsZero() {
		return nil, errors.New("agent address is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Log == nil {
		return nil, errors.New("event log is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "agent", "agent", self.String())

	cache := opts.Registry
	if cache == nil {
		cache = registry.Shared()
	}
	runner := opts.Runner
	if runner == nil {
		runner = notify.NewRunner(logger)
	}

	c := &Core{
		self:          self,
		impl:          impl,
		table:         cache.For(impl),
		transport:     opts.Transport,
		log:           opts.Log,
		snapshots:     opts.Snapshots,
		every:         opts.SnapshotEvery,
		dedupe:        opts.Dedupe,
		telemetry:     opts.Telemetry,
		runner:        runner,
		logger:        logger,
		state:         state,
		subscriptions: make(map[string]string),
	}
	c.broadcasts = broadcast.NewManager(opts.Transport, c, logger)
	return c, nil
}

// Address returns the agent's address.
func (c *Core) Address() envelope.Address {
	return c.self
}

// Table returns the handler table of the agent's concrete type.
func (c *Core) Table() *registry.Table {
	return c.table
}

// Logger returns the agent's component logger.
func (c *Core) Logger() *slog.Logger {
	return c.logger
}

// Version returns the number of events applied.
func (c *Core) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Parent returns the parent address, if any.
func (c *Core) Parent() (envelope.Address, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.parent == nil {
		return envelope.Address{}, false
	}
	return *c.parent, true
}

// Children returns the children in registration order.
func (c *Core) Children() []envelope.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.children)
}

// Broadcasts returns the agent's broadcast subscription manager.
func (c *Core) Broadcasts() *broadcast.Manager {
	return c.broadcasts
}

// Activated reports whether the agent finished activation.
func (c *Core) Activated() bool {
	return c.gate.Active()
}

// Activate replays the log, subscribes the agent's own channel, and opens
// state notifications. Activating an active agent is a no-op.
func (c *Core) Activate(ctx context.Context) error {
	if c.gate.Active() {
		return nil
	}
	if err := c.Replay(ctx); err != nil {
		return err
	}

	handle, err := c.transport.Subscribe(ctx, c.self.Channel(), c.HandleEnvelope)
	if err != nil {
		return fmt.Errorf("subscribing %s to its channel: %w", c.self, err)
	}

	c.mu.Lock()
	c.ownHandle = &handle
	version := c.version
	c.mu.Unlock()

	c.gate.Activate(version)
	c.logger.Info("agent activated", "version", version)
	return nil
}

// Deactivate stops delivery to the agent. In-flight handlers are not
// cancelled. Broadcast handles are detached but left live, so the next
// activation resumes them through their persisted mappings.
func (c *Core) Deactivate(ctx context.Context) error {
	c.gate.Deactivate()

	c.mu.Lock()
	handle := c.ownHandle
	c.ownHandle = nil
	c.mu.Unlock()

	var errs []error
	if handle != nil {
		if err := c.transport.Unsubscribe(ctx, *handle); err != nil && !errors.Is(err, transport.ErrUnknownHandle) {
			errs = append(errs, fmt.Errorf("unsubscribing %s from its channel: %w", c.self, err))
		}
	}
	if err := c.broadcasts.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	c.logger.Info("agent deactivated")
	return errors.Join(errs...)
}

// Wait blocks until every pending state notification has run.
func (c *Core) Wait() {
	c.runner.Wait()
}

// Subscriptions returns the persisted broadcast key to handle id mapping.
func (c *Core) Subscriptions() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.subscriptions)
}

// RecordSubscriptions raises one SubscriptionsAdded event for the batch.
func (c *Core) RecordSubscriptions(ctx context.Context, entries []broadcast.Entry) error {
	return c.RaiseEvent(ctx, &SubscriptionsAdded{Entries: entries})
}

// RecordUnsubscriptions raises one SubscriptionsRemoved event for the batch.
func (c *Core) RecordUnsubscriptions(ctx context.Context, keys []string) error {
	return c.RaiseEvent(ctx, &SubscriptionsRemoved{Keys: keys})
}

// AddBroadcast stages a subscription to shape payloads on channel. Deliveries
// run as turns of this agent.
func (c *Core) AddBroadcast(ctx context.Context, channel, shape string, observer transport.Observer) (transport.Handle, error) {
	return c.broadcasts.AddSubscription(ctx, channel, shape, func(ctx context.Context, env *envelope.Envelope) error {
		return c.withTurn(env.CorrelationID, func() error {
			return observer(ctx, env)
		})
	})
}

// Listen stages a typed broadcast subscription on c. Deliveries run as turns.
func Listen[T envelope.Event](ctx context.Context, c *Core, channel string, fn func(ctx context.Context, ev T) error) (transport.Handle, error) {
	return broadcast.Add(ctx, c.broadcasts, channel, func(ctx context.Context, ev T) error {
		return c.withTurn(ev.EventMeta().CorrelationID, func() error {
			return fn(ctx, ev)
		})
	})
}

// withTurn runs fn holding the turn lock with correlation as the turn correlation.
func (c *Core) withTurn(correlation uuid.UUID, fn func() error) error {
	c.turn.Lock()
	defer c.turn.Unlock()

	c.beginTurn(correlation)
	defer c.endTurn()
	return fn()
}

func (c *Core) beginTurn(correlation uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTurn = true
	c.correlation = correlation
}

func (c *Core) endTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTurn = false
	c.correlation = uuid.Nil
}

// TurnCorrelation returns the correlation id of the envelope being handled.
func (c *Core) TurnCorrelation() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.correlation
}

// chainCorrelation returns the turn correlation, minting it when absent.
// Outside a turn every call starts a new chain.
func (c *Core) chainCorrelation() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inTurn {
		return uuid.New()
	}
	if c.correlation == uuid.Nil {
		c.correlation = uuid.New()
	}
	return c.correlation
}

var _ broadcast.Ledger = (*Core)(nil)

// ABOUTME: Builder and immutable per-agent-type handler tables
// ABOUTME: Validates registrations, orders by priority, and memoizes matches per payload type

package registry

import (
	"log/slog"
	"reflect"
	"slices"
	"sort"
	"sync"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// Registrar is implemented by agent types that declare handlers.
type Registrar interface {
	RegisterHandlers(b *Builder)
}

// Builder collects registrations for one agent type.
type Builder struct {
	agentType reflect.Type
	handlers  []*Handler
	names     map[string]struct{}
	config    *Handler
	rejected  []string
	logger    *slog.Logger
}

func newBuilder(agentType reflect.Type, logger *slog.Logger) *Builder {
	return &Builder{
		agentType: agentType,
		names:     make(map[string]struct{}),
		logger:    logger,
	}
}

func (b *Builder) reject(name, reason string) {
	b.rejected = append(b.rejected, name)
	b.logger.Warn("excluding handler",
		"agent_type", b.agentType.String(),
		"handler", name,
		"reason", reason,
	)
}

func (b *Builder) add(h *Handler, opts []Option) {
	if h.Name == "" {
		b.reject(h.Name, "empty handler name")
		return
	}
	if _, dup := b.names[h.Name]; dup {
		b.reject(h.Name, "duplicate handler name")
		return
	}
	if h.Shape == ShapeConfig && b.config != nil {
		b.reject(h.Name, "configuration entry point already registered as "+b.config.Name)
		return
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	h.order = len(b.handlers)
	b.names[h.Name] = struct{}{}
	b.handlers = append(b.handlers, h)
	if h.Shape == ShapeConfig {
		b.config = h
	}
}

func (b *Builder) build() *Table {
	handlers := slices.Clone(b.handlers)
	sort.SliceStable(handlers, func(i, j int) bool {
		if handlers[i].Priority != handlers[j].Priority {
			return handlers[i].Priority < handlers[j].Priority
		}
		return handlers[i].order < handlers[j].order
	})
	return &Table{
		agentType: b.agentType,
		handlers:  handlers,
		config:    b.config,
		rejected:  slices.Clone(b.rejected),
	}
}

// Table is the immutable handler table of one agent type.
type Table struct {
	agentType reflect.Type
	handlers  []*Handler
	config    *Handler
	rejected  []string

	matches sync.Map // reflect.Type -> []*Handler
}

// AgentType returns the concrete type the table was built for.
func (t *Table) AgentType() reflect.Type {
	return t.agentType
}

// Handlers returns all handlers in run order.
func (t *Table) Handlers() []*Handler {
	return slices.Clone(t.handlers)
}

// Config returns the configuration entry point, or nil.
func (t *Table) Config() *Handler {
	return t.config
}

// Rejected returns the names of registrations excluded during the build.
func (t *Table) Rejected() []string {
	return slices.Clone(t.rejected)
}

// Match returns the handlers that accept payload, in run order.
func (t *Table) Match(payload envelope.Event) []*Handler {
	if payload == nil {
		return nil
	}
	pt := reflect.TypeOf(payload)
	if cached, ok := t.matches.Load(pt); ok {
		return cached.([]*Handler)
	}

	var matched []*Handler
	for _, h := range t.handlers {
		if h.Accepts(pt) {
			matched = append(matched, h)
		}
	}
	actual, _ := t.matches.LoadOrStore(pt, matched)
	return actual.([]*Handler)
}

// ABOUTME: Process-local host that activates, tracks, and deactivates agents
// ABOUTME: Central owner of the collaborators every agent is wired with

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aevatarAI/aevatar-station-sub002/internal/agent"
	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// ErrAlreadyActive indicates an agent with the same address is already active.
var ErrAlreadyActive = errors.New("agent already active")

// ErrAgentNotFound indicates the specified agent is not active.
var ErrAgentNotFound = errors.New("agent not found")

// Activatable is what the host needs from an agent. *agent.Core satisfies it.
type Activatable interface {
	Address() envelope.Address
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
	Wait()
}

// Host tracks the agents active in this process.
type Host struct {
	options agent.Options
	agents  map[envelope.Address]Activatable
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewHost creates a Host whose agents share opts.
func NewHost(opts agent.Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		options: opts,
		agents:  make(map[envelope.Address]Activatable),
		logger:  logger.With("component", "runtime"),
	}
}

// Options returns the collaborators new agents should be built with.
func (h *Host) Options() agent.Options {
	return h.options
}

// Activate activates a and starts tracking it.
// Returns ErrAlreadyActive if an agent with the same address is tracked.
func (h *Host) Activate(ctx context.Context, a Activatable) error {
	addr := a.Address()

	h.mu.Lock()
	if _, exists := h.agents[addr]; exists {
		h.mu.Unlock()
		return fmt.Errorf("activating %s: %w", addr, ErrAlreadyActive)
	}
	// Reserve the address so concurrent activations of it fail fast
	h.agents[addr] = a
	h.mu.Unlock()

	if err := a.Activate(ctx); err != nil {
		h.mu.Lock()
		delete(h.agents, addr)
		h.mu.Unlock()
		return fmt.Errorf("activating %s: %w", addr, err)
	}

	h.logger.Info("=== AGENT ACTIVATED ===",
		"agent", addr.String(),
		"total_agents", h.Count(),
	)
	return nil
}

// Deactivate stops the agent at addr and forgets it.
func (h *Host) Deactivate(ctx context.Context, addr envelope.Address) error {
	h.mu.Lock()
	a, exists := h.agents[addr]
	if !exists {
		h.mu.Unlock()
		return fmt.Errorf("deactivating %s: %w", addr, ErrAgentNotFound)
	}
	delete(h.agents, addr)
	total := len(h.agents)
	h.mu.Unlock()

	err := a.Deactivate(ctx)
	h.logger.Info("=== AGENT DEACTIVATED ===",
		"agent", addr.String(),
		"total_agents", total,
	)
	if err != nil {
		return fmt.Errorf("deactivating %s: %w", addr, err)
	}
	return nil
}

// Get returns the active agent at addr.
func (h *Host) Get(addr envelope.Address) (Activatable, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	a, ok := h.agents[addr]
	return a, ok
}

// Addresses lists active agents sorted by address.
func (h *Host) Addresses() []envelope.Address {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]envelope.Address, 0, len(h.agents))
	for addr := range h.agents {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Count returns the number of active agents.
func (h *Host) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agents)
}

// Quiesce waits for every active agent's pending state notifications.
func (h *Host) Quiesce() {
	h.mu.RLock()
	agents := make([]Activatable, 0, len(h.agents))
	for _, a := range h.agents {
		agents = append(agents, a)
	}
	h.mu.RUnlock()

	for _, a := range agents {
		a.Wait()
	}
}

// Shutdown deactivates every agent, collecting failures.
func (h *Host) Shutdown(ctx context.Context) error {
	var errs []error
	for _, addr := range h.Addresses() {
		if err := h.Deactivate(ctx, addr); err != nil {
			errs = append(errs, err)
		}
	}
	h.logger.Info("host shut down", "failed", len(errs))
	return errors.Join(errs...)
}

// ABOUTME: Generic agent base parameterized by its domain state type
// ABOUTME: Behavior supplies initial state, transitions, copying, and the change consumer

package agent

import (
	"context"
	"fmt"

	"github.com/aevatarAI/aevatar-station-sub002/internal/codec"
	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// Behavior describes the domain side of an agent with state S.
type Behavior[S any] struct {
	// Initial returns the state before any event. Nil means the zero S.
	Initial func() S
	// Transition applies one domain event. Nil ignores domain events.
	Transition func(state S, ev envelope.Event) S
	// Copy deep-copies state for notifications. Nil uses a CBOR round trip,
	// which only carries exported fields.
	Copy func(state S) S
	// OnStateChanged receives a copy of the state after each new version.
	OnStateChanged func(ctx context.Context, version int64, state S) error
}

// Base is embedded by concrete agents. impl passed to NewBase must be the
// embedding agent so its registered handlers bind to it.
type Base[S any] struct {
	*Core
	behavior Behavior[S]
	state    S
}

// NewBase builds the core of impl at self.
func NewBase[S any](impl any, self envelope.Address, behavior Behavior[S], opts Options) (*Base[S], error) {
	b := &Base[S]{behavior: behavior}
	b.resetState()

	core, err := newCore(impl, self, b, opts)
	if err != nil {
		return nil, fmt.Errorf("creating agent %s: %w", self, err)
	}
	b.Core = core
	return b, nil
}

// State returns a copy of the current state.
func (b *Base[S]) State() S {
	b.mu.RLock()
	defer b.mu.RUnlock()

	copied, err := b.copyState()
	if err != nil {
		b.logger.Error("copying state failed", "error", err)
		return b.state
	}
	return copied.(S)
}

func (b *Base[S]) applyEvent(ev envelope.Event) {
	if b.behavior.Transition == nil {
		return
	}
	b.state = b.behavior.Transition(b.state, ev)
}

func (b *Base[S]) resetState() {
	var zero S
	b.state = zero
	if b.behavior.Initial != nil {
		b.state = b.behavior.Initial()
	}
}

func (b *Base[S]) encodeState() ([]byte, error) {
	return codec.Marshal(b.state)
}

func (b *Base[S]) decodeState(data []byte) error {
	var state S
	if err := codec.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decoding %T: %w", state, err)
	}
	b.state = state
	return nil
}

func (b *Base[S]) hasConsumer() bool {
	return b.behavior.OnStateChanged != nil
}

func (b *Base[S]) copyState() (any, error) {
	if b.behavior.Copy != nil {
		return b.behavior.Copy(b.state), nil
	}
	copied, err := codec.Clone(b.state)
	if err != nil {
		return nil, err
	}
	return copied, nil
}

func (b *Base[S]) deliverState(ctx context.Context, version int64, state any) error {
	return b.behavior.OnStateChanged(ctx, version, state.(S))
}

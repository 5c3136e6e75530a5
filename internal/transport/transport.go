// ABOUTME: Channel transport interface consumed by the agent core
// ABOUTME: Send, Subscribe, LiveHandles, Resume, and Unsubscribe over named channels

package transport

import (
	"context"
	"errors"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// ErrClosed is returned when the transport has been shut down.
var ErrClosed = errors.New("transport closed")

// ErrUnknownHandle is returned when a handle does not name a live subscription.
var ErrUnknownHandle = errors.New("unknown subscription handle")

// Handle identifies one live subscription on a channel.
type Handle struct {
	ID      string
	Channel string
}

// Observer receives envelopes delivered to a subscription.
type Observer func(ctx context.Context, env *envelope.Envelope) error

// Transport is the pub/sub collaborator of the agent core.
type Transport interface {
	Send(ctx context.Context, channel string, env *envelope.Envelope) error
	Subscribe(ctx context.Context, channel string, observer Observer) (Handle, error)
	LiveHandles(ctx context.Context, channel string) ([]Handle, error)
	Resume(ctx context.Context, handle Handle, observer Observer) (Handle, error)
	Unsubscribe(ctx context.Context, handle Handle) error
}

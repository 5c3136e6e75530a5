// Package transport defines the channel transport the agent core consumes
// and ships an in-memory implementation.
//
// # Model
//
// A channel is a named pub/sub address. Subscribing returns a Handle, an
// opaque token that identifies one live subscription. Handles outlive the
// observer bound to them: after an agent crashes and reactivates it can find
// its old handle with LiveHandles and rebind a fresh observer with Resume
// instead of subscribing twice.
//
// # Delivery
//
// Memory delivers each subscription on its own goroutine, in send order.
// Send blocks while a subscriber queue is full, until the context ends.
// Sending to a channel without subscribers is not an error.
//
// # Testing
//
// Recorder wraps any Transport (or none) and records every Send, and can
// inject failures per channel.
package transport

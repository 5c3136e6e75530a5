// Package envelope defines the message model shared by every agent.
//
// # Envelopes
//
// An Envelope wraps one domain Event with identity and provenance:
//
//   - EventID: unique per publish, reused only when a response echoes a request
//   - OriginID: the agent whose turn first produced the event
//   - PublisherID: the agent that put this envelope on the wire
//   - CorrelationID: minted once at the root of a causal chain, copied by replies
//
// # Events
//
// Events are pointer types that embed Meta:
//
//	type OrderPlaced struct {
//		envelope.Meta
//		OrderID string
//	}
//
// Each event type has a stable shape name. Names default to the Go type name
// ("orders.OrderPlaced") and can be pinned with RegisterName so that persisted
// logs survive package renames.
//
// # Addresses and channels
//
// An Address is a comparable {Type, Key} pair. Its String form ("type/key") is
// the name of the agent's own channel. Broadcast channels are plain strings.
package envelope

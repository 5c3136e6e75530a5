// Package codec encodes events and state with deterministic CBOR.
//
// Persisted events are written as (shape name, CBOR bytes) pairs. Decoding
// resolves the shape name through the envelope name registry, so every event
// type that reaches the durable log must be registered with
// envelope.RegisterName.
//
// Clone produces deep copies by round-tripping through CBOR. Only exported
// fields survive a clone.
package codec

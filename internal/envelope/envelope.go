// ABOUTME: Envelope, Event metadata, and agent addressing
// ABOUTME: Every message on a channel is an Envelope wrapping one Event

package envelope

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Address identifies an agent. It is comparable and stable across activations.
type Address struct {
	Type string `cbor:"type" json:"type"`
	Key  string `cbor:"key" json:"key"`
}

// NewAddress builds an Address from a type and key.
func NewAddress(agentType, key string) Address {
	return Address{Type: agentType, Key: key}
}

// ParseAddress parses the "type/key" form produced by String.
func ParseAddress(s string) (Address, error) {
	agentType, key, ok := strings.Cut(s, "/")
	if !ok || agentType == "" || key == "" {
		return Address{}, fmt.Errorf("invalid agent address %q", s)
	}
	return Address{Type: agentType, Key: key}, nil
}

// String returns "type/key".
func (a Address) String() string {
	return a.Type + "/" + a.Key
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Type == "" && a.Key == ""
}

// Channel returns the name of the agent's own channel.
func (a Address) Channel() string {
	return a.String()
}

// Meta carries the per-event fields that replies rewrite.
// Embed it in every event struct.
type Meta struct {
	CorrelationID uuid.UUID `cbor:"correlation_id" json:"correlation_id"`
	PublisherID   Address   `cbor:"publisher_id" json:"publisher_id"`
}

// EventMeta gives access to the embedded metadata.
func (m *Meta) EventMeta() *Meta {
	return m
}

// Event is the polymorphic payload of an Envelope.
type Event interface {
	EventMeta() *Meta
}

// Envelope is the unit of delivery on every channel.
type Envelope struct {
	EventID       uuid.UUID `json:"event_id"`
	Payload       Event     `json:"payload"`
	OriginID      Address   `json:"origin_id"`
	PublisherID   Address   `json:"publisher_id"`
	PublishedAt   time.Time `json:"published_at"`
	CorrelationID uuid.UUID `json:"correlation_id,omitempty"`
}

// New wraps payload in a fresh envelope with a new EventID.
// The payload's Meta is stamped with the publisher and correlation.
func New(payload Event, origin, publisher Address, correlation uuid.UUID) *Envelope {
	return Wrap(uuid.New(), payload, origin, publisher, correlation)
}

// Wrap builds an envelope around payload reusing an existing EventID.
func Wrap(eventID uuid.UUID, payload Event, origin, publisher Address, correlation uuid.UUID) *Envelope {
	meta := payload.EventMeta()
	meta.PublisherID = publisher
	if meta.CorrelationID == uuid.Nil {
		meta.CorrelationID = correlation
	}
	return &Envelope{
		EventID:       eventID,
		Payload:       payload,
		OriginID:      origin,
		PublisherID:   publisher,
		PublishedAt:   time.Now().UTC(),
		CorrelationID: correlation,
	}
}

// HasCorrelation reports whether the envelope belongs to a causal chain.
func (e *Envelope) HasCorrelation() bool {
	return e.CorrelationID != uuid.Nil
}

// Shape returns the shape name of the payload.
func (e *Envelope) Shape() string {
	return TypeName(e.Payload)
}

func (e *Envelope) String() string {
	return fmt.Sprintf(
		"Envelope{ID: %s, Shape: %s, Origin: %s, Publisher: %s, Correlation: %s}",
		e.EventID,
		e.Shape(),
		e.OriginID,
		e.PublisherID,
		e.CorrelationID,
	)
}

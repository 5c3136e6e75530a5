// ABOUTME: Framework events for parent/child links and broadcast subscriptions
// ABOUTME: Messages travel between agents, log events are raised into the agent's own log

package agent

import (
	"github.com/aevatarAI/aevatar-station-sub002/internal/broadcast"
	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// ParentAssigned tells a child that Parent registered it.
type ParentAssigned struct {
	envelope.Meta
	Parent envelope.Address `cbor:"parent"`
}

// ParentReleased tells a child that Parent unregistered it.
type ParentReleased struct {
	envelope.Meta
	Parent envelope.Address `cbor:"parent"`
}

// ChildAdded records a new child in the parent's log.
type ChildAdded struct {
	envelope.Meta
	Child envelope.Address `cbor:"child"`
}

// ChildRemoved records the removal of a child in the parent's log.
type ChildRemoved struct {
	envelope.Meta
	Child envelope.Address `cbor:"child"`
}

// ParentSet records the parent in the child's log.
type ParentSet struct {
	envelope.Meta
	Parent envelope.Address `cbor:"parent"`
}

// ParentCleared records that the child became a root.
type ParentCleared struct {
	envelope.Meta
}

// SubscriptionsAdded records one committed batch of broadcast subscriptions.
type SubscriptionsAdded struct {
	envelope.Meta
	Entries []broadcast.Entry `cbor:"entries"`
}

// SubscriptionsRemoved records one batch of removed subscription keys.
type SubscriptionsRemoved struct {
	envelope.Meta
	Keys []string `cbor:"keys"`
}

func init() {
	envelope.RegisterName("agent.ParentAssigned", &ParentAssigned{})
	envelope.RegisterName("agent.ParentReleased", &ParentReleased{})
	envelope.RegisterName("agent.ChildAdded", &ChildAdded{})
	envelope.RegisterName("agent.ChildRemoved", &ChildRemoved{})
	envelope.RegisterName("agent.ParentSet", &ParentSet{})
	envelope.RegisterName("agent.ParentCleared", &ParentCleared{})
	envelope.RegisterName("agent.SubscriptionsAdded", &SubscriptionsAdded{})
	envelope.RegisterName("agent.SubscriptionsRemoved", &SubscriptionsRemoved{})
}

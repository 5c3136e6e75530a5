// Package agent is the messaging and state-transition core of an agent.
//
// # Overview
//
// An agent is an addressable, long-lived actor. It receives envelopes on its
// own channel, dispatches them to handlers registered for the payload type,
// and changes state only by raising events that are appended to a durable
// per-agent log and then applied.
//
// # Defining an agent
//
// Agents embed *Base[S], where S is the domain state, and register handlers:
//
//	type Worker struct {
//	    *agent.Base[WorkerState]
//	}
//
//	func (w *Worker) RegisterHandlers(b *registry.Builder) {
//	    registry.On(b, "OnTask", (*Worker).OnTask)
//	    registry.OnResponse(b, "OnQuery", (*Worker).OnQuery)
//	}
//
// The Behavior passed to NewBase supplies the initial state, the transition
// function for domain events, and an optional state-change consumer.
//
// # Dispatch
//
// HandleEnvelope runs one turn: at most one envelope per agent at a time,
// every matching handler in registry order. Handler errors and panics are
// reported to the publisher as envelope.HandlerException; binding failures
// as envelope.FrameworkException, which is also returned to the caller.
// An agent never handles its own envelopes unless the handler was
// registered with registry.AllowSelfHandling.
//
// # Hierarchy
//
// Register and Unregister maintain parent/child links. A child's Publish goes
// only to its parent's channel; a root publishes on its own channel.
// SendDownward forwards one envelope, unchanged, to every child.
//
// # Correlation
//
// The correlation id of the envelope being handled is the turn correlation.
// Replies and publishes within the turn carry it. Outside a turn, or when the
// inbound envelope had none, Publish mints a new one.
//
// # State
//
// RaiseEvent appends with optimistic versioning, applies the event, and
// hands a deep copy of the new state to the consumer on a background
// goroutine. The consumer is called at most once per version, only after
// activation, and never for a version at or below the last one delivered.
package agent

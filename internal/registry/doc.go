// Package registry maps message shapes to agent handlers.
//
// # Registration
//
// Agent types declare their handlers once, at table build time, by
// implementing Registrar and registering method expressions:
//
//	func (w *Worker) RegisterHandlers(b *registry.Builder) {
//		registry.On(b, "OnTask", (*Worker).OnTask)
//		registry.OnResponse(b, "OnQuery", (*Worker).OnQuery, registry.Priority(-1))
//		registry.OnEnvelope(b, "Forward", (*Worker).Forward)
//		registry.OnConfig(b, "Configure", (*Worker).Configure)
//	}
//
// An agent that implements DefaultHandler also receives every event through
// HandleEvent, the conventional catch-all.
//
// # Ordering
//
// Handlers run in ascending Priority; equal priorities keep registration
// order. All matching handlers run for one envelope.
//
// # Caching
//
// Tables are built lazily per concrete agent type and cached for the life of
// the process. Concurrent first use builds a table exactly once and never
// exposes a partially built table. Invalid registrations are logged and
// excluded rather than failing the build.
package registry

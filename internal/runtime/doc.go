// Package runtime hosts activated agents in one process.
//
// A Host owns the shared collaborators (transport, event log, handler
// registry, duplicate-delivery window, telemetry) and hands them to agents
// through Options. Activate replays an agent and subscribes it to its own
// channel; Deactivate stops delivery; Shutdown deactivates everything.
package runtime

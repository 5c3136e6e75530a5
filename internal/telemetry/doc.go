// Package telemetry provides OpenTelemetry instruments for the agent core.
//
// Instruments counts dispatches, faults, sends and state notifications and
// wraps each dispatched envelope in a span. A nil *Instruments is valid and
// records nothing. Provider builds an SDK meter provider with a manual reader
// so the CLI can print a summary without an exporter.
package telemetry

// Package demo contains a small task tree built on the agent core.
//
// A Coordinator is the root. It forwards each WorkOrder envelope unchanged
// to its Worker children, folds their TaskCompleted reports into its state,
// and publishes OrderCompleted on its own channel once every task is in.
// An Auditor listens to that channel through a persisted broadcast
// subscription. Run wires the tree on a runtime.Host and drives one order
// from an outside caller.
package demo

// Package notify delivers external state-change notifications.
//
// A Gate decides whether a committed version may be announced: never before
// activation finishes and never twice for the same version. A Runner runs the
// announcement off the caller's goroutine and keeps its failures contained.
package notify

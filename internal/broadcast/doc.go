// Package broadcast manages an agent's subscriptions to shared broadcast channels.
//
// Subscriptions are staged in a batch and persisted together: each
// subscription key (target channel + "." + payload shape) maps to the
// transport handle id that serves it. After a crash the persisted mapping
// lets the agent resume its existing transport subscription instead of
// creating a duplicate. A persisted handle id that resolves to more than one
// live handle is reported as ErrAmbiguousHandle and never guessed at.
//
// Persistence goes through a Ledger, which the agent core implements by
// raising one batch event per commit.
package broadcast

// ABOUTME: Version gate deciding which committed state versions are announced
// ABOUTME: Compare-and-swap on the last notified version, closed until activation

package notify

import "sync/atomic"

// Gate admits each state version at most once, in increasing order.
// The zero value is closed until Activate is called.
type Gate struct {
	activated    atomic.Bool
	lastNotified atomic.Int64
}

// Activate opens the gate. Versions at or below replayed, which were already
// applied before activation, are never announced.
func (g *Gate) Activate(replayed int64) {
	for {
		last := g.lastNotified.Load()
		if replayed <= last || g.lastNotified.CompareAndSwap(last, replayed) {
			break
		}
	}
	g.activated.Store(true)
}

// Deactivate closes the gate. The last notified version is kept.
func (g *Gate) Deactivate() {
	g.activated.Store(false)
}

// Active reports whether the gate is open.
func (g *Gate) Active() bool {
	return g.activated.Load()
}

// TryAdvance claims version for announcement. It reports false when the gate
// is closed or version is not greater than the last notified one.
func (g *Gate) TryAdvance(version int64) bool {
	if !g.activated.Load() {
		return false
	}
	for {
		last := g.lastNotified.Load()
		if version <= last {
			return false
		}
		if g.lastNotified.CompareAndSwap(last, version) {
			return true
		}
	}
}

// LastNotified returns the highest version claimed so far.
func (g *Gate) LastNotified() int64 {
	return g.lastNotified.Load()
}

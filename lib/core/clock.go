package core

import "sync/atomic"

// --------------------------------------------------------------------------
// Logical Clock
// --------------------------------------------------------------------------

// ClockSource is a monotonically advancing logical clock. Advance only moves
// the clock forward; stale values are ignored, so concurrent publishers can
// never rewind it.
//
// Thread-safety: all methods are safe for concurrent use.
type ClockSource struct {
	now atomic.Uint64
}

// Now returns the current clock value.
func (c *ClockSource) Now() TxClock {
	return TxClock(c.now.Load())
}

// Advance moves the clock to v if v is ahead of it.
func (c *ClockSource) Advance(v TxClock) {
	for {
		cur := c.now.Load()
		if uint64(v) <= cur {
			return
		}
		if c.now.CompareAndSwap(cur, uint64(v)) {
			return
		}
	}
}

// Tick advances the clock by one and returns the new value.
func (c *ClockSource) Tick() TxClock {
	return TxClock(c.now.Add(1))
}

package mudis

import (
	"sync/atomic"

	"github.com/kiebor81/mudis/internal/util"
)

// accountant implements shard.Accountant: it aggregates every shard's live
// byte count into one atomic total (C4 in the design). Using a CAS loop
// rather than a mutex means the hard-cap check and reservation happen
// atomically with no cross-shard lock, while still holding the invariant
// that the aggregate total never exceeds max_bytes whenever
// hard_memory_limit is set.
//
// total is the hottest field in the whole cache: every shard's Put/Delete
// across every goroutine CASes it. It is padded to its own cache line so
// writes to it don't ping-pong the line maxBytes (rarely written, only on
// Configure) lives on.
type accountant struct {
	total    util.PaddedAtomicInt64
	maxBytes atomic.Int64
}

func newAccountant(maxBytes int64) *accountant {
	a := &accountant{}
	a.maxBytes.Store(maxBytes)
	return a
}

// TryAdjust attempts to change the global total by delta. Negative deltas
// (releases) always succeed. Positive deltas succeed unconditionally
// unless hardLimit is true and the new total would exceed maxBytes.
func (a *accountant) TryAdjust(delta int64, hardLimit bool) bool {
	for {
		cur := a.total.Load()
		next := cur + delta
		if hardLimit && delta > 0 && next > a.maxBytes.Load() {
			return false
		}
		if a.total.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Total returns the current aggregate byte total across all shards.
func (a *accountant) Total() int64 { return a.total.Load() }

// SetMaxBytes updates the hard/soft cap reference point; callers still
// need to recompute and push new per-shard soft thresholds separately.
func (a *accountant) SetMaxBytes(n int64) { a.maxBytes.Store(n) }

// Reset zeroes the running total.
func (a *accountant) Reset() { a.total.Store(0) }

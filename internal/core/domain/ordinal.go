package domain

import (
	"sort"
	"sync"
	"time"
)

// OrdinalClock hands out change ordinals in arrival order. Ordinals track
// the wall clock in nanoseconds and never repeat within a process, so
// changes logged later always order after earlier ones regardless of the
// commit times a provider reports.
type OrdinalClock struct {
	mu   sync.Mutex
	last int64
}

// Reserve returns the first of n consecutive ordinals at or after t.
func (c *OrdinalClock) Reserve(t time.Time, n int) int64 {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	base := t.UnixNano()
	if base <= c.last {
		base = c.last + 1
	}
	c.last = base + int64(n) - 1
	return base
}

// StampChanges returns a copy of changes renumbered from base. The order
// the connector gave within the batch is kept.
func StampChanges(changes []FileChange, base int64) []FileChange {
	if len(changes) == 0 {
		return nil
	}
	out := make([]FileChange, len(changes))
	copy(out, changes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	for i := range out {
		out[i].Sequence = base + int64(i)
	}
	return out
}

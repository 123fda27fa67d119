package connectors

import "time"

// positionsPerSecond bounds how many changes one second may carry.
const positionsPerSecond = 1_000_000

// Sequence returns the ordinal of the change at position within a payload
// whose commit happened at t. It orders changes inside one delivery or feed
// page only. Across deliveries the arrival ordinal stamped on logging wins.
func Sequence(t time.Time, position int) int64 {
	secs := t.Unix()
	if t.IsZero() || secs < 0 {
		secs = 0
	}
	return secs*positionsPerSecond + int64(position%positionsPerSecond) + 1
}

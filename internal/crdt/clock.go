// Package crdt implements the collaborative document core: vector-clocked
// operations, conflict detection and resolution, parallel-universe forks,
// and session membership with audit-preserving departures.
package crdt

// VectorClock maps peer ids to logical counters.
type VectorClock map[string]int

// Copy returns an independent clock.
func (vc VectorClock) Copy() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Tick increments this peer's counter.
func (vc VectorClock) Tick(peerID string) {
	vc[peerID]++
}

// Merge takes the pairwise maximum of both clocks.
func (vc VectorClock) Merge(other VectorClock) {
	for k, v := range other {
		if v > vc[k] {
			vc[k] = v
		}
	}
}

// Dominates reports whether vc >= other on every component and > on at
// least one.
func (vc VectorClock) Dominates(other VectorClock) bool {
	greater := false
	for k, v := range other {
		mine := vc[k]
		if mine < v {
			return false
		}
		if mine > v {
			greater = true
		}
	}
	for k, v := range vc {
		if v > other[k] {
			greater = true
			break
		}
	}
	return greater
}

// Concurrent reports whether neither clock dominates the other and they are
// not equal.
func Concurrent(a, b VectorClock) bool {
	return !a.Dominates(b) && !b.Dominates(a) && !equal(a, b)
}

func equal(a, b VectorClock) bool {
	for k, v := range a {
		if v != 0 && b[k] != v {
			return false
		}
	}
	for k, v := range b {
		if v != 0 && a[k] != v {
			return false
		}
	}
	return true
}

package disruptor

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Sequence is a monotonic cursor counting the events a party has published or
// consumed. Each Sequence occupies its own cache lines so that parties polling
// different counters never false-share.
//
// Go atomics are sequentially consistent, which covers the acquire loads and
// release stores the gating protocol relies on.
type Sequence struct {
	_     cpu.CacheLinePad
	value atomic.Uint64
	_     cpu.CacheLinePad
}

// Load reads the cursor with acquire semantics.
func (s *Sequence) Load() uint64 {
	return s.value.Load()
}

// Store sets the cursor with release semantics.
func (s *Sequence) Store(v uint64) {
	s.value.Store(v)
}

// Increment advances the cursor by one with release semantics and returns the
// new value. This is the publication point for the party owning the cursor.
func (s *Sequence) Increment() uint64 {
	return s.value.Add(1)
}

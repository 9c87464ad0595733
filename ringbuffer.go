package disruptor

import (
	"fmt"
	"unsafe"
)

const (
	// SlotSize is the size of one ring slot: a single cache line.
	SlotSize = 64
	// PayloadSize is the maximum message length a slot can hold.
	PayloadSize = SlotSize - 1
)

// Slot is one fixed-size entry of the ring. The payload lives inline so that
// publishing a message never allocates.
type Slot struct {
	data [PayloadSize]byte
	size uint8 // valid bytes in data
}

var _ [SlotSize - unsafe.Sizeof(Slot{})]byte // Slot must fit one cache line

// RingBuffer is a bare power-of-two array of slots indexed by sequence & mask.
// It performs no bounds or staleness checks: callers gate every access with
// the producer and consumer sequences.
type RingBuffer struct {
	mask     uint64
	capacity uint64
	slots    []Slot
}

// NewRingBuffer allocates a ring of 1<<exponent slots.
func NewRingBuffer(exponent uint) *RingBuffer {
	if exponent == 0 || exponent > MaxCapacityExponent {
		panic(fmt.Sprintf("capacity exponent must be in [1, %d], got %d", MaxCapacityExponent, exponent))
	}
	capacity := uint64(1) << exponent

	return &RingBuffer{
		mask:     capacity - 1,
		capacity: capacity,
		slots:    make([]Slot, capacity),
	}
}

// Write stores p into the slot for seq, overwriting whatever was there.
// len(p) must not exceed PayloadSize.
func (r *RingBuffer) Write(seq uint64, p []byte) {
	s := &r.slots[seq&r.mask]
	s.size = uint8(copy(s.data[:], p))
}

// Read copies the payload of the slot for seq into dst and returns its length.
// dst must be at least PayloadSize long to never truncate.
func (r *RingBuffer) Read(seq uint64, dst []byte) int {
	s := &r.slots[seq&r.mask]
	return copy(dst, s.data[:s.size])
}

// Index returns the slot index a sequence maps to.
func (r *RingBuffer) Index(seq uint64) uint64 {
	return seq & r.mask
}

// Capacity returns the fixed ring capacity.
func (r *RingBuffer) Capacity() uint64 {
	return r.capacity
}

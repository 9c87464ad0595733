package disruptor

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"go.uber.org/zap"
)

// maxSequence is the last representable cursor value. Writing it and
// incrementing would wrap the producer cursor to zero, so the producer rebases
// every cursor before it gets there.
const maxSequence = math.MaxUint64

// ProduceFunc fills dst with the payload for the next message and returns its
// length. seq is the producer cursor the message is expected to be published
// at. Returning more == false ends the producer task and requests a stop.
type ProduceFunc func(seq uint64, dst []byte) (n int, more bool)

// Producer owns the write cursor. Exactly one goroutine may publish through a
// Producer at any time.
type Producer struct {
	seq Sequence

	// stopping is set by RequestStop; busy brackets every publication attempt.
	// Once stopping is set and busy is clear, seq is final.
	stopping atomic.Bool
	busy     atomic.Bool

	_      [64]byte
	epoch  atomic.Uint64 // completed rebases
	spins  atomic.Uint64 // failed admission checks (backpressure)
	ring   *RingBuffer
	gates  []*Consumer
	wait   WaitStrategy
	logger *zap.Logger
}

// Enqueue publishes payload, spinning while the slowest consumer is a full ring
// behind. It never rejects a well-formed payload; it returns ErrStopped once
// RequestStop was called and ErrInvalidPayloadSize for oversized payloads.
func (p *Producer) Enqueue(payload []byte) error {
	if len(payload) > PayloadSize {
		return fmt.Errorf("%w: got %d", ErrInvalidPayloadSize, len(payload))
	}

	p.busy.Store(true)
	var spins uint32
	for {
		// stop is only honoured between attempts, never mid-write
		if p.stopping.Load() {
			p.busy.Store(false)
			return ErrStopped
		}
		if p.publish(payload) {
			p.busy.Store(false)
			return nil
		}
		spins++
		p.spins.Add(1)
		p.wait.Wait(spins)
	}
}

// TryEnqueue makes a single admission attempt and returns ErrWouldBlock when
// the ring is full for this producer.
func (p *Producer) TryEnqueue(payload []byte) error {
	if len(payload) > PayloadSize {
		return fmt.Errorf("%w: got %d", ErrInvalidPayloadSize, len(payload))
	}

	p.busy.Store(true)
	defer p.busy.Store(false)

	if p.stopping.Load() {
		return ErrStopped
	}
	if !p.publish(payload) {
		p.spins.Add(1)
		return ErrWouldBlock
	}
	return nil
}

// publish writes payload at the current cursor and advances it if every
// consumer admits the write.
func (p *Producer) publish(payload []byte) bool {
	seq := p.seq.Load()
	if !producerAdmits(seq, p.ring.capacity, p.gates) {
		return false
	}
	if seq == maxSequence {
		if !p.quiescent(seq) {
			return false
		}
		seq = p.rebase(seq)
	}

	p.ring.Write(seq, payload)
	p.seq.Increment()
	return true
}

// quiescent reports whether every consumer has consumed everything up to seq,
// so no read is in flight and no consumer can be admitted.
func (p *Producer) quiescent(seq uint64) bool {
	for _, c := range p.gates {
		if c.seq.Load() != seq {
			return false
		}
	}
	return true
}

// rebase moves all cursors back by the same whole number of ring epochs and
// returns the new producer cursor. It must only run at a quiescent point.
//
// The producer cursor goes first: while the rebase is in progress a consumer
// may observe any mix of old and new values, and every such mix compares
// "not ahead", so nobody is admitted until the producer publishes again.
func (p *Producer) rebase(seq uint64) uint64 {
	delta := (maxSequence/p.ring.capacity - 2) * p.ring.capacity
	next := seq - delta

	p.seq.Store(next)
	for _, c := range p.gates {
		c.seq.Store(c.seq.Load() - delta)
	}
	epoch := p.epoch.Add(1)

	p.logger.Info("Rebased sequence epoch",
		zap.Uint64("epoch", epoch),
		zap.Uint64("from", seq),
		zap.Uint64("to", next),
		zap.Int("consumers", len(p.gates)),
	)
	return next
}

// run is the producer task loop started by Disruptor.Start.
func (p *Producer) run(produce ProduceFunc) error {
	var buf [PayloadSize]byte
	for !p.stopping.Load() {
		n, more := produce(p.seq.Load(), buf[:])
		if !more {
			p.stop()
			return nil
		}
		if n < 0 || n > PayloadSize {
			p.stop()
			return fmt.Errorf("%w: produce returned %d", ErrInvalidPayloadSize, n)
		}
		if err := p.Enqueue(buf[:n]); err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (p *Producer) stop() {
	p.stopping.Store(true)
}

// stopped reports whether the producer will never publish again. The flag is
// read before busy so an attempt that began after the check sees stopping.
func (p *Producer) stopped() bool {
	return p.stopping.Load() && !p.busy.Load()
}

// Cursor returns the producer sequence: the number of messages published in
// the current epoch.
func (p *Producer) Cursor() uint64 {
	return p.seq.Load()
}

// Epoch returns how many times the cursors were rebased.
func (p *Producer) Epoch() uint64 {
	return p.epoch.Load()
}

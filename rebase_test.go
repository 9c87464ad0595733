package disruptor

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// seedCursors moves every cursor of an idle disruptor to v.
func seedCursors(d *Disruptor, v uint64) {
	d.producer.seq.Store(v)
	for _, c := range d.consumers {
		c.seq.Store(v)
	}
}

func TestRebaseArithmetic(t *testing.T) {
	for _, exp := range []uint{1, 3, 8, 16} {
		d, err := New(exp, WithConsumer(nil), WithConsumer(nil))
		require.NoError(t, err)
		capacity := d.Capacity()
		seedCursors(d, maxSequence)

		next := d.producer.rebase(maxSequence)

		assert.Equal(t, 3*capacity-1, next, "exponent %d", exp)
		assert.Equal(t, next, d.Producer().Cursor())
		assert.Equal(t, d.ring.Index(maxSequence), d.ring.Index(next), "slot index must survive the rebase")
		for _, c := range d.consumers {
			assert.Equal(t, next, c.Cursor())
		}
		assert.Equal(t, uint64(1), d.Producer().Epoch())
	}
}

// rebase only reads the ring capacity, so wide rings are checked without
// allocating their slots.
func TestRebaseArithmeticWideRing(t *testing.T) {
	for _, exp := range []uint{MaxCapacityExponent, 30, 40} {
		capacity := uint64(1) << exp
		ring := &RingBuffer{mask: capacity - 1, capacity: capacity}
		gates := []*Consumer{{}, {}}
		p := &Producer{ring: ring, gates: gates, wait: BusySpin{}, logger: zap.NewNop()}

		p.seq.Store(maxSequence)
		for _, c := range gates {
			c.seq.Store(maxSequence)
		}

		next := p.rebase(maxSequence)

		assert.Equal(t, 3*capacity-1, next, "exponent %d", exp)
		assert.Equal(t, ring.Index(maxSequence), ring.Index(next), "exponent %d", exp)
		for _, c := range gates {
			assert.Equal(t, next, c.Cursor())
		}
	}
}

// Single goroutine walk across the maximum cursor value with a pull consumer:
// the producer waits for the consumer to drain, rebases, and every message is
// still read exactly once and in order.
func TestRebaseAcrossMaxSequential(t *testing.T) {
	const total = 40

	d, err := New(3, WithConsumer(nil), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	seedCursors(d, maxSequence-13)

	p := d.Producer()
	c, _ := d.Consumer(0)
	buf := make([]byte, PayloadSize)

	var read uint64
	dequeue := func() {
		before := c.Cursor()
		n, err := c.TryDequeue(buf)
		require.NoError(t, err)
		require.Equal(t, read, binary.LittleEndian.Uint64(buf[:n]))
		require.Equal(t, before+1, c.Cursor())
		read++
	}

	// the producer only reports ErrWouldBlock while the consumer has unread
	// messages: either the ring is full or the rebase waits for a drain
	for i := uint64(0); i < total; i++ {
		for {
			err := p.TryEnqueue(message(i))
			if err == nil {
				break
			}
			require.True(t, errors.Is(err, ErrWouldBlock), "unexpected %v", err)
			dequeue()
		}
		assert.LessOrEqual(t, lag(p.Cursor(), c.Cursor()), d.Capacity())
	}
	for read < total {
		dequeue()
	}

	assert.Equal(t, uint64(1), p.Epoch())
	assert.Equal(t, p.Cursor(), c.Cursor())
	// 13 messages before the rebase, the rest after it
	assert.Equal(t, 3*d.Capacity()-1+total-13, p.Cursor())
}

// Concurrent walk across the maximum cursor value with a consumer chain.
func TestRebaseAcrossMaxConcurrent(t *testing.T) {
	const total = 10_000

	h0, seen0 := orderChecker(t, "c0")
	h1, seen1 := orderChecker(t, "c1")
	h2, seen2 := orderChecker(t, "c2")

	d, err := New(4,
		WithConsumer(h0, WithUpstream(1)),
		WithConsumer(h1),
		WithConsumer(h2),
		WithWaitStrategy(testWait),
		WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	seedCursors(d, maxSequence-total/2)

	// sample the ring bound while the tasks run
	var (
		samples    atomic.Uint64
		violations atomic.Uint64
		done       = make(chan struct{})
		sampler    sync.WaitGroup
	)
	p := d.Producer()
	capacity := d.Capacity()
	sampler.Add(1)
	go func() {
		defer sampler.Done()
		for {
			for i, c := range d.consumers {
				pc := p.Cursor()
				cc := c.Cursor()
				// a rebase between the two loads moves the producer cursor
				// back; such a sample mixes epochs and is skipped
				if lag(pc, cc) > capacity && p.Cursor() >= pc {
					violations.Add(1)
					t.Errorf("consumer %d at %d is more than %d behind producer %d", i, cc, capacity, pc)
				}
				samples.Add(1)
			}
			select {
			case <-done:
				return
			default:
			}
		}
	}()
	stopSampler := sync.OnceFunc(func() {
		close(done)
		sampler.Wait()
	})
	defer stopSampler()

	require.NoError(t, d.Start(counting(total)))
	require.NoError(t, d.Join())
	stopSampler()

	assert.NotZero(t, samples.Load())
	assert.Zero(t, violations.Load())

	assert.Equal(t, uint64(1), d.Producer().Epoch())
	for i, seen := range []func() uint64{seen0, seen1, seen2} {
		assert.Equal(t, uint64(total), seen(), "consumer %d", i)
	}
	final := d.Producer().Cursor()
	for _, c := range d.Stats().Consumers {
		assert.Equal(t, final, c.Cursor)
	}
}

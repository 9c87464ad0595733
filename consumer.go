package disruptor

// Handler receives every message a consumer reads, in sequence order. payload
// is only valid until Handler returns. Downstream consumers are not admitted
// to seq before Handler returns.
type Handler func(seq uint64, payload []byte)

// Consumer owns one read cursor. A consumer may have an upstream consumer it
// must stay behind; the reference is non-owning, the Disruptor roster owns
// every Consumer.
type Consumer struct {
	seq Sequence

	id       int
	upstream int       // roster index, -1 when none
	gate     *Sequence // upstream cursor, nil when none
	producer *Producer
	ring     *RingBuffer
	handler  Handler
	wait     WaitStrategy
}

// ID returns the consumer's roster index.
func (c *Consumer) ID() int {
	return c.id
}

// Upstream returns the roster index of the consumer this one waits on, or -1.
func (c *Consumer) Upstream() int {
	return c.upstream
}

// Cursor returns how many messages this consumer has read in the current epoch.
func (c *Consumer) Cursor() uint64 {
	return c.seq.Load()
}

// Lag returns how many published messages this consumer has not read yet.
func (c *Consumer) Lag() uint64 {
	return lag(c.producer.Cursor(), c.seq.Load())
}

// lag never underflows: the cursors are loaded separately, so the consumer
// value may be newer than the producer value it is compared with.
func lag(producer, consumer uint64) uint64 {
	if consumer > producer {
		return 0
	}
	return producer - consumer
}

// Dequeue copies the next message into dst, spinning until one is admitted.
// It returns ErrDrained once the producer has stopped and everything it
// published has been read. dst must hold PayloadSize bytes.
//
// Dequeue is for consumers registered without a Handler and must be called
// from one goroutine at a time.
func (c *Consumer) Dequeue(dst []byte) (int, error) {
	var spins uint32
	for {
		n, err := c.TryDequeue(dst)
		if err != ErrWouldBlock {
			return n, err
		}
		spins++
		c.wait.Wait(spins)
	}
}

// TryDequeue is Dequeue without spinning: it returns ErrWouldBlock when no
// message is admitted yet.
func (c *Consumer) TryDequeue(dst []byte) (int, error) {
	if len(dst) < PayloadSize {
		return 0, ErrShortBuffer
	}

	// the cursor is reloaded on every attempt because an epoch rebase may
	// have moved it
	seq := c.seq.Load()
	if !consumerAdmits(seq, &c.producer.seq, c.gate) {
		if c.drained() {
			return 0, ErrDrained
		}
		return 0, ErrWouldBlock
	}

	n := c.ring.Read(seq, dst)
	c.seq.Increment()
	return n, nil
}

// run is the consumer task loop started by Disruptor.Start. It keeps reading
// after a stop request until everything published has been handled.
func (c *Consumer) run() error {
	var buf [PayloadSize]byte
	var spins uint32
	for {
		seq := c.seq.Load()
		if consumerAdmits(seq, &c.producer.seq, c.gate) {
			n := c.ring.Read(seq, buf[:])
			c.handler(seq, buf[:n])
			c.seq.Increment()
			spins = 0
			continue
		}
		if c.drained() {
			return nil
		}
		spins++
		c.wait.Wait(spins)
	}
}

// drained reports whether the producer is stopped and this consumer has read
// up to its final cursor. Both cursors are loaded after the stop check.
func (c *Consumer) drained() bool {
	if !c.producer.stopped() {
		return false
	}
	return c.seq.Load() >= c.producer.Cursor()
}

// Package disruptor implements a single-producer, multi-consumer bounded
// event exchange in the style of the LMAX Disruptor.
//
// One producer publishes fixed-size messages into a power-of-two ring of
// cache-line sized slots. Every consumer reads every message, optionally
// staying behind an upstream consumer. Coordination uses only padded atomic
// sequences: no locks and no compare-and-swap. Waiting parties poll their
// gating sequences through a WaitStrategy.
package disruptor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MaxCapacityExponent bounds the ring to 1<<24 slots. The ring is allocated
// up front at SlotSize bytes per slot, so the largest ring takes 1 GiB.
const MaxCapacityExponent = 24

// drainPollInterval paces AwaitDrained. It runs off the hot path.
const drainPollInterval = 100 * time.Microsecond

// Disruptor owns the ring, the producer and the consumer roster.
type Disruptor struct {
	ring      *RingBuffer
	producer  *Producer
	consumers []*Consumer

	logger *zap.Logger
	pin    bool

	started atomic.Bool
	wg      sync.WaitGroup
	errMu   sync.Mutex
	errs    []error
}

type consumerSpec struct {
	handler  Handler
	upstream int
	wait     WaitStrategy
}

type options struct {
	logger    *zap.Logger
	wait      WaitStrategy
	pin       bool
	consumers []consumerSpec
}

// Option customizes a Disruptor.
type Option func(*options)

// ConsumerOption customizes one consumer registered with WithConsumer.
type ConsumerOption func(*consumerSpec)

// WithConsumer registers a consumer. Consumers get ids in registration order.
// A nil handler makes a pull consumer that the caller drains with Dequeue.
func WithConsumer(handler Handler, opts ...ConsumerOption) Option {
	return func(o *options) {
		spec := consumerSpec{handler: handler, upstream: -1}
		for _, opt := range opts {
			opt(&spec)
		}
		o.consumers = append(o.consumers, spec)
	}
}

// WithUpstream makes the consumer stay behind consumer id.
func WithUpstream(id int) ConsumerOption {
	return func(s *consumerSpec) {
		s.upstream = id
	}
}

// WithConsumerWaitStrategy overrides the wait strategy for one consumer.
func WithConsumerWaitStrategy(w WaitStrategy) ConsumerOption {
	return func(s *consumerSpec) {
		s.wait = w
	}
}

// WithWaitStrategy sets how the producer and consumers spin. Default BusySpin.
func WithWaitStrategy(w WaitStrategy) Option {
	return func(o *options) {
		o.wait = w
	}
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithCPUPinning locks every task started by Start to its own OS thread and
// CPU: the producer to CPU 0, consumer i to CPU i+1 (modulo NumCPU).
func WithCPUPinning(enabled bool) Option {
	return func(o *options) {
		o.pin = enabled
	}
}

// New builds a Disruptor with a ring of 1<<exponent slots. All cursors start
// at zero.
func New(exponent uint, opts ...Option) (*Disruptor, error) {
	if exponent == 0 || exponent > MaxCapacityExponent {
		return nil, fmt.Errorf("%w: got %d", ErrCapacity, exponent)
	}

	o := options{wait: BusySpin{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.wait == nil {
		o.wait = BusySpin{}
	}
	if err := validateUpstreams(o.consumers); err != nil {
		return nil, err
	}

	ring := NewRingBuffer(exponent)
	d := &Disruptor{
		ring:      ring,
		consumers: make([]*Consumer, len(o.consumers)),
		logger:    o.logger,
		pin:       o.pin,
	}
	d.producer = &Producer{
		ring:   ring,
		gates:  d.consumers,
		wait:   o.wait,
		logger: o.logger,
	}

	for i, spec := range o.consumers {
		w := spec.wait
		if w == nil {
			w = o.wait
		}
		d.consumers[i] = &Consumer{
			id:       i,
			upstream: spec.upstream,
			producer: d.producer,
			ring:     ring,
			handler:  spec.handler,
			wait:     w,
		}
	}
	for _, c := range d.consumers {
		if c.upstream >= 0 {
			c.gate = &d.consumers[c.upstream].seq
		}
	}

	return d, nil
}

// validateUpstreams rejects unknown or self references and cycles. Each
// consumer has at most one upstream, so a walk longer than the roster loops.
func validateUpstreams(specs []consumerSpec) error {
	for i, s := range specs {
		if s.upstream == -1 {
			continue
		}
		if s.upstream < 0 || s.upstream >= len(specs) || s.upstream == i {
			return fmt.Errorf("%w: consumer %d upstream %d", ErrUnknownConsumer, i, s.upstream)
		}
	}
	for i := range specs {
		at := i
		for steps := 0; specs[at].upstream != -1; steps++ {
			if steps >= len(specs) {
				return fmt.Errorf("%w: through consumer %d", ErrUpstreamCycle, i)
			}
			at = specs[at].upstream
		}
	}
	return nil
}

// Start launches one task per handler consumer and, when produce is not nil,
// the producer task. Pull consumers and external producers are driven by the
// caller.
func (d *Disruptor) Start(produce ProduceFunc) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	for _, c := range d.consumers {
		if c.handler == nil {
			continue
		}
		d.spawn(fmt.Sprintf("consumer-%d", c.id), c.id+1, c.run)
	}
	if produce != nil {
		d.spawn("producer", 0, func() error {
			return d.producer.run(produce)
		})
	}

	d.logger.Info("Disruptor started",
		zap.Uint64("capacity", d.ring.capacity),
		zap.Int("consumers", len(d.consumers)),
		zap.Bool("producer_task", produce != nil),
		zap.Bool("pinned", d.pin),
	)
	return nil
}

func (d *Disruptor) spawn(name string, cpu int, fn func() error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if d.pin {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			if err := setAffinity(cpu % runtime.NumCPU()); err != nil {
				d.logger.Warn("Failed to pin task",
					zap.String("task", name),
					zap.Int("cpu", cpu),
					zap.Error(err))
			}
		}

		d.logger.Debug("Starting task", zap.String("task", name))
		defer d.logger.Debug("Task stopped", zap.String("task", name))

		if err := fn(); err != nil {
			d.errMu.Lock()
			d.errs = append(d.errs, fmt.Errorf("%s: %w", name, err))
			d.errMu.Unlock()
		}
	}()
}

// RequestStop tells the producer to stop issuing writes. It does not wait; a
// publication already in progress completes. Consumers keep reading until
// they reach the final producer cursor.
func (d *Disruptor) RequestStop() {
	d.producer.stop()
	d.logger.Debug("Stop requested", zap.Uint64("producer_cursor", d.producer.Cursor()))
}

// AwaitDrained blocks until the producer has stopped and every consumer has
// read up to the final producer cursor, or ctx is done.
func (d *Disruptor) AwaitDrained(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for !d.drained() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	d.logger.Info("Disruptor drained",
		zap.Uint64("producer_cursor", d.producer.Cursor()),
		zap.Uint64("epoch", d.producer.Epoch()))
	return nil
}

func (d *Disruptor) drained() bool {
	if !d.producer.stopped() {
		return false
	}
	final := d.producer.Cursor()
	for _, c := range d.consumers {
		if c.Cursor() < final {
			return false
		}
	}
	return true
}

// Join waits for every task started by Start and returns their errors.
func (d *Disruptor) Join() error {
	if !d.started.Load() {
		return ErrNotStarted
	}
	d.wg.Wait()

	d.errMu.Lock()
	defer d.errMu.Unlock()
	return errors.Join(d.errs...)
}

// Producer returns the single producer.
func (d *Disruptor) Producer() *Producer {
	return d.producer
}

// Consumer returns the consumer with the given id.
func (d *Disruptor) Consumer(id int) (*Consumer, error) {
	if id < 0 || id >= len(d.consumers) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownConsumer, id)
	}
	return d.consumers[id], nil
}

// Consumers returns the roster size.
func (d *Disruptor) Consumers() int {
	return len(d.consumers)
}

// Capacity returns the ring capacity.
func (d *Disruptor) Capacity() uint64 {
	return d.ring.capacity
}

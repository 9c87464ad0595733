package disruptor

import (
	"fmt"
	"runtime"
	"time"

	"github.com/valyala/fastrand"
)

// WaitStrategy decides what a spinning party does after a failed admission
// check. spins counts consecutive failures and resets on every success.
// Implementations must never block on another party: the loop around Wait
// re-reads the sequences.
type WaitStrategy interface {
	Wait(spins uint32)
}

// BusySpin re-polls immediately. Lowest latency, burns a full core while idle.
type BusySpin struct{}

func (BusySpin) Wait(uint32) {}

const goschedEvery = 64 // reduce runtime.Gosched() frequency in hot loops

// Yielding spins and calls runtime.Gosched every Every failures so that other
// goroutines sharing the P still make progress.
type Yielding struct {
	Every uint32
}

func (y Yielding) Wait(spins uint32) {
	every := y.Every
	if every == 0 {
		every = goschedEvery
	}
	if spins%every == 0 {
		runtime.Gosched()
	}
}

// Backoff spins for SpinBudget failures, then sleeps a jittered, doubling
// interval between Min and Max.
type Backoff struct {
	SpinBudget uint32
	Min        time.Duration
	Max        time.Duration
}

func (b Backoff) Wait(spins uint32) {
	if spins <= b.SpinBudget {
		return
	}
	d := b.Min
	if d <= 0 {
		d = time.Microsecond
	}
	for n := spins - b.SpinBudget; n > 1 && d < b.Max; n >>= 1 {
		d <<= 1
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	// up to 25% jitter so parallel consumers do not wake in lockstep
	if j := uint32(d / 4); j > 0 {
		d += time.Duration(fastrand.Uint32n(j))
	}
	time.Sleep(d)
}

// ParseWaitStrategy maps a configuration name to a WaitStrategy.
func ParseWaitStrategy(name string) (WaitStrategy, error) {
	switch name {
	case "", "spin":
		return BusySpin{}, nil
	case "yield":
		return Yielding{Every: goschedEvery}, nil
	case "backoff":
		return Backoff{SpinBudget: 224, Min: time.Microsecond, Max: time.Millisecond}, nil
	default:
		return nil, fmt.Errorf("unknown wait strategy %q", name)
	}
}

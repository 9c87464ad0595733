package disruptor

import "fmt"

var (
	ErrCapacity           = fmt.Errorf("capacity exponent must be in [1, %d]", MaxCapacityExponent)
	ErrInvalidPayloadSize = fmt.Errorf("payload exceeds %d bytes", PayloadSize)
	ErrShortBuffer        = fmt.Errorf("destination shorter than %d bytes", PayloadSize)
	ErrWouldBlock         = fmt.Errorf("would block")
	ErrStopped            = fmt.Errorf("producer stopped")
	ErrDrained            = fmt.Errorf("consumer drained")
	ErrUnknownConsumer    = fmt.Errorf("unknown consumer")
	ErrUpstreamCycle      = fmt.Errorf("consumer upstream chain forms a cycle")
	ErrAlreadyStarted     = fmt.Errorf("disruptor already started")
	ErrNotStarted         = fmt.Errorf("disruptor not started")
)

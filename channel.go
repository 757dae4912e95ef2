package csp

import (
	"errors"
	"sync"
)

// ErrClosed is returned by [Channel.Send] when the channel is closed.
var ErrClosed = errors.New("csp: channel is closed")

// Channel is a blocking FIFO channel of float64 values shared between
// preemptively scheduled threads.
//
// A capacity greater than zero gives a buffered channel backed by a ring
// of that depth. A capacity of zero gives a rendezvous channel: [Channel.Send]
// completes only once a receiver has taken the value.
type Channel struct {
	mux *sync.Mutex

	// notFull is signaled when a slot frees, notEmpty when a value
	// arrives. Close broadcasts both.
	notFull  *sync.Cond
	notEmpty *sync.Cond

	// buffer is a ring of capacity slots, or a single hand-off slot
	// when the channel is unbuffered.
	buffer   []float64
	readIdx  int
	writeIdx int
	count    int

	// Hand-off deposits are serialized by count, so these order every
	// unbuffered deposit against its consumption and tell a woken
	// sender whether the parked value is still its own.
	depositSeq  uint64
	consumedSeq uint64

	capacity int
	closed   bool
}

// New creates a [Channel] with the given capacity. A capacity of zero
// (negative values are clamped) makes the channel unbuffered.
func New(capacity int) *Channel {
	if capacity < 0 {
		capacity = 0
	}

	// The hand-off slot is allocated up front so Send never allocates.
	slots := capacity
	if slots == 0 {
		slots = 1
	}

	mux := &sync.Mutex{}

	return &Channel{
		mux:      mux,
		notFull:  sync.NewCond(mux),
		notEmpty: sync.NewCond(mux),

		buffer: make([]float64, slots),

		capacity: capacity,
	}
}

// Send enqueues value, blocking while the channel is full (buffered) or
// until a receiver takes the value (unbuffered).
//
// Returns [ErrClosed] if the channel is closed before the value was
// handed over. An unbuffered send that reports nil guarantees a receiver
// observed the value.
func (c *Channel) Send(value float64) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.closed {
		return ErrClosed
	}

	if c.capacity > 0 {
		return c.sendBuffered(value)
	}

	return c.sendHandoff(value)
}

func (c *Channel) sendBuffered(value float64) error {
	for c.count == c.capacity && !c.closed {
		c.notFull.Wait()
	}

	if c.closed {
		return ErrClosed
	}

	c.buffer[c.writeIdx] = value
	c.writeIdx = (c.writeIdx + 1) % c.capacity
	c.count++

	c.notEmpty.Signal()

	return nil
}

func (c *Channel) sendHandoff(value float64) error {
	// At most one in-flight value at a time.
	for c.count > 0 && !c.closed {
		c.notFull.Wait()
	}

	if c.closed {
		return ErrClosed
	}

	c.buffer[0] = value
	c.count = 1
	c.depositSeq++
	seq := c.depositSeq

	c.notEmpty.Signal()

	// Wait for a receiver to take the value.
	for c.consumedSeq < seq && !c.closed {
		c.notFull.Wait()
	}

	if c.consumedSeq < seq {
		// Closed with the value still parked: no rendezvous happened,
		// so the value is dropped and must never surface on a receive.
		c.count = 0
		return ErrClosed
	}

	// The receiver's wakeup may have landed here instead of on a sender
	// still waiting to deposit. Pass it along.
	c.notFull.Signal()

	return nil
}

// Receive dequeues one value, blocking while the channel is open and
// empty. The second return is false only when the channel is closed and
// drained, which distinguishes end-of-stream from a zero payload.
func (c *Channel) Receive() (float64, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()

	for c.count == 0 && !c.closed {
		c.notEmpty.Wait()
	}

	if c.count == 0 {
		// Closed and drained.
		return 0, false
	}

	value := c.buffer[c.readIdx]
	if c.capacity > 0 {
		c.readIdx = (c.readIdx + 1) % c.capacity
	} else {
		c.consumedSeq = c.depositSeq
	}
	c.count--

	c.notFull.Signal()

	return value, true
}

// ReceiveValue is the collapsed form of [Channel.Receive] used across the
// embedder ABI: end-of-stream comes back as 0, indistinguishable from a
// zero payload.
func (c *Channel) ReceiveValue() float64 {
	value, _ := c.Receive()
	return value
}

// Close marks the channel as closed and wakes every parked sender and
// receiver so they re-check their predicate. It is idempotent and never
// releases the channel's resources.
func (c *Channel) Close() {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.closed {
		return
	}

	c.closed = true

	c.notFull.Broadcast()
	c.notEmpty.Broadcast()
}

// IsClosed reports whether the channel is closed. Advisory only: a false
// result may be stale by the time the caller acts on it.
func (c *Channel) IsClosed() bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	return c.closed
}

// Len returns the number of values currently queued.
func (c *Channel) Len() int {
	c.mux.Lock()
	defer c.mux.Unlock()

	return c.count
}

// Cap returns the capacity the channel was created with. Zero means
// unbuffered.
func (c *Channel) Cap() int {
	return c.capacity
}

package csp

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Gives a parked goroutine time to reach its wait before the test acts.
const settleTime = 50 * time.Millisecond

func Test_Channel_BufferedFIFO(t *testing.T) {
	ch := New(4)

	go func() {
		for _, v := range []float64{1, 2, 3} {
			if err := ch.Send(v); err != nil {
				t.Errorf("send %v: %v", v, err)
				return
			}
		}
	}()

	for _, want := range []float64{1, 2, 3} {
		value, ok := ch.Receive()
		require.True(t, ok)
		assert.Equal(t, want, value)
	}
}

func Test_Channel_SingleProducerOrdering(t *testing.T) {
	const itemCount = 1_000

	ch := New(8)

	go func() {
		for i := 0; i < itemCount; i++ {
			if err := ch.Send(float64(i)); err != nil {
				t.Errorf("send %d: %v", i, err)
				return
			}
		}
		ch.Close()
	}()

	for i := 0; i < itemCount; i++ {
		value, ok := ch.Receive()
		require.True(t, ok)
		require.Equal(t, float64(i), value)
	}

	_, ok := ch.Receive()
	assert.False(t, ok)
}

func Test_Channel_Backpressure(t *testing.T) {
	ch := New(1)

	require.NoError(t, ch.Send(10))

	var secondDone atomic.Bool
	sendErr := make(chan error, 1)

	go func() {
		err := ch.Send(20)
		secondDone.Store(true)
		sendErr <- err
	}()

	time.Sleep(settleTime)
	require.False(t, secondDone.Load(), "send into a full channel must block")

	value, ok := ch.Receive()
	require.True(t, ok)
	assert.Equal(t, float64(10), value)

	require.NoError(t, <-sendErr)

	value, ok = ch.Receive()
	require.True(t, ok)
	assert.Equal(t, float64(20), value)
}

func Test_Channel_DrainAfterClose(t *testing.T) {
	ch := New(2)

	require.NoError(t, ch.Send(7))
	require.NoError(t, ch.Send(8))

	ch.Close()

	value, ok := ch.Receive()
	require.True(t, ok)
	assert.Equal(t, float64(7), value)

	value, ok = ch.Receive()
	require.True(t, ok)
	assert.Equal(t, float64(8), value)

	for i := 0; i < 3; i++ {
		value, ok = ch.Receive()
		require.False(t, ok)
		assert.Zero(t, value)
	}
}

func Test_Channel_CloseWakesBlockedSender(t *testing.T) {
	ch := New(1)

	require.NoError(t, ch.Send(1))

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- ch.Send(2)
	}()

	time.Sleep(settleTime)
	ch.Close()

	require.ErrorIs(t, <-sendErr, ErrClosed)

	// The rejected value must never surface.
	value, ok := ch.Receive()
	require.True(t, ok)
	assert.Equal(t, float64(1), value)

	_, ok = ch.Receive()
	assert.False(t, ok)
}

func Test_Channel_CloseWakesBlockedReceiver(t *testing.T) {
	ch := New(3)

	received := make(chan struct {
		value float64
		ok    bool
	}, 1)

	go func() {
		value, ok := ch.Receive()
		received <- struct {
			value float64
			ok    bool
		}{value, ok}
	}()

	time.Sleep(settleTime)
	ch.Close()

	res := <-received
	assert.False(t, res.ok)
	assert.Zero(t, res.value)
}

func Test_Channel_Rendezvous(t *testing.T) {
	ch := New(0)

	var sendDone atomic.Bool
	sendErr := make(chan error, 1)

	go func() {
		err := ch.Send(42)
		sendDone.Store(true)
		sendErr <- err
	}()

	time.Sleep(settleTime)
	require.False(t, sendDone.Load(), "unbuffered send must block until a receiver arrives")

	value, ok := ch.Receive()
	require.True(t, ok)
	assert.Equal(t, float64(42), value)

	require.NoError(t, <-sendErr)
}

func Test_Channel_RendezvousConsumedBeforeClose(t *testing.T) {
	ch := New(0)

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- ch.Send(5)
	}()

	value, ok := ch.Receive()
	require.True(t, ok)
	assert.Equal(t, float64(5), value)

	// Close after the hand-off completed: the send still reports success.
	ch.Close()

	require.NoError(t, <-sendErr)
}

func Test_Channel_RendezvousClosedWhileParked(t *testing.T) {
	ch := New(0)

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- ch.Send(7)
	}()

	time.Sleep(settleTime)
	ch.Close()

	require.ErrorIs(t, <-sendErr, ErrClosed)

	// No rendezvous happened, so the parked value is gone.
	value, ok := ch.Receive()
	assert.False(t, ok)
	assert.Zero(t, value)
}

func Test_Channel_SendOnClosed(t *testing.T) {
	ch := New(4)
	ch.Close()

	assert.ErrorIs(t, ch.Send(1), ErrClosed)

	ch = New(0)
	ch.Close()

	assert.ErrorIs(t, ch.Send(1), ErrClosed)
}

func Test_Channel_CloseIdempotent(t *testing.T) {
	ch := New(2)

	require.NoError(t, ch.Send(3))

	ch.Close()
	ch.Close()
	ch.Close()

	assert.True(t, ch.IsClosed())

	value, ok := ch.Receive()
	require.True(t, ok)
	assert.Equal(t, float64(3), value)
}

func Test_Channel_IsClosed(t *testing.T) {
	ch := New(1)
	assert.False(t, ch.IsClosed())

	ch.Close()
	assert.True(t, ch.IsClosed())
}

func Test_Channel_ZeroPayloadDistinguishable(t *testing.T) {
	ch := New(1)

	require.NoError(t, ch.Send(0))

	// A legitimate zero payload is present, end-of-stream is not.
	value, ok := ch.Receive()
	require.True(t, ok)
	assert.Zero(t, value)

	ch.Close()

	value, ok = ch.Receive()
	require.False(t, ok)
	assert.Zero(t, value)

	// The collapsed form cannot tell the two apart.
	assert.Zero(t, ch.ReceiveValue())
}

func Test_Channel_LenCap(t *testing.T) {
	ch := New(3)
	assert.Equal(t, 3, ch.Cap())
	assert.Equal(t, 0, ch.Len())

	require.NoError(t, ch.Send(1))
	require.NoError(t, ch.Send(2))
	assert.Equal(t, 2, ch.Len())

	ch.Receive()
	assert.Equal(t, 1, ch.Len())

	assert.Equal(t, 0, New(0).Cap())
	assert.Equal(t, 0, New(-5).Cap())
}

func Test_Channel_MultipleProducersConsumers(t *testing.T) {
	const (
		numProducers     = 8
		numConsumers     = 8
		itemsPerProducer = 10_000
	)

	capacities := []int{0, 1, 256}
	for _, capacity := range capacities {
		t.Run(capName(capacity), func(t *testing.T) {
			testMultipleProducersConsumers(t, New(capacity), numProducers, numConsumers, itemsPerProducer)
		})
	}
}

func capName(capacity int) string {
	if capacity == 0 {
		return "rendezvous"
	}
	return "buffered_" + strconv.Itoa(capacity)
}

func testMultipleProducersConsumers(t *testing.T, ch *Channel, numProducers, numConsumers, itemsPerProducer int) {
	totalItems := numProducers * itemsPerProducer

	// Used to track received values
	var receivedItems sync.Map
	var receivedCount atomic.Uint64

	var producerWg sync.WaitGroup
	var consumerWg sync.WaitGroup

	consumerWg.Add(numConsumers)
	for i := 0; i < numConsumers; i++ {
		go func(consumerID int) {
			defer consumerWg.Done()

			// Each consumer reads until the channel is drained and closed
			for {
				value, ok := ch.Receive()
				if !ok {
					return
				}

				if _, loaded := receivedItems.LoadOrStore(int(value), true); loaded {
					t.Errorf("Consumer %d received value %v twice", consumerID, value)
					return
				}

				receivedCount.Add(1)
			}
		}(i)
	}

	producerWg.Add(numProducers)
	for i := 0; i < numProducers; i++ {
		go func(producerID int) {
			defer producerWg.Done()

			base := producerID * itemsPerProducer
			for j := 0; j < itemsPerProducer; j++ {
				item := base + j
				if err := ch.Send(float64(item)); err != nil {
					t.Errorf("Producer %d failed to send item %d: %v", producerID, item, err)
					return
				}
			}
		}(i)
	}

	// Wait for all producers to finish, then close
	producerWg.Wait()
	ch.Close()

	// Wait for all consumers to drain
	consumerWg.Wait()

	if got := receivedCount.Load(); got != uint64(totalItems) {
		t.Errorf("Received %d items, want %d", got, totalItems)
	}

	missingItems := 0
	for i := 0; i < totalItems; i++ {
		if _, ok := receivedItems.Load(i); !ok {
			missingItems++
		}
	}

	if missingItems > 0 {
		t.Errorf("Missing %d items in total", missingItems)
	}
}

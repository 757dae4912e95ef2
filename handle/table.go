package handle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/veloce-lang/csp"
	"github.com/veloce-lang/csp/internal"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sys/cpu"
)

// Handle identifies a channel across the embedder ABI. It is pointer-sized
// and opaque to the host. The zero value is the null handle and never
// identifies a live channel.
type Handle uint64

// Null is the sentinel returned to and accepted from the host for "no
// channel".
const Null Handle = 0

// Status codes crossing the ABI.
const (
	StatusOK     = 0
	StatusClosed = -1
)

const shardCount = 32

type shard struct {
	mux   sync.RWMutex
	chans map[Handle]*csp.Channel

	// used to avoid false sharing between shards
	_ cpu.CacheLinePad
}

// Table maps opaque integer handles to channels so the embedding runtime
// never holds Go pointers. Lookups are sharded to keep unrelated channels
// off the same lock.
type Table struct {
	tel *internal.Telemetry

	nextHandle atomic.Uint64

	shards [shardCount]shard

	created   metric.Int64Counter
	destroyed metric.Int64Counter
	live      metric.Int64UpDownCounter
}

func NewTable() *Table {
	t := &Table{
		tel: internal.NewTelemetry("runtime", "handle_table"),
	}

	for i := range t.shards {
		t.shards[i].chans = make(map[Handle]*csp.Channel)
	}

	t.created = t.tel.NewCounter("channels_created")
	t.destroyed = t.tel.NewCounter("channels_destroyed")
	t.live = t.tel.NewUpDownCounter("channels_live")

	return t
}

func (t *Table) getShard(h Handle) *shard {
	return &t.shards[uint64(h)%shardCount]
}

func (t *Table) lookup(h Handle) *csp.Channel {
	if h == Null {
		return nil
	}

	s := t.getShard(h)

	s.mux.RLock()
	ch := s.chans[h]
	s.mux.RUnlock()

	return ch
}

// Create allocates a channel and returns its handle. Never returns [Null].
func (t *Table) Create(capacity int) Handle {
	h := Handle(t.nextHandle.Add(1))
	ch := csp.New(capacity)

	s := t.getShard(h)

	s.mux.Lock()
	s.chans[h] = ch
	s.mux.Unlock()

	ctx := context.Background()
	t.created.Add(ctx, 1)
	t.live.Add(ctx, 1)

	return h
}

// Send enqueues value on the channel behind h. Returns [StatusOK], or
// [StatusClosed] if the channel is closed or h does not name a live
// channel.
func (t *Table) Send(h Handle, value float64) int {
	ch := t.lookup(h)
	if ch == nil {
		return StatusClosed
	}

	if err := ch.Send(value); err != nil {
		return StatusClosed
	}

	return StatusOK
}

// Recv dequeues one value in the collapsed ABI form: 0.0 stands for both
// a zero payload and a drained closed (or unknown) channel. Hosts that
// need to tell the two apart use [Table.Recv2].
func (t *Table) Recv(h Handle) float64 {
	value, _ := t.Recv2(h)
	return value
}

// Recv2 dequeues one value. The second return is false when the channel
// is drained and closed, or when h does not name a live channel.
func (t *Table) Recv2(h Handle) (float64, bool) {
	ch := t.lookup(h)
	if ch == nil {
		return 0, false
	}

	return ch.Receive()
}

// Close closes the channel behind h. Unknown and null handles are no-ops.
func (t *Table) Close(h Handle) {
	if ch := t.lookup(h); ch != nil {
		ch.Close()
	}
}

// Destroy drops the table's reference to the channel. The host guarantees
// no thread is parked in or about to enter the channel. Unknown and null
// handles are no-ops, so a double destroy is harmless here even though
// the contract forbids it.
func (t *Table) Destroy(h Handle) {
	if h == Null {
		return
	}

	s := t.getShard(h)

	s.mux.Lock()
	_, ok := s.chans[h]
	delete(s.chans, h)
	s.mux.Unlock()

	if !ok {
		return
	}

	ctx := context.Background()
	t.destroyed.Add(ctx, 1)
	t.live.Add(ctx, -1)
}

// IsClosed returns 0 for an open channel and 1 for a closed, unknown or
// null one. Advisory only.
func (t *Table) IsClosed(h Handle) int {
	ch := t.lookup(h)
	if ch == nil || ch.IsClosed() {
		return 1
	}

	return 0
}

// Len returns the queue depth of the channel behind h, or 0 for unknown
// and null handles. Advisory only.
func (t *Table) Len(h Handle) int {
	ch := t.lookup(h)
	if ch == nil {
		return 0
	}

	return ch.Len()
}

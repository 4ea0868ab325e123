package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("inbound queue full")

// ErrQueueClosed is returned for enqueues after CloseAndDrain. Transport
// callbacks can outlive an unsubscribe, so late deliveries are expected
// during shutdown.
var ErrQueueClosed = errors.New("inbound queue closed")

// maxPooledBuffer controls the largest buffer returned to the pool.
// Larger buffers are dropped so the pool cannot pin huge payloads.
var maxPooledBuffer = 256 * 1024 // 256 KiB

// Item wraps a queued Delivery and owns a pooled buffer backing its
// payload. Consumers MUST call Done() exactly once after processing.
type Item struct {
	D Delivery

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// Done releases pooled resources back to the pool.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) > maxPooledBuffer {
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		it.D.Payload = nil
		it.D.Attrs = nil
	})
}

// Queue is a bounded in-memory queue between transport delivery callbacks
// and the dispatch worker. It is safe for concurrent producers. Inbound
// volume is unbounded from the transport's perspective; the queue bounds it
// on the consumer side and counts drops.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewQueue creates a bounded Queue. A non-positive capacity falls back to a
// sane default.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{
		ch:       make(chan *Item, capacity),
		capacity: capacity,
		done:     make(chan struct{}),
	}
}

// Out returns the read-only consumer channel. Do not close it from callers.
func (q *Queue) Out() <-chan *Item { return q.ch }

func newItem(d Delivery) *Item {
	it := &Item{D: d}
	if len(d.Payload) > 0 {
		bb := bytebufferpool.Get()
		bb.B = append(bb.B[:0], d.Payload...)
		it.D.Payload = bb.B[:len(d.Payload)]
		it.buf = bb
	}
	if d.Attrs != nil {
		attrs := make(map[string]string, len(d.Attrs))
		for k, v := range d.Attrs {
			attrs[k] = v
		}
		it.D.Attrs = attrs
	}
	return it
}

// TryEnqueue copies the delivery payload into a pooled buffer and enqueues
// it without blocking. If the queue is full the delivery is dropped and
// ErrQueueFull returned; after CloseAndDrain it returns ErrQueueClosed.
// The closed check and the send share the read lock, so a close cannot
// slip between them.
func (q *Queue) TryEnqueue(d Delivery) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	it := newItem(d)
	select {
	case q.ch <- it:
		return nil
	default:
		it.Done()
		atomic.AddUint64(&q.dropped, 1)
		return ErrQueueFull
	}
}

// Enqueue blocks until space is available, the queue closes, or ctx is
// done.
func (q *Queue) Enqueue(ctx context.Context, d Delivery) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()
	it := newItem(d)
	select {
	case q.ch <- it:
		return nil
	case <-q.done:
		it.Done()
		return ErrQueueClosed
	case <-ctx.Done():
		it.Done()
		atomic.AddUint64(&q.dropped, 1)
		return ctx.Err()
	}
}

// RunWorker invokes handler for each dequeued delivery and releases the
// item afterwards. The worker exits when stop is closed or the queue is
// closed.
func (q *Queue) RunWorker(stop <-chan struct{}, handler func(Delivery)) {
	for {
		select {
		case it := <-q.ch:
			handler(it.D)
			it.Done()
		case <-stop:
			return
		case <-q.done:
			return
		}
	}
}

// CloseAndDrain marks the queue closed and releases remaining items. The
// channel itself is never closed: producers racing with shutdown must see
// ErrQueueClosed, not a panic. Idempotent.
func (q *Queue) CloseAndDrain() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()
	for {
		select {
		case it := <-q.ch:
			it.Done()
		default:
			return
		}
	}
}

// Len returns the current number of queued items.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns the number of deliveries dropped due to a full queue or
// cancelled enqueues.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }

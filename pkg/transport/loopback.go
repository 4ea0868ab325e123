package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Loopback is an in-memory Transport for tests and the replay harness.
// Sends deliver synchronously to subscribers of the topic. Fault knobs let
// tests exercise drop/duplicate behavior of a real data channel.
type Loopback struct {
	mu     sync.Mutex
	subs   map[string]map[int]func(Delivery)
	nextID int

	// DropEvery drops every Nth send when > 0.
	DropEvery int
	// Duplicate delivers every send twice when set.
	Duplicate bool
	// OnSend, when set, runs before delivery; a non-nil error fails the
	// send without delivering.
	OnSend func(topic string, payload []byte) error

	sends uint64
}

func NewLoopback() *Loopback {
	return &Loopback{subs: make(map[string]map[int]func(Delivery))}
}

// Send delivers payload to all subscribers of topic.
func (l *Loopback) Send(ctx context.Context, topic string, payload []byte, attrs map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.OnSend != nil {
		if err := l.OnSend(topic, payload); err != nil {
			return err
		}
	}
	n := atomic.AddUint64(&l.sends, 1)
	if l.DropEvery > 0 && n%uint64(l.DropEvery) == 0 {
		return nil // silently lost, like a real channel
	}
	l.Deliver(topic, string(payload), attrs)
	if l.Duplicate {
		l.Deliver(topic, string(payload), attrs)
	}
	return nil
}

// Subscribe registers fn for topic and returns an idempotent cancel.
func (l *Loopback) Subscribe(topic string, fn func(Delivery)) (cancel func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	if l.subs[topic] == nil {
		l.subs[topic] = make(map[int]func(Delivery))
	}
	l.subs[topic][id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		if m := l.subs[topic]; m != nil {
			delete(m, id)
		}
		l.mu.Unlock()
	}
}

// Deliver injects an inbound payload as if it arrived from the remote side.
func (l *Loopback) Deliver(topic, text string, attrs map[string]string) {
	l.DeliverFrom(topic, text, attrs, "")
}

// DeliverFrom is Deliver with an explicit stream id on the delivery.
func (l *Loopback) DeliverFrom(topic, text string, attrs map[string]string, streamID string) {
	l.mu.Lock()
	fns := make([]func(Delivery), 0, len(l.subs[topic]))
	for _, fn := range l.subs[topic] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	d := Delivery{Topic: topic, Payload: []byte(text), Attrs: attrs, StreamID: streamID, Timestamp: time.Now()}
	for _, fn := range fns {
		fn(d)
	}
}

// Sends returns the number of Send calls observed.
func (l *Loopback) Sends() uint64 { return atomic.LoadUint64(&l.sends) }

package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueTryEnqueueAndWorker(t *testing.T) {
	q := NewQueue(8)
	got := make(chan string, 8)
	stop := make(chan struct{})
	go q.RunWorker(stop, func(d Delivery) {
		got <- d.Topic + ":" + d.Text()
	})
	defer close(stop)

	if err := q.TryEnqueue(Delivery{Topic: "t", Payload: []byte("hello")}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case s := <-got:
		if s != "t:hello" {
			t.Fatalf("got %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not deliver")
	}
}

func TestQueueFullDrops(t *testing.T) {
	q := NewQueue(1)
	if err := q.TryEnqueue(Delivery{Payload: []byte("a")}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := q.TryEnqueue(Delivery{Payload: []byte("b")}); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d", q.Dropped())
	}
}

func TestQueueEnqueueAfterClose(t *testing.T) {
	q := NewQueue(2)
	q.CloseAndDrain()

	// a delivery callback can outlive its unsubscribe; a late enqueue must
	// fail cleanly rather than panic
	if err := q.TryEnqueue(Delivery{Topic: "t", Payload: []byte("late")}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("TryEnqueue after close: %v", err)
	}
	if err := q.Enqueue(context.Background(), Delivery{Topic: "t"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Enqueue after close: %v", err)
	}
	q.CloseAndDrain() // idempotent
}

func TestQueueCloseStopsWorker(t *testing.T) {
	q := NewQueue(4)
	done := make(chan struct{})
	go func() {
		q.RunWorker(nil, func(Delivery) {})
		close(done)
	}()
	q.CloseAndDrain()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit on close")
	}
}

func TestQueueEnqueueContextCancel(t *testing.T) {
	q := NewQueue(1)
	_ = q.TryEnqueue(Delivery{Payload: []byte("a")})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, Delivery{Payload: []byte("b")}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestQueueCopiesPayload(t *testing.T) {
	q := NewQueue(2)
	src := []byte("mutable")
	_ = q.TryEnqueue(Delivery{Payload: src})
	src[0] = 'X'
	it := <-q.Out()
	if it.D.Text() != "mutable" {
		t.Fatalf("payload aliased producer buffer: %q", it.D.Text())
	}
	it.Done()
	it.Done() // Done is idempotent
}

func TestLoopbackRoundTrip(t *testing.T) {
	lb := NewLoopback()
	var got []string
	cancel := lb.Subscribe("topic.a", func(d Delivery) { got = append(got, d.Text()) })
	if err := lb.Send(context.Background(), "topic.a", []byte("one"), nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	lb.Deliver("topic.a", "two", nil)
	cancel()
	cancel() // idempotent
	lb.Deliver("topic.a", "three", nil)
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("got %v", got)
	}
}

func TestSessionSignal(t *testing.T) {
	s := NewSession()
	if s.Connected() {
		t.Fatal("zero session should be disconnected")
	}
	var seen []bool
	cancel := s.OnChange(func(v bool) { seen = append(seen, v) })
	s.SetConnected(true)
	s.SetConnected(true) // no change, no notify
	s.SetConnected(false)
	cancel()
	s.SetConnected(true)
	if len(seen) != 2 || !seen[0] || seen[1] {
		t.Fatalf("seen = %v", seen)
	}
}

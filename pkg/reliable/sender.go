// Package reliable layers effectively-at-least-once delivery with bounded
// retries on top of a transport that offers no acknowledgement or ordering
// guarantee of its own. Each send registers a correlation-keyed waiter; the
// matching ack resolves it, a timeout retries it, and at most one waiter
// exists per key at any instant.
package reliable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatsync/pkg/telemetry"
	"chatsync/pkg/transport"
	"chatsync/pkg/wire"
)

var (
	// ErrAckTimeout marks an attempt that expired waiting for its ack.
	ErrAckTimeout = errors.New("ack timeout")
	// ErrSuperseded marks a wait cancelled by a newer send for the same
	// correlation key. The superseded call fails without retrying.
	ErrSuperseded = errors.New("waiter superseded")
	// ErrNoCorrelationKey is returned for events without eventId/callId.
	ErrNoCorrelationKey = errors.New("event has no correlation key")
)

// backoffSchedule holds the fixed delays between attempts, capped at the
// last entry.
var backoffSchedule = []time.Duration{
	0,
	200 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
	4 * time.Second,
}

func defaultBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(backoffSchedule) {
		attempt = len(backoffSchedule) - 1
	}
	return backoffSchedule[attempt]
}

// SendOptions bound one reliable send.
type SendOptions struct {
	Timeout    time.Duration // per-attempt ack wait; default 1200ms
	MaxRetries int           // total attempt budget; default 5
}

const (
	defaultTimeout    = 1200 * time.Millisecond
	defaultMaxRetries = 5
)

// Result reports the outcome of a reliable send. On failure LastAck holds
// the last acknowledgement observed, if any.
type Result struct {
	OK       bool
	Ack      *wire.Ack
	Attempts int
	Err      error
	LastAck  *wire.Ack
}

type waiter struct {
	ch   chan *wire.Ack
	done chan struct{}
}

// Sender sends events over the transport and correlates acknowledgements.
type Sender struct {
	tr      transport.Transport
	topic   string
	attrs   map[string]string
	limiter *rate.Limiter
	metrics *telemetry.Metrics
	backoff func(attempt int) time.Duration

	mu      sync.Mutex
	waiters map[string]*waiter
}

// Option configures a Sender.
type Option func(*Sender)

// WithTopic overrides the outbound topic (default wire.TopicUIEvents).
func WithTopic(topic string) Option { return func(s *Sender) { s.topic = topic } }

// WithMetrics attaches telemetry counters.
func WithMetrics(m *telemetry.Metrics) Option { return func(s *Sender) { s.metrics = m } }

// WithRateLimit throttles outbound sends.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Sender) { s.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithBackoff replaces the delay schedule; tests use a zero schedule.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(s *Sender) { s.backoff = fn }
}

func NewSender(tr transport.Transport, opts ...Option) *Sender {
	s := &Sender{
		tr:    tr,
		topic: wire.TopicUIEvents,
		attrs: map[string]string{
			wire.AttrContentType: wire.BlocksContentType,
			wire.AttrVersion:     wire.BlocksVersion,
		},
		limiter: rate.NewLimiter(rate.Inf, 0),
		metrics: telemetry.Nop(),
		backoff: defaultBackoff,
		waiters: make(map[string]*waiter),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Resolve feeds an inbound ack to its waiter. It returns false when no
// waiter is pending for the ack's key, which is normal for duplicated or
// late acks. A waiter is resolved at most once.
func (s *Sender) Resolve(ack *wire.Ack) bool {
	key := ack.Key()
	if key == "" {
		return false
	}
	s.mu.Lock()
	w := s.waiters[key]
	if w != nil {
		delete(s.waiters, key)
	}
	s.mu.Unlock()
	if w == nil {
		return false
	}
	w.ch <- ack
	return true
}

// Pending returns the number of outstanding waiters.
func (s *Sender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// register installs a fresh waiter for key, superseding any existing one.
func (s *Sender) register(key string) *waiter {
	w := &waiter{ch: make(chan *wire.Ack, 1), done: make(chan struct{})}
	s.mu.Lock()
	if old := s.waiters[key]; old != nil {
		close(old.done)
	}
	s.waiters[key] = w
	s.mu.Unlock()
	return w
}

// unregister removes w if it is still the active waiter for key.
func (s *Sender) unregister(key string, w *waiter) {
	s.mu.Lock()
	if s.waiters[key] == w {
		delete(s.waiters, key)
	}
	s.mu.Unlock()
}

// sendOnce performs one attempt: register waiter, send, await ack or
// timeout. The waiter never outlives the attempt.
func (s *Sender) sendOnce(ctx context.Context, key string, payload []byte, timeout time.Duration) (*wire.Ack, error) {
	w := s.register(key)

	if err := s.limiter.Wait(ctx); err != nil {
		s.unregister(key, w)
		return nil, err
	}
	if err := s.tr.Send(ctx, s.topic, payload, s.attrs); err != nil {
		s.unregister(key, w)
		return nil, fmt.Errorf("send failed: %w", err)
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ack := <-w.ch:
		return ack, nil
	case <-w.done:
		return nil, ErrSuperseded
	case <-t.C:
		s.unregister(key, w)
		return nil, ErrAckTimeout
	case <-ctx.Done():
		s.unregister(key, w)
		return nil, ctx.Err()
	}
}

func (s *Sender) backoffWait(ctx context.Context, attempt int) error {
	d := s.backoff(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendWithAck sends event and waits for an acknowledgement matching key.
// isOK decides success; isRetriable decides whether a failed ack is worth
// another attempt. Transport errors and ack timeouts always retry within
// the attempt budget.
func (s *Sender) SendWithAck(ctx context.Context, event wire.Event, key string, isOK, isRetriable func(*wire.Ack) bool, opts SendOptions) Result {
	if key == "" {
		key = event.CorrelationKey()
	}
	if key == "" {
		return Result{Err: ErrNoCorrelationKey}
	}
	payload, err := event.Encode()
	if err != nil {
		return Result{Err: fmt.Errorf("encode event: %w", err)}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	var lastAck *wire.Ack
	for attempt := 1; attempt <= maxRetries; attempt++ {
		s.metrics.SendAttempts.Inc()
		ack, err := s.sendOnce(ctx, key, payload, timeout)
		if err == nil {
			lastAck = ack
			if isOK(ack) {
				s.metrics.AcksOK.Inc()
				return Result{OK: true, Ack: ack, Attempts: attempt}
			}
			s.metrics.AcksError.WithLabelValues(ack.ErrorCode).Inc()
			if isRetriable(ack) && attempt < maxRetries {
				s.metrics.Retries.Inc()
				if berr := s.backoffWait(ctx, attempt); berr != nil {
					return Result{Attempts: attempt, LastAck: lastAck, Err: berr}
				}
				continue
			}
			msg := ack.ErrorText()
			if msg == "" {
				msg = "interaction failed"
			}
			return Result{Attempts: attempt, LastAck: lastAck, Err: errors.New(msg)}
		}

		if errors.Is(err, ErrSuperseded) {
			return Result{Attempts: attempt, LastAck: lastAck, Err: err}
		}
		if ctx.Err() != nil {
			return Result{Attempts: attempt, LastAck: lastAck, Err: ctx.Err()}
		}
		if errors.Is(err, ErrAckTimeout) {
			s.metrics.AckTimeouts.Inc()
		} else {
			s.metrics.SendFailures.Inc()
		}
		if attempt >= maxRetries {
			return Result{Attempts: attempt, LastAck: lastAck, Err: err}
		}
		s.metrics.Retries.Inc()
		if berr := s.backoffWait(ctx, attempt); berr != nil {
			return Result{Attempts: attempt, LastAck: lastAck, Err: berr}
		}
	}
	return Result{Attempts: maxRetries, LastAck: lastAck, Err: errors.New("interaction failed")}
}

// SendInteraction sends a message-interaction event with the standard
// interaction-ack predicates.
func (s *Sender) SendInteraction(ctx context.Context, event wire.Event, opts SendOptions) Result {
	return s.SendWithAck(ctx, event, event.CorrelationKey(),
		func(a *wire.Ack) bool { return a.Name == wire.AckInteraction && a.OK },
		func(a *wire.Ack) bool {
			return a.Name == wire.AckInteraction && a.ErrorCode == wire.ErrCodeJournalAppendFailed
		},
		opts)
}

// SendToolInvoke sends a tool.invoke event with the standard ui-ack
// predicates.
func (s *Sender) SendToolInvoke(ctx context.Context, event wire.Event, opts SendOptions) Result {
	return s.SendWithAck(ctx, event, event.CorrelationKey(),
		func(a *wire.Ack) bool { return a.Name == wire.AckUI && a.OK },
		func(a *wire.Ack) bool {
			return a.Name == wire.AckUI &&
				(a.ErrorCode == wire.ErrCodeJournalAppendFailed || a.ErrorCode == wire.ErrCodeResumeFailed)
		},
		opts)
}

// SendRaw encodes payload and fires it at the events topic without
// registering a waiter. Used for snapshot-only broadcasts.
func (s *Sender) SendRaw(ctx context.Context, payload []byte) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.tr.Send(ctx, s.topic, payload, s.attrs)
}

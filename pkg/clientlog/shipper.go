// Package clientlog ships diagnostic log records to the backend over the
// realtime transport, batched on the client-log topic. While the session is
// down records wait in a bounded queue; a reconnect triggers a flush, and
// the oldest records are dropped when the queue overflows.
package clientlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatsync/pkg/transport"
	"chatsync/pkg/wire"
)

// Shipping levels, ordered. LevelOff disables the shipper entirely.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

// ParseLevel maps a config string to a shipping level.
func ParseLevel(s string) (int, error) {
	switch s {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "", "warn":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "off":
		return LevelOff, nil
	}
	return 0, fmt.Errorf("unknown client log level %q", s)
}

const (
	maxQueue          = 500
	maxMessageLen     = 2000
	maxDataKeys       = 24
	maxDataStringLen  = 300
	defaultMaxBytes   = 32 * 1024
	defaultFlushDelay = 200 * time.Millisecond
)

// Shipper batches records and publishes them on the client-log topic.
type Shipper struct {
	tr       transport.Transport
	session  *transport.Session
	topic    string
	minLevel int
	maxBytes int
	delay    time.Duration
	name     string

	mu     sync.Mutex
	queue  []wire.ClientLogRecord
	timer  *time.Timer
	closed bool

	cancel func()
}

// Option configures a Shipper.
type Option func(*Shipper)

// WithTopic overrides the outbound topic (default wire.TopicClientLog).
func WithTopic(topic string) Option { return func(s *Shipper) { s.topic = topic } }

// WithMinLevel drops records below level before they are queued.
func WithMinLevel(level int) Option { return func(s *Shipper) { s.minLevel = level } }

// WithMaxBytes caps the encoded size of one publish. Batches above the cap
// fall back to per-record publishes with truncation.
func WithMaxBytes(n int) Option { return func(s *Shipper) { s.maxBytes = n } }

// WithFlushDelay sets the debounce interval between enqueue and flush.
func WithFlushDelay(d time.Duration) Option { return func(s *Shipper) { s.delay = d } }

// WithName stamps every record's logger field.
func WithName(name string) Option { return func(s *Shipper) { s.name = name } }

// NewShipper builds a shipper over tr. When session is non-nil a reconnect
// flushes whatever the queue holds.
func NewShipper(tr transport.Transport, session *transport.Session, opts ...Option) *Shipper {
	s := &Shipper{
		tr:       tr,
		session:  session,
		topic:    wire.TopicClientLog,
		minLevel: LevelWarn,
		maxBytes: defaultMaxBytes,
		delay:    defaultFlushDelay,
	}
	for _, o := range opts {
		o(s)
	}
	if session != nil {
		s.cancel = session.OnChange(func(up bool) {
			if up {
				s.Flush()
			}
		})
	}
	return s
}

func levelName(level int) string {
	switch level {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

func (s *Shipper) Debug(message string, data map[string]any) { s.enqueue(LevelDebug, message, data) }
func (s *Shipper) Info(message string, data map[string]any)  { s.enqueue(LevelInfo, message, data) }
func (s *Shipper) Warn(message string, data map[string]any)  { s.enqueue(LevelWarn, message, data) }
func (s *Shipper) Error(message string, data map[string]any) { s.enqueue(LevelError, message, data) }

func (s *Shipper) enqueue(level int, message string, data map[string]any) {
	if level < s.minLevel || s.minLevel >= LevelOff {
		return
	}
	rec := wire.ClientLogRecord{
		Schema:  wire.SchemaClientLog,
		Level:   levelName(level),
		Message: message,
		TsMs:    time.Now().UnixMilli(),
		Logger:  s.name,
		Data:    data,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, rec)
	if n := len(s.queue) - maxQueue; n > 0 {
		s.queue = s.queue[n:]
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.Flush)
	}
	s.mu.Unlock()
}

// Flush publishes the queued records. A disconnected session or a failed
// send leaves the records queued for the next flush.
func (s *Shipper) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	if s.session != nil && !s.session.Connected() {
		s.mu.Unlock()
		return
	}
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	if payload, err := json.Marshal(batch); err == nil && len(payload) <= s.maxBytes {
		if s.publish(payload) != nil {
			s.requeue(batch)
		}
		return
	}

	// Batch too large: publish record by record, truncating as needed.
	for i, rec := range batch {
		payload, err := json.Marshal([]wire.ClientLogRecord{rec})
		if err != nil || len(payload) > s.maxBytes {
			rec = truncateRecord(rec)
			payload, err = json.Marshal([]wire.ClientLogRecord{rec})
		}
		if err != nil || len(payload) > s.maxBytes {
			rec = wire.ClientLogRecord{
				Schema:  wire.SchemaClientLog,
				Level:   rec.Level,
				Message: clipString(rec.Message, 256) + " (dropped: too_large)",
				TsMs:    rec.TsMs,
			}
			payload, err = json.Marshal([]wire.ClientLogRecord{rec})
		}
		if err != nil {
			continue
		}
		if s.publish(payload) != nil {
			s.requeue(batch[i:])
			return
		}
	}
}

// Close detaches the session listener and attempts a final flush. Records
// enqueued after Close are discarded.
func (s *Shipper) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.Flush()
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}

func (s *Shipper) publish(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.tr.Send(ctx, s.topic, payload, nil)
}

// requeue puts unsent records back at the head of the queue, dropping from
// the front when the result would exceed the cap.
func (s *Shipper) requeue(recs []wire.ClientLogRecord) {
	s.mu.Lock()
	s.queue = append(append([]wire.ClientLogRecord{}, recs...), s.queue...)
	if n := len(s.queue) - maxQueue; n > 0 {
		s.queue = s.queue[n:]
	}
	s.mu.Unlock()
}

func clipString(v string, limit int) string {
	if len(v) <= limit {
		return v
	}
	return v[:limit]
}

func truncateRecord(rec wire.ClientLogRecord) wire.ClientLogRecord {
	if len(rec.Message) > maxMessageLen {
		rec.Message = clipString(rec.Message, maxMessageLen) + " (truncated)"
	}
	if rec.Data != nil {
		rec.Data = summarizeData(rec.Data)
	}
	return rec
}

// summarizeData flattens a data map to bounded scalars so a record with a
// large attached value still fits the publish cap.
func summarizeData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	n := 0
	for key, value := range data {
		if n >= maxDataKeys {
			out["truncated_keys"] = len(data) - maxDataKeys
			break
		}
		n++
		switch v := value.(type) {
		case nil, bool, int, int64, float64:
			out[key] = v
		case string:
			if len(v) > maxDataStringLen {
				v = clipString(v, maxDataStringLen) + " (truncated)"
			}
			out[key] = v
		case error:
			out[key] = v.Error()
		default:
			out[key] = fmt.Sprintf("%T", v)
		}
	}
	return out
}

// Package timeline merges activity-timeline history with realtime events
// into one bounded, ordered view. History and realtime carry the same wire
// shape; the union is keyed by event id with the later instance winning.
package timeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"chatsync/pkg/logger"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/wire"
)

// DefaultCap bounds the retained event set; the oldest events in view
// order are dropped first.
const DefaultCap = 500

// Event is one merged timeline entry as exposed to views.
type Event struct {
	ID             string
	Kind           string
	ConversationID string
	CreatedAt      float64 // seconds
	Seq            *int64
	Status         string
	Summary        string
	Tags           []string
	Data           map[string]any
}

func fromWire(w wire.TimelineWireEvent) Event {
	return Event{
		ID:             w.ID,
		Kind:           w.Kind,
		ConversationID: w.ConversationID,
		CreatedAt:      w.CreatedAt,
		Seq:            w.Sequence,
		Status:         w.Status,
		Summary:        w.Summary,
		Tags:           w.Tags,
		Data:           w.Data,
	}
}

// Backend is the slice of the HTTP client the reconciler needs.
type Backend interface {
	ListTimeline(ctx context.Context, conversationID string, limit int) ([]wire.TimelineWireEvent, error)
}

// Cache persists merged events so a restarted client shows the last-known
// view before history arrives. A nil Cache disables both directions.
type Cache interface {
	SeedTimeline(conversationID string) ([]wire.TimelineWireEvent, error)
	PutTimeline(conversationID string, evs []wire.TimelineWireEvent) error
}

// Reconciler folds history and realtime timeline events into one view.
type Reconciler struct {
	mu      sync.Mutex
	backend Backend
	cache   Cache
	cap     int
	metrics *telemetry.Metrics

	byID  map[string]Event
	order []string // ids in view order, rebuilt on mutation
	last  float64  // newest CreatedAt observed
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithCap overrides the retained-event cap.
func WithCap(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.cap = n
		}
	}
}

// WithMetrics attaches telemetry counters and gauges.
func WithMetrics(m *telemetry.Metrics) Option { return func(r *Reconciler) { r.metrics = m } }

// NewReconciler builds a reconciler over the given collaborators. Both may
// be nil: a nil backend makes LoadHistory a no-op, a nil cache disables
// seeding and persistence.
func NewReconciler(backend Backend, cache Cache, opts ...Option) *Reconciler {
	r := &Reconciler{
		backend: backend,
		cache:   cache,
		cap:     DefaultCap,
		metrics: telemetry.Nop(),
		byID:    make(map[string]Event),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Seed loads cached events for the conversation, if a cache is attached.
func (r *Reconciler) Seed(conversationID string) {
	if r.cache == nil {
		return
	}
	evs, err := r.cache.SeedTimeline(conversationID)
	if err != nil {
		logger.Warn("timeline_seed_failed", "conversation", conversationID, "error", err.Error())
		return
	}
	r.mu.Lock()
	for _, w := range evs {
		r.applyLocked(fromWire(w))
	}
	r.rebuildLocked()
	r.mu.Unlock()
}

// LoadHistory fetches the timeline history page and merges it under the
// same union-by-id rule as realtime events.
func (r *Reconciler) LoadHistory(ctx context.Context, conversationID string) error {
	if r.backend == nil {
		return nil
	}
	evs, err := r.backend.ListTimeline(ctx, conversationID, r.cap)
	if err != nil {
		return fmt.Errorf("timeline history: %w", err)
	}
	r.mu.Lock()
	for _, w := range evs {
		r.applyLocked(fromWire(w))
	}
	r.rebuildLocked()
	r.mu.Unlock()
	r.persist(conversationID, evs)
	return nil
}

// IngestRaw decodes a raw timeline payload and merges its events. Malformed
// payloads are dropped with a once-per-signature warning: the stream id
// when present, else a hash of the text prefix.
func (r *Reconciler) IngestRaw(streamID, text string) {
	evs, ok := wire.DecodeTimeline(text)
	if !ok {
		r.metrics.PayloadsDropped.WithLabelValues(wire.TopicTimeline).Inc()
		logger.WarnOnce(malformedSig(streamID, text), "timeline_payload_malformed", "stream", streamID)
		return
	}
	r.mu.Lock()
	for _, w := range evs {
		r.applyLocked(fromWire(w))
	}
	r.rebuildLocked()
	r.mu.Unlock()
	// a batch may span conversations; persist each under its own key
	for conv, group := range groupByConversation(evs) {
		r.persist(conv, group)
	}
}

func groupByConversation(evs []wire.TimelineWireEvent) map[string][]wire.TimelineWireEvent {
	groups := make(map[string][]wire.TimelineWireEvent)
	for _, w := range evs {
		groups[w.ConversationID] = append(groups[w.ConversationID], w)
	}
	return groups
}

func malformedSig(streamID, text string) string {
	if streamID != "" {
		return "tl:" + streamID
	}
	prefix := text
	if len(prefix) > 64 {
		prefix = prefix[:64]
	}
	return fmt.Sprintf("tl:%x", xxhash.Sum64String(prefix))
}

func (r *Reconciler) applyLocked(e Event) {
	r.byID[e.ID] = e
	if e.CreatedAt > r.last {
		r.last = e.CreatedAt
	}
}

// rebuildLocked recomputes view order and enforces the cap by dropping the
// oldest entries.
func (r *Reconciler) rebuildLocked() {
	all := make([]Event, 0, len(r.byID))
	for _, e := range r.byID {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return eventLess(all[i], all[j]) })
	if over := len(all) - r.cap; over > 0 {
		for _, e := range all[:over] {
			delete(r.byID, e.ID)
		}
		all = all[over:]
	}
	r.order = r.order[:0]
	for _, e := range all {
		r.order = append(r.order, e.ID)
	}
	r.metrics.TimelineSize.Set(float64(len(r.order)))
}

// eventLess orders by CreatedAt ascending; within one second, events
// without a sequence sort after those with one.
func eventLess(a, b Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	as, bs := seqOrMax(a.Seq), seqOrMax(b.Seq)
	if as != bs {
		return as < bs
	}
	return a.ID < b.ID
}

func seqOrMax(s *int64) int64 {
	if s == nil {
		return 1<<63 - 1
	}
	return *s
}

// Events returns the merged view, optionally filtered to one conversation.
// The filter is a projection: it never changes what is retained.
func (r *Reconciler) Events(conversationFilter string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.order))
	for _, id := range r.order {
		e := r.byID[id]
		if conversationFilter != "" && e.ConversationID != conversationFilter {
			continue
		}
		out = append(out, e)
	}
	return out
}

// LastEventTs reports the newest CreatedAt observed, including events since
// dropped by the cap. Zero when nothing has arrived.
func (r *Reconciler) LastEventTs() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Reconciler) persist(conversationID string, evs []wire.TimelineWireEvent) {
	if r.cache == nil || conversationID == "" || len(evs) == 0 {
		return
	}
	if err := r.cache.PutTimeline(conversationID, evs); err != nil {
		logger.Warn("timeline_persist_failed", "conversation", conversationID, "error", err.Error())
	}
}

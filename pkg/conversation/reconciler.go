package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatsync/pkg/backend"
	"chatsync/pkg/logger"
	"chatsync/pkg/reliable"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/transport"
	"chatsync/pkg/wire"
)

// defaultHistoryLimit is the page size of the initial history fetch.
const defaultHistoryLimit = 100

// Backend is the slice of the HTTP client the reconciler needs; the
// reaction and feedback calls are the fallbacks taken when the realtime
// session is down.
type Backend interface {
	ListMessages(ctx context.Context, conversationID string, limit int) ([]backend.HistoryMessage, error)
	SetReaction(ctx context.Context, conversationID, messageID, value string) (*wire.InteractionSnapshot, error)
	CreateFeedback(ctx context.Context, conversationID, messageID, reasonCode, text string) error
}

// Sender is the reliable delivery path for interaction events.
type Sender interface {
	SendInteraction(ctx context.Context, event wire.Event, opts reliable.SendOptions) reliable.Result
}

// Session reports whether a live realtime session exists.
type Session interface {
	Connected() bool
}

// Cache persists the merged view so a reopened client shows the last-known
// messages before history arrives. A nil Cache disables both directions.
type Cache interface {
	SeedMessages(conversationID string) ([]Message, error)
	PutMessages(conversationID string, msgs []Message) error
}

// Reconciler merges history, pending, and realtime messages and owns the
// interaction overlay for the conversation.
type Reconciler struct {
	backend Backend
	sender  Sender
	session Session
	cache   Cache
	tr      transport.Transport // outbound user input; nil disables Send
	overlay *Overlay
	metrics *telemetry.Metrics

	historyLimit int
	sendOpts     reliable.SendOptions

	mu             sync.Mutex
	conversationID string
	history        map[string]Message
	realtime       map[string]Message
	pending        map[string]Message // keyed by client message id
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTransport sets the transport used to emit user input on the chat
// topic. Send returns an error without one.
func WithTransport(tr transport.Transport) Option { return func(r *Reconciler) { r.tr = tr } }

// WithMetrics attaches telemetry counters and gauges.
func WithMetrics(m *telemetry.Metrics) Option { return func(r *Reconciler) { r.metrics = m } }

// WithHistoryLimit overrides the history page size.
func WithHistoryLimit(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.historyLimit = n
		}
	}
}

// WithSendOptions overrides the reliable-send options for interactions.
func WithSendOptions(opts reliable.SendOptions) Option {
	return func(r *Reconciler) { r.sendOpts = opts }
}

func NewReconciler(be Backend, sender Sender, session Session, cache Cache, opts ...Option) *Reconciler {
	r := &Reconciler{
		backend:      be,
		sender:       sender,
		session:      session,
		cache:        cache,
		overlay:      NewOverlay(),
		metrics:      telemetry.Nop(),
		historyLimit: defaultHistoryLimit,
		history:      make(map[string]Message),
		realtime:     make(map[string]Message),
		pending:      make(map[string]Message),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Seed loads cached messages for the conversation, if a cache is attached.
func (r *Reconciler) Seed(conversationID string) {
	if r.cache == nil {
		return
	}
	msgs, err := r.cache.SeedMessages(conversationID)
	if err != nil {
		logger.Warn("conversation_seed_failed", "conversation", conversationID, "error", err.Error())
		return
	}
	r.mu.Lock()
	r.conversationID = conversationID
	for _, m := range msgs {
		// cached entries replay as history so live sources still win
		m.Origin = OriginHistory
		r.history[m.ID] = m
	}
	r.mu.Unlock()
	r.publishSize()
}

// LoadHistory selects the conversation and fetches one page of its
// history. Messages map in with origin history, status completed.
func (r *Reconciler) LoadHistory(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	if r.conversationID != conversationID {
		r.conversationID = conversationID
		r.history = make(map[string]Message)
		r.realtime = make(map[string]Message)
		r.pending = make(map[string]Message)
		r.overlay = NewOverlay()
	}
	r.mu.Unlock()

	if r.backend == nil {
		return nil
	}
	items, err := r.backend.ListMessages(ctx, conversationID, r.historyLimit)
	if err != nil {
		return fmt.Errorf("message history: %w", err)
	}
	r.mu.Lock()
	for _, h := range items {
		m := fromHistory(h)
		r.history[m.ID] = m
	}
	r.mu.Unlock()
	r.publishSize()
	r.persist()
	return nil
}

// IngestRealtime reconciles one inbound chat envelope. A pending local
// message whose client id the envelope echoes is superseded in the same
// pass.
func (r *Reconciler) IngestRealtime(env *wire.ChatEnvelope) {
	m := fromEnvelope(env, time.Now())
	r.mu.Lock()
	if m.ClientMessageID != "" {
		delete(r.pending, m.ClientMessageID)
	}
	r.realtime[m.ID] = m
	r.mu.Unlock()
	r.publishSize()
	r.persist()
}

// IngestRaw handles a raw chat-topic payload: a chat_message@1 envelope
// reconciles normally, anything else degrades to a plain text message.
func (r *Reconciler) IngestRaw(text string, received time.Time) {
	if env, ok := wire.DecodeChat(text); ok {
		r.IngestRealtime(env)
		return
	}
	if text == "" {
		return
	}
	m := plainTextMessage(text, received)
	r.mu.Lock()
	r.realtime[m.ID] = m
	r.mu.Unlock()
	r.publishSize()
}

// Send emits user input and synthesizes the optimistic pending message.
// The returned client id is echoed back by the backend as
// client_message_id, which supersedes the pending entry.
func (r *Reconciler) Send(ctx context.Context, text string) (string, error) {
	if r.tr == nil {
		return "", fmt.Errorf("conversation: no transport configured")
	}
	clientID := wire.NewEventID("cmsg")

	r.mu.Lock()
	conv := r.conversationID
	r.pending[clientID] = Message{
		ID:              clientID,
		ConversationID:  conv,
		ClientMessageID: clientID,
		TsMs:            time.Now().UnixMilli(),
		Role:            wire.RoleHuman,
		Text:            text,
		IsLocal:         true,
		Origin:          OriginLocal,
		Status:          StatusPending,
	}
	r.mu.Unlock()
	r.publishSize()

	payload, err := wire.EncodeUserInput(clientID, text)
	if err != nil {
		return clientID, err
	}
	if err := r.tr.Send(ctx, wire.TopicChat, payload, nil); err != nil {
		return clientID, fmt.Errorf("conversation: send user input: %w", err)
	}
	return clientID, nil
}

// SetReaction toggles the caller's reaction on a message. The toggle is
// computed against the overlaid current value, applied optimistically,
// then delivered over the reliable sender when the session is connected
// and over HTTP otherwise. On failure the optimistic state stays put and
// the error is returned; the caller owns rollback.
func (r *Reconciler) SetReaction(ctx context.Context, messageID, value string) error {
	switch value {
	case wire.ReactionUp, wire.ReactionDown:
	default:
		return fmt.Errorf("conversation: invalid reaction %q", value)
	}

	cur := r.interactionsFor(messageID)
	next := toggleReaction(cur.MyReaction, value)
	ver := r.overlay.ApplyLocal(messageID, applyReaction(cur, next))

	if r.sender != nil && r.session != nil && r.session.Connected() {
		ev := wire.NewInteractionEvent(wire.EventReactionSet, messageID, map[string]any{"value": next})
		res := r.sender.SendInteraction(ctx, ev, r.sendOpts)
		if !res.OK {
			return fmt.Errorf("conversation: set reaction: %w", res.Err)
		}
		if res.Ack != nil && res.Ack.Interactions != nil {
			r.overlay.Confirm(messageID, *res.Ack.Interactions, ver)
		}
		return nil
	}

	if r.backend == nil {
		return fmt.Errorf("conversation: no delivery path for reaction")
	}
	snap, err := r.backend.SetReaction(ctx, r.conversation(), messageID, next)
	if err != nil {
		return fmt.Errorf("conversation: set reaction: %w", err)
	}
	if snap != nil {
		r.overlay.Confirm(messageID, *snap, ver)
	}
	return nil
}

// CreateFeedback submits structured feedback on a message. The local
// feedback counter increments only on confirmed success and never
// decrements.
func (r *Reconciler) CreateFeedback(ctx context.Context, messageID, reasonCode, text string) error {
	if r.sender != nil && r.session != nil && r.session.Connected() {
		args := map[string]any{"reasonCode": reasonCode}
		if text != "" {
			args["text"] = text
		}
		ev := wire.NewInteractionEvent(wire.EventFeedbackCreate, messageID, args)
		res := r.sender.SendInteraction(ctx, ev, r.sendOpts)
		if !res.OK {
			return fmt.Errorf("conversation: create feedback: %w", res.Err)
		}
		r.bumpFeedback(messageID)
		return nil
	}

	if r.backend == nil {
		return fmt.Errorf("conversation: no delivery path for feedback")
	}
	if err := r.backend.CreateFeedback(ctx, r.conversation(), messageID, reasonCode, text); err != nil {
		return fmt.Errorf("conversation: create feedback: %w", err)
	}
	r.bumpFeedback(messageID)
	return nil
}

func (r *Reconciler) bumpFeedback(messageID string) {
	snap := r.interactionsFor(messageID)
	snap.FeedbackCount++
	r.overlay.ApplyLocal(messageID, snap)
}

// interactionsFor returns the overlaid interaction state for a message,
// falling back to the merged base snapshot, then to zero values.
func (r *Reconciler) interactionsFor(messageID string) wire.InteractionSnapshot {
	if snap, ok := r.overlay.Get(messageID); ok {
		return snap
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.realtime[messageID]; ok && m.Interactions != nil {
		return *m.Interactions
	}
	if m, ok := r.history[messageID]; ok && m.Interactions != nil {
		return *m.Interactions
	}
	return wire.InteractionSnapshot{}
}

// Messages returns the merged view: union of history, pending, and
// realtime keyed by id with realtime winning, ordered ascending, overlay
// applied on top of base interaction snapshots.
func (r *Reconciler) Messages() []Message {
	r.mu.Lock()
	byID := make(map[string]Message, len(r.history)+len(r.pending)+len(r.realtime))
	for id, m := range r.history {
		byID[id] = m
	}
	for id, m := range r.pending {
		byID[id] = m
	}
	for id, m := range r.realtime {
		byID[id] = m
	}
	r.mu.Unlock()

	out := make([]Message, 0, len(byID))
	for _, m := range byID {
		if snap, ok := r.overlay.Get(m.ID); ok {
			s := snap
			m.Interactions = &s
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return messageLess(&out[i], &out[j]) })
	return out
}

// Interactions exposes the overlaid snapshot for one message.
func (r *Reconciler) Interactions(messageID string) wire.InteractionSnapshot {
	return r.interactionsFor(messageID)
}

func (r *Reconciler) conversation() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversationID
}

func (r *Reconciler) publishSize() {
	r.mu.Lock()
	n := len(r.history) + len(r.pending) + len(r.realtime)
	r.mu.Unlock()
	r.metrics.MergedMessages.Set(float64(n))
}

func (r *Reconciler) persist() {
	if r.cache == nil {
		return
	}
	conv := r.conversation()
	if conv == "" {
		return
	}
	if err := r.cache.PutMessages(conv, r.Messages()); err != nil {
		logger.Warn("conversation_persist_failed", "conversation", conv, "error", err.Error())
	}
}

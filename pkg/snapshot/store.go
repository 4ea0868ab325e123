// Package snapshot keeps the latest parsed realtime payloads — UI block
// snapshots, tool call states, and task views — and fans them out to UI
// consumers so each one does not re-subscribe to the raw transport. The
// store is a constructed object passed by reference; tests build isolated
// instances.
package snapshot

import (
	"sort"
	"sync"
	"time"

	"chatsync/pkg/telemetry"
	"chatsync/pkg/wire"
)

// CallState is the accumulated state of one tool invocation. Fields merge
// monotonically: a later partial progress update must not erase a terminal
// final or error state.
type CallState struct {
	CallID    string             `json:"callId"`
	RequestID string             `json:"requestId,omitempty"`
	MessageID string             `json:"messageId,omitempty"`
	Origin    *wire.ActionOrigin `json:"origin,omitempty"`
	Tool      *wire.ToolRef      `json:"tool,omitempty"`
	Progress  *float64           `json:"progress,omitempty"`
	Final     bool               `json:"final,omitempty"`
	Error     *CallError         `json:"error,omitempty"`
	UpdatedAt int64              `json:"updatedAt,omitempty"` // ms
}

// CallError records a terminal tool failure.
type CallError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable,omitempty"`
}

// TaskView is the latest snapshot for one task surface.
type TaskView struct {
	TaskID  string             `json:"taskId"`
	Payload *wire.BlockPayload `json:"payload"`
	Attrs   map[string]string  `json:"attrs,omitempty"`
}

// Store holds the latest snapshot per identity key. All mutation funnels
// through its mutex; listener callbacks run outside the lock with a copy.
type Store struct {
	mu sync.Mutex

	blocks     []*wire.BlockPayload // insertion order, replace in place
	blockIdx   map[string]int       // messageId -> index
	calls      map[string]*CallState
	tasks      map[string]*TaskView
	taskOrder  []string
	nextSubID  int
	blockSubs  map[int]func([]*wire.BlockPayload)
	callSubs   map[int]func([]CallState)
	taskSubs   map[int]func([]TaskView)
	metrics    *telemetry.Metrics
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		blockIdx:  make(map[string]int),
		calls:     make(map[string]*CallState),
		tasks:     make(map[string]*TaskView),
		blockSubs: make(map[int]func([]*wire.BlockPayload)),
		callSubs:  make(map[int]func([]CallState)),
		taskSubs:  make(map[int]func([]TaskView)),
		metrics:   telemetry.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics attaches telemetry gauges.
func WithMetrics(m *telemetry.Metrics) Option { return func(s *Store) { s.metrics = m } }

// PushBlocks applies UI-block payloads: a payload with a known messageId
// replaces the stored snapshot for that id in place, a new id appends.
// Payloads without a messageId are ignored.
func (s *Store) PushBlocks(payloads []*wire.BlockPayload) {
	s.mu.Lock()
	changed := false
	for _, p := range payloads {
		if p == nil || p.MessageID == "" {
			continue
		}
		if i, ok := s.blockIdx[p.MessageID]; ok {
			s.blocks[i] = p
		} else {
			s.blockIdx[p.MessageID] = len(s.blocks)
			s.blocks = append(s.blocks, p)
		}
		changed = true
	}
	s.metrics.SnapshotBlocks.Set(float64(len(s.blocks)))
	var subs []func([]*wire.BlockPayload)
	var cur []*wire.BlockPayload
	if changed {
		cur = s.blocksLocked()
		for _, fn := range s.blockSubs {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(cur)
	}
}

// PushToolResultUI normalizes an inline tool-result UI snippet into a
// block payload for the blocks renderer. Request and message ids come from
// the tracked call when known, else derive from the call id.
func (s *Store) PushToolResultUI(callID string, ui *wire.ToolResultUI) {
	if callID == "" || ui == nil || len(ui.Blocks) == 0 {
		return
	}
	requestID := "req." + callID
	messageID := "msg." + callID
	s.mu.Lock()
	if c := s.calls[callID]; c != nil {
		if c.RequestID != "" {
			requestID = c.RequestID
		}
		if c.MessageID != "" {
			messageID = c.MessageID
		}
	}
	s.mu.Unlock()
	s.PushBlocks([]*wire.BlockPayload{{
		Schema:    wire.SchemaUIBlocks,
		RequestID: requestID,
		MessageID: messageID,
		Lang:      ui.Lang,
		Text:      ui.Text,
		Blocks:    ui.Blocks,
	}})
}

// Blocks returns the retained block snapshots in arrival order.
func (s *Store) Blocks() []*wire.BlockPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocksLocked()
}

func (s *Store) blocksLocked() []*wire.BlockPayload {
	out := make([]*wire.BlockPayload, len(s.blocks))
	copy(out, s.blocks)
	return out
}

// SubscribeBlocks registers fn, delivers the current snapshot synchronously
// before returning, and returns an idempotent cancel.
func (s *Store) SubscribeBlocks(fn func([]*wire.BlockPayload)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.blockSubs[id] = fn
	cur := s.blocksLocked()
	s.mu.Unlock()
	fn(cur)
	return func() {
		s.mu.Lock()
		delete(s.blockSubs, id)
		s.mu.Unlock()
	}
}

// UpsertCalls merges call-state updates. An update applies only when its
// UpdatedAt is newer than the stored stamp; merge is a shallow field
// overlay so partials accumulate and terminal state survives.
func (s *Store) UpsertCalls(updates []CallState) {
	s.mu.Lock()
	changed := false
	for i := range updates {
		u := updates[i]
		if u.CallID == "" {
			continue
		}
		prev := s.calls[u.CallID]
		if prev == nil {
			c := u
			s.calls[u.CallID] = &c
			changed = true
			continue
		}
		if u.UpdatedAt != 0 && u.UpdatedAt <= prev.UpdatedAt {
			continue
		}
		mergeCall(prev, &u)
		changed = true
	}
	var subs []func([]CallState)
	var cur []CallState
	if changed {
		cur = s.callsLocked()
		for _, fn := range s.callSubs {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(cur)
	}
}

// mergeCall overlays set fields of u onto prev. Zero-valued fields of u
// leave prev untouched, so a progress-only update cannot clear Final or
// Error.
func mergeCall(prev, u *CallState) {
	if u.RequestID != "" {
		prev.RequestID = u.RequestID
	}
	if u.MessageID != "" {
		prev.MessageID = u.MessageID
	}
	if u.Origin != nil {
		prev.Origin = u.Origin
	}
	if u.Tool != nil {
		prev.Tool = u.Tool
	}
	if u.Progress != nil {
		prev.Progress = u.Progress
	}
	if u.Final {
		prev.Final = true
	}
	if u.Error != nil {
		prev.Error = u.Error
	}
	if u.UpdatedAt > prev.UpdatedAt {
		prev.UpdatedAt = u.UpdatedAt
	}
}

// Calls returns call states ordered by update time.
func (s *Store) Calls() []CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callsLocked()
}

func (s *Store) callsLocked() []CallState {
	out := make([]CallState, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt == out[j].UpdatedAt {
			return out[i].CallID < out[j].CallID
		}
		return out[i].UpdatedAt < out[j].UpdatedAt
	})
	return out
}

// SubscribeCalls registers fn with synchronous initial delivery.
func (s *Store) SubscribeCalls(fn func([]CallState)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.callSubs[id] = fn
	cur := s.callsLocked()
	s.mu.Unlock()
	fn(cur)
	return func() {
		s.mu.Lock()
		delete(s.callSubs, id)
		s.mu.Unlock()
	}
}

// PushTasks applies task snapshots: later snapshot for the same task id
// replaces the earlier one, insertion order is preserved.
func (s *Store) PushTasks(views []TaskView) {
	s.mu.Lock()
	changed := false
	for i := range views {
		v := views[i]
		if v.TaskID == "" || v.Payload == nil {
			continue
		}
		if _, ok := s.tasks[v.TaskID]; !ok {
			s.taskOrder = append(s.taskOrder, v.TaskID)
		}
		s.tasks[v.TaskID] = &v
		changed = true
	}
	var subs []func([]TaskView)
	var cur []TaskView
	if changed {
		cur = s.tasksLocked()
		for _, fn := range s.taskSubs {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(cur)
	}
}

// Tasks returns the latest snapshot per task in insertion order.
func (s *Store) Tasks() []TaskView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasksLocked()
}

func (s *Store) tasksLocked() []TaskView {
	out := make([]TaskView, 0, len(s.taskOrder))
	for _, id := range s.taskOrder {
		if v := s.tasks[id]; v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// SubscribeTasks registers fn with synchronous initial delivery.
func (s *Store) SubscribeTasks(fn func([]TaskView)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.taskSubs[id] = fn
	cur := s.tasksLocked()
	s.mu.Unlock()
	fn(cur)
	return func() {
		s.mu.Lock()
		delete(s.taskSubs, id)
		s.mu.Unlock()
	}
}

// NowMs is the millisecond stamp helper used by fold code.
func NowMs() int64 { return time.Now().UnixMilli() }

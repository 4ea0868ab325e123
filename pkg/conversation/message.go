// Package conversation merges three independently arriving message sources
// (history fetch, realtime push, locally pending sends) into one ordered
// view, and runs the optimistic reaction/feedback overlay on top of it.
package conversation

import (
	"time"

	"chatsync/pkg/backend"
	"chatsync/pkg/wire"
)

// Origin records which source produced a message instance.
type Origin string

const (
	OriginHistory  Origin = "history"
	OriginRealtime Origin = "realtime"
	OriginLocal    Origin = "local"
)

// Status of a message in the merged view.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Message is one entry of the merged conversation view. Identity is ID;
// Seq (when present) is the primary sort key, TsMs the fallback.
type Message struct {
	ID              string                    `json:"id"`
	ConversationID  string                    `json:"conversation_id"`
	ClientMessageID string                    `json:"client_message_id,omitempty"`
	Seq             *int64                    `json:"seq,omitempty"`
	TsMs            int64                     `json:"ts_ms"`
	Role            string                    `json:"role"`
	Text            string                    `json:"text"`
	IsLocal         bool                      `json:"is_local,omitempty"`
	Origin          Origin                    `json:"origin"`
	Status          Status                    `json:"status"`
	Blocks          []wire.ChatBlock          `json:"blocks,omitempty"`
	Interactions    *wire.InteractionSnapshot `json:"interactions,omitempty"`
}

// orderKey is the primary sort key: sequence when present, else the
// millisecond timestamp.
func (m *Message) orderKey() int64 {
	if m.Seq != nil {
		return *m.Seq
	}
	return m.TsMs
}

func messageLess(a, b *Message) bool {
	ak, bk := a.orderKey(), b.orderKey()
	if ak != bk {
		return ak < bk
	}
	if a.TsMs != b.TsMs {
		return a.TsMs < b.TsMs
	}
	return a.ID < b.ID
}

func fromHistory(h backend.HistoryMessage) Message {
	m := Message{
		ID:              h.MessageID,
		ConversationID:  h.ConversationID,
		ClientMessageID: h.ClientMessageID,
		Seq:             h.Seq,
		Role:            h.Role,
		Blocks:          h.Blocks,
		Origin:          OriginHistory,
		Status:          StatusCompleted,
		Interactions:    h.Interactions,
	}
	env := wire.ChatEnvelope{Content: h.Content, Blocks: h.Blocks, TsMs: h.TsMs, CreatedAt: h.CreatedAt}
	m.Text = env.Text()
	m.TsMs = env.Timestamp(time.Now())
	return m
}

func fromEnvelope(env *wire.ChatEnvelope, received time.Time) Message {
	return Message{
		ID:              env.MessageID,
		ConversationID:  env.ConversationID,
		ClientMessageID: env.ClientMessageID,
		Seq:             env.Seq,
		TsMs:            env.Timestamp(received),
		Role:            env.Role,
		Text:            env.Text(),
		Blocks:          mapBlocks(env.Blocks),
		Origin:          OriginRealtime,
		Status:          StatusCompleted,
		Interactions:    env.Interactions,
	}
}

// artifactSchema is the block schema rendered as an inline artifact
// attachment rather than text.
const artifactSchema = "artifact_block@2"

// mapBlocks passes envelope blocks through, normalizing artifact blocks to
// the artifact type so renderers need not sniff schemas.
func mapBlocks(blocks []wire.ChatBlock) []wire.ChatBlock {
	if len(blocks) == 0 {
		return nil
	}
	out := make([]wire.ChatBlock, len(blocks))
	copy(out, blocks)
	for i := range out {
		if out[i].Schema == artifactSchema && out[i].Type == "" {
			out[i].Type = "artifact"
		}
	}
	return out
}

// plainTextMessage degrades a non-envelope realtime payload to a simple
// assistant message instead of dropping it.
func plainTextMessage(text string, received time.Time) Message {
	return Message{
		ID:     wire.NewEventID("rt"),
		TsMs:   received.UnixMilli(),
		Role:   wire.RoleAssistant,
		Text:   text,
		Origin: OriginRealtime,
		Status: StatusCompleted,
	}
}

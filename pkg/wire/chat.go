package wire

import (
	"encoding/json"
	"strings"
	"time"
)

// Roles carried by chat envelopes.
const (
	RoleHuman     = "human"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Reaction values; ReactionNone clears a reaction.
const (
	ReactionUp   = "up"
	ReactionDown = "down"
	ReactionNone = "none"
)

// ReactionCounts aggregates reactions on one message.
type ReactionCounts struct {
	Up   int `json:"up"`
	Down int `json:"down"`
}

// InteractionSnapshot is the server's authoritative interaction state for
// one message: aggregate reaction counts, feedback count, and the caller's
// own reaction.
type InteractionSnapshot struct {
	Reactions     ReactionCounts `json:"reactions"`
	FeedbackCount int            `json:"feedback_count"`
	MyReaction    string         `json:"my_reaction"`
}

// ChatBlock is one content block inside a chat envelope. Data stays weakly
// typed; renderers interpret it per block schema.
type ChatBlock struct {
	Type   string         `json:"type"`
	Schema string         `json:"schema,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// ChatEnvelope is the chat_message@1 realtime payload.
type ChatEnvelope struct {
	Schema          string               `json:"schema"`
	ConversationID  string               `json:"conversation_id"`
	MessageID       string               `json:"message_id"`
	ClientMessageID string               `json:"client_message_id,omitempty"`
	Seq             *int64               `json:"seq,omitempty"`
	Role            string               `json:"role"`
	Content         *string              `json:"content,omitempty"`
	Blocks          []ChatBlock          `json:"blocks,omitempty"`
	TsMs            *int64               `json:"ts_ms,omitempty"`
	CreatedAt       string               `json:"created_at,omitempty"`
	Interactions    *InteractionSnapshot `json:"interactions,omitempty"`
}

// DecodeChat parses raw text into a chat envelope. Only chat_message@1
// payloads with a message id and a known role decode; everything else
// returns (nil, false).
func DecodeChat(text string) (*ChatEnvelope, bool) {
	var env ChatEnvelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, false
	}
	if env.Schema != SchemaChatMessage || env.MessageID == "" {
		return nil, false
	}
	switch env.Role {
	case RoleHuman, RoleAssistant, RoleSystem:
	default:
		return nil, false
	}
	return &env, true
}

// Text returns the envelope content, falling back to joining its text
// blocks when content is absent.
func (env *ChatEnvelope) Text() string {
	if env.Content != nil {
		return *env.Content
	}
	var parts []string
	for _, b := range env.Blocks {
		if b.Type != "text" {
			continue
		}
		if t, ok := b.Data["text"].(string); ok && t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// Timestamp returns the envelope's millisecond timestamp, falling back to
// the created_at string and finally to the provided delivery time.
func (env *ChatEnvelope) Timestamp(fallback time.Time) int64 {
	if env.TsMs != nil {
		return *env.TsMs
	}
	if env.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, env.CreatedAt); err == nil {
			return t.UnixMilli()
		}
	}
	return fallback.UnixMilli()
}

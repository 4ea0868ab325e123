// Package backend talks to the conversation REST API: message and timeline
// history, plus the HTTP fallback paths for reactions and feedback when the
// realtime session is down. Two client adapters share one request shape, so
// callers pick net/http or fasthttp at construction time.
package backend

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"chatsync/pkg/wire"
)

// HistoryMessage is one persisted message as returned by the history API.
type HistoryMessage struct {
	MessageID       string                    `json:"message_id"`
	ConversationID  string                    `json:"conversation_id"`
	ClientMessageID string                    `json:"client_message_id,omitempty"`
	Role            string                    `json:"role"`
	Content         *string                   `json:"content,omitempty"`
	Blocks          []wire.ChatBlock          `json:"blocks,omitempty"`
	Seq             *int64                    `json:"seq,omitempty"`
	TsMs            *int64                    `json:"ts_ms,omitempty"`
	CreatedAt       string                    `json:"created_at,omitempty"`
	Interactions    *wire.InteractionSnapshot `json:"interactions,omitempty"`
}

// Client is the API surface the reconcilers depend on.
type Client interface {
	ListMessages(ctx context.Context, conversationID string, limit int) ([]HistoryMessage, error)
	ListTimeline(ctx context.Context, conversationID string, limit int) ([]wire.TimelineWireEvent, error)
	SetReaction(ctx context.Context, conversationID, messageID, value string) (*wire.InteractionSnapshot, error)
	CreateFeedback(ctx context.Context, conversationID, messageID, reasonCode, text string) error
}

// StatusError reports a non-2xx API response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("backend: status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("backend: status %d", e.Status)
}

// IsStatus reports whether err is a StatusError with the given status.
func IsStatus(err error, status int) bool {
	se, ok := err.(*StatusError)
	return ok && se.Status == status
}

// doer is the transport seam shared by the adapters. Implementations send
// one request and return the status code and full response body.
type doer interface {
	do(ctx context.Context, method, rawurl string, body []byte) (int, []byte, error)
}

type listMessagesResponse struct {
	Messages []HistoryMessage `json:"messages"`
}

type listTimelineResponse struct {
	Events []wire.TimelineWireEvent `json:"events"`
}

type reactionRequest struct {
	Value string `json:"value"`
}

type feedbackRequest struct {
	ReasonCode string `json:"reason_code"`
	Text       string `json:"text,omitempty"`
}

func messagesURL(base, conversationID string, limit int) string {
	return fmt.Sprintf("%s/v1/conversations/%s/messages?limit=%s",
		base, url.PathEscape(conversationID), strconv.Itoa(limit))
}

func timelineURL(base, conversationID string, limit int) string {
	return fmt.Sprintf("%s/v1/conversations/%s/timeline?limit=%s",
		base, url.PathEscape(conversationID), strconv.Itoa(limit))
}

func reactionURL(base, conversationID, messageID string) string {
	return fmt.Sprintf("%s/v1/conversations/%s/messages/%s/reaction",
		base, url.PathEscape(conversationID), url.PathEscape(messageID))
}

func feedbackURL(base, conversationID, messageID string) string {
	return fmt.Sprintf("%s/v1/conversations/%s/messages/%s/feedback",
		base, url.PathEscape(conversationID), url.PathEscape(messageID))
}

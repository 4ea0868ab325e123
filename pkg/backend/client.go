package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"chatsync/pkg/wire"
)

// client implements Client over a doer. Both adapters construct one of
// these; only the doer differs.
type client struct {
	base string
	d    doer
}

func newClient(baseURL string, d doer) *client {
	return &client{base: strings.TrimRight(baseURL, "/"), d: d}
}

func (c *client) get(ctx context.Context, rawurl string, out any) error {
	status, body, err := c.d.do(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &StatusError{Status: status, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("backend: decode response: %w", err)
	}
	return nil
}

func (c *client) post(ctx context.Context, rawurl string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		payload = b
	}
	status, body, err := c.d.do(ctx, http.MethodPost, rawurl, payload)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &StatusError{Status: status, Body: strings.TrimSpace(string(body))}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("backend: decode response: %w", err)
	}
	return nil
}

func (c *client) ListMessages(ctx context.Context, conversationID string, limit int) ([]HistoryMessage, error) {
	var resp listMessagesResponse
	if err := c.get(ctx, messagesURL(c.base, conversationID, limit), &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *client) ListTimeline(ctx context.Context, conversationID string, limit int) ([]wire.TimelineWireEvent, error) {
	var resp listTimelineResponse
	if err := c.get(ctx, timelineURL(c.base, conversationID, limit), &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *client) SetReaction(ctx context.Context, conversationID, messageID, value string) (*wire.InteractionSnapshot, error) {
	var snap wire.InteractionSnapshot
	if err := c.post(ctx, reactionURL(c.base, conversationID, messageID), reactionRequest{Value: value}, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *client) CreateFeedback(ctx context.Context, conversationID, messageID, reasonCode, text string) error {
	return c.post(ctx, feedbackURL(c.base, conversationID, messageID), feedbackRequest{ReasonCode: reasonCode, Text: text}, nil)
}

package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Interaction event names sent on the events topic.
const (
	EventReactionSet       = "msg.reaction.set"
	EventFeedbackCreate    = "msg.feedback.create"
	EventCopy              = "msg.copy"
	EventReadAloudStart    = "msg.read_aloud.start"
	EventReadAloudStop     = "msg.read_aloud.stop"
	EventReadAloudComplete = "msg.read_aloud.complete"

	EventToolInvoke = "tool.invoke"
)

// Event is an outbound structured UI event. Args always carries the
// correlation key: eventId for interaction events, callId for tool
// invocations. An Event is immutable once sent.
type Event struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// CorrelationKey returns the waiter key for this event's expected ack.
func (e Event) CorrelationKey() string {
	if id, ok := e.Args["eventId"].(string); ok && id != "" {
		return "eventId:" + id
	}
	if id, ok := e.Args["callId"].(string); ok && id != "" {
		return "callId:" + id
	}
	return ""
}

// Encode serializes the event for the transport.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// NewEventID builds a unique correlation id with a readable prefix.
func NewEventID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), uuid.NewString())
}

// NewInteractionEvent builds a message-interaction event, stamping a fresh
// eventId and client timestamp. extra entries are merged into args.
func NewInteractionEvent(name, messageID string, extra map[string]any) Event {
	args := map[string]any{
		"messageId":  messageID,
		"eventId":    NewEventID("evt"),
		"clientTsMs": time.Now().UnixMilli(),
	}
	for k, v := range extra {
		args[k] = v
	}
	return Event{Name: name, Args: args}
}

// ToolRef identifies the tool a block action invokes.
type ToolRef struct {
	Name               string `json:"name"`
	ArgumentsSchemaRef string `json:"argumentsSchemaRef,omitempty"`
	ResultSchemaRef    string `json:"resultSchemaRef,omitempty"`
}

// ActionOrigin names the block and control that triggered an invocation.
type ActionOrigin struct {
	BlockID  string `json:"blockId"`
	ActionID string `json:"actionId,omitempty"`
	Type     string `json:"type"` // actions | button | form
}

// NewToolInvoke builds a tool.invoke event, stamping a fresh callId.
func NewToolInvoke(requestID, messageID string, origin ActionOrigin, tool ToolRef, arguments map[string]any) Event {
	if arguments == nil {
		arguments = map[string]any{}
	}
	return Event{
		Name: EventToolInvoke,
		Args: map[string]any{
			"callId":    NewEventID("call"),
			"requestId": requestID,
			"messageId": messageID,
			"origin":    origin,
			"tool":      tool,
			"arguments": arguments,
		},
	}
}

// NewUserInput builds the user_input@1 payload carrying a client message id
// the backend echoes back in chat_message@1 for pending supersession.
func NewUserInput(clientMessageID, text string) map[string]any {
	return map[string]any{
		"schema":            SchemaUserInput,
		"client_message_id": clientMessageID,
		"text":              text,
	}
}

// EncodeUserInput serializes a user_input@1 payload for the chat topic.
func EncodeUserInput(clientMessageID, text string) ([]byte, error) {
	return json.Marshal(NewUserInput(clientMessageID, text))
}

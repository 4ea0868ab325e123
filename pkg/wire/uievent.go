package wire

import "encoding/json"

// Tool event names observed on the events topic alongside tool.invoke.
const (
	EventToolResult = "tool.result"
	EventToolError  = "tool.error"
	EventToolCancel = "tool.cancel"
	EventUIRendered = "ui.rendered"
)

// UIEvent is an inbound event from the events topic with its args left raw
// until the name is known.
type UIEvent struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// DecodeUIEvent parses raw text into a UIEvent. Payloads without a string
// name and an object args fail; the version attribute guard applies.
func DecodeUIEvent(text string, attrs map[string]string) (*UIEvent, bool) {
	if attrs != nil {
		if v, ok := attrs[AttrVersion]; ok && v != "" && v != BlocksVersion {
			return nil, false
		}
	}
	var e UIEvent
	if err := json.Unmarshal([]byte(text), &e); err != nil {
		return nil, false
	}
	if e.Name == "" || len(e.Args) == 0 {
		return nil, false
	}
	// args must be a JSON object
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(e.Args, &probe); err != nil {
		return nil, false
	}
	return &e, true
}

// ToolInvokeArgs are the args of a tool.invoke event.
type ToolInvokeArgs struct {
	CallID    string         `json:"callId"`
	RequestID string         `json:"requestId"`
	MessageID string         `json:"messageId"`
	Origin    ActionOrigin   `json:"origin"`
	Tool      ToolRef        `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResultUI is an inline UI snippet carried by a tool result.
type ToolResultUI struct {
	Text   string            `json:"text,omitempty"`
	Lang   string            `json:"lang,omitempty"`
	Blocks []json.RawMessage `json:"blocks"`
}

// ToolResultArgs are the args of a tool.result event.
type ToolResultArgs struct {
	CallID   string         `json:"callId"`
	Final    bool           `json:"final"`
	Progress *float64       `json:"progress,omitempty"`
	Content  map[string]any `json:"content,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
	UI       *ToolResultUI  `json:"ui,omitempty"`
}

// ToolErrorArgs are the args of a tool.error event.
type ToolErrorArgs struct {
	CallID    string `json:"callId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable,omitempty"`
}

// ToolCancelArgs are the args of a tool.cancel event.
type ToolCancelArgs struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

// DecodeArgs unmarshals the event args into the typed struct for its name.
func (e *UIEvent) DecodeArgs(out any) bool {
	return json.Unmarshal(e.Args, out) == nil
}

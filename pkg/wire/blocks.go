package wire

import "encoding/json"

// BlockPayload is the ui-blocks@2 snapshot payload. Blocks stay raw: the
// core tracks snapshot identity and freshness, renderers own block shapes.
type BlockPayload struct {
	Schema    string            `json:"schema"`
	RequestID string            `json:"requestId"`
	MessageID string            `json:"messageId"`
	Lang      string            `json:"lang,omitempty"`
	Text      string            `json:"text,omitempty"`
	Blocks    []json.RawMessage `json:"blocks"`
}

// DecodeBlocks parses raw text into a UI-block payload. Only ui-blocks@2
// payloads passing the attribute guard decode.
func DecodeBlocks(text string, attrs map[string]string) (*BlockPayload, bool) {
	if !attrsMatch(attrs) {
		return nil, false
	}
	var p BlockPayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, false
	}
	if p.Schema != SchemaUIBlocks {
		return nil, false
	}
	return &p, true
}

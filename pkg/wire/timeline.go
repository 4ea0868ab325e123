package wire

import "encoding/json"

// TimelineWireEvent is one activity-timeline event as delivered on the
// timeline topic or returned by the timeline history API. created_at is a
// second-granularity timestamp; sequence breaks ties within one second.
type TimelineWireEvent struct {
	ID             string         `json:"id"`
	Protocol       string         `json:"protocol,omitempty"`
	Source         string         `json:"source,omitempty"`
	Kind           string         `json:"kind"`
	ConversationID string         `json:"conversation_id"`
	CreatedAt      float64        `json:"created_at"`
	Sequence       *int64         `json:"sequence,omitempty"`
	Status         string         `json:"status,omitempty"`
	Summary        string         `json:"summary"`
	Tags           []string       `json:"tags,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (e *TimelineWireEvent) valid() bool {
	return e.ID != "" && e.Kind != "" && e.ConversationID != "" && e.CreatedAt > 0
}

// DecodeTimeline parses raw text into timeline events. The wire payload is
// either a single event object or an array of them; both normalize to a
// slice. Payloads that are not valid JSON, or contain any entry missing a
// required field, return (nil, false).
func DecodeTimeline(text string) ([]TimelineWireEvent, bool) {
	raw := []byte(text)

	var many []TimelineWireEvent
	if err := json.Unmarshal(raw, &many); err == nil {
		for i := range many {
			if !many[i].valid() {
				return nil, false
			}
		}
		return many, true
	}

	var one TimelineWireEvent
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, false
	}
	if !one.valid() {
		return nil, false
	}
	return []TimelineWireEvent{one}, true
}

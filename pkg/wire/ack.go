package wire

import "encoding/json"

// Ack names recognized on the acks topic.
const (
	AckInteraction = "msg.interaction.ack"
	AckUI          = "ui.ack"
)

// Ack error codes the backend signals as transient.
const (
	ErrCodeJournalAppendFailed = "journal_append_failed"
	ErrCodeResumeFailed        = "resume_failed"
)

// Ack is an acknowledgement for a previously sent event, correlated by
// eventId (interaction events) or callId (tool invocations).
type Ack struct {
	Name         string
	OK           bool
	EventID      string
	CallID       string
	MessageID    string
	AckID        string
	JournalSeq   int64
	ServerTsMs   int64
	ErrorCode    string
	ErrorMessage string

	// Interactions carries the authoritative interaction snapshot when the
	// backend includes one in a reaction/feedback ack.
	Interactions *InteractionSnapshot
}

// Key returns the correlation key this ack resolves, or "" when the ack
// carries no usable identifier.
func (a *Ack) Key() string {
	switch a.Name {
	case AckInteraction:
		if a.EventID == "" {
			return ""
		}
		return "eventId:" + a.EventID
	case AckUI:
		if a.CallID == "" {
			return ""
		}
		return "callId:" + a.CallID
	}
	return ""
}

// ErrorText joins the ack's error code and message for display.
func (a *Ack) ErrorText() string {
	switch {
	case a.ErrorCode != "" && a.ErrorMessage != "":
		return a.ErrorCode + ": " + a.ErrorMessage
	case a.ErrorCode != "":
		return a.ErrorCode
	case a.ErrorMessage != "":
		return a.ErrorMessage
	}
	return ""
}

type ackArgs struct {
	OK           *bool                `json:"ok"`
	EventID      string               `json:"eventId"`
	CallID       string               `json:"callId"`
	MessageID    string               `json:"messageId"`
	AckID        string               `json:"ackId"`
	JournalSeq   int64                `json:"journalSeq"`
	ServerTsMs   int64                `json:"serverTsMs"`
	ErrorCode    string               `json:"error_code"`
	Error        string               `json:"error"`
	Interactions *InteractionSnapshot `json:"interactions"`
}

type ackEnvelope struct {
	Name string   `json:"name"`
	Args *ackArgs `json:"args"`
}

// DecodeAck parses raw text into an Ack. Payloads that are not JSON
// objects, carry an unknown name, fail the attribute guard, or miss the
// required ok/correlation fields return (nil, false).
func DecodeAck(text string, attrs map[string]string) (*Ack, bool) {
	if !attrsMatch(attrs) {
		return nil, false
	}
	var env ackEnvelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, false
	}
	if env.Args == nil || env.Args.OK == nil {
		return nil, false
	}
	switch env.Name {
	case AckInteraction:
		if env.Args.EventID == "" {
			return nil, false
		}
	case AckUI:
		if env.Args.CallID == "" {
			return nil, false
		}
	default:
		return nil, false
	}
	return &Ack{
		Name:         env.Name,
		OK:           *env.Args.OK,
		EventID:      env.Args.EventID,
		CallID:       env.Args.CallID,
		MessageID:    env.Args.MessageID,
		AckID:        env.Args.AckID,
		JournalSeq:   env.Args.JournalSeq,
		ServerTsMs:   env.Args.ServerTsMs,
		ErrorCode:    env.Args.ErrorCode,
		ErrorMessage: env.Args.Error,
		Interactions: env.Args.Interactions,
	}, true
}

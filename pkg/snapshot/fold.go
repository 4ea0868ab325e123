package snapshot

import "chatsync/pkg/wire"

// FoldUIEvent maps a decoded UI event onto a call-state update. Returns
// false for events that do not address a tool call. Progress is clamped
// to [0,1]; error marks the call final, cancel marks it final with a
// CANCELLED error record.
func FoldUIEvent(ev *wire.UIEvent, nowMs int64) (CallState, bool) {
	switch ev.Name {
	case wire.EventToolInvoke:
		var a wire.ToolInvokeArgs
		if !ev.DecodeArgs(&a) || a.CallID == "" {
			return CallState{}, false
		}
		origin := a.Origin
		tool := a.Tool
		return CallState{
			CallID:    a.CallID,
			RequestID: a.RequestID,
			MessageID: a.MessageID,
			Origin:    &origin,
			Tool:      &tool,
			UpdatedAt: nowMs,
		}, true
	case wire.EventToolResult:
		var a wire.ToolResultArgs
		if !ev.DecodeArgs(&a) || a.CallID == "" {
			return CallState{}, false
		}
		cs := CallState{CallID: a.CallID, UpdatedAt: nowMs}
		if a.Progress != nil {
			p := clamp01(*a.Progress)
			cs.Progress = &p
		}
		cs.Final = a.Final
		return cs, true
	case wire.EventToolError:
		var a wire.ToolErrorArgs
		if !ev.DecodeArgs(&a) || a.CallID == "" {
			return CallState{}, false
		}
		return CallState{
			CallID:    a.CallID,
			Final:     true,
			Error:     &CallError{Code: a.Code, Message: a.Message, Retriable: a.Retriable},
			UpdatedAt: nowMs,
		}, true
	case wire.EventToolCancel:
		var a wire.ToolCancelArgs
		if !ev.DecodeArgs(&a) || a.CallID == "" {
			return CallState{}, false
		}
		reason := a.Reason
		if reason == "" {
			reason = "cancelled"
		}
		return CallState{
			CallID:    a.CallID,
			Final:     true,
			Error:     &CallError{Code: "CANCELLED", Message: reason},
			UpdatedAt: nowMs,
		}, true
	}
	return CallState{}, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

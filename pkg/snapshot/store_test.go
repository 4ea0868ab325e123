package snapshot

import (
	"encoding/json"
	"testing"

	"chatsync/pkg/wire"
)

func bp(messageID, text string) *wire.BlockPayload {
	return &wire.BlockPayload{Schema: wire.SchemaUIBlocks, MessageID: messageID, Text: text}
}

func TestPushBlocksReplaceByMessageID(t *testing.T) {
	s := NewStore()
	s.PushBlocks([]*wire.BlockPayload{bp("m1", "one"), bp("m2", "two")})
	s.PushBlocks([]*wire.BlockPayload{bp("m1", "one v2")})

	got := s.Blocks()
	if len(got) != 2 {
		t.Fatalf("blocks = %d, want 2", len(got))
	}
	if got[0].MessageID != "m1" || got[0].Text != "one v2" {
		t.Fatalf("m1 not replaced in place: %+v", got[0])
	}
	if got[1].MessageID != "m2" {
		t.Fatalf("order changed: %+v", got[1])
	}
}

func TestPushBlocksIgnoresMissingMessageID(t *testing.T) {
	s := NewStore()
	s.PushBlocks([]*wire.BlockPayload{{Schema: wire.SchemaUIBlocks, Text: "anon"}, nil})
	if n := len(s.Blocks()); n != 0 {
		t.Fatalf("blocks = %d, want 0", n)
	}
}

func TestSubscribeBlocksInitialDelivery(t *testing.T) {
	s := NewStore()
	s.PushBlocks([]*wire.BlockPayload{bp("m1", "one")})

	var calls [][]*wire.BlockPayload
	cancel := s.SubscribeBlocks(func(b []*wire.BlockPayload) { calls = append(calls, b) })
	if len(calls) != 1 || len(calls[0]) != 1 {
		t.Fatalf("expected synchronous initial delivery, got %d calls", len(calls))
	}

	s.PushBlocks([]*wire.BlockPayload{bp("m2", "two")})
	if len(calls) != 2 || len(calls[1]) != 2 {
		t.Fatalf("expected delivery on push, got %d calls", len(calls))
	}

	cancel()
	cancel() // idempotent
	s.PushBlocks([]*wire.BlockPayload{bp("m3", "three")})
	if len(calls) != 2 {
		t.Fatalf("listener called after cancel")
	}
}

func TestUpsertCallsMonotonicMerge(t *testing.T) {
	s := NewStore()
	p := 0.4
	s.UpsertCalls([]CallState{{CallID: "c1", Tool: &wire.ToolRef{Name: "lookup"}, UpdatedAt: 100}})
	s.UpsertCalls([]CallState{{CallID: "c1", Progress: &p, UpdatedAt: 200}})

	got := s.Calls()
	if len(got) != 1 {
		t.Fatalf("calls = %d, want 1", len(got))
	}
	if got[0].Tool == nil || got[0].Tool.Name != "lookup" {
		t.Fatalf("partial update erased tool: %+v", got[0])
	}
	if got[0].Progress == nil || *got[0].Progress != 0.4 {
		t.Fatalf("progress not merged: %+v", got[0])
	}

	// stale stamp must not apply
	s.UpsertCalls([]CallState{{CallID: "c1", Final: true, UpdatedAt: 150}})
	if s.Calls()[0].Final {
		t.Fatalf("stale update applied")
	}
}

func TestUpsertCallsTerminalSurvivesProgress(t *testing.T) {
	s := NewStore()
	s.UpsertCalls([]CallState{{CallID: "c1", Final: true, Error: &CallError{Code: "boom"}, UpdatedAt: 100}})
	p := 0.9
	s.UpsertCalls([]CallState{{CallID: "c1", Progress: &p, UpdatedAt: 200}})

	got := s.Calls()[0]
	if !got.Final || got.Error == nil || got.Error.Code != "boom" {
		t.Fatalf("terminal state erased by later progress: %+v", got)
	}
}

func TestSubscribeCallsAndTasks(t *testing.T) {
	s := NewStore()
	var callN, taskN int
	cc := s.SubscribeCalls(func([]CallState) { callN++ })
	tc := s.SubscribeTasks(func([]TaskView) { taskN++ })
	if callN != 1 || taskN != 1 {
		t.Fatalf("initial delivery missing: calls=%d tasks=%d", callN, taskN)
	}

	s.UpsertCalls([]CallState{{CallID: "c1", UpdatedAt: 1}})
	s.PushTasks([]TaskView{{TaskID: "t1", Payload: bp("m1", "task")}})
	if callN != 2 || taskN != 2 {
		t.Fatalf("push delivery missing: calls=%d tasks=%d", callN, taskN)
	}

	cc()
	tc()
	s.UpsertCalls([]CallState{{CallID: "c2", UpdatedAt: 2}})
	s.PushTasks([]TaskView{{TaskID: "t2", Payload: bp("m2", "task2")}})
	if callN != 2 || taskN != 2 {
		t.Fatalf("delivery after cancel: calls=%d tasks=%d", callN, taskN)
	}
}

func TestPushTasksReplacesByTaskID(t *testing.T) {
	s := NewStore()
	s.PushTasks([]TaskView{{TaskID: "t1", Payload: bp("m1", "v1")}})
	s.PushTasks([]TaskView{{TaskID: "t1", Payload: bp("m1", "v2")}})
	got := s.Tasks()
	if len(got) != 1 || got[0].Payload.Text != "v2" {
		t.Fatalf("task not replaced: %+v", got)
	}
}

func uiEvent(t *testing.T, name string, args map[string]any) *wire.UIEvent {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return &wire.UIEvent{Name: name, Args: raw}
}

func TestPushToolResultUIUsesTrackedCallIDs(t *testing.T) {
	s := NewStore()
	s.UpsertCalls([]CallState{{CallID: "c1", RequestID: "req-1", MessageID: "m1", UpdatedAt: 1}})

	ui := &wire.ToolResultUI{Text: "done", Blocks: []json.RawMessage{json.RawMessage(`{"type":"text"}`)}}
	s.PushToolResultUI("c1", ui)
	got := s.Blocks()
	if len(got) != 1 || got[0].RequestID != "req-1" || got[0].MessageID != "m1" {
		t.Fatalf("snippet ids: %+v", got)
	}
	if got[0].Schema != wire.SchemaUIBlocks || got[0].Text != "done" {
		t.Fatalf("snippet not normalized: %+v", got[0])
	}

	// unknown call derives ids from the call id
	s.PushToolResultUI("c2", ui)
	got = s.Blocks()
	if len(got) != 2 || got[1].RequestID != "req.c2" || got[1].MessageID != "msg.c2" {
		t.Fatalf("derived ids: %+v", got)
	}

	// snippets without blocks are ignored
	s.PushToolResultUI("c3", &wire.ToolResultUI{Text: "empty"})
	if n := len(s.Blocks()); n != 2 {
		t.Fatalf("empty snippet stored: %d", n)
	}
}

func TestFoldUIEventResultClampsProgress(t *testing.T) {
	ev := uiEvent(t, wire.EventToolResult, map[string]any{"callId": "c1", "progress": 1.7})
	cs, ok := FoldUIEvent(ev, 10)
	if !ok {
		t.Fatalf("fold rejected result")
	}
	if cs.Progress == nil || *cs.Progress != 1.0 {
		t.Fatalf("progress not clamped: %+v", cs.Progress)
	}
	if cs.Final {
		t.Fatalf("partial result marked final")
	}
}

func TestFoldUIEventFinalResultLeavesProgressUnset(t *testing.T) {
	ev := uiEvent(t, wire.EventToolResult, map[string]any{"callId": "c1", "final": true})
	cs, ok := FoldUIEvent(ev, 10)
	if !ok || !cs.Final {
		t.Fatalf("final result not terminal: %+v", cs)
	}
	if cs.Progress != nil {
		t.Fatalf("final result invented progress: %v", *cs.Progress)
	}
}

func TestFoldUIEventErrorAndCancelAreFinal(t *testing.T) {
	errEv := uiEvent(t, wire.EventToolError, map[string]any{"callId": "c1", "code": "timeout", "message": "tool timed out"})
	cs, ok := FoldUIEvent(errEv, 10)
	if !ok || !cs.Final || cs.Error == nil || cs.Error.Code != "timeout" {
		t.Fatalf("error fold: %+v ok=%v", cs, ok)
	}

	cancelEv := uiEvent(t, wire.EventToolCancel, map[string]any{"callId": "c2", "reason": "user aborted"})
	cs, ok = FoldUIEvent(cancelEv, 10)
	if !ok || !cs.Final || cs.Error == nil {
		t.Fatalf("cancel fold: %+v ok=%v", cs, ok)
	}
	if cs.Error.Code != "CANCELLED" || cs.Error.Message != "user aborted" || cs.Error.Retriable {
		t.Fatalf("cancel error = %+v", cs.Error)
	}

	bare := uiEvent(t, wire.EventToolCancel, map[string]any{"callId": "c3"})
	cs, ok = FoldUIEvent(bare, 10)
	if !ok || cs.Error == nil || cs.Error.Message != "cancelled" {
		t.Fatalf("cancel without reason: %+v ok=%v", cs, ok)
	}
}

func TestFoldUIEventIgnoresUnrelated(t *testing.T) {
	ev := uiEvent(t, wire.EventUIRendered, map[string]any{"messageId": "m1"})
	if _, ok := FoldUIEvent(ev, 10); ok {
		t.Fatalf("non-tool event folded")
	}

	noCall := uiEvent(t, wire.EventToolResult, map[string]any{"final": true})
	if _, ok := FoldUIEvent(noCall, 10); ok {
		t.Fatalf("result without callId folded")
	}
}

package wire

import (
	"strings"
	"testing"
)

func TestDecodeAck(t *testing.T) {
	raw := `{"name":"msg.interaction.ack","args":{"ok":true,"eventId":"evt_1","serverTsMs":123}}`
	ack, ok := DecodeAck(raw, nil)
	if !ok {
		t.Fatalf("expected decode")
	}
	if !ack.OK || ack.EventID != "evt_1" || ack.Key() != "eventId:evt_1" {
		t.Fatalf("bad ack: %+v", ack)
	}

	raw = `{"name":"ui.ack","args":{"ok":false,"callId":"call_9","error_code":"TIMEOUT","error":"backend timeout"}}`
	ack, ok = DecodeAck(raw, nil)
	if !ok {
		t.Fatalf("expected decode")
	}
	if ack.Key() != "callId:call_9" {
		t.Fatalf("key = %q", ack.Key())
	}
	if ack.ErrorText() != "TIMEOUT: backend timeout" {
		t.Fatalf("error text = %q", ack.ErrorText())
	}
}

func TestDecodeAck_Rejects(t *testing.T) {
	cases := []string{
		`not json`,
		`42`,
		`{"name":"msg.interaction.ack"}`,
		`{"name":"msg.interaction.ack","args":{"eventId":"e"}}`,    // no ok
		`{"name":"msg.interaction.ack","args":{"ok":true}}`,        // no eventId
		`{"name":"ui.ack","args":{"ok":true}}`,                     // no callId
		`{"name":"something.else","args":{"ok":true,"eventId":"e"}}`,
	}
	for _, c := range cases {
		if _, ok := DecodeAck(c, nil); ok {
			t.Fatalf("expected reject for %s", c)
		}
	}
}

func TestDecodeAck_AttributeGuard(t *testing.T) {
	raw := `{"name":"msg.interaction.ack","args":{"ok":true,"eventId":"e1"}}`
	if _, ok := DecodeAck(raw, map[string]string{AttrVersion: "1"}); ok {
		t.Fatalf("version mismatch should reject")
	}
	if _, ok := DecodeAck(raw, map[string]string{AttrContentType: "text/plain"}); ok {
		t.Fatalf("content-type mismatch should reject")
	}
	if _, ok := DecodeAck(raw, map[string]string{AttrVersion: BlocksVersion}); !ok {
		t.Fatalf("matching version should pass")
	}
	if _, ok := DecodeAck(raw, map[string]string{}); !ok {
		t.Fatalf("absent attributes should pass")
	}
}

func TestDecodeChat(t *testing.T) {
	raw := `{"schema":"chat_message@1","conversation_id":"c1","message_id":"m1","role":"assistant","content":"hello","seq":7}`
	env, ok := DecodeChat(raw)
	if !ok {
		t.Fatalf("expected decode")
	}
	if env.Text() != "hello" || *env.Seq != 7 {
		t.Fatalf("bad envelope: %+v", env)
	}
}

func TestDecodeChat_TextBlockFallback(t *testing.T) {
	raw := `{"schema":"chat_message@1","conversation_id":"c1","message_id":"m2","role":"assistant",
		"blocks":[{"type":"text","data":{"text":"line one"}},{"type":"artifact","data":{"artifact_id":"a1"}},{"type":"text","data":{"text":"line two"}}]}`
	env, ok := DecodeChat(raw)
	if !ok {
		t.Fatalf("expected decode")
	}
	if env.Text() != "line one\nline two" {
		t.Fatalf("text = %q", env.Text())
	}
}

func TestDecodeChat_Rejects(t *testing.T) {
	cases := []string{
		`{"schema":"user_input@1","message_id":"m1","role":"human"}`,
		`{"schema":"chat_message@1","role":"human"}`,
		`{"schema":"chat_message@1","message_id":"m1","role":"robot"}`,
		`plain text message`,
	}
	for _, c := range cases {
		if _, ok := DecodeChat(c); ok {
			t.Fatalf("expected reject for %s", c)
		}
	}
}

func TestDecodeTimeline(t *testing.T) {
	one := `{"id":"ev1","kind":"step_started","conversation_id":"c1","created_at":1700000000,"summary":"start"}`
	evs, ok := DecodeTimeline(one)
	if !ok || len(evs) != 1 || evs[0].ID != "ev1" {
		t.Fatalf("single decode failed: %v %v", evs, ok)
	}

	many := `[{"id":"ev1","kind":"a","conversation_id":"c1","created_at":1,"summary":""},
		{"id":"ev2","kind":"b","conversation_id":"c1","created_at":2,"sequence":3,"summary":"s"}]`
	evs, ok = DecodeTimeline(many)
	if !ok || len(evs) != 2 || *evs[1].Sequence != 3 {
		t.Fatalf("array decode failed: %v %v", evs, ok)
	}

	if _, ok := DecodeTimeline(`{"id":"ev1","kind":"a","created_at":1}`); ok {
		t.Fatalf("missing conversation_id should reject")
	}
	if _, ok := DecodeTimeline(`[{"id":"ev1","kind":"a","conversation_id":"c1","created_at":1},{"id":""}]`); ok {
		t.Fatalf("one invalid entry should reject the batch")
	}
	if _, ok := DecodeTimeline(`nonsense`); ok {
		t.Fatalf("non-JSON should reject")
	}
}

func TestDecodeBlocks(t *testing.T) {
	raw := `{"schema":"ui-blocks@2","requestId":"r1","messageId":"m1","blocks":[{"id":"b1","type":"text","content":"hi"}]}`
	p, ok := DecodeBlocks(raw, map[string]string{AttrContentType: BlocksContentType, AttrVersion: BlocksVersion})
	if !ok || p.MessageID != "m1" || len(p.Blocks) != 1 {
		t.Fatalf("decode failed: %+v %v", p, ok)
	}
	if _, ok := DecodeBlocks(raw, map[string]string{AttrVersion: "9"}); ok {
		t.Fatalf("version mismatch should reject")
	}
	if _, ok := DecodeBlocks(`{"schema":"ui-blocks@1","messageId":"m1"}`, nil); ok {
		t.Fatalf("wrong schema should reject")
	}
}

func TestDecodeUIEvent(t *testing.T) {
	raw := `{"name":"tool.result","args":{"callId":"call_1","final":true,"progress":0.5}}`
	e, ok := DecodeUIEvent(raw, nil)
	if !ok {
		t.Fatalf("expected decode")
	}
	var args ToolResultArgs
	if !e.DecodeArgs(&args) || args.CallID != "call_1" || !args.Final || *args.Progress != 0.5 {
		t.Fatalf("bad args: %+v", args)
	}
	if _, ok := DecodeUIEvent(`{"name":"x","args":[1,2]}`, nil); ok {
		t.Fatalf("non-object args should reject")
	}
	if _, ok := DecodeUIEvent(`{"args":{"a":1}}`, nil); ok {
		t.Fatalf("missing name should reject")
	}
}

func TestEventCorrelationKey(t *testing.T) {
	ev := NewInteractionEvent(EventReactionSet, "m1", map[string]any{"value": ReactionUp})
	key := ev.CorrelationKey()
	if !strings.HasPrefix(key, "eventId:evt_") {
		t.Fatalf("key = %q", key)
	}
	if ev.Args["messageId"] != "m1" || ev.Args["value"] != ReactionUp {
		t.Fatalf("args = %+v", ev.Args)
	}

	ti := NewToolInvoke("r1", "m1", ActionOrigin{BlockID: "b1", Type: "button"}, ToolRef{Name: "lookup"}, nil)
	if !strings.HasPrefix(ti.CorrelationKey(), "callId:call_") {
		t.Fatalf("tool key = %q", ti.CorrelationKey())
	}
}

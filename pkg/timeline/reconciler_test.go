package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"chatsync/pkg/wire"
)

type fakeBackend struct {
	events []wire.TimelineWireEvent
	err    error
	calls  int
}

func (f *fakeBackend) ListTimeline(ctx context.Context, conversationID string, limit int) ([]wire.TimelineWireEvent, error) {
	f.calls++
	return f.events, f.err
}

type fakeCache struct {
	seed []wire.TimelineWireEvent
	put  map[string][]wire.TimelineWireEvent
}

func (f *fakeCache) SeedTimeline(conversationID string) ([]wire.TimelineWireEvent, error) {
	return f.seed, nil
}

func (f *fakeCache) PutTimeline(conversationID string, evs []wire.TimelineWireEvent) error {
	if f.put == nil {
		f.put = make(map[string][]wire.TimelineWireEvent)
	}
	f.put[conversationID] = append(f.put[conversationID], evs...)
	return nil
}

func tlEvent(id string, createdAt float64, seq *int64) wire.TimelineWireEvent {
	return wire.TimelineWireEvent{
		ID:             id,
		Kind:           "agent.step",
		ConversationID: "conv-1",
		CreatedAt:      createdAt,
		Sequence:       seq,
		Summary:        "summary " + id,
	}
}

func seq(n int64) *int64 { return &n }

func rawPayload(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestLoadHistoryMergesAndOrders(t *testing.T) {
	be := &fakeBackend{events: []wire.TimelineWireEvent{
		tlEvent("e2", 10, seq(2)),
		tlEvent("e1", 10, seq(1)),
		tlEvent("e3", 5, nil),
	}}
	r := NewReconciler(be, nil)
	if err := r.LoadHistory(context.Background(), "conv-1"); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}

	got := r.Events("")
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	want := []string{"e3", "e1", "e2"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
	if r.LastEventTs() != 10 {
		t.Fatalf("LastEventTs = %v, want 10", r.LastEventTs())
	}
}

func TestNilSequenceSortsAfterSequenced(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.IngestRaw("s1", rawPayload(t, []wire.TimelineWireEvent{
		tlEvent("anon", 10, nil),
		tlEvent("seq9", 10, seq(9)),
	}))
	got := r.Events("")
	if got[0].ID != "seq9" || got[1].ID != "anon" {
		t.Fatalf("order = [%s %s], want [seq9 anon]", got[0].ID, got[1].ID)
	}
}

func TestDuplicateIDKeepsLaterInstance(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.IngestRaw("s1", rawPayload(t, tlEvent("e1", 10, seq(1))))

	upd := tlEvent("e1", 10, seq(1))
	upd.Summary = "updated"
	upd.Status = "done"
	r.IngestRaw("s1", rawPayload(t, upd))

	got := r.Events("")
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].Summary != "updated" || got[0].Status != "done" {
		t.Fatalf("later instance did not win: %+v", got[0])
	}
}

func TestCapDropsOldest(t *testing.T) {
	r := NewReconciler(nil, nil, WithCap(5))
	var evs []wire.TimelineWireEvent
	for i := 0; i < 8; i++ {
		evs = append(evs, tlEvent(fmt.Sprintf("e%d", i), float64(i+1), nil))
	}
	r.IngestRaw("s1", rawPayload(t, evs))

	got := r.Events("")
	if len(got) != 5 {
		t.Fatalf("events = %d, want 5", len(got))
	}
	if got[0].ID != "e3" || got[4].ID != "e7" {
		t.Fatalf("wrong window: first=%s last=%s", got[0].ID, got[4].ID)
	}
	// newest timestamp survives even if its event were dropped later
	if r.LastEventTs() != 8 {
		t.Fatalf("LastEventTs = %v", r.LastEventTs())
	}
}

func TestIngestRawDropsMalformed(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.IngestRaw("s1", "not json")
	r.IngestRaw("s1", rawPayload(t, []wire.TimelineWireEvent{
		tlEvent("ok", 10, nil),
		{ID: "missing-kind", ConversationID: "conv-1", CreatedAt: 10},
	}))
	if n := len(r.Events("")); n != 0 {
		t.Fatalf("events = %d, want 0 after malformed payloads", n)
	}
}

func TestIngestRawPersistsPerConversation(t *testing.T) {
	fc := &fakeCache{}
	r := NewReconciler(nil, fc)

	other := tlEvent("e2", 2, nil)
	other.ConversationID = "conv-2"
	r.IngestRaw("s1", rawPayload(t, []wire.TimelineWireEvent{
		tlEvent("e1", 1, nil),
		other,
	}))

	if evs := fc.put["conv-1"]; len(evs) != 1 || evs[0].ID != "e1" {
		t.Fatalf("conv-1 cached %+v", evs)
	}
	if evs := fc.put["conv-2"]; len(evs) != 1 || evs[0].ID != "e2" {
		t.Fatalf("conv-2 cached %+v", evs)
	}
}

func TestEventsFilterIsProjection(t *testing.T) {
	r := NewReconciler(nil, nil, WithCap(3))
	other := tlEvent("x1", 1, nil)
	other.ConversationID = "conv-2"
	r.IngestRaw("s1", rawPayload(t, []wire.TimelineWireEvent{
		other,
		tlEvent("e1", 2, nil),
		tlEvent("e2", 3, nil),
	}))

	if n := len(r.Events("conv-1")); n != 2 {
		t.Fatalf("filtered = %d, want 2", n)
	}
	// filtered-out event still occupies the cap
	if n := len(r.Events("")); n != 3 {
		t.Fatalf("unfiltered = %d, want 3", n)
	}
}

func TestSeedAndPersist(t *testing.T) {
	c := &fakeCache{seed: []wire.TimelineWireEvent{tlEvent("cached", 4, nil)}}
	r := NewReconciler(nil, c)
	r.Seed("conv-1")
	if n := len(r.Events("")); n != 1 {
		t.Fatalf("seeded = %d, want 1", n)
	}

	r.IngestRaw("s1", rawPayload(t, tlEvent("live", 9, nil)))
	if len(c.put["conv-1"]) != 1 || c.put["conv-1"][0].ID != "live" {
		t.Fatalf("ingest not persisted: %+v", c.put)
	}
}

package cache

import (
	"context"
	"testing"
	"time"

	"chatsync/pkg/conversation"
	"chatsync/pkg/wire"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMessagesRoundTrip(t *testing.T) {
	s := openTemp(t)
	msgs := []conversation.Message{
		{ID: "m1", ConversationID: "conv-1", Role: wire.RoleHuman, Text: "hi", TsMs: 1, Status: conversation.StatusCompleted},
		{ID: "m2", ConversationID: "conv-1", Role: wire.RoleAssistant, Text: "hello", TsMs: 2, Status: conversation.StatusCompleted},
		{ID: "p1", ConversationID: "conv-1", Role: wire.RoleHuman, Text: "unsent", TsMs: 3, Status: conversation.StatusPending},
	}
	if err := s.PutMessages("conv-1", msgs); err != nil {
		t.Fatalf("PutMessages: %v", err)
	}

	got, err := s.SeedMessages("conv-1")
	if err != nil {
		t.Fatalf("SeedMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("seeded = %d, want 2 (pending skipped)", len(got))
	}

	// same id overwrites
	msgs[0].Text = "hi again"
	if err := s.PutMessages("conv-1", msgs[:1]); err != nil {
		t.Fatalf("PutMessages: %v", err)
	}
	got, _ = s.SeedMessages("conv-1")
	if len(got) != 2 || got[0].Text != "hi again" {
		t.Fatalf("overwrite: %+v", got)
	}
}

func TestTimelineRoundTripAndIsolation(t *testing.T) {
	s := openTemp(t)
	if err := s.PutTimeline("conv-1", []wire.TimelineWireEvent{
		{ID: "e1", Kind: "agent.step", ConversationID: "conv-1", CreatedAt: 5, Summary: "step"},
	}); err != nil {
		t.Fatalf("PutTimeline: %v", err)
	}
	if err := s.PutTimeline("conv-2", []wire.TimelineWireEvent{
		{ID: "x1", Kind: "agent.step", ConversationID: "conv-2", CreatedAt: 6, Summary: "other"},
	}); err != nil {
		t.Fatalf("PutTimeline: %v", err)
	}

	got, err := s.SeedTimeline("conv-1")
	if err != nil {
		t.Fatalf("SeedTimeline: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e1" {
		t.Fatalf("seeded = %+v", got)
	}
}

func TestNilStoreIsNoOp(t *testing.T) {
	var s *Store
	if err := s.PutMessages("conv-1", nil); err != nil {
		t.Fatalf("nil PutMessages: %v", err)
	}
	if got, err := s.SeedTimeline("conv-1"); err != nil || got != nil {
		t.Fatalf("nil SeedTimeline: %v %v", got, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}

func TestSweepIdleDropsStaleConversations(t *testing.T) {
	s := openTemp(t)
	if err := s.PutMessages("conv-old", []conversation.Message{
		{ID: "m1", Role: wire.RoleHuman, Text: "old", TsMs: 1, Status: conversation.StatusCompleted},
	}); err != nil {
		t.Fatalf("PutMessages: %v", err)
	}
	// backdate the touch stamp
	if err := s.db.Set(touchKey("conv-old"), []byte("1000"), nil); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if err := s.PutMessages("conv-live", []conversation.Message{
		{ID: "m2", Role: wire.RoleHuman, Text: "new", TsMs: 2, Status: conversation.StatusCompleted},
	}); err != nil {
		t.Fatalf("PutMessages: %v", err)
	}

	n, err := s.SweepIdle(time.Hour)
	if err != nil {
		t.Fatalf("SweepIdle: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}
	if got, _ := s.SeedMessages("conv-old"); len(got) != 0 {
		t.Fatalf("stale conversation survived: %+v", got)
	}
	if got, _ := s.SeedMessages("conv-live"); len(got) != 1 {
		t.Fatalf("live conversation dropped: %+v", got)
	}
}

func TestStartRetentionValidatesCron(t *testing.T) {
	s := openTemp(t)
	if _, err := s.StartRetention(context.Background(), RetentionConfig{Enabled: true, Cron: "not a cron", Period: time.Hour}); err == nil {
		t.Fatalf("invalid cron accepted")
	}
	cancel, err := s.StartRetention(context.Background(), RetentionConfig{Enabled: false})
	if err != nil {
		t.Fatalf("disabled retention: %v", err)
	}
	cancel()
}

package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreKV(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, ok, _ := s.GetValue(ctx, "missing"); ok {
		t.Fatalf("expected missing key")
	}

	if err := s.SetValue(ctx, "k", "v"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	v, ok, _ := s.GetValue(ctx, "k")
	if !ok || v != "v" {
		t.Fatalf("unexpected result: v=%q ok=%v", v, ok)
	}
}

func TestMemoryStoreEvents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		e := Event{
			ID:        "evt_" + string(rune('a'+i)),
			WebhookID: "wh_1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.Push(ctx, e); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}

	found, ok, _ := s.FindByID(ctx, "wh_1", "evt_b")
	if !ok || found.ID != "evt_b" {
		t.Fatalf("expected to find evt_b, got %+v ok=%v", found, ok)
	}

	byTS, ok, _ := s.FindByTimestamp(ctx, "wh_1", base.Add(2*time.Second))
	if !ok || byTS.ID != "evt_c" {
		t.Fatalf("expected evt_c by timestamp, got %+v ok=%v", byTS, ok)
	}

	if _, ok, _ := s.FindByID(ctx, "wh_1", "nope"); ok {
		t.Fatalf("expected miss")
	}
}

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/store"
)

func TestGenerateAndIsValid(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemoryStore())

	ids, err := r.Generate(ctx, 3, 1)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	for _, id := range ids {
		if len(id) < 10 {
			t.Fatalf("expected id of at least 10 chars, got %q", id)
		}
		if !r.IsValid(id) {
			t.Fatalf("expected %q to be valid", id)
		}
	}
}

func TestGenerateRejectsBadArgs(t *testing.T) {
	r := New(store.NewMemoryStore())
	if _, err := r.Generate(context.Background(), -1, 1); err == nil {
		t.Fatalf("expected error for negative count")
	}
	if _, err := r.Generate(context.Background(), 1, 0); err == nil {
		t.Fatalf("expected error for non-positive retentionHours")
	}
}

func TestExtendRetentionNeverShrinks(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemoryStore())
	ids, _ := r.Generate(ctx, 1, 100)
	id := ids[0]

	before, _ := r.GetData(id)
	_ = before
	r.mu.Lock()
	original := r.records[id].ExpiresAt
	r.mu.Unlock()

	r.ExtendRetention(ctx, 1)

	r.mu.Lock()
	after := r.records[id].ExpiresAt
	r.mu.Unlock()

	if after.Before(original) {
		t.Fatalf("expected retention to never shrink: before=%s after=%s", original, after)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemoryStore())

	r.mu.Lock()
	r.records["expired_000000"] = record{ExpiresAt: time.Now().Add(-time.Hour)}
	r.mu.Unlock()

	ids, _ := r.Generate(ctx, 1, 1)
	r.Sweep(ctx)

	if r.IsValid("expired_000000") {
		t.Fatalf("expected expired record to be swept")
	}
	if !r.IsValid(ids[0]) {
		t.Fatalf("expected unexpired record to survive sweep")
	}
}

func TestSetOverridesAndGetData(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemoryStore())
	ids, _ := r.Generate(ctx, 1, 1)
	id := ids[0]

	ov := &Overrides{DefaultResponseCode: 201, ForwardURL: "https://example.com/hook"}
	if err := r.SetOverrides(ctx, id, ov); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	got, ok := r.GetData(id)
	if !ok || got == nil || got.DefaultResponseCode != 201 {
		t.Fatalf("unexpected overrides: %+v ok=%v", got, ok)
	}
}

func TestSetOverridesRejectsUnknownID(t *testing.T) {
	r := New(store.NewMemoryStore())
	if err := r.SetOverrides(context.Background(), "nope", nil); err == nil {
		t.Fatalf("expected error for unknown id")
	}
}

func TestListAndCount(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemoryStore())
	r.Generate(ctx, 2, 1)

	if r.Count() != 2 {
		t.Fatalf("expected count 2, got %d", r.Count())
	}
	if len(r.List()) != 2 {
		t.Fatalf("expected 2 listed records")
	}
}

func TestEnsureCountScalesUpOnly(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemoryStore())

	r.Generate(ctx, 2, 1)
	ids, err := r.EnsureCount(ctx, 5, 1)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 new ids to reach count 5, got %d", len(ids))
	}
	if r.Count() != 5 {
		t.Fatalf("expected count 5, got %d", r.Count())
	}

	more, err := r.EnsureCount(ctx, 3, 1)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(more) != 0 {
		t.Fatalf("expected no new ids when already above target count")
	}
	if r.Count() != 5 {
		t.Fatalf("expected count to remain 5, got %d", r.Count())
	}
}

func TestPersistAndLoadRoundtrip(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()

	r1 := New(kv)
	ids, _ := r1.Generate(ctx, 2, 1)

	r2 := New(kv)
	if err := r2.Load(ctx); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	for _, id := range ids {
		if !r2.IsValid(id) {
			t.Fatalf("expected %q to survive reload", id)
		}
	}
}

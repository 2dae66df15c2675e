package replay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/store"
)

func TestReplayRejectsUnsafeTarget(t *testing.T) {
	events := store.NewMemoryStore()
	e := New(events)

	out := e.Replay(context.Background(), "wh_1", "evt_1", "http://127.0.0.1/hook", Options{})
	if out.Err == nil {
		t.Fatalf("expected rejection for unsafe target")
	}
}

func TestReplayReturnsNotFoundWhenNoEventMatches(t *testing.T) {
	events := store.NewMemoryStore()
	e := New(events)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()

	out := e.Replay(context.Background(), "wh_1", "evt_missing", srv.URL, Options{})
	if out.Err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", out.Err)
	}
}

func TestReplaySendsStoredEventAndStripsHeaders(t *testing.T) {
	ctx := context.Background()
	events := store.NewMemoryStore()
	events.Push(ctx, store.Event{
		ID:        "evt_1",
		WebhookID: "wh_1",
		Method:    "POST",
		Body:      `{"hello":"world"}`,
		Headers: map[string][]string{
			"Content-Type":   {"application/json"},
			"Host":           {"original.example.com"},
			"Authorization":  {"[MASKED]"},
			"X-Custom":       {"keep-me"},
		},
	})

	var gotHeaders http.Header
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(201)
		w.Write([]byte("thanks"))
	}))
	defer srv.Close()

	e := New(events)
	out := e.Replay(ctx, "wh_1", "evt_1", srv.URL, Options{PerAttemptTimeout: 2 * time.Second, MaxRetries: 1})
	if out.Err != nil {
		t.Fatalf("unexpected error: %s", out.Err)
	}
	if out.TargetResponseCode != 201 {
		t.Fatalf("expected 201, got %d", out.TargetResponseCode)
	}
	if gotHeaders.Get("X-Apify-Replay") != "true" {
		t.Fatalf("expected X-Apify-Replay header, got %+v", gotHeaders)
	}
	if gotHeaders.Get("Authorization") != "" {
		t.Fatalf("expected masked header stripped, got %q", gotHeaders.Get("Authorization"))
	}
	if gotHeaders.Get("X-Custom") != "keep-me" {
		t.Fatalf("expected non-stripped header preserved")
	}
	if gotBody == "" {
		t.Fatalf("expected request body forwarded")
	}

	found := false
	for _, h := range out.StrippedHeaders {
		if h == "Authorization" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Authorization listed as stripped, got %v", out.StrippedHeaders)
	}
}

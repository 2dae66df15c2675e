package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ar27111994/webhook-debugger-logger-sub003/config"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/eventbus"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/orchestrator"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/ratelimit"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/registry"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/reload"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/store"
)

func init() {
	if requestsTotal == nil {
		initMetrics()
	}
}

// newTestEngine builds a fully wired Engine against an in-memory store and
// a single generated webhook id, mirroring how main.go assembles the real
// one but without any network listeners or background loops.
func newTestEngine(t *testing.T, mutate func(*config.Config)) (*Engine, string) {
	t.Helper()

	path := writeTempYAML(t, `
server:
  http:
    listen_addr: ":0"
hack_me_please: true
webhook:
  auth_key: ""
  retention_hours: 1
`)
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("config.LoadFile: %s", err)
	}
	cfg.InstanceID = "test-instance"
	if mutate != nil {
		mutate(cfg)
	}

	ms := store.NewMemoryStore()
	reg := registry.New(ms)
	ids, err := reg.Generate(context.Background(), 1, float64(cfg.Webhook.RetentionHours))
	if err != nil {
		t.Fatalf("registry.Generate: %s", err)
	}

	limiter, err := ratelimit.New(0, time.Minute, 1000, false)
	if err != nil {
		t.Fatalf("ratelimit.New: %s", err)
	}
	t.Cleanup(limiter.Close)

	bus := eventbus.New(10, eventbus.DefaultQueueSize, time.Hour)
	t.Cleanup(bus.Close)

	orch := orchestrator.New(cfg.InstanceID, "webhook-debugger-logger", ms, nil, nil)
	reloadCtl := reload.New(nil, cfg, time.Hour, noopSideEffects{})

	engine := NewEngine(cfg.InstanceID, 2*time.Second, reg, limiter, reloadCtl, orch, bus)
	return engine, ids[0]
}

type noopSideEffects struct{}

func (noopSideEffects) ReconcileRateLimit(int)                           {}
func (noopSideEffects) ReconcileURLCount(context.Context, int, float64)  {}
func (noopSideEffects) ReconcileRetentionHours(context.Context, float64) {}

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "pipeline-*.yml")
	if err != nil {
		t.Fatalf("cannot create temp config: %s", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("cannot write temp config: %s", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("cannot close temp config: %s", err)
	}
	return f.Name()
}

func newWebhookRequest(method, id, body string) *http.Request {
	req := httptest.NewRequest(method, "/webhook/"+id, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	return req
}

func TestHandleWebhookAcceptsValidRequest(t *testing.T) {
	engine, id := newTestEngine(t, nil)

	req := newWebhookRequest(http.MethodPost, id, `{"x":1}`)
	rec := httptest.NewRecorder()

	engine.handleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "OK" {
		t.Fatalf("expected default body %q, got %q", "OK", rec.Body.String())
	}
}

func TestHandleWebhookUnknownIDIs404(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	req := newWebhookRequest(http.MethodGet, "no-such-webhook", "")
	rec := httptest.NewRecorder()

	engine.handleWebhook(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleWebhookAuthRejectsMissingToken(t *testing.T) {
	engine, id := newTestEngine(t, func(c *config.Config) {
		c.Webhook.AuthKey = "s3cr3t"
	})

	req := newWebhookRequest(http.MethodGet, id, "")
	rec := httptest.NewRecorder()

	engine.handleWebhook(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleWebhookAuthAcceptsBearerToken(t *testing.T) {
	engine, id := newTestEngine(t, func(c *config.Config) {
		c.Webhook.AuthKey = "s3cr3t"
	})

	req := newWebhookRequest(http.MethodGet, id, "")
	req.Header.Set("Authorization", "Bearer s3cr3t")
	rec := httptest.NewRecorder()

	engine.handleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleWebhookSizeLimitReturns413(t *testing.T) {
	engine, id := newTestEngine(t, func(c *config.Config) {
		c.Webhook.MaxPayloadSize = 16
	})

	req := newWebhookRequest(http.MethodPost, id, `{"payload":"this body is far longer than sixteen bytes"}`)
	rec := httptest.NewRecorder()

	engine.handleWebhook(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleWebhookStatusOverride(t *testing.T) {
	engine, id := newTestEngine(t, nil)

	req := newWebhookRequest(http.MethodGet, id, "")
	req.URL.RawQuery = "__status=201"
	rec := httptest.NewRecorder()

	engine.handleWebhook(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 from __status override, got %d", rec.Code)
	}
}

func TestHandleWebhookRecursionGuardReturns422(t *testing.T) {
	engine, id := newTestEngine(t, nil)

	req := newWebhookRequest(http.MethodPost, id, `{}`)
	req.Header.Set(orchestrator.ForwardedByHeader, "test-instance")
	rec := httptest.NewRecorder()

	engine.handleWebhook(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a self-looped request, got %d", rec.Code)
	}
}

func TestHandleWebhookErrorStatusEmitsJSONEnvelope(t *testing.T) {
	engine, id := newTestEngine(t, nil)

	req := newWebhookRequest(http.MethodGet, id, "")
	req.URL.RawQuery = "__status=500"
	rec := httptest.NewRecorder()

	engine.handleWebhook(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("expected JSON error envelope content type, got %q", ct)
	}
}

package reload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ar27111994/webhook-debugger-logger-sub003/config"
)

type memSource struct {
	mu  sync.Mutex
	raw string
}

func (m *memSource) Read(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw, nil
}

func (m *memSource) Watch() (<-chan struct{}, func(), error) {
	return nil, nil, nil
}

func (m *memSource) set(raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = raw
}

const baseYAML = `
hack_me_please: true
server:
  http:
    listen_addr: ":8080"
webhook:
  rate_limit_per_minute: 30
`

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.ParseBytes([]byte(baseYAML))
	if err != nil {
		t.Fatalf("unexpected error parsing base config: %s", err)
	}
	return cfg
}

func TestTryReloadNoopWhenUnchanged(t *testing.T) {
	cfg := newTestConfig(t)
	src := &memSource{raw: baseYAML}
	c := New(src, cfg, time.Hour, nil)

	initial := c.Current()
	c.tryReload(context.Background())
	if c.Current() != initial {
		t.Fatalf("expected state unchanged when source content is identical")
	}
}

func TestTryReloadAppliesChange(t *testing.T) {
	cfg := newTestConfig(t)
	src := &memSource{raw: baseYAML}
	c := New(src, cfg, time.Hour, nil)

	src.set(`
hack_me_please: true
server:
  http:
    listen_addr: ":8080"
webhook:
  rate_limit_per_minute: 99
`)
	c.tryReload(context.Background())

	if c.Current().Snapshot.RateLimitPerMinute != 99 {
		t.Fatalf("expected updated rate limit, got %d", c.Current().Snapshot.RateLimitPerMinute)
	}
}

func TestTryReloadKeepsPreviousOnInvalidConfig(t *testing.T) {
	cfg := newTestConfig(t)
	src := &memSource{raw: baseYAML}
	c := New(src, cfg, time.Hour, nil)

	src.set("not: valid: yaml: [")
	c.tryReload(context.Background())

	if c.Current().Snapshot.RateLimitPerMinute != 30 {
		t.Fatalf("expected previous snapshot retained on parse failure")
	}
}

type recordingEffects struct {
	mu           sync.Mutex
	lastLimit    int
	lastURLCount int
}

func (r *recordingEffects) ReconcileRateLimit(limit int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLimit = limit
}

func (r *recordingEffects) ReconcileURLCount(_ context.Context, count int, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastURLCount = count
}

func (r *recordingEffects) ReconcileRetentionHours(_ context.Context, _ float64) {}

func TestTryReloadInvokesSideEffects(t *testing.T) {
	cfg := newTestConfig(t)
	src := &memSource{raw: baseYAML}
	effects := &recordingEffects{}
	c := New(src, cfg, time.Hour, effects)

	src.set(`
hack_me_please: true
server:
  http:
    listen_addr: ":8080"
webhook:
  rate_limit_per_minute: 45
  url_count: 3
`)
	c.tryReload(context.Background())

	effects.mu.Lock()
	defer effects.mu.Unlock()
	if effects.lastLimit != 45 {
		t.Fatalf("expected rate limit reconciled to 45, got %d", effects.lastLimit)
	}
	if effects.lastURLCount != 3 {
		t.Fatalf("expected url count reconciled to 3, got %d", effects.lastURLCount)
	}
}

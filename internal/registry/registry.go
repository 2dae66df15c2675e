// Package registry tracks webhook IDs, their expiry and per-webhook
// response overrides, persisting snapshots through a KVStore collaborator.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/store"
	"github.com/ar27111994/webhook-debugger-logger-sub003/log"
)

const persistKey = "webhook_registry"

const tokenAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Overrides is the optional per-webhook response override bag.
type Overrides struct {
	DefaultResponseCode    int               `json:"defaultResponseCode,omitempty"`
	DefaultResponseBody    string            `json:"defaultResponseBody,omitempty"`
	DefaultResponseHeaders map[string]string `json:"defaultResponseHeaders,omitempty"`
	ResponseDelayMs        int               `json:"responseDelayMs,omitempty"`
	ForwardURL             string            `json:"forwardUrl,omitempty"`
	ForwardHeaders         bool              `json:"forwardHeaders,omitempty"`
}

type record struct {
	ExpiresAt time.Time  `json:"expiresAt"`
	Overrides *Overrides `json:"overrides,omitempty"`
}

// Registry is the single-writer, mutex-guarded webhook ID registry.
type Registry struct {
	mu      sync.Mutex
	kv      store.KVStore
	records map[string]record
}

// New constructs an empty Registry backed by kv. Callers should call Load
// once at startup to restore any persisted state.
func New(kv store.KVStore) *Registry {
	return &Registry{kv: kv, records: make(map[string]record)}
}

// Load restores the registry from its persisted KV entry, if any.
func (r *Registry) Load(ctx context.Context) error {
	raw, ok, err := r.kv.GetValue(ctx, persistKey)
	if err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}
	if !ok || raw == "" {
		return nil
	}

	var records map[string]record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return fmt.Errorf("registry: decode persisted state: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = records
	return nil
}

// Generate creates count new webhook IDs expiring retentionHours from now,
// persists the updated registry, and returns the new IDs.
func (r *Registry) Generate(ctx context.Context, count int, retentionHours float64) ([]string, error) {
	if count < 0 {
		return nil, fmt.Errorf("registry: count must be >= 0, got %d", count)
	}
	if retentionHours <= 0 {
		return nil, fmt.Errorf("registry: retentionHours must be > 0, got %f", retentionHours)
	}

	ids := make([]string, 0, count)
	expiresAt := time.Now().Add(time.Duration(retentionHours * float64(time.Hour)))

	r.mu.Lock()
	for i := 0; i < count; i++ {
		id, err := newToken()
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("registry: generate id: %w", err)
		}
		for _, exists := r.records[id]; exists; _, exists = r.records[id] {
			id, err = newToken()
			if err != nil {
				r.mu.Unlock()
				return nil, fmt.Errorf("registry: generate id: %w", err)
			}
		}
		r.records[id] = record{ExpiresAt: expiresAt}
		ids = append(ids, id)
	}
	r.mu.Unlock()

	r.persist(ctx)
	return ids, nil
}

// IsValid reports whether id is present and unexpired.
func (r *Registry) IsValid(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return ok && time.Now().Before(rec.ExpiresAt)
}

// GetData returns the override bag for id, if any.
func (r *Registry) GetData(id string) (*Overrides, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	return rec.Overrides, true
}

// SetOverrides replaces the override bag for an existing, valid id.
func (r *Registry) SetOverrides(ctx context.Context, id string, overrides *Overrides) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok || !time.Now().Before(rec.ExpiresAt) {
		r.mu.Unlock()
		return fmt.Errorf("registry: unknown or expired id %q", id)
	}
	rec.Overrides = overrides
	r.records[id] = rec
	r.mu.Unlock()

	r.persist(ctx)
	return nil
}

// ExtendRetention pushes every record's expiry out to at least now+h; it
// never shortens an expiry already further in the future.
func (r *Registry) ExtendRetention(ctx context.Context, h float64) {
	floor := time.Now().Add(time.Duration(h * float64(time.Hour)))

	r.mu.Lock()
	changed := false
	for id, rec := range r.records {
		if floor.After(rec.ExpiresAt) {
			rec.ExpiresAt = floor
			r.records[id] = rec
			changed = true
		}
	}
	r.mu.Unlock()

	if changed {
		r.persist(ctx)
	}
}

// Sweep removes expired records, persisting iff anything changed.
func (r *Registry) Sweep(ctx context.Context) {
	now := time.Now()

	r.mu.Lock()
	changed := false
	for id, rec := range r.records {
		if !now.Before(rec.ExpiresAt) {
			delete(r.records, id)
			changed = true
		}
	}
	r.mu.Unlock()

	if changed {
		r.persist(ctx)
	}
}

// ListItem is a snapshot entry returned by List.
type ListItem struct {
	ID        string
	ExpiresAt time.Time
	Overrides *Overrides
}

// List returns a snapshot of all currently non-expired records.
func (r *Registry) List() []ListItem {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]ListItem, 0, len(r.records))
	for id, rec := range r.records {
		if now.Before(rec.ExpiresAt) {
			items = append(items, ListItem{ID: id, ExpiresAt: rec.ExpiresAt, Overrides: rec.Overrides})
		}
	}
	return items
}

// Count returns the number of currently non-expired records.
func (r *Registry) Count() int {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if now.Before(rec.ExpiresAt) {
			n++
		}
	}
	return n
}

// EnsureCount scales the registry up so at least n records are valid,
// generating additional ids with the given retention when short. It never
// removes existing records when n is lower than the current count.
func (r *Registry) EnsureCount(ctx context.Context, n int, retentionHours float64) ([]string, error) {
	deficit := n - r.Count()
	if deficit <= 0 {
		return nil, nil
	}
	return r.Generate(ctx, deficit, retentionHours)
}

func (r *Registry) persist(ctx context.Context) {
	r.mu.Lock()
	snapshot := make(map[string]record, len(r.records))
	for id, rec := range r.records {
		snapshot[id] = rec
	}
	r.mu.Unlock()

	raw, err := json.Marshal(snapshot)
	if err != nil {
		log.Errorf("registry: marshal persisted state: %s", err)
		return
	}
	if err := r.kv.SetValue(ctx, persistKey, string(raw)); err != nil {
		log.Errorf("registry: persist: %s", err)
	}
}

// Start launches a background sweeper that calls Sweep on interval until
// ctx is cancelled.
func (r *Registry) Start(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.Sweep(ctx)
			}
		}
	}()
}

// newToken derives a webhook id from a random UUIDv4's raw bytes, encoded
// with the same Crockford base32 alphabet utils.go uses for tokens.
func newToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("registry: generate uuid: %w", err)
	}
	buf := id[:]
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out), nil
}

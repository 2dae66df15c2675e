package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed KVStore + EventStore. Events are persisted
// as a per-webhook list under key "events:<webhookID>", newest appended at
// the tail; the KV namespace lives directly under the given keys.
type RedisStore struct {
	client *redis.Client
}

// RedisOptions configures the underlying client.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TLS      *tls.Config
}

// NewRedisStore dials a Redis client eagerly but does not block for a PING;
// callers should treat store errors the same way as any other transient
// external collaborator failure (log, continue).
func NewRedisStore(opts RedisOptions) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:      opts.Addr,
			Password:  opts.Password,
			DB:        opts.DB,
			TLSConfig: opts.TLS,
		}),
	}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisStore) SetValue(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func eventsKey(webhookID string) string {
	return "events:" + webhookID
}

func (r *RedisStore) Push(ctx context.Context, event Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.RPush(ctx, eventsKey(event.WebhookID), b).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

func (r *RedisStore) FindByID(ctx context.Context, webhookID, eventID string) (Event, bool, error) {
	events, err := r.loadEvents(ctx, webhookID)
	if err != nil {
		return Event{}, false, err
	}
	for _, e := range events {
		if e.ID == eventID {
			return e, true, nil
		}
	}
	return Event{}, false, nil
}

func (r *RedisStore) FindByTimestamp(ctx context.Context, webhookID string, ts time.Time) (Event, bool, error) {
	events, err := r.loadEvents(ctx, webhookID)
	if err != nil {
		return Event{}, false, err
	}
	for _, e := range events {
		if e.Timestamp.Equal(ts) {
			return e, true, nil
		}
	}
	return Event{}, false, nil
}

func (r *RedisStore) loadEvents(ctx context.Context, webhookID string) ([]Event, error) {
	raw, err := r.client.LRange(ctx, eventsKey(webhookID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for _, s := range raw {
		var e Event
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

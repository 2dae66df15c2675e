// Package store defines the external collaborator contract the rest of
// the system runs against: a key-value store for registry/config state,
// an append-only dataset sink for event records, and a query-backed event
// store used by the replay engine. Both an in-memory and a Redis-backed
// implementation are provided.
package store

import (
	"context"
	"time"
)

// KVStore is a small get/set key-value collaborator used for webhook
// registry persistence and raw hot-reload config input.
type KVStore interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
}

// Event is the persisted shape of an ingested request, matching the
// ingestion pipeline's event record.
type Event struct {
	ID                string            `json:"id"`
	Timestamp         time.Time         `json:"timestamp"`
	WebhookID         string            `json:"webhookId"`
	Method            string            `json:"method"`
	Headers           map[string][]string `json:"headers"`
	Query             map[string][]string `json:"query"`
	Body              string            `json:"body"`
	BodyIsBase64      bool              `json:"bodyIsBase64"`
	ContentType       string            `json:"contentType"`
	SizeBytes         int64             `json:"sizeBytes"`
	StatusCode        int               `json:"statusCode"`
	ResponseBody      string            `json:"responseBody,omitempty"`
	ResponseHeaders   map[string]string `json:"responseHeaders,omitempty"`
	ProcessingTimeMs  int64             `json:"processingTimeMs"`
	RemoteIP          string            `json:"remoteIp,omitempty"`
	UserAgent         string            `json:"userAgent,omitempty"`
	RequestID         string            `json:"requestId,omitempty"`
	SignatureValid    *bool             `json:"signatureValid,omitempty"`
	SignatureProvider string            `json:"signatureProvider,omitempty"`
	SignatureError    string            `json:"signatureError,omitempty"`
}

// DatasetSink is an append-only destination for event records.
type DatasetSink interface {
	Push(ctx context.Context, event Event) error
}

// EventStore supports the lookups the replay engine and logs endpoint
// need: fetch by id, or fall back to a timestamp match.
type EventStore interface {
	DatasetSink
	FindByID(ctx context.Context, webhookID, eventID string) (Event, bool, error)
	FindByTimestamp(ctx context.Context, webhookID string, ts time.Time) (Event, bool, error)
}

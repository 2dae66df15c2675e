// Package replay resends a previously stored event to a caller-supplied
// target URL, applying the same SSRF and transient-retry policy as the
// forwarder.
package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/ssrf"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/store"
)

const maskSentinel = "[MASKED]"

var stripHeaders = map[string]bool{
	"content-length":    true,
	"content-encoding":  true,
	"transfer-encoding": true,
	"host":              true,
	"connection":        true,
	"keep-alive":        true,
	"proxy-authorization": true,
	"te":                true,
	"trailer":           true,
	"upgrade":           true,
}

// ErrNotFound indicates no matching event could be located.
var ErrNotFound = fmt.Errorf("event not found")

// Outcome is the caller-facing result of a replay attempt.
type Outcome struct {
	TargetURL          string
	TargetResponseCode int
	TargetResponseBody string
	StrippedHeaders    []string
	TimedOut           bool
	Attempts           int
	Err                error
}

// Options configures a single replay attempt.
type Options struct {
	PerAttemptTimeout time.Duration
	MaxRetries        int
	Resolver          ssrf.Resolver
}

// Engine resolves stored events and replays them.
type Engine struct {
	events store.EventStore
	client *http.Client
}

// New constructs an Engine backed by events, using a dedicated HTTP
// client that never follows redirects.
func New(events store.EventStore) *Engine {
	return &Engine{
		events: events,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Replay looks up webhookID/itemID (by id, falling back to a timestamp
// match), validates targetURL, and resends the stored event.
func (e *Engine) Replay(ctx context.Context, webhookID, itemID, targetURL string, opts Options) Outcome {
	validated := ssrf.Validate(ctx, targetURL, opts.Resolver)
	if !validated.Safe {
		return Outcome{Err: fmt.Errorf("target URL rejected: %s", validated.Error)}
	}

	evt, ok, err := e.events.FindByID(ctx, webhookID, itemID)
	if err != nil {
		return Outcome{Err: fmt.Errorf("lookup failed: %w", err)}
	}
	if !ok {
		if ts, parseErr := time.Parse(time.RFC3339Nano, itemID); parseErr == nil {
			evt, ok, err = e.events.FindByTimestamp(ctx, webhookID, ts)
			if err != nil {
				return Outcome{Err: fmt.Errorf("lookup failed: %w", err)}
			}
		}
	}
	if !ok {
		return Outcome{Err: ErrNotFound}
	}

	headers, stripped := buildOutboundHeaders(evt.Headers, evt.ID, validated.Host)

	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	timeout := opts.PerAttemptTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	attempts := 0
	op := func() (attemptResult, error) {
		attempts++
		code, body, err := e.attempt(ctx, validated.Href, evt.Method, headers, []byte(evt.Body), timeout)
		if err == nil {
			return attemptResult{code: code, body: body}, nil
		}
		if !isTimeout(err) && !ssrf.IsTransient(err) {
			return attemptResult{}, backoff.Permanent(err)
		}
		return attemptResult{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Minute

	res, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(maxRetries)))
	if err != nil {
		if isTimeout(err) {
			return Outcome{TargetURL: validated.Href, TimedOut: true, Attempts: attempts, Err: err}
		}
		return Outcome{TargetURL: validated.Href, Attempts: attempts, Err: err}
	}
	return Outcome{
		TargetURL:          validated.Href,
		TargetResponseCode: res.code,
		TargetResponseBody: res.body,
		StrippedHeaders:    stripped,
		Attempts:           attempts,
	}
}

// attemptResult holds a single successful replay attempt's response.
type attemptResult struct {
	code int
	body string
}

func (e *Engine) attempt(ctx context.Context, url, method string, headers http.Header, body []byte, timeout time.Duration) (int, string, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(actx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header = headers

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(respBody), nil
}

func buildOutboundHeaders(stored map[string][]string, eventID, host string) (http.Header, []string) {
	out := http.Header{}
	var stripped []string
	for k, vs := range stored {
		lk := strings.ToLower(k)
		if stripHeaders[lk] {
			stripped = append(stripped, k)
			continue
		}
		masked := false
		for _, v := range vs {
			if v == maskSentinel {
				masked = true
				break
			}
		}
		if masked {
			stripped = append(stripped, k)
			continue
		}
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	out.Set("X-Apify-Replay", "true")
	out.Set("X-Original-Webhook-Id", eventID)
	out.Set("Idempotency-Key", eventID)
	out.Set("Host", host)
	return out, stripped
}

func isTimeout(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "context deadline exceeded") ||
		strings.Contains(strings.ToLower(err.Error()), "timeout")
}


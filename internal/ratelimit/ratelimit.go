// Package ratelimit implements a per-key sliding-window rate limiter
// bounded by an LRU-evicted entry table.
package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ar27111994/webhook-debugger-logger-sub003/log"
	"github.com/ar27111994/webhook-debugger-logger-sub003/middleware"
)

// Result is the outcome of Check.
type Result struct {
	Allowed      bool
	RetryAfterMs int64
}

type entry struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// Limiter is a per-key sliding-window counter with an LRU-bounded entry
// table and a background sweeper that prunes fully-expired entries.
type Limiter struct {
	limit      atomic.Int64
	window     time.Duration
	trustProxy bool

	cache *lru.Cache[string, *entry]

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// New constructs a Limiter. limit must be >= 0, window and maxEntries must
// be > 0.
func New(limit int, window time.Duration, maxEntries int, trustProxy bool) (*Limiter, error) {
	if limit < 0 {
		return nil, fmt.Errorf("rate limiter `limit` must be >= 0, got %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("rate limiter `window` must be > 0, got %s", window)
	}
	if maxEntries <= 0 {
		return nil, fmt.Errorf("rate limiter `maxEntries` must be > 0, got %d", maxEntries)
	}

	l := &Limiter{
		window:     window,
		trustProxy: trustProxy,
		closeCh:    make(chan struct{}),
	}
	l.limit.Store(int64(limit))

	cache, err := lru.NewWithEvict[string, *entry](maxEntries, l.onEvict)
	if err != nil {
		return nil, fmt.Errorf("cannot construct rate limiter cache: %w", err)
	}
	l.cache = cache

	l.wg.Add(1)
	go l.sweep(window)

	return l, nil
}

func (l *Limiter) onEvict(key string, _ *entry) {
	log.Debugf("rate limiter: evicted key %s", maskKey(key))
}

// maskKey redacts a key for logging: IPv4 loses its last octet, IPv6 loses
// its last 6 segments.
func maskKey(key string) string {
	if strings.Contains(key, ":") && strings.Count(key, ":") >= 2 {
		parts := strings.Split(key, ":")
		if len(parts) > 2 {
			keep := len(parts) - 6
			if keep < 0 {
				keep = 0
			}
			return strings.Join(parts[:keep], ":") + ":****"
		}
	}
	if idx := strings.LastIndex(key, "."); idx >= 0 {
		return key[:idx] + ".****"
	}
	return "****"
}

// DeriveKey resolves the rate-limiting key for r: the socket remote
// address by default, or the left-most trusted proxy header IP when
// trustProxy is enabled. ok is false when the key cannot be determined
// (malformed proxy header), which callers must answer with 400.
func (l *Limiter) DeriveKey(r *http.Request) (key string, ok bool) {
	if !l.trustProxy {
		host := r.RemoteAddr
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		return host, true
	}
	return middleware.DeriveClientIP(r)
}

// Check evaluates and, if admitted, records a request for key at time now.
func (l *Limiter) Check(key string, now time.Time) Result {
	e, ok := l.cache.Get(key)
	if !ok {
		e = &entry{}
		l.cache.Add(key, e)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := now.Add(-l.window)
	filtered := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if ts.After(cutoff) {
			filtered = append(filtered, ts)
		}
	}
	e.timestamps = filtered

	if limit := int(l.limit.Load()); len(e.timestamps) >= limit {
		retryAfter := l.window - now.Sub(e.timestamps[0])
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{Allowed: false, RetryAfterMs: retryAfter.Milliseconds()}
	}

	e.timestamps = append(e.timestamps, now)
	return Result{Allowed: true}
}

// SetLimit updates the admitted-requests-per-window threshold applied to
// subsequent Check calls. Safe to call concurrently with Check.
func (l *Limiter) SetLimit(limit int) {
	if limit < 0 {
		limit = 0
	}
	l.limit.Store(int64(limit))
}

// Close stops the background sweeper.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.closeCh)
	})
	l.wg.Wait()
}

func (l *Limiter) sweep(window time.Duration) {
	defer l.wg.Done()
	t := time.NewTicker(window)
	defer t.Stop()
	for {
		select {
		case <-l.closeCh:
			return
		case now := <-t.C:
			for _, key := range l.cache.Keys() {
				e, ok := l.cache.Peek(key)
				if !ok {
					continue
				}
				e.mu.Lock()
				allExpired := true
				cutoff := now.Add(-window)
				for _, ts := range e.timestamps {
					if ts.After(cutoff) {
						allExpired = false
						break
					}
				}
				e.mu.Unlock()
				if allExpired {
					l.cache.Remove(key)
				}
			}
		}
	}
}

// Package reload watches a configuration source (a local file or an
// external KV entry) and atomically republishes a validated snapshot
// whenever it changes, without interrupting in-flight requests.
package reload

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ar27111994/webhook-debugger-logger-sub003/config"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/sandbox"
	"github.com/ar27111994/webhook-debugger-logger-sub003/log"
)

// Source yields the raw configuration text to reparse on each tick.
type Source interface {
	Read(ctx context.Context) (string, error)
	// Watch, if non-nil, returns a channel that fires when the underlying
	// source changed (e.g. a file-system event). A nil channel means the
	// controller must rely solely on polling.
	Watch() (<-chan struct{}, func(), error)
}

// State is the live, atomically-swapped artifact bundle.
type State struct {
	Snapshot *config.Snapshot
	Script   *sandbox.Handle
	Schema   *jsonschema.Schema
}

// SideEffects is implemented by an adapter wiring the rate limiter and
// webhook registry, whose internal state must be reconciled after a
// reload in addition to the atomic snapshot swap.
type SideEffects interface {
	ReconcileRateLimit(limit int)
	ReconcileURLCount(ctx context.Context, count int, retentionHours float64)
	ReconcileRetentionHours(ctx context.Context, hours float64)
}

// Controller polls/watches a Source, validates changes into a new State,
// and exposes the current State via an atomic pointer.
type Controller struct {
	source  Source
	sandbox *sandbox.Sandbox

	state atomic.Pointer[State]

	lastRaw     atomic.Pointer[string]
	reloading   atomic.Bool
	lastScript  string
	lastSchema  string

	pollInterval time.Duration
	effects      SideEffects
}

// New constructs a Controller seeded with an initial config.
func New(source Source, initial *config.Config, pollInterval time.Duration, effects SideEffects) *Controller {
	c := &Controller{
		source:       source,
		sandbox:      sandbox.New(),
		pollInterval: pollInterval,
		effects:      effects,
	}
	st := &State{Snapshot: initial.Snapshot()}
	c.state.Store(st)
	return c
}

// Current returns the live State.
func (c *Controller) Current() *State {
	return c.state.Load()
}

// Run polls and (if the source supports it) watches for changes until ctx
// is cancelled. Debounces file-change notifications by ~100ms.
func (c *Controller) Run(ctx context.Context) {
	var watchCh <-chan struct{}
	var cancelWatch func()
	if c.source != nil {
		if ch, cancel, err := c.source.Watch(); err == nil && ch != nil {
			watchCh, cancelWatch = ch, cancel
		}
	}
	if cancelWatch != nil {
		defer cancelWatch()
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var debounce *time.Timer
	debounceCh := make(chan struct{})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tryReload(ctx)
		case <-watchCh:
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, func() {
				select {
				case debounceCh <- struct{}{}:
				default:
				}
			})
		case <-debounceCh:
			c.tryReload(ctx)
		}
	}
}

// tryReload drops the tick if a reload is already in flight, to avoid
// stampedes.
func (c *Controller) tryReload(ctx context.Context) {
	if !c.reloading.CompareAndSwap(false, true) {
		return
	}
	defer c.reloading.Store(false)

	raw, err := c.source.Read(ctx)
	if err != nil {
		log.Errorf("reload: read config source: %s", err)
		return
	}

	if prev := c.lastRaw.Load(); prev != nil && normalize(*prev) == normalize(raw) {
		return
	}
	c.lastRaw.Store(&raw)

	cfg, err := config.ParseBytes([]byte(raw))
	if err != nil {
		log.Errorf("reload: invalid config, keeping previous snapshot: %s", err)
		return
	}

	prevState := c.state.Load()
	next := &State{Snapshot: cfg.Snapshot(), Script: prevState.Script, Schema: prevState.Schema}

	if next.Snapshot.CustomScript != c.lastScript {
		if next.Snapshot.CustomScript == "" {
			next.Script = nil
		} else if h, err := c.sandbox.Compile(next.Snapshot.CustomScript); err != nil {
			log.Errorf("reload: custom script compile failed, clearing compiled artifact: %s", err)
			next.Script = nil
		} else {
			next.Script = h
		}
		c.lastScript = next.Snapshot.CustomScript
	}

	if next.Snapshot.JSONSchema != c.lastSchema {
		if next.Snapshot.JSONSchema == "" {
			next.Schema = nil
		} else if schema, err := compileSchema(next.Snapshot.JSONSchema); err != nil {
			log.Errorf("reload: JSON schema compile failed, clearing compiled artifact: %s", err)
			next.Schema = nil
		} else {
			next.Schema = schema
		}
		c.lastSchema = next.Snapshot.JSONSchema
	}

	c.state.Store(next)

	if c.effects != nil {
		c.effects.ReconcileRateLimit(next.Snapshot.RateLimitPerMinute)
		c.effects.ReconcileURLCount(ctx, next.Snapshot.URLCount, float64(next.Snapshot.RetentionHours))
		c.effects.ReconcileRetentionHours(ctx, float64(next.Snapshot.RetentionHours))
	}

	log.Infof("reload: configuration reload complete")
}

func compileSchema(source string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	const resourceName = "inline-schema.json"
	if err := c.AddResource(resourceName, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(resourceName)
}

func normalize(s string) string {
	return strings.TrimSpace(s)
}

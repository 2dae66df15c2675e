package main

import (
	"context"
	"crypto/tls"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ar27111994/webhook-debugger-logger-sub003/config"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/eventbus"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/orchestrator"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/ratelimit"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/registry"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/reload"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/replay"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/store"
	"github.com/ar27111994/webhook-debugger-logger-sub003/log"
)

var configFile = flag.String("config", "webhook-debugger.yml", "Configuration filename")

const (
	maxRateLimitEntries = 1000
	rateLimitWindow     = time.Minute
	sseMaxSubscribers   = 500
	registrySweepEvery  = time.Minute
	serviceName         = "webhook-debugger-logger"
)

func main() {
	flag.Parse()
	initMetrics()

	log.Infof("loading config: %s", *configFile)
	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		log.Fatalf("cannot load config %q: %s", *configFile, err)
	}
	log.SetDebug(cfg.LogDebug)
	log.Infof("loaded config: %s", cfg.String())

	if cfg.InstanceID == "" {
		cfg.InstanceID = mustGenerateToken(12)
	}

	kv, events := buildStore(cfg)
	if closer, ok := kv.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	reg := registry.New(kv)
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	if err := reg.Load(rootCtx); err != nil {
		log.Errorf("registry: load persisted state: %s", err)
	}
	if _, err := reg.EnsureCount(rootCtx, cfg.Webhook.URLCount, float64(cfg.Webhook.RetentionHours)); err != nil {
		log.Errorf("registry: initial provisioning failed: %s", err)
	}
	reg.Start(rootCtx, registrySweepEvery)
	go reportRegistrySize(rootCtx, reg, registrySweepEvery)

	limiter, err := ratelimit.New(cfg.Webhook.RateLimitPerMinute, rateLimitWindow, maxRateLimitEntries, cfg.Server.Proxy.Enable)
	if err != nil {
		log.Fatalf("cannot construct rate limiter: %s", err)
	}
	defer limiter.Close()

	bus := eventbus.New(sseMaxSubscribers, eventbus.DefaultQueueSize, eventbus.DefaultHeartbeat)
	defer bus.Close()

	orch := orchestrator.New(cfg.InstanceID, serviceName, events, nil, prometheusOrchMetrics{})
	replayEng := replay.New(events)

	effects := &reloadEffects{registry: reg, limiter: limiter}
	source := reloadSource(cfg, kv)
	reloadCtl := reload.New(source, cfg, time.Duration(cfg.Reload.PollInterval), effects)
	go reloadCtl.Run(rootCtx)

	engine := NewEngine(cfg.InstanceID, time.Duration(cfg.BackgroundDeadline), reg, limiter, reloadCtl, orch, bus)
	srv, err := NewServer(cfg, engine, reg, limiter, reloadCtl, replayEng, bus)
	if err != nil {
		log.Fatalf("cannot build server: %s", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %s", err)
		}
	case sig := <-sigCh:
		log.Infof("received signal %q, shutting down gracefully", sig)
		shutdown(cfg, srv, reg, cancelRoot)
	}
}

// shutdown stops accepting new connections, cancels the reload/sweep
// background loops, waits up to ShutdownTimeout for in-flight requests and
// their background orchestrator work, then persists the registry a final
// time before returning.
func shutdown(cfg *config.Config, srv *Server, reg *registry.Registry, cancelBackground context.CancelFunc) {
	timeout := time.Duration(cfg.ShutdownTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("graceful shutdown did not complete within %s: %s", timeout, err)
	}

	cancelBackground()
	reg.Sweep(context.Background())
	log.Infof("shutdown complete")
}

// buildStore constructs the KV + event store pair per cfg.Store.Backend.
func buildStore(cfg *config.Config) (store.KVStore, store.EventStore) {
	switch cfg.Store.Backend {
	case "redis":
		rs := store.NewRedisStore(store.RedisOptions{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			TLS:      buildRedisTLS(cfg.Store.Redis.TLS),
		})
		return rs, rs
	default:
		ms := store.NewMemoryStore()
		return ms, ms
	}
}

// buildRedisTLS builds a *tls.Config from the store's TLS settings when a
// cert/key pair is configured; returns nil (plain TCP) otherwise.
func buildRedisTLS(t config.TLS) *tls.Config {
	if t.CertFile == "" || t.KeyFile == "" {
		if !t.InsecureSkipVerify {
			return nil
		}
		return &tls.Config{InsecureSkipVerify: true}
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		log.Errorf("redis store: load TLS cert/key: %s", err)
		return nil
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, InsecureSkipVerify: t.InsecureSkipVerify}
}

// reloadSource picks a file-backed or KV-backed config source depending on
// whether reload.watch_file is set.
func reloadSource(cfg *config.Config, kv store.KVStore) reload.Source {
	path := cfg.Reload.WatchFile
	if path == "" {
		path = *configFile
	}
	return reload.FileSource{Path: path}
}

// reloadEffects adapts the rate limiter and webhook registry to
// reload.SideEffects, so a hot-reload can reconcile their internal state
// alongside the atomic snapshot swap.
type reloadEffects struct {
	registry *registry.Registry
	limiter  *ratelimit.Limiter
}

func (e *reloadEffects) ReconcileRateLimit(limit int) {
	e.limiter.SetLimit(limit)
}

func (e *reloadEffects) ReconcileURLCount(ctx context.Context, count int, retentionHours float64) {
	if _, err := e.registry.EnsureCount(ctx, count, retentionHours); err != nil {
		log.Errorf("reload: failed to scale webhook pool to %d: %s", count, err)
	}
}

func (e *reloadEffects) ReconcileRetentionHours(ctx context.Context, hours float64) {
	e.registry.ExtendRetention(ctx, hours)
}

// reportRegistrySize keeps the registryActive gauge in step with the live
// webhook pool on the same cadence as the sweeper.
func reportRegistrySize(ctx context.Context, reg *registry.Registry, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			registryActive.Set(float64(reg.Count()))
		}
	}
}

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"

	"github.com/ar27111994/webhook-debugger-logger-sub003/config"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/authgate"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/eventbus"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/ratelimit"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/registry"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/reload"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/replay"
	mw "github.com/ar27111994/webhook-debugger-logger-sub003/middleware"
	"github.com/ar27111994/webhook-debugger-logger-sub003/log"
)

// Server owns the HTTP surface: routing, middleware chain and graceful
// shutdown, fronting the teacher's http.Server with a chi.Router.
type Server struct {
	cfg *config.Config

	engine    *Engine
	registry  *registry.Registry
	limiter   *ratelimit.Limiter
	reloadCtl *reload.Controller
	replayEng *replay.Engine
	bus       *eventbus.Bus

	startedAt time.Time
	httpSrv   *http.Server

	httpsSrv        *http.Server
	autocertManager *autocert.Manager
}

// NewServer builds the chi router and wraps it in an *http.Server bound to
// cfg.Server.HTTP.ListenAddr. When cfg.Server.HTTPS.ListenAddr is set, it
// also builds a second TLS-terminating *http.Server sharing the same
// handler, sourcing certificates either from a static cert/key pair or an
// autocert.Manager, mirroring the teacher's startTLS/netListener split
// between a plain and a TLS listener.
func NewServer(cfg *config.Config, engine *Engine, reg *registry.Registry, limiter *ratelimit.Limiter, reloadCtl *reload.Controller, replayEng *replay.Engine, bus *eventbus.Bus) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		engine:    engine,
		registry:  reg,
		limiter:   limiter,
		reloadCtl: reloadCtl,
		replayEng: replayEng,
		bus:       bus,
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return mw.NewProxyMiddleware(cfg.Server.Proxy, next)
	})
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Stripped-Headers"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)
	r.Use(securityHeaders)
	r.Use(chimw.Compress(5))

	r.Get("/", s.handleRoot)
	r.Get("/info", s.handleInfo)
	r.Handle("/metrics", s.metricsGate(promhttp.Handler()))
	r.Get("/log-stream", s.handleStream)
	r.Get("/logs", s.handleLogsStub)

	r.With(s.rateLimitMiddleware).Get("/replay/{webhookId}/{itemId}", s.handleReplay)
	r.With(s.rateLimitMiddleware).Post("/replay/{webhookId}/{itemId}", s.handleReplay)

	r.Handle("/webhook/{id}", s.rateLimitMiddleware(http.HandlerFunc(s.engine.handleWebhook)))

	s.httpSrv = &http.Server{
		Addr:         cfg.Server.HTTP.ListenAddr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.HTTP.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.HTTP.WriteTimeout),
		IdleTimeout:  time.Duration(cfg.Server.HTTP.IdleTimeout),
	}

	if cfg.Server.HTTPS.ListenAddr != "" {
		handler := http.Handler(r)

		if cfg.Server.HTTPS.Autocert.CacheDir != "" {
			s.autocertManager = newAutocertManager(cfg.Server.HTTPS.Autocert)
		}
		if cfg.Server.HTTP.ForceAutocertHandler && s.autocertManager != nil {
			handler = s.autocertManager.HTTPHandler(r)
		}
		s.httpSrv.Handler = handler

		tlsConfig, err := cfg.Server.HTTPS.TLS.BuildTLSConfig(s.autocertManager)
		if err != nil {
			return nil, fmt.Errorf("cannot build TLS config: %w", err)
		}

		s.httpsSrv = &http.Server{
			Addr:         cfg.Server.HTTPS.ListenAddr,
			Handler:      r,
			TLSConfig:    tlsConfig,
			ReadTimeout:  time.Duration(cfg.Server.HTTPS.ReadTimeout),
			WriteTimeout: time.Duration(cfg.Server.HTTPS.WriteTimeout),
			IdleTimeout:  time.Duration(cfg.Server.HTTPS.IdleTimeout),
		}
	}

	return s, nil
}

// newAutocertManager builds a Let's Encrypt autocert.Manager restricted to
// ac.AllowedHosts when set.
func newAutocertManager(ac config.Autocert) *autocert.Manager {
	m := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache(ac.CacheDir),
	}
	if len(ac.AllowedHosts) > 0 {
		m.HostPolicy = autocert.HostWhitelist(ac.AllowedHosts...)
	}
	return m
}

// ListenAndServe starts serving both the plain HTTP listener and, when
// configured, the TLS listener (in a background goroutine). It blocks on
// the HTTP listener until Shutdown is called or a fatal listener error
// occurs.
func (s *Server) ListenAndServe() error {
	if s.httpsSrv != nil {
		tlsLn, err := newListener(s.httpsSrv.Addr, s.cfg.Server.HTTPS.AllowedNetworks)
		if err != nil {
			return fmt.Errorf("cannot listen for https on %q: %w", s.httpsSrv.Addr, err)
		}
		log.Infof("listening on %s (tls)", s.httpsSrv.Addr)
		go func() {
			tlsListener := tls.NewListener(tlsLn, s.httpsSrv.TLSConfig)
			if err := s.httpsSrv.Serve(tlsListener); err != nil && err != http.ErrServerClosed {
				log.Fatalf("https server error: %s", err)
			}
		}()
	}

	ln, err := newListener(s.httpSrv.Addr, s.cfg.Server.HTTP.AllowedNetworks)
	if err != nil {
		return fmt.Errorf("cannot listen for http on %q: %w", s.httpSrv.Addr, err)
	}

	log.Infof("listening on %s", s.httpSrv.Addr)
	err = s.httpSrv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and waits for in-flight
// requests to finish, bounded by ctx's deadline, on both the plain and TLS
// listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	if s.httpsSrv != nil {
		if httpsErr := s.httpsSrv.Shutdown(ctx); httpsErr != nil && err == nil {
			err = httpsErr
		}
	}
	return err
}

// netListener wraps a net.Listener, rejecting connections from remote
// addresses outside allowedNetworks before handing them to the server,
// the same way the teacher restricts its plain and TLS listeners.
type netListener struct {
	net.Listener

	allowedNetworks config.Networks
}

func newListener(laddr string, allowedNetworks config.Networks) (*netListener, error) {
	ln, err := net.Listen("tcp", laddr)
	if err != nil {
		return nil, err
	}
	return &netListener{Listener: ln, allowedNetworks: allowedNetworks}, nil
}

func (ln *netListener) Accept() (net.Conn, error) {
	for {
		conn, err := ln.Listener.Accept()
		if err != nil {
			return nil, err
		}

		if !ln.allowedNetworks.Contains(conn.RemoteAddr().String()) {
			log.Errorf("connections are not allowed from %s", conn.RemoteAddr())
			conn.Close()
			continue
		}
		return conn, nil
	}
}

// handleRoot doubles as the readiness probe (plain-text 200 for
// programmatic clients) and a minimal dashboard stub for browsers; the
// full HTML dashboard is an external collaborator.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	if accept == "" || accept == "*/*" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<html><body><h1>webhook debugger</h1><p>%d active endpoints</p></body></html>", s.registry.Count())
}

// handleInfo reports runtime metadata: instance id, uptime, active
// endpoint count and live subscriber count.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSONBody(w, http.StatusOK, map[string]any{
		"instanceId":      s.cfg.InstanceID,
		"uptimeSeconds":   int64(time.Since(s.startedAt).Seconds()),
		"activeEndpoints": s.registry.Count(),
		"subscribers":     s.bus.Count(),
	})
}

// handleLogsStub answers the logs-query surface, an external collaborator
// outside this core's scope.
func (s *Server) handleLogsStub(w http.ResponseWriter, r *http.Request) {
	respondErrorJSON(w, http.StatusNotImplemented, "log querying is served by an external collaborator")
}

// metricsGate restricts /metrics to the configured allowed networks, same
// as the teacher restricts its own metrics listener.
func (s *Server) metricsGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed := s.cfg.Server.Metrics.AllowedNetworks
		if len(allowed) > 0 && !allowed.Contains(r.RemoteAddr) {
			respondErrorJSON(w, http.StatusForbidden, "client IP not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleReplay implements C10: GET|POST /replay/:webhookId/:itemId?url=…
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhookId")
	itemID := chi.URLParam(r, "itemId")
	target := r.URL.Query().Get("url")

	snap := s.reloadCtl.Current().Snapshot

	if res := authgate.Validate(r, snap.AuthKey, snap.AllowQueryKeyAuth); !res.OK {
		respondErrorJSON(w, http.StatusUnauthorized, res.Error)
		return
	}

	if target == "" {
		respondErrorJSON(w, http.StatusBadRequest, "missing required `url` query parameter")
		return
	}

	outcome := s.replayEng.Replay(r.Context(), webhookID, itemID, target, replay.Options{
		PerAttemptTimeout: time.Duration(snap.ReplayTimeoutMs) * time.Millisecond,
		MaxRetries:        snap.ReplayMaxRetries,
	})

	if outcome.Err != nil {
		replayAttempts.WithLabelValues(webhookID, "error").Inc()
		switch outcome.Err {
		case replay.ErrNotFound:
			respondErrorJSON(w, http.StatusNotFound, "Event not found")
		default:
			if outcome.TimedOut {
				respondErrorJSON(w, http.StatusGatewayTimeout, fmt.Sprintf("replay timed out after %d attempt(s) (per-attempt timeout %dms)", outcome.Attempts, snap.ReplayTimeoutMs))
			} else {
				respondErrorJSON(w, http.StatusInternalServerError, "replay failed: upstream request could not be completed")
			}
		}
		return
	}
	replayAttempts.WithLabelValues(webhookID, "ok").Inc()

	if len(outcome.StrippedHeaders) > 0 {
		w.Header().Set("X-Stripped-Headers", fmt.Sprintf("%v", outcome.StrippedHeaders))
	}
	respondJSONBody(w, http.StatusOK, map[string]any{
		"status":             "Replayed",
		"targetUrl":          outcome.TargetURL,
		"targetResponseCode": outcome.TargetResponseCode,
		"targetResponseBody": outcome.TargetResponseBody,
		"strippedHeaders":    outcome.StrippedHeaders,
	})
}

// handleStream implements C9: GET /log-stream SSE subscription.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondErrorJSON(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := s.bus.Subscribe()
	if err != nil {
		respondErrorJSON(w, http.StatusServiceUnavailable, "subscriber limit reached")
		return
	}
	defer sub.Unsubscribe()

	sseSubscribers.Inc()
	defer sseSubscribers.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-sub.C():
			if !ok {
				return
			}
			if frame == nil {
				fmt.Fprint(w, ": heartbeat\n\n")
			} else {
				fmt.Fprintf(w, "data: %s\n\n", frame)
			}
			flusher.Flush()
		}
	}
}

// rateLimitMiddleware enforces C2 ahead of any route it wraps.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := s.limiter.DeriveKey(r)
		if !ok {
			respondErrorJSON(w, http.StatusBadRequest, "malformed client IP")
			return
		}
		res := s.limiter.Check(key, time.Now())
		if !res.Allowed {
			rateLimitRejections.WithLabelValues(maskRateLimitKey(key)).Inc()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", res.RetryAfterMs/1000+1))
			respondErrorJSON(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maskRateLimitKey bounds the cardinality of the webhook_rate_limit_rejections
// label by dropping the host-identifying suffix of the rate-limit key,
// the same masking convention internal/ratelimit applies to its eviction
// logs.
func maskRateLimitKey(key string) string {
	if idx := strings.LastIndexAny(key, ".:"); idx >= 0 {
		return key[:idx] + ".*"
	}
	return "*"
}

// securityHeaders sets conservative defaults on every response, matching
// the teacher's practice of stamping security headers at the router layer
// rather than leaving them to individual handlers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

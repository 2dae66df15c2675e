package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ar27111994/webhook-debugger-logger-sub003/config"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/authgate"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/eventbus"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/orchestrator"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/ratelimit"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/registry"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/reload"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/sandbox"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/signature"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/store"
	"github.com/ar27111994/webhook-debugger-logger-sub003/log"
)

// safeResponseDelayMax bounds how long a webhook's configured response
// delay may hold a connection open, regardless of what an operator or
// per-webhook override requests.
const safeResponseDelayMax = 30 * time.Second

// scriptTimeout bounds a single custom-script run; the sandbox terminates
// anything still running past this wall-clock deadline.
const scriptTimeout = time.Second

// Engine runs the ingestion pipeline for requests to /webhook/{id}: it
// consults the registry, auth gate, signature verifier and script sandbox
// in strict order, builds the event record, responds, and hands off to the
// background orchestrator.
type Engine struct {
	instanceID         string
	backgroundDeadline time.Duration

	registry     *registry.Registry
	limiter      *ratelimit.Limiter
	reloadCtl    *reload.Controller
	orchestrator *orchestrator.Orchestrator
	bus          *eventbus.Bus

	delayWarnOnce sync.Once
}

// NewEngine constructs an Engine. backgroundDeadline bounds how long the
// post-response persist/forward/alert pipeline may run per event before
// being abandoned (not cancelled) by the orchestrator.
func NewEngine(instanceID string, backgroundDeadline time.Duration, reg *registry.Registry, limiter *ratelimit.Limiter, reloadCtl *reload.Controller, orch *orchestrator.Orchestrator, bus *eventbus.Bus) *Engine {
	return &Engine{
		instanceID:         instanceID,
		backgroundDeadline: backgroundDeadline,
		registry:           reg,
		limiter:            limiter,
		reloadCtl:          reloadCtl,
		orchestrator:       orch,
		bus:                bus,
	}
}

// handleWebhook is the ALL /webhook/{id} route handler implementing
// spec.md §4.7 steps 1-15.
func (e *Engine) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	state := e.reloadCtl.Current()
	snap := state.Snapshot

	id := chi.URLParam(r, "id")

	// Step 1a: recursion guard (referenced from C8). A request carrying
	// this instance's own forwarding header looped back to us.
	if got := r.Header.Get(orchestrator.ForwardedByHeader); got != "" && got == e.instanceID {
		log.Errorf("webhook %s: rejecting request carrying our own %s header (forwarding loop)", id, orchestrator.ForwardedByHeader)
		respondErrorJSON(w, http.StatusUnprocessableEntity, "request loop detected")
		return
	}

	// Step 2: validate webhook id.
	if !e.registry.IsValid(id) {
		respondJSONBody(w, http.StatusNotFound, map[string]any{"error": "webhook not found or expired", "id": id})
		return
	}
	overrides, _ := e.registry.GetData(id)

	// Step 3: IP whitelist.
	if len(snap.AllowedIPs) > 0 && !snap.AllowedIPs.Contains(r.RemoteAddr) {
		respondErrorJSON(w, http.StatusForbidden, "client IP not allowed")
		return
	}

	// Step 4: authenticate.
	if res := authgate.Validate(r, snap.AuthKey, snap.AllowQueryKeyAuth); !res.OK {
		pipelineErrors.WithLabelValues("auth").Inc()
		respondErrorJSON(w, http.StatusUnauthorized, res.Error)
		return
	}

	// Step 5/6: enforce size cap, preserve the raw body byte-exact.
	raw, ok := e.readBody(w, r, snap.MaxPayloadBytes)
	if !ok {
		return
	}

	requestsTotal.WithLabelValues(id).Inc()

	// Step 7: parse JSON if enabled and content type is JSON.
	contentType := r.Header.Get("Content-Type")
	bodyStr := string(raw)
	bodyIsBase64 := !utf8.Valid(raw)
	if bodyIsBase64 {
		bodyStr = base64.StdEncoding.EncodeToString(raw)
	}
	isJSON := !bodyIsBase64 && snap.EnableJSONParsing && strings.Contains(strings.ToLower(contentType), "json")
	var parsed any
	if isJSON && len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err == nil {
			if pretty, err := json.MarshalIndent(parsed, "", "  "); err == nil {
				bodyStr = string(pretty)
			}
		} else {
			isJSON = false
		}
	}

	// Step 8: JSON schema validation.
	if isJSON && state.Schema != nil {
		if err := state.Schema.Validate(parsed); err != nil {
			pipelineErrors.WithLabelValues("schema").Inc()
			respondErrorJSON(w, http.StatusBadRequest, fmt.Sprintf("schema validation failed: %s", err))
			return
		}
	}

	// Step 9: signature verification. Never short-circuits the response.
	var sigValid *bool
	var sigProvider, sigError string
	if snap.SignatureVerification.Provider != "" {
		outcome := signature.Verify(signatureConfig(snap.SignatureVerification), r.Header, raw, time.Now())
		v := outcome.Valid
		sigValid = &v
		sigProvider = outcome.Provider
		sigError = outcome.Error
	}

	// Step 10: build the event.
	eventID := mustGenerateToken(20)
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = "req_" + uuid.NewString()
	}

	fallbackCode := snap.DefaultResponseCode
	fallbackBody := snap.DefaultResponseBody
	respHeaders := cloneStringMap(snap.DefaultResponseHeaders)
	delayMs := snap.ResponseDelayMs
	forwardURL := snap.ForwardURL
	forwardHeaders := snap.ForwardHeaders

	if overrides != nil {
		if overrides.DefaultResponseCode != 0 {
			fallbackCode = overrides.DefaultResponseCode
		}
		if overrides.DefaultResponseBody != "" {
			fallbackBody = overrides.DefaultResponseBody
		}
		for k, v := range overrides.DefaultResponseHeaders {
			respHeaders[k] = v
		}
		if overrides.ResponseDelayMs != 0 {
			delayMs = overrides.ResponseDelayMs
		}
		if overrides.ForwardURL != "" {
			forwardURL = overrides.ForwardURL
			forwardHeaders = overrides.ForwardHeaders
		}
	}

	statusCode := effectiveStatus(r, fallbackCode)

	maskedHeaders := r.Header
	if snap.MaskSensitiveData {
		maskedHeaders = maskHeaders(r.Header)
	}

	mutEvent := &sandbox.MutableEvent{
		StatusCode:      statusCode,
		ResponseBody:    fallbackBody,
		ResponseHeaders: respHeaders,
		Body:            bodyStr,
		Headers:         map[string][]string(r.Header),
		Query:           map[string][]string(r.URL.Query()),
		Method:          r.Method,
		WebhookID:       id,
	}

	// Step 11: transform via the compiled custom script, if any. The
	// reload controller keeps state.Script in sync with snap.CustomScript;
	// Run logs and swallows compile/runtime/timeout failures itself.
	if state.Script != nil {
		if err := sandbox.Run(state.Script, mutEvent, sandbox.RequestInfo{Method: r.Method, Path: r.URL.Path, Query: map[string][]string(r.URL.Query())}, scriptTimeout); err != nil {
			scriptErrors.WithLabelValues(id).Inc()
		}
	}

	// Step 12: clamp and apply the response delay.
	delay := time.Duration(delayMs) * time.Millisecond
	if delay > safeResponseDelayMax {
		delay = safeResponseDelayMax
		e.delayWarnOnce.Do(func() {
			log.Errorf("webhook %s: response delay clamped to %s", id, safeResponseDelayMax)
		})
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
		}
	}

	// Step 13: respond.
	for k, v := range mutEvent.ResponseHeaders {
		w.Header().Set(k, v)
	}
	finalBody := mutEvent.ResponseBody
	finalStatus := mutEvent.StatusCode
	if finalStatus >= 400 && (finalBody == "" || finalBody == "OK") {
		payload, _ := json.Marshal(map[string]string{"message": http.StatusText(finalStatus), "webhookId": id})
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(finalStatus)
		w.Write(payload)
	} else if looksLikeJSON(finalBody) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(finalStatus)
		w.Write([]byte(finalBody))
	} else {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		w.WriteHeader(finalStatus)
		w.Write([]byte(finalBody))
	}
	responseStatusCodes.WithLabelValues(id, fmt.Sprintf("%d", finalStatus)).Inc()

	// Step 14/15: finalize the event and hand off to background work.
	evt := store.Event{
		ID:                eventID,
		Timestamp:         startTime,
		WebhookID:         id,
		Method:            r.Method,
		Headers:           map[string][]string(maskedHeaders),
		Query:             map[string][]string(r.URL.Query()),
		Body:              mutEvent.Body,
		BodyIsBase64:      bodyIsBase64,
		ContentType:       contentType,
		SizeBytes:         int64(len(raw)),
		StatusCode:        finalStatus,
		ResponseBody:      finalBody,
		ResponseHeaders:   mutEvent.ResponseHeaders,
		ProcessingTimeMs:  time.Since(startTime).Milliseconds(),
		RemoteIP:          r.RemoteAddr,
		UserAgent:         r.Header.Get("User-Agent"),
		RequestID:         requestID,
		SignatureValid:    sigValid,
		SignatureProvider: sigProvider,
		SignatureError:    sigError,
	}

	if frame, err := json.Marshal(evt); err == nil {
		e.bus.Emit(frame)
	}

	effSnap := *snap
	effSnap.ForwardURL = forwardURL
	effSnap.ForwardHeaders = forwardHeaders

	// Detached from the request context: the handler is about to return,
	// which would cancel r.Context() before persist/forward/alert run.
	go e.orchestrator.Run(context.Background(), evt, &effSnap, e.backgroundDeadline)
}

// readBody enforces the effective payload cap (by Content-Length when
// present, else measured length) and returns the raw, byte-exact body. The
// body is read through a cachedReadCloser so a size-cap rejection can still
// report how much of the oversized payload was received.
func (e *Engine) readBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, bool) {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	if r.ContentLength > maxBytes {
		respondErrorJSON(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("payload exceeds maximum of %d bytes", maxBytes))
		return nil, false
	}
	crc := newCachedReadCloser(r.Body, int(maxBytes))
	r.Body = http.MaxBytesReader(w, crc, maxBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		respondErrorJSON(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("payload exceeds maximum of %d bytes, received at least %d", maxBytes, len(crc.Bytes())))
		return nil, false
	}
	return raw, true
}

func signatureConfig(sv config.SignatureVerification) signature.Config {
	return signature.Config{
		Provider:     sv.Provider,
		Secret:       sv.Secret,
		Algorithm:    sv.Algorithm,
		Encoding:     sv.Encoding,
		Prefix:       sv.Prefix,
		Tolerance:    time.Duration(sv.Tolerance),
		HeaderName:   sv.HeaderName,
		TimestampKey: sv.TimestampKey,
	}
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// respondErrorJSON logs message as the request's error and sends it to the
// caller wrapped in RespondError's JSON error envelope.
func respondErrorJSON(w http.ResponseWriter, status int, message string) {
	RespondError(w, status, fmt.Errorf("%s", message))
}

// respondJSONBody marshals body and sends it via RespondJSON.
func respondJSONBody(w http.ResponseWriter, status int, body map[string]any) {
	payload, err := json.Marshal(body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	RespondJSON(w, status, payload, nil)
}

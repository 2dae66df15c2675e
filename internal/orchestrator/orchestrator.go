// Package orchestrator runs the post-response background work for an
// ingested event: persisting it to the dataset sink, forwarding it to a
// configured URL with SSRF protection and retry, and firing alerts.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/slack-go/slack"

	"github.com/ar27111994/webhook-debugger-logger-sub003/config"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/ssrf"
	"github.com/ar27111994/webhook-debugger-logger-sub003/internal/store"
	"github.com/ar27111994/webhook-debugger-logger-sub003/log"
)

// ForwardedByHeader carries this instance's id on an outbound forward, so
// the ingestion gate of an instance that receives its own forwarded
// request back can detect and reject the loop.
const ForwardedByHeader = "X-Forwarded-By-Run"

const serviceHeader = "X-Forwarded-By"

var forwardSensitiveHeaders = map[string]bool{
	"authorization":     true,
	"cookie":            true,
	"set-cookie":        true,
	"x-api-key":         true,
	"api-key":           true,
	"content-length":    true,
	"host":              true,
	"connection":        true,
	"transfer-encoding": true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"upgrade":           true,
}

// Metrics receives forward-attempt/retry counts as they occur, so the
// caller can surface them however it exports metrics.
type Metrics interface {
	ForwardAttempt(webhookID, outcome string)
	ForwardRetry(webhookID string)
}

type noopMetrics struct{}

func (noopMetrics) ForwardAttempt(string, string) {}
func (noopMetrics) ForwardRetry(string)           {}

// Orchestrator runs the post-response pipeline under a caller-supplied
// deadline, logging subtask failures rather than propagating them.
type Orchestrator struct {
	instanceID  string
	serviceName string
	sink        store.DatasetSink
	httpClient  *http.Client
	resolver    ssrf.Resolver
	metrics     Metrics
}

// New constructs an Orchestrator. metrics may be nil, in which case
// forward attempts/retries are simply not reported.
func New(instanceID, serviceName string, sink store.DatasetSink, resolver ssrf.Resolver, metrics Metrics) *Orchestrator {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Orchestrator{
		instanceID:  instanceID,
		serviceName: serviceName,
		sink:        sink,
		resolver:    resolver,
		metrics:     metrics,
		httpClient: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Run executes persist/forward/alert for evt under deadline D. It returns
// once D elapses or all subtasks complete, whichever is first; subtasks
// already running continue best-effort in the background.
func (o *Orchestrator) Run(parent context.Context, evt store.Event, snap *config.Snapshot, deadline time.Duration) {
	ctx, cancel := context.WithTimeout(parent, deadline)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.persist(parent, evt)
		if snap.ForwardURL != "" {
			o.forward(parent, evt, snap)
		}
		if shouldAlert(evt, snap.AlertOn) {
			o.alert(parent, evt, snap)
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Errorf("[TIMEOUT] background tasks exceeded deadline for webhook %s", evt.WebhookID)
	}
}

func (o *Orchestrator) persist(ctx context.Context, evt store.Event) {
	if err := o.sink.Push(ctx, evt); err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "dataset") || strings.Contains(msg, "quota") || strings.Contains(msg, "limit") {
			log.Errorf("platform-limit persisting event %s: %s", evt.ID, err)
		} else {
			log.Errorf("failed to persist event %s: %s", evt.ID, err)
		}
	}
}

func (o *Orchestrator) forward(ctx context.Context, evt store.Event, snap *config.Snapshot) {
	result := ssrf.Validate(ctx, snap.ForwardURL, o.resolver)
	if !result.Safe {
		log.Errorf("SSRF blocked forward target for webhook %s: %s", evt.WebhookID, result.Error)
		return
	}

	headers := buildForwardHeaders(evt.Headers, snap.ForwardHeaders, o.serviceName, result.Host, o.instanceID)

	timeout := 10 * time.Second
	maxRetries := 3

	attempt := 0
	op := func() (*forwardResult, error) {
		if attempt > 0 {
			o.metrics.ForwardRetry(evt.WebhookID)
		}
		attempt++
		fr, err := o.sendForward(ctx, result.Href, evt.Method, headers, []byte(evt.Body), timeout)
		if err != nil {
			if !ssrf.IsTransient(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return fr, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Minute

	res, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(maxRetries)))
	if err != nil {
		o.metrics.ForwardAttempt(evt.WebhookID, "error")
		log.Errorf("forward exhausted retries for webhook %s: %s", evt.WebhookID, err)
		synthetic := store.Event{
			ID:        evt.ID + "_forward_error",
			Timestamp: time.Now(),
			WebhookID: evt.WebhookID,
			Method:    "SYNTHETIC",
			Body:      fmt.Sprintf(`{"type":"forward_error","url":%q,"transient":%v,"lastError":%q}`, result.Href, ssrf.IsTransient(err), err.Error()),
		}
		if pushErr := o.sink.Push(ctx, synthetic); pushErr != nil {
			log.Errorf("failed to persist synthetic forward_error event: %s", pushErr)
		}
		return
	}
	o.metrics.ForwardAttempt(evt.WebhookID, "ok")
	_ = res
}

type forwardResult struct {
	StatusCode int
}

func (o *Orchestrator) sendForward(ctx context.Context, url, method string, headers http.Header, body []byte, timeout time.Duration) (*forwardResult, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(actx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = headers

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return &forwardResult{StatusCode: resp.StatusCode}, nil
}

func buildForwardHeaders(inbound map[string][]string, forwardAll bool, serviceName, canonicalHost, instanceID string) http.Header {
	out := http.Header{}
	if forwardAll {
		for k, vs := range inbound {
			if forwardSensitiveHeaders[strings.ToLower(k)] {
				continue
			}
			for _, v := range vs {
				out.Add(k, v)
			}
		}
	} else if ct, ok := inbound["Content-Type"]; ok {
		for _, v := range ct {
			out.Add("Content-Type", v)
		}
	}
	out.Set(serviceHeader, serviceName)
	out.Set(ForwardedByHeader, instanceID)
	out.Set("Host", canonicalHost)
	return out
}

// shouldAlert reports whether evt's outcome triggers the alert channels,
// per the configured trigger set.
func shouldAlert(evt store.Event, alertOn []string) bool {
	if len(alertOn) == 0 {
		return false
	}
	triggers := make(map[string]bool, len(alertOn))
	for _, t := range alertOn {
		triggers[strings.ToLower(t)] = true
	}

	if triggers["error"] && evt.StatusCode >= 400 {
		return true
	}
	if triggers["4xx"] && evt.StatusCode >= 400 && evt.StatusCode < 500 {
		return true
	}
	if triggers["5xx"] && evt.StatusCode >= 500 {
		return true
	}
	if triggers["timeout"] && strings.Contains(strings.ToLower(evt.ResponseBody), "timeout") {
		return true
	}
	if triggers["signature_invalid"] && evt.SignatureValid != nil && !*evt.SignatureValid {
		return true
	}
	return false
}

func (o *Orchestrator) alert(ctx context.Context, evt store.Event, snap *config.Snapshot) {
	if snap.Alerts.Slack.WebhookURL != "" {
		o.alertSlack(ctx, evt, snap.Alerts.Slack.WebhookURL)
	}
	if snap.Alerts.Discord.WebhookURL != "" {
		o.alertDiscord(ctx, evt, snap.Alerts.Discord.WebhookURL)
	}
}

func (o *Orchestrator) alertSlack(ctx context.Context, evt store.Event, webhookURL string) {
	result := ssrf.Validate(ctx, webhookURL, o.resolver)
	if !result.Safe {
		log.Errorf("SSRF blocked Slack alert channel for webhook %s: %s", evt.WebhookID, result.Error)
		return
	}

	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("Webhook %s responded with status %d", evt.WebhookID, evt.StatusCode),
		Attachments: []slack.Attachment{
			{
				Color: alertColor(evt.StatusCode),
				Fields: []slack.AttachmentField{
					{Title: "Event ID", Value: evt.ID, Short: true},
					{Title: "Status", Value: fmt.Sprintf("%d", evt.StatusCode), Short: true},
				},
			},
		},
	}

	actx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := slack.PostWebhookContext(actx, result.Href, msg); err != nil {
		log.Errorf("slack alert failed for webhook %s: %s", evt.WebhookID, err)
	}
}

func alertColor(status int) string {
	switch {
	case status >= 500:
		return "danger"
	case status >= 400:
		return "warning"
	default:
		return "good"
	}
}

type discordEmbed struct {
	Title  string              `json:"title"`
	Color  int                 `json:"color"`
	Fields []discordEmbedField `json:"fields"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (o *Orchestrator) alertDiscord(ctx context.Context, evt store.Event, webhookURL string) {
	result := ssrf.Validate(ctx, webhookURL, o.resolver)
	if !result.Safe {
		log.Errorf("SSRF blocked Discord alert channel for webhook %s: %s", evt.WebhookID, result.Error)
		return
	}

	color := 0x2ecc71
	if evt.StatusCode >= 500 {
		color = 0xe74c3c
	} else if evt.StatusCode >= 400 {
		color = 0xf1c40f
	}

	payload := discordPayload{Embeds: []discordEmbed{{
		Title: fmt.Sprintf("Webhook %s", evt.WebhookID),
		Color: color,
		Fields: []discordEmbedField{
			{Name: "Event ID", Value: evt.ID, Inline: true},
			{Name: "Status", Value: fmt.Sprintf("%d", evt.StatusCode), Inline: true},
		},
	}}}

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("discord alert marshal failed for webhook %s: %s", evt.WebhookID, err)
		return
	}

	actx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(actx, http.MethodPost, result.Href, bytes.NewReader(raw))
	if err != nil {
		log.Errorf("discord alert request build failed for webhook %s: %s", evt.WebhookID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		log.Errorf("discord alert failed for webhook %s: %s", evt.WebhookID, err)
		return
	}
	defer resp.Body.Close()
}

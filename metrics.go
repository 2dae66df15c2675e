package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal       *prometheus.CounterVec
	responseStatusCodes *prometheus.CounterVec
	pipelineErrors      *prometheus.CounterVec
	rateLimitRejections *prometheus.CounterVec
	forwardAttempts     *prometheus.CounterVec
	forwardRetries      *prometheus.CounterVec
	replayAttempts      *prometheus.CounterVec
	scriptErrors        *prometheus.CounterVec
	sseSubscribers      prometheus.Gauge
	registryActive      prometheus.Gauge
)

func initMetrics() {
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Total number of ingested webhook requests",
		},
		[]string{"webhook_id"},
	)

	responseStatusCodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_response_status_codes",
			Help: "Distribution of effective response status codes returned to senders",
		},
		[]string{"webhook_id", "code"},
	)

	pipelineErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_pipeline_errors",
			Help: "Errors raised while running the ingestion pipeline, by stage",
		},
		[]string{"stage"},
	)

	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_rate_limit_rejections",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"key"},
	)

	forwardAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_forward_attempts",
			Help: "Attempts to forward an event to its configured target",
		},
		[]string{"webhook_id", "outcome"},
	)

	forwardRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_forward_retries",
			Help: "Retries performed while forwarding an event",
		},
		[]string{"webhook_id"},
	)

	replayAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_replay_attempts",
			Help: "Attempts to replay a stored event",
		},
		[]string{"webhook_id", "outcome"},
	)

	scriptErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_script_errors",
			Help: "Errors raised by the custom transform script sandbox",
		},
		[]string{"webhook_id"},
	)

	sseSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_sse_subscribers",
			Help: "Current number of live event-stream subscribers",
		},
	)

	registryActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_registry_active",
			Help: "Current number of non-expired registered webhooks",
		},
	)

	prometheus.MustRegister(requestsTotal, responseStatusCodes, pipelineErrors,
		rateLimitRejections, forwardAttempts, forwardRetries, replayAttempts,
		scriptErrors, sseSubscribers, registryActive)
}

// prometheusOrchMetrics adapts the package-level forward counters to the
// orchestrator.Metrics interface.
type prometheusOrchMetrics struct{}

func (prometheusOrchMetrics) ForwardAttempt(webhookID, outcome string) {
	forwardAttempts.WithLabelValues(webhookID, outcome).Inc()
}

func (prometheusOrchMetrics) ForwardRetry(webhookID string) {
	forwardRetries.WithLabelValues(webhookID).Inc()
}

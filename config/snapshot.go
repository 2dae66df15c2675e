package config

// Snapshot is the immutable configuration value the hot-reload controller
// publishes by atomic pointer swap. In-flight requests keep using whichever
// Snapshot they started with; once published a Snapshot is never mutated.
type Snapshot struct {
	AuthKey string

	AllowedIPs Networks

	MaxPayloadBytes int64

	EnableJSONParsing bool

	DefaultResponseCode    int
	DefaultResponseBody    string
	DefaultResponseHeaders map[string]string

	ResponseDelayMs int

	ForwardURL     string
	ForwardHeaders bool

	JSONSchema   string
	CustomScript string

	SignatureVerification SignatureVerification

	Alerts  Alerts
	AlertOn []string

	RateLimitPerMinute int
	URLCount           int
	RetentionHours     int

	ReplayMaxRetries int
	ReplayTimeoutMs  int

	MaskSensitiveData bool

	AllowQueryKeyAuth bool
}

// Snapshot derives the immutable, hot-reloadable configuration value from
// the raw Config. It is called once per reload; the result is published by
// the caller via an atomic pointer swap.
func (c *Config) Snapshot() *Snapshot {
	w := c.Webhook
	return &Snapshot{
		AuthKey:                 w.AuthKey,
		AllowedIPs:              w.AllowedIPs,
		MaxPayloadBytes:         int64(w.MaxPayloadSize),
		EnableJSONParsing:       true,
		DefaultResponseCode:     w.DefaultResponseCode,
		DefaultResponseBody:     w.DefaultResponseBody,
		DefaultResponseHeaders:  w.DefaultResponseHeaders,
		ResponseDelayMs:         w.ResponseDelayMs,
		ForwardURL:              w.ForwardURL,
		ForwardHeaders:          w.ForwardHeaders,
		JSONSchema:              w.JSONSchema,
		CustomScript:            w.CustomScript,
		SignatureVerification:   w.SignatureVerification,
		Alerts:                  w.Alerts,
		AlertOn:                 w.AlertOn,
		RateLimitPerMinute:      w.RateLimitPerMinute,
		URLCount:                w.URLCount,
		RetentionHours:          w.RetentionHours,
		ReplayMaxRetries:        w.ReplayMaxRetries,
		ReplayTimeoutMs:         w.ReplayTimeoutMs,
		MaskSensitiveData:       w.MaskSensitiveData,
		AllowQueryKeyAuth:       w.AllowQueryKeyAuth == nil || *w.AllowQueryKeyAuth,
	}
}

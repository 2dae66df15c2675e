package config

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/mohae/deepcopy"
	"golang.org/x/crypto/acme/autocert"
	"gopkg.in/yaml.v2"
)

var (
	defaultConfig = Config{
		Webhook: WebhookDefaults{
			DefaultResponseCode: 200,
			DefaultResponseBody: "OK",
			MaxPayloadSize:      defaultMaxPayloadSize,
			RateLimitPerMinute:  defaultRateLimitPerMinute,
			URLCount:            1,
			RetentionHours:      defaultRetentionHours,
			ReplayMaxRetries:    defaultReplayMaxRetries,
			ReplayTimeoutMs:     defaultReplayTimeoutMs,
			MaskSensitiveData:   true,
		},
		Reload: ReloadConfig{
			PollInterval: Duration(5 * time.Second),
		},
		BackgroundDeadline: Duration(10 * time.Second),
		ShutdownTimeout:    Duration(30 * time.Second),
	}

	defaultMaxPayloadSize    = ByteSize(5 << 20)
	defaultRateLimitPerMinute = 60
	defaultRetentionHours     = 24
	defaultReplayMaxRetries   = 3
	defaultReplayTimeoutMs    = 10000
)

// Config describes the top-level server configuration: listener/TLS setup,
// the webhook-wide defaults every registered URL starts from, and the
// storage/reload knobs that are not themselves part of the hot-reloadable
// snapshot.
type Config struct {
	Server Server `yaml:"server,omitempty"`

	// InstanceID identifies this running process; it is echoed back on
	// the /info endpoint and stamped into X-Forwarded-By-Run so a
	// forwarded or replayed request that loops back to the same
	// instance can be detected and rejected.
	InstanceID string `yaml:"instance_id,omitempty"`

	// Whether to print debug logs
	LogDebug bool `yaml:"log_debug,omitempty"`

	// Whether to ignore security warnings, e.g. running without an
	// auth key or allowed_ips restriction on a public listener.
	HackMePlease bool `yaml:"hack_me_please,omitempty"`

	NetworkGroups []NetworkGroups `yaml:"network_groups,omitempty"`

	Webhook WebhookDefaults `yaml:"webhook"`

	Store StoreConfig `yaml:"store,omitempty"`

	Reload ReloadConfig `yaml:"reload,omitempty"`

	// BackgroundDeadline bounds how long the post-response orchestrator
	// (persist, forward, alert) may run for a single event.
	BackgroundDeadline Duration `yaml:"background_deadline,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout,omitempty"`

	networkReg map[string]Networks

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// String implements the Stringer interface
func (c *Config) String() string {
	b, err := yaml.Marshal(withoutSensitiveInfo(c))
	if err != nil {
		panic(err)
	}
	return string(b)
}

func withoutSensitiveInfo(config *Config) *Config {
	const pswPlaceHolder = "XXX"

	// nolint: forcetypeassert // no need to check type, it is specified by function.
	c := deepcopy.Copy(config).(*Config)
	if len(c.Webhook.AuthKey) > 0 {
		c.Webhook.AuthKey = pswPlaceHolder
	}
	if len(c.Webhook.SignatureVerification.Secret) > 0 {
		c.Webhook.SignatureVerification.Secret = pswPlaceHolder
	}
	if len(c.Store.Redis.Password) > 0 {
		c.Store.Redis.Password = pswPlaceHolder
	}
	if len(c.Webhook.Alerts.Slack.WebhookURL) > 0 {
		c.Webhook.Alerts.Slack.WebhookURL = pswPlaceHolder
	}
	if len(c.Webhook.Alerts.Discord.WebhookURL) > 0 {
		c.Webhook.Alerts.Discord.WebhookURL = pswPlaceHolder
	}
	return c
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// set c to the defaults and then overwrite it with the input.
	*c = defaultConfig
	type plain Config
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if err := c.validate(); err != nil {
		return err
	}

	return checkOverflow(c.XXX, "config")
}

func (c *Config) validate() error {
	if len(c.Server.HTTP.ListenAddr) == 0 && len(c.Server.HTTPS.ListenAddr) == 0 {
		return fmt.Errorf("neither HTTP nor HTTPS not configured")
	}

	if len(c.Server.HTTPS.ListenAddr) > 0 {
		if len(c.Server.HTTPS.Autocert.CacheDir) == 0 && len(c.Server.HTTPS.CertFile) == 0 && len(c.Server.HTTPS.KeyFile) == 0 {
			return fmt.Errorf("configuration `https` is missing. " +
				"Must be specified `https.cache_dir` for autocert " +
				"OR `https.key_file` and `https.cert_file` for already existing certs")
		}
		if len(c.Server.HTTPS.Autocert.CacheDir) > 0 {
			c.Server.HTTP.ForceAutocertHandler = true
		}
	}

	if c.Webhook.URLCount < 1 {
		return fmt.Errorf("`webhook.url_count` must be at least 1")
	}

	return nil
}

func (cfg *Config) setDefaults() error {
	if cfg.Webhook.MaxPayloadSize <= 0 {
		cfg.Webhook.MaxPayloadSize = defaultMaxPayloadSize
	}
	if cfg.Webhook.RateLimitPerMinute <= 0 {
		cfg.Webhook.RateLimitPerMinute = defaultRateLimitPerMinute
	}
	if cfg.Webhook.RetentionHours <= 0 {
		cfg.Webhook.RetentionHours = defaultRetentionHours
	}
	if cfg.Webhook.ReplayMaxRetries < 0 {
		cfg.Webhook.ReplayMaxRetries = defaultReplayMaxRetries
	}
	if cfg.Webhook.ReplayTimeoutMs <= 0 {
		cfg.Webhook.ReplayTimeoutMs = defaultReplayTimeoutMs
	}
	if cfg.Webhook.DefaultResponseCode == 0 {
		cfg.Webhook.DefaultResponseCode = 200
	}
	if cfg.Webhook.AllowQueryKeyAuth == nil {
		allow := true
		cfg.Webhook.AllowQueryKeyAuth = &allow
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Reload.PollInterval == 0 {
		cfg.Reload.PollInterval = Duration(5 * time.Second)
	}
	if cfg.BackgroundDeadline == 0 {
		cfg.BackgroundDeadline = Duration(10 * time.Second)
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(30 * time.Second)
	}

	maxResponseTime := time.Duration(cfg.Webhook.ReplayTimeoutMs)*time.Millisecond +
		time.Duration(cfg.Webhook.ResponseDelayMs)*time.Millisecond

	cfg.setServerMaxResponseTime(maxResponseTime)

	var err error
	if cfg.Webhook.AllowedIPs, err = cfg.groupToNetwork(cfg.Webhook.AllowedIPsOrGroups); err != nil {
		return err
	}

	return nil
}

func (cfg *Config) setServerMaxResponseTime(maxResponseTime time.Duration) {
	if maxResponseTime < 0 {
		maxResponseTime = 0
	}

	// Give an additional minute for the response body to be sent to the
	// requester, mirroring the headroom chproxy reserves for query results.
	maxResponseTime += time.Minute
	if len(cfg.Server.HTTP.ListenAddr) > 0 && cfg.Server.HTTP.WriteTimeout == 0 {
		cfg.Server.HTTP.WriteTimeout = Duration(maxResponseTime)
	}

	if len(cfg.Server.HTTPS.ListenAddr) > 0 && cfg.Server.HTTPS.WriteTimeout == 0 {
		cfg.Server.HTTPS.WriteTimeout = Duration(maxResponseTime)
	}
}

func (c *Config) groupToNetwork(src NetworksOrGroups) (Networks, error) {
	if len(src) == 0 {
		return nil, nil
	}

	dst := make(Networks, 0)
	for _, v := range src {
		group, ok := c.networkReg[v]
		if ok {
			dst = append(dst, group...)
		} else {
			ipnet, err := stringToIPnet(v)
			if err != nil {
				return nil, err
			}
			dst = append(dst, ipnet)
		}
	}
	return dst, nil
}

// Server describes the listener configuration.
// These settings are immutable and can't be reloaded without a restart.
type Server struct {
	HTTP HTTP `yaml:"http,omitempty"`

	HTTPS HTTPS `yaml:"https,omitempty"`

	Metrics Metrics `yaml:"metrics,omitempty"`

	Proxy Proxy `yaml:"proxy,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (s *Server) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Server
	if err := unmarshal((*plain)(s)); err != nil {
		return err
	}
	return checkOverflow(s.XXX, "server")
}

// TimeoutCfg contains configurable http.Server timeouts
type TimeoutCfg struct {
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body. Default is 1m.
	ReadTimeout Duration `yaml:"read_timeout,omitempty"`

	// WriteTimeout is the maximum duration before timing out writes of
	// the response. Default is derived from replay_timeout_ms and
	// response_delay_ms.
	WriteTimeout Duration `yaml:"write_timeout,omitempty"`

	// IdleTimeout is the maximum amount of time to wait for the next
	// request. Default is 10m.
	IdleTimeout Duration `yaml:"idle_timeout,omitempty"`
}

// HTTP describes configuration for the server to listen on plain HTTP.
type HTTP struct {
	ListenAddr string `yaml:"listen_addr"`

	NetworksOrGroups NetworksOrGroups `yaml:"allowed_networks,omitempty"`

	AllowedNetworks Networks `yaml:"-"`

	// Whether to support the autocert HTTP-01 challenge handler.
	ForceAutocertHandler bool `yaml:"-"`

	TimeoutCfg `yaml:",inline"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *HTTP) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain HTTP
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if err := c.validate(); err != nil {
		return err
	}

	return checkOverflow(c.XXX, "http")
}

func (c *HTTP) validate() error {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = Duration(time.Minute)
	}

	if c.IdleTimeout == 0 {
		c.IdleTimeout = Duration(time.Minute * 10)
	}

	return nil
}

// TLS describes generic configuration for TLS connections; used for both
// HTTPS and the Redis store backend.
type TLS struct {
	CertFile           string   `yaml:"cert_file,omitempty"`
	KeyFile            string   `yaml:"key_file,omitempty"`
	Autocert           Autocert `yaml:"autocert,omitempty"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify,omitempty"`
}

// BuildTLSConfig builds a tls.Config from the TLS configuration.
func (c *TLS) BuildTLSConfig(acm *autocert.Manager) (*tls.Config, error) {
	tlsCfg := tls.Config{
		PreferServerCipherSuites: true,
		MinVersion:               tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.CurveP256,
			tls.X25519,
		},
		InsecureSkipVerify: c.InsecureSkipVerify, // nolint: gosec
	}
	if len(c.KeyFile) > 0 && len(c.CertFile) > 0 {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("cannot load cert for `cert_file`=%q, `key_file`=%q: %w",
				c.CertFile, c.KeyFile, err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else {
		if acm == nil {
			return nil, fmt.Errorf("autocert manager is not configured")
		}
		tlsCfg.GetCertificate = acm.GetCertificate
	}
	return &tlsCfg, nil
}

// HTTPS describes configuration for the server to listen on TLS, either
// via autocert/letsencrypt or a pre-existing certificate.
type HTTPS struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`

	TLS `yaml:",inline"`

	NetworksOrGroups NetworksOrGroups `yaml:"allowed_networks,omitempty"`

	AllowedNetworks Networks `yaml:"-"`

	TimeoutCfg `yaml:",inline"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *HTTPS) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain HTTPS
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if err := c.validate(); err != nil {
		return err
	}

	return checkOverflow(c.XXX, "https")
}

func (c *HTTPS) validate() error {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = Duration(time.Minute)
	}

	if c.IdleTimeout == 0 {
		c.IdleTimeout = Duration(time.Minute * 10)
	}

	if len(c.ListenAddr) == 0 {
		c.ListenAddr = ":443"
	}

	return c.validateCertConfig()
}

func (c *HTTPS) validateCertConfig() error {
	if len(c.Autocert.CacheDir) > 0 {
		if len(c.CertFile) > 0 || len(c.KeyFile) > 0 {
			return fmt.Errorf("it is forbidden to specify certificate and `https.autocert` at the same time. Choose one way")
		}
		if len(c.NetworksOrGroups) > 0 {
			return fmt.Errorf("`autocert` specification requires the https server to be without `allowed_networks` limits. " +
				"Otherwise certificates will be impossible to generate")
		}
	}

	if len(c.CertFile) > 0 && len(c.KeyFile) == 0 {
		return fmt.Errorf("`https.key_file` must be specified")
	}

	if len(c.KeyFile) > 0 && len(c.CertFile) == 0 {
		return fmt.Errorf("`https.cert_file` must be specified")
	}

	return nil
}

// Autocert configuration via Let's Encrypt. Requires port :80 to be open.
type Autocert struct {
	CacheDir string `yaml:"cache_dir,omitempty"`

	AllowedHosts []string `yaml:"allowed_hosts,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Autocert) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Autocert
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}
	return checkOverflow(c.XXX, "autocert")
}

// Metrics describes configuration to access the /metrics endpoint.
type Metrics struct {
	NetworksOrGroups NetworksOrGroups `yaml:"allowed_networks,omitempty"`

	AllowedNetworks Networks `yaml:"-"`

	Namespace string `yaml:"namespace,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Metrics) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Metrics
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}
	return checkOverflow(c.XXX, "metrics")
}

// Proxy configures trust of inbound proxy headers for client IP derivation.
type Proxy struct {
	// Enable enables parsing proxy headers. When enabled the server
	// tries the X-Forwarded-For, X-Real-IP or Forwarded header to
	// extract the client IP, or the header named below if set.
	Enable bool `yaml:"enable,omitempty"`

	Header string `yaml:"header,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Proxy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Proxy
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if !c.Enable && c.Header != "" {
		return fmt.Errorf("`proxy.header` cannot be set without enabling proxy settings")
	}

	return checkOverflow(c.XXX, "proxy")
}

// WebhookDefaults holds the webhook-wide settings a freshly generated
// webhook ID starts from. They form the body of the hot-reloadable
// Snapshot; per-webhook overrides in the registry take precedence.
type WebhookDefaults struct {
	AuthKey string `yaml:"auth_key,omitempty"`

	// AllowQueryKeyAuth permits the deprecated ?key= fallback when the
	// Authorization header is absent. Defaults to true; set false to
	// require Authorization: Bearer.
	AllowQueryKeyAuth *bool `yaml:"allow_query_key_auth,omitempty"`

	AllowedIPsOrGroups NetworksOrGroups `yaml:"allowed_ips,omitempty"`
	AllowedIPs         Networks         `yaml:"-"`

	MaxPayloadSize ByteSize `yaml:"max_payload_size,omitempty"`

	DefaultResponseCode    int               `yaml:"default_response_code,omitempty"`
	DefaultResponseBody    string            `yaml:"default_response_body,omitempty"`
	DefaultResponseHeaders map[string]string `yaml:"default_response_headers,omitempty"`

	ResponseDelayMs int `yaml:"response_delay_ms,omitempty"`

	ForwardURL     string `yaml:"forward_url,omitempty"`
	ForwardHeaders bool   `yaml:"forward_headers,omitempty"`

	JSONSchema   string `yaml:"json_schema,omitempty"`
	CustomScript string `yaml:"custom_script,omitempty"`

	MaskSensitiveData bool `yaml:"mask_sensitive_data,omitempty"`

	SignatureVerification SignatureVerification `yaml:"signature_verification,omitempty"`

	Alerts   Alerts   `yaml:"alerts,omitempty"`
	AlertOn  []string `yaml:"alert_on,omitempty"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute,omitempty"`
	URLCount           int `yaml:"url_count,omitempty"`
	RetentionHours     int `yaml:"retention_hours,omitempty"`

	ReplayMaxRetries int `yaml:"replay_max_retries,omitempty"`
	ReplayTimeoutMs  int `yaml:"replay_timeout_ms,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (w *WebhookDefaults) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*w = defaultConfig.Webhook
	type plain WebhookDefaults
	if err := unmarshal((*plain)(w)); err != nil {
		return err
	}
	return checkOverflow(w.XXX, "webhook")
}

// SignatureVerification configures provider-specific inbound signature
// checking.
type SignatureVerification struct {
	// Provider selects the verification scheme: stripe, shopify, github,
	// slack, or custom.
	Provider string `yaml:"provider,omitempty"`

	Secret string `yaml:"secret,omitempty"`

	// Algorithm and Encoding apply to the custom provider only.
	Algorithm string `yaml:"algorithm,omitempty"`
	Encoding  string `yaml:"encoding,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`

	Tolerance Duration `yaml:"tolerance,omitempty"`

	HeaderName   string `yaml:"header_name,omitempty"`
	TimestampKey string `yaml:"timestamp_key,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (s *SignatureVerification) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain SignatureVerification
	if err := unmarshal((*plain)(s)); err != nil {
		return err
	}
	return checkOverflow(s.XXX, "signature_verification")
}

// Alerts configures outbound notification targets fired when alert_on
// conditions match.
type Alerts struct {
	Slack   SlackAlert   `yaml:"slack,omitempty"`
	Discord DiscordAlert `yaml:"discord,omitempty"`
}

// SlackAlert configures a Slack incoming webhook target.
type SlackAlert struct {
	WebhookURL string `yaml:"webhook_url,omitempty"`
}

// DiscordAlert configures a Discord incoming webhook target.
type DiscordAlert struct {
	WebhookURL string `yaml:"webhook_url,omitempty"`
}

// StoreConfig selects and configures the backing store for the webhook
// registry, recorded events, and background task state.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend string      `yaml:"backend,omitempty"`
	Redis   RedisConfig `yaml:"redis,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (s *StoreConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain StoreConfig
	if err := unmarshal((*plain)(s)); err != nil {
		return err
	}
	if s.Backend != "" && s.Backend != "memory" && s.Backend != "redis" {
		return fmt.Errorf("`store.backend` must be \"memory\" or \"redis\", got %q", s.Backend)
	}
	if s.Backend == "redis" && s.Redis.Addr == "" {
		return fmt.Errorf("`store.redis.addr` must be specified when `store.backend` is \"redis\"")
	}
	return checkOverflow(s.XXX, "store")
}

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	TLS      TLS    `yaml:"tls,omitempty"`
}

// ReloadConfig configures the hot-reload controller.
type ReloadConfig struct {
	// WatchFile, if set, is fsnotify-watched for changes in addition to
	// the poll loop below; either mechanism can trigger a reload.
	WatchFile string `yaml:"watch_file,omitempty"`

	PollInterval Duration `yaml:"poll_interval,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (r *ReloadConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain ReloadConfig
	if err := unmarshal((*plain)(r)); err != nil {
		return err
	}
	return checkOverflow(r.XXX, "reload")
}

// NetworkGroups names a reusable set of CIDR networks referenced from
// allowed_networks/allowed_ips fields by name.
type NetworkGroups struct {
	Name     string   `yaml:"name"`
	Networks Networks `yaml:"networks"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (ng *NetworkGroups) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain NetworkGroups
	if err := unmarshal((*plain)(ng)); err != nil {
		return err
	}
	if len(ng.Name) == 0 {
		return fmt.Errorf("`network_group.name` must be specified")
	}
	if len(ng.Networks) == 0 {
		return fmt.Errorf("`network_group.networks` must contain at least one network")
	}
	return checkOverflow(ng.XXX, fmt.Sprintf("network_group %q", ng.Name))
}

// NetworksOrGroups is a list of strings naming either a NetworkGroups entry
// or a literal network/IP.
type NetworksOrGroups []string

// LoadFile reads, expands ${ENV_VAR} placeholders in, and parses the
// configuration at filename.
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseBytes(content)
}

// ParseBytes expands ${ENV_VAR} placeholders in and parses raw YAML
// configuration content. Shared by LoadFile and the hot-reload controller,
// which re-parses the same raw source on every poll/file-change tick.
func ParseBytes(content []byte) (*Config, error) {
	content = findAndReplacePlaceholders(content)

	cfg := &Config{}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, err
	}
	cfg.networkReg = make(map[string]Networks, len(cfg.NetworkGroups))
	for _, ng := range cfg.NetworkGroups {
		if _, ok := cfg.networkReg[ng.Name]; ok {
			return nil, fmt.Errorf("duplicate `network_groups.name` %q", ng.Name)
		}
		cfg.networkReg[ng.Name] = ng.Networks
	}

	var err error
	if cfg.Server.HTTP.AllowedNetworks, err = cfg.groupToNetwork(cfg.Server.HTTP.NetworksOrGroups); err != nil {
		return nil, err
	}
	if cfg.Server.HTTPS.AllowedNetworks, err = cfg.groupToNetwork(cfg.Server.HTTPS.NetworksOrGroups); err != nil {
		return nil, err
	}
	if cfg.Server.Metrics.AllowedNetworks, err = cfg.groupToNetwork(cfg.Server.Metrics.NetworksOrGroups); err != nil {
		return nil, err
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.checkVulnerabilities(); err != nil {
		return nil, fmt.Errorf("security breach: %w\nSet option `hack_me_please=true` to disable security errors", err)
	}
	return cfg, nil
}

var envVarRegex = regexp.MustCompile(`\${([a-zA-Z_][a-zA-Z0-9_]*)}`)

// findAndReplacePlaceholders finds all environment variables placeholders
// in the config. Each placeholder is a string like ${VAR_NAME}. They will
// be replaced with the value of the corresponding environment variable. It
// returns the new content with replaced placeholders.
func findAndReplacePlaceholders(content []byte) []byte {
	for _, match := range envVarRegex.FindAllSubmatch(content, -1) {
		envVar := os.Getenv(string(match[1]))
		if envVar != "" {
			content = bytes.ReplaceAll(content, match[0], []byte(envVar))
		}
	}

	return content
}

func (c Config) checkVulnerabilities() error {
	if c.HackMePlease {
		return nil
	}

	hasPublicListener := len(c.Server.HTTP.ListenAddr) > 0 && len(c.Server.HTTP.NetworksOrGroups) == 0 ||
		len(c.Server.HTTPS.ListenAddr) > 0 && len(c.Server.HTTPS.NetworksOrGroups) == 0

	if hasPublicListener && c.Webhook.AuthKey == "" && len(c.Webhook.AllowedIPsOrGroups) == 0 {
		return fmt.Errorf("server listens on a network without `allowed_networks` restriction, " +
			"but neither `webhook.auth_key` nor `webhook.allowed_ips` is set")
	}

	return nil
}

// Package signature verifies inbound webhook signatures for a small set
// of named provider conventions, plus a fully configurable custom scheme.
package signature

import (
	"crypto/hmac"
	"crypto/sha1" // nolint: gosec // required to match the legacy sha1 custom-provider option
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Outcome is the result of verifying a request's signature.
type Outcome struct {
	Valid    bool
	Provider string
	Error    string
}

// Config mirrors config.SignatureVerification without importing the config
// package, keeping this package dependency-free of the root module tree.
type Config struct {
	Provider     string
	Secret       string
	Algorithm    string
	Encoding     string
	Prefix       string
	Tolerance    time.Duration
	HeaderName   string
	TimestampKey string
}

// Verify dispatches to the configured provider's verification rule. rawBody
// must be the exact bytes as received, never a re-serialized form.
func Verify(cfg Config, headers http.Header, rawBody []byte, now time.Time) Outcome {
	provider := strings.ToLower(cfg.Provider)

	if cfg.Secret == "" {
		return Outcome{Provider: provider, Error: "signature secret not configured"}
	}

	switch provider {
	case "stripe":
		return verifyStripe(cfg, headers, rawBody, now)
	case "shopify":
		return verifyShopify(cfg, headers, rawBody, now)
	case "github":
		return verifyGitHub(cfg, headers, rawBody)
	case "slack":
		return verifySlack(cfg, headers, rawBody, now)
	case "custom":
		return verifyCustom(cfg, headers, rawBody, now)
	default:
		return Outcome{Provider: provider, Error: fmt.Sprintf("unknown signature provider %q", cfg.Provider)}
	}
}

func verifyStripe(cfg Config, headers http.Header, body []byte, now time.Time) Outcome {
	const provider = "stripe"
	header := headers.Get("Stripe-Signature")
	if header == "" {
		return Outcome{Provider: provider, Error: "missing Stripe-Signature header"}
	}

	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return Outcome{Provider: provider, Error: "malformed Stripe-Signature header"}
	}

	if err := checkTolerance(ts, cfg.Tolerance, now); err != nil {
		return Outcome{Provider: provider, Error: err.Error()}
	}

	mac := hmacHex(sha256.New, []byte(cfg.Secret), []byte(ts+"."+string(body)))
	if !constantTimeEqualHex(mac, v1) {
		return Outcome{Provider: provider, Error: "signature mismatch"}
	}
	return Outcome{Valid: true, Provider: provider}
}

func verifyShopify(cfg Config, headers http.Header, body []byte, now time.Time) Outcome {
	const provider = "shopify"
	header := headers.Get("X-Shopify-Hmac-Sha256")
	if header == "" {
		return Outcome{Provider: provider, Error: "missing X-Shopify-Hmac-Sha256 header"}
	}

	if ts := headers.Get("X-Shopify-Triggered-At"); ts != "" {
		if err := checkTolerance(ts, cfg.Tolerance, now); err != nil {
			return Outcome{Provider: provider, Error: err.Error()}
		}
	}

	mac := hmacBase64(sha256.New, []byte(cfg.Secret), body)
	if !constantTimeEqual(mac, header) {
		return Outcome{Provider: provider, Error: "signature mismatch"}
	}
	return Outcome{Valid: true, Provider: provider}
}

func verifyGitHub(cfg Config, headers http.Header, body []byte) Outcome {
	const provider = "github"
	header := headers.Get("X-Hub-Signature-256")
	if header == "" {
		return Outcome{Provider: provider, Error: "missing X-Hub-Signature-256 header"}
	}
	expected, found := strings.CutPrefix(header, "sha256=")
	if !found {
		return Outcome{Provider: provider, Error: "malformed X-Hub-Signature-256 header"}
	}

	mac := hmacHex(sha256.New, []byte(cfg.Secret), body)
	if !constantTimeEqualHex(mac, expected) {
		return Outcome{Provider: provider, Error: "signature mismatch"}
	}
	return Outcome{Valid: true, Provider: provider}
}

func verifySlack(cfg Config, headers http.Header, body []byte, now time.Time) Outcome {
	const provider = "slack"
	sig := headers.Get("X-Slack-Signature")
	ts := headers.Get("X-Slack-Request-Timestamp")
	if sig == "" || ts == "" {
		return Outcome{Provider: provider, Error: "missing X-Slack-Signature or X-Slack-Request-Timestamp header"}
	}

	if err := checkTolerance(ts, cfg.Tolerance, now); err != nil {
		return Outcome{Provider: provider, Error: err.Error()}
	}

	expected, found := strings.CutPrefix(sig, "v0=")
	if !found {
		return Outcome{Provider: provider, Error: "malformed X-Slack-Signature header"}
	}

	base := "v0:" + ts + ":" + string(body)
	mac := hmacHex(sha256.New, []byte(cfg.Secret), []byte(base))
	if !constantTimeEqualHex(mac, expected) {
		return Outcome{Provider: provider, Error: "signature mismatch"}
	}
	return Outcome{Valid: true, Provider: provider}
}

func verifyCustom(cfg Config, headers http.Header, body []byte, now time.Time) Outcome {
	const provider = "custom"
	if cfg.HeaderName == "" {
		return Outcome{Provider: provider, Error: "custom provider requires `header_name`"}
	}
	header := headers.Get(cfg.HeaderName)
	if header == "" {
		return Outcome{Provider: provider, Error: fmt.Sprintf("missing %s header", cfg.HeaderName)}
	}
	value := strings.TrimPrefix(header, cfg.Prefix)

	if cfg.TimestampKey != "" {
		if ts := headers.Get(cfg.TimestampKey); ts != "" {
			if err := checkTolerance(ts, cfg.Tolerance, now); err != nil {
				return Outcome{Provider: provider, Error: err.Error()}
			}
		}
	}

	var mac string
	switch strings.ToLower(cfg.Algorithm) {
	case "sha1":
		mac = hmacDigest(sha1.New, []byte(cfg.Secret), body, cfg.Encoding)
	case "sha256", "":
		mac = hmacDigest(sha256.New, []byte(cfg.Secret), body, cfg.Encoding)
	default:
		return Outcome{Provider: provider, Error: fmt.Sprintf("unsupported algorithm %q", cfg.Algorithm)}
	}

	if !constantTimeEqual(mac, value) {
		return Outcome{Provider: provider, Error: "signature mismatch"}
	}
	return Outcome{Valid: true, Provider: provider}
}

func checkTolerance(tsRaw string, tolerance time.Duration, now time.Time) error {
	if tolerance <= 0 {
		return nil
	}
	sec, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed timestamp %q", tsRaw)
	}
	ts := time.Unix(sec, 0)
	age := now.Sub(ts)
	if age < 0 {
		age = -age
	}
	if age > tolerance {
		return fmt.Errorf("timestamp outside tolerance window")
	}
	return nil
}

func hmacHex(newHash func() hash.Hash, secret, body []byte) string {
	return hex.EncodeToString(hmacSum(newHash, secret, body))
}

func hmacBase64(newHash func() hash.Hash, secret, body []byte) string {
	return base64.StdEncoding.EncodeToString(hmacSum(newHash, secret, body))
}

func hmacDigest(newHash func() hash.Hash, secret, body []byte, encoding string) string {
	if strings.EqualFold(encoding, "base64") {
		return hmacBase64(newHash, secret, body)
	}
	return hmacHex(newHash, secret, body)
}

func hmacSum(newHash func() hash.Hash, secret, body []byte) []byte {
	mac := hmac.New(newHash, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

func constantTimeEqualHex(computedHex, given string) bool {
	computed, err := hex.DecodeString(computedHex)
	if err != nil {
		return false
	}
	givenBytes, err := hex.DecodeString(given)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(computed, givenBytes) == 1
}

func constantTimeEqual(computed, given string) bool {
	return subtle.ConstantTimeCompare([]byte(computed), []byte(given)) == 1
}

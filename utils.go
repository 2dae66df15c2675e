package main

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ar27111994/webhook-debugger-logger-sub003/log"
)

const maskSentinel = "[MASKED]"

// crockford32Alphabet is Crockford's base32 alphabet: no I, L, O, U to avoid
// transcription mistakes, used for webhook ids, event ids and request ids.
const crockford32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// generateToken returns a random printable token at least 10 characters
// long, encoded with Crockford's base32 alphabet.
func generateToken(n int) (string, error) {
	if n < 10 {
		n = 10
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cannot generate random token: %w", err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = crockford32Alphabet[int(b)%len(crockford32Alphabet)]
	}
	return string(out), nil
}

// mustGenerateToken is generateToken with a log-and-fallback path for call
// sites that cannot propagate an error (e.g. ID generation inside a hot
// request path where failure should degrade, not abort ingestion).
func mustGenerateToken(n int) string {
	tok, err := generateToken(n)
	if err != nil {
		log.Errorf("token generation fallback: %s", err)
		return fmt.Sprintf("fallback%d", n)
	}
	return tok
}

// sensitiveHeaders lists header names (lowercase) masked in persisted
// events when maskSensitiveData is enabled.
var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
	"x-api-key":     true,
	"api-key":       true,
}

// maskHeaders returns a copy of h with any sensitive header value replaced
// by maskSentinel. The original header map is left untouched.
func maskHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if sensitiveHeaders[strings.ToLower(k)] {
			out[k] = []string{maskSentinel}
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}

// effectiveStatus resolves the response status code to apply: the
// `__status` query override when present and within [100, 600), otherwise
// fallback.
func effectiveStatus(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("__status")
	if raw == "" {
		return fallback
	}
	code, err := strconv.Atoi(raw)
	if err != nil || code < 100 || code >= 600 {
		return fallback
	}
	return code
}

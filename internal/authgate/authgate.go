// Package authgate implements the Bearer-token-or-query-param auth check
// shared by every route that requires a configured auth key.
package authgate

import (
	"crypto/subtle"
	"net/http"

	"github.com/ar27111994/webhook-debugger-logger-sub003/log"
)

// Result is the outcome of Validate.
type Result struct {
	OK    bool
	Error string
}

// Validate checks r against expectedKey. An empty expectedKey always
// succeeds. The token is read from Authorization: Bearer first, then,
// when allowQueryKey is set, falls back to the ?key= query parameter
// (logging a deprecation notice once per request), compared in constant
// time.
func Validate(r *http.Request, expectedKey string, allowQueryKey bool) Result {
	if expectedKey == "" {
		return Result{OK: true}
	}

	headers := r.Header.Values("Authorization")
	if len(headers) > 1 {
		return Result{Error: "multiple Authorization headers"}
	}

	var token string
	var found bool

	if len(headers) == 1 {
		const prefix = "Bearer "
		h := headers[0]
		if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
			return Result{Error: "malformed Authorization header"}
		}
		token = h[len(prefix):]
		found = true
	}

	if !found && allowQueryKey {
		if q := r.URL.Query().Get("key"); q != "" {
			log.Infof("authgate: ?key= query parameter auth is deprecated, use Authorization: Bearer instead")
			token = q
			found = true
		}
	}

	if !found {
		return Result{Error: "missing"}
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(expectedKey)) != 1 {
		return Result{Error: "invalid"}
	}
	return Result{OK: true}
}

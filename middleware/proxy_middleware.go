package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/ar27111994/webhook-debugger-logger-sub003/config"
)

const (
	xForwardedForHeader = "X-Forwarded-For"
	xRealIPHeader       = "X-Real-Ip"
	forwardedHeader     = "Forwarded"
)

// ProxyMiddleware rewrites r.RemoteAddr with the client IP derived from
// trusted proxy headers, so that downstream rate limiting, SSRF checks and
// allow-lists see the real originating address rather than the proxy's.
type ProxyMiddleware struct {
	proxy config.Proxy

	next http.Handler
}

func NewProxyMiddleware(proxy config.Proxy, next http.Handler) *ProxyMiddleware {
	return &ProxyMiddleware{
		proxy: proxy,
		next:  next,
	}
}

func (m *ProxyMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip, ok := m.getIP(r)
	if !ok {
		http.Error(w, "malformed client IP", http.StatusBadRequest)
		return
	}
	if ip != "" {
		r.RemoteAddr = ip
	}
	m.next.ServeHTTP(w, r)
}

// getIP returns the derived client IP and whether derivation succeeded. An
// empty ip with ok=true means "use r.RemoteAddr unchanged" (proxy trust
// disabled, or no proxy header present).
func (m *ProxyMiddleware) getIP(r *http.Request) (ip string, ok bool) {
	if !m.proxy.Enable {
		return "", true
	}

	if m.proxy.Header != "" {
		v := r.Header.Get(m.proxy.Header)
		if v == "" {
			return "", true
		}
		if net.ParseIP(v) == nil {
			return "", false
		}
		return v, true
	}

	return DeriveClientIP(r)
}

// DeriveClientIP extracts the left-most IP literal from X-Forwarded-For,
// X-Real-IP or a RFC 7239 Forwarded header, in that order. It returns
// ok=false if a candidate header is present but does not parse as a
// syntactically valid IP literal.
func DeriveClientIP(r *http.Request) (ip string, ok bool) {
	var candidate string

	if fwd := r.Header.Get(xForwardedForHeader); fwd != "" {
		candidate = extractFirstMatchFromIPList(fwd)
	} else if fwd := r.Header.Get(xRealIPHeader); fwd != "" {
		candidate = extractFirstMatchFromIPList(fwd)
	} else if fwd := r.Header.Get(forwardedHeader); fwd != "" {
		// See: https://tools.ietf.org/html/rfc7239.
		candidate = parseForwardedHeader(fwd)
	}

	if candidate == "" {
		return "", true
	}

	host := candidate
	if h, _, err := net.SplitHostPort(candidate); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")

	if net.ParseIP(host) == nil {
		return "", false
	}

	return host, true
}

func extractFirstMatchFromIPList(ipList string) string {
	if ipList == "" {
		return ""
	}
	s := strings.Index(ipList, ",")
	if s == -1 {
		s = len(ipList)
	}

	return strings.TrimSpace(ipList[:s])
}

func parseForwardedHeader(fwd string) string {
	splits := strings.Split(fwd, ";")
	if len(splits) == 0 {
		return ""
	}

	for _, split := range splits {
		trimmed := strings.TrimSpace(split)
		if strings.HasPrefix(trimmed, "for=") {
			forSplits := strings.Split(trimmed, ",")
			if len(forSplits) == 0 {
				return ""
			}

			return strings.Trim(strings.TrimSpace(forSplits[0][len("for="):]), `"`)
		}
	}

	return ""
}

// Package ssrf validates outbound target URLs before the forwarder or
// replay engine is allowed to contact them, rejecting anything that
// resolves into a private, loopback, link-local or cloud-metadata range.
package ssrf

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Reason enumerates why validation failed.
type Reason string

const (
	ReasonNone                      Reason = ""
	ReasonInvalidURL                Reason = "INVALID_URL"
	ReasonProtocolNotAllowed        Reason = "PROTOCOL_NOT_ALLOWED"
	ReasonCredentialsNotAllowed     Reason = "CREDENTIALS_NOT_ALLOWED"
	ReasonHostnameResolutionFailed  Reason = "HOSTNAME_RESOLUTION_FAILED"
	ReasonInternalIP                Reason = "INTERNAL_IP"
)

// Result is the outcome of Validate.
type Result struct {
	Safe  bool
	Href  string
	Host  string
	Error Reason
}

// ResolveTimeout bounds DNS resolution; the spec requires at least 5s.
var ResolveTimeout = 5 * time.Second

var blockedRanges = mustParseCIDRs(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"169.254.169.254/32",
	"100.100.100.200/32",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"255.255.255.255/32",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("BUG: invalid blocked CIDR %q: %s", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

func isBlocked(ip net.IP) bool {
	for _, n := range blockedRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Validate parses rawURL, resolves its host, and rejects it if any
// resolved address falls in a blocked range. A nil resolver uses
// net.DefaultResolver.
func Validate(ctx context.Context, rawURL string, resolver Resolver) Result {
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Result{Error: ReasonInvalidURL}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return Result{Error: ReasonProtocolNotAllowed}
	}

	if u.User != nil {
		return Result{Error: ReasonCredentialsNotAllowed}
	}

	host := u.Hostname()

	if literal := net.ParseIP(host); literal != nil {
		if isBlocked(literal) {
			return Result{Error: ReasonInternalIP}
		}
		return Result{Safe: true, Href: u.String(), Host: host}
	}

	rctx, cancel := context.WithTimeout(ctx, ResolveTimeout)
	defer cancel()

	addrs, err := resolver.LookupIPAddr(rctx, host)
	if err != nil || len(addrs) == 0 {
		return Result{Error: ReasonHostnameResolutionFailed}
	}

	for _, a := range addrs {
		if isBlocked(a.IP) {
			return Result{Error: ReasonInternalIP}
		}
	}

	return Result{Safe: true, Href: u.String(), Host: host}
}

// IsTransient reports whether an error from a dial/forward attempt should
// be retried, matching the transient code set shared by the forwarder and
// replay engine.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	for _, marker := range []string{
		"connection reset", "connection refused", "i/o timeout",
		"timeout", "no route to host", "network is unreachable",
		"no such host", "EOF",
	} {
		if strings.Contains(strings.ToLower(s), marker) {
			return true
		}
	}
	return false
}

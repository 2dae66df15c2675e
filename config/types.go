package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ByteSize is a size in bytes parsed from strings like "10MB" or "1GB".
type ByteSize float64

const (
	_           = iota
	KB ByteSize = 1 << (10 * iota)
	MB
	GB
	TB
)

var (
	bytesPattern   *regexp.Regexp = regexp.MustCompile(`(?i)^(-?\d+(?:\.\d+)?)([KMGT]B?|B)$`)
	errInvalidSize                = errors.New("wrong size format: must be a positive integer with a unit of measurement like M, MB, G, GB, T or TB")
)

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (ds *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	parts := bytesPattern.FindStringSubmatch(strings.TrimSpace(s))
	if len(parts) < 3 {
		return errInvalidSize
	}

	value, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || value <= 0 {
		return errInvalidSize
	}

	unit := strings.ToUpper(parts[2])
	switch unit[:1] {
	case "T":
		*ds = ByteSize(value) * TB
	case "G":
		*ds = ByteSize(value) * GB
	case "M":
		*ds = ByteSize(value) * MB
	case "K":
		*ds = ByteSize(value) * KB
	default:
		*ds = ByteSize(value)
	}

	return nil
}

// Duration is a time.Duration that can be unmarshaled from either a Go
// duration string ("5s") or a bare number of seconds, matching the loose
// YAML shapes operators tend to write for timing knobs.
type Duration time.Duration

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}

	return nil
}

// Networks is a list of IPNet entities used for CIDR allow-lists.
type Networks []*net.IPNet

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (n *Networks) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s []string
	if err := unmarshal(&s); err != nil {
		return err
	}
	networks := make(Networks, len(s))
	for i, v := range s {
		ipnet, err := stringToIPnet(v)
		if err != nil {
			return err
		}
		networks[i] = ipnet
	}
	*n = networks
	return nil
}

// Contains reports whether addr (a bare IP or "ip:port") falls within any
// of the configured networks. An empty list means "allow everything".
func (n Networks) Contains(addr string) bool {
	if len(n) == 0 {
		return true
	}

	h := addr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		h = host
	}

	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}

	for _, ipnet := range n {
		if ipnet.Contains(ip) {
			return true
		}
	}

	return false
}

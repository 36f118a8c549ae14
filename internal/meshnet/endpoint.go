package meshnet

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint is an external transport address that supports both IP and
// hostname hosts, serialized as "host:port" on the wire and in config
// files. The zero value is not a valid endpoint; use ParseEndpoint.
type Endpoint struct {
	Host string
	Port uint16
}

// ParseEndpoint parses a "host:port" string. The host may be a hostname,
// an IPv4 address, or a bracketed IPv6 address.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint port %q: %w", s, err)
	}
	return Endpoint{Host: host, Port: uint16(port)}, nil
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// MarshalJSON/UnmarshalJSON render the endpoint as its "host:port" string
// form, matching the wire and config-file shape.
func (e Endpoint) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(e.String())), nil
}

func (e *Endpoint) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return err
	}
	parsed, err := ParseEndpoint(s)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// IsHostUnspecified reports whether the endpoint's host is the all-zeros
// address, the sentinel a peer uses to mean "fill in my host, keep my
// port" (see endpoint injection, §4.8).
func (e Endpoint) IsHostUnspecified() bool {
	ip := net.ParseIP(e.Host)
	return ip != nil && ip.IsUnspecified()
}

// Resolve resolves the endpoint's host via DNS (a no-op for literal IPs)
// and returns a transport address string suitable for the tunnel driver.
func (e Endpoint) Resolve(ctx context.Context) (string, error) {
	host := strings.TrimSuffix(strings.TrimPrefix(e.Host, "["), "]")
	if ip := net.ParseIP(host); ip != nil {
		return e.String(), nil
	}
	resolver := net.DefaultResolver
	ips, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", host, err)
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("resolve %q: no addresses", host)
	}
	return net.JoinHostPort(ips[0].String(), strconv.Itoa(int(e.Port))), nil
}

// EqualEndpoint reports whether a and b are the same endpoint, treating
// nil as distinct from any concrete endpoint.
func EqualEndpoint(a, b *Endpoint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ContainsEndpoint reports whether e appears in candidates.
func ContainsEndpoint(candidates []Endpoint, e Endpoint) bool {
	for _, c := range candidates {
		if c == e {
			return true
		}
	}
	return false
}

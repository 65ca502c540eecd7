package target

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// A route's raw target can take three shapes: a bare port number, a
// "host:port" pair, or a full http(s) URL. Resolve normalizes all of them
// into a single canonical triple so the rest of the proxy never re-parses
// raw values ad hoc.
type Target struct {
	Scheme string
	Host   string
	Port   int
}

var ErrInvalidTarget = errors.New("invalid target")

// String renders the canonical scheme://host:port form.
func (t Target) String() string {
	return t.Scheme + "://" + net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) IsZero() bool {
	return t.Host == "" && t.Port == 0
}

// HostPort returns the dial address without the scheme.
func (t Target) HostPort() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Resolve parses a raw target value as found in the route config. Numeric
// values become a local port; strings go through ResolveString.
func Resolve(raw any) (Target, error) {
	switch v := raw.(type) {
	case int:
		return fromPort(v)
	case int64:
		return fromPort(int(v))
	case float64:
		if v != float64(int(v)) {
			return Target{}, fmt.Errorf("%w: non-integer port %v", ErrInvalidTarget, v)
		}
		return fromPort(int(v))
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return Target{}, fmt.Errorf("%w: non-integer port %q", ErrInvalidTarget, v.String())
		}
		return fromPort(int(n))
	case string:
		return ResolveString(v)
	default:
		return Target{}, fmt.Errorf("%w: unsupported value %v", ErrInvalidTarget, raw)
	}
}

// ResolveString parses the string forms: a numeric port, a full URL, or a
// host:port pair. A URL without an explicit port is rejected rather than
// defaulting to 80/443.
func ResolveString(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, fmt.Errorf("%w: empty value", ErrInvalidTarget)
	}

	if n, err := strconv.Atoi(s); err == nil {
		return fromPort(n)
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, s)
		}
		scheme := strings.ToLower(u.Scheme)
		if scheme != "http" && scheme != "https" {
			return Target{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
		}
		host := u.Hostname()
		portStr := u.Port()
		if host == "" || portStr == "" {
			return Target{}, fmt.Errorf("%w: %q must include host and explicit port", ErrInvalidTarget, s)
		}
		port, err := parsePort(portStr)
		if err != nil {
			return Target{}, err
		}
		return Target{Scheme: scheme, Host: host, Port: port}, nil
	}

	if i := strings.LastIndex(s, ":"); i >= 0 {
		host, portStr := s[:i], s[i+1:]
		if host == "" {
			return Target{}, fmt.Errorf("%w: %q has empty host", ErrInvalidTarget, s)
		}
		host = strings.Trim(host, "[]") // bracketed IPv6 literal
		port, err := parsePort(portStr)
		if err != nil {
			return Target{}, err
		}
		return Target{Scheme: "http", Host: host, Port: port}, nil
	}

	return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, s)
}

func fromPort(port int) (Target, error) {
	if port <= 0 || port > 65535 {
		return Target{}, fmt.Errorf("%w: port %d out of range", ErrInvalidTarget, port)
	}
	return Target{Scheme: "http", Host: "127.0.0.1", Port: port}, nil
}

func parsePort(s string) (int, error) {
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: port %q is not numeric", ErrInvalidTarget, s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("%w: port %q out of range", ErrInvalidTarget, s)
	}
	return n, nil
}

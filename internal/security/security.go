// Package security guards the forwarding path: it checks that hostnames are
// shaped like hostnames (no header-injection material, RFC 1035 limits) and
// that upstream targets do not point the proxy at private or cloud-metadata
// address space (SSRF). Loopback is deliberately allowed; forwarding to
// 127.0.0.1 is the whole point of a local-development proxy.
package security

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strings"
	"time"
)

// Block reason classes, used as metric labels.
const (
	ReasonMetadata     = "metadata_endpoint"
	ReasonPrivateRange = "private_network"
	ReasonResolve      = "resolution_failed"
	ReasonHostname     = "invalid_hostname"
)

// Block describes a rejected upstream. A nil *Block means the target is
// allowed.
type Block struct {
	Class  string // stable class for metrics
	Reason string // operator-facing detail
}

func (b *Block) Error() string { return b.Reason }

// Validator applies hostname-shape and SSRF rules. Construct it once with
// the startup config; AllowPrivate short-circuits the network checks for
// users who intentionally proxy into private ranges.
type Validator struct {
	AllowPrivate   bool
	ResolveTimeout time.Duration

	// Lookup is swappable for tests; defaults to the system resolver.
	Lookup func(ctx context.Context, host string) ([]netip.Addr, error)
}

func NewValidator(allowPrivate bool) *Validator {
	return &Validator{
		AllowPrivate:   allowPrivate,
		ResolveTimeout: 3 * time.Second,
		Lookup:         systemLookup,
	}
}

func systemLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// metadataHosts are well-known cloud metadata endpoints, rejected by name
// before any DNS resolution happens.
var metadataHosts = map[string]struct{}{
	"169.254.169.254":          {},
	"metadata.google.internal": {},
	"metadata":                 {},
}

var blockedRanges = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
}

// firstLabelRE enforces the RFC 1035 shape of the leading label: up to 63
// chars, alphanumeric plus hyphen, no leading or trailing hyphen.
var firstLabelRE = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

const (
	maxHostnameLen = 253
	maxLabelLen    = 63
)

// ValidateHostname checks the lexical shape of a hostname before it is ever
// used to build an upstream request. It rejects control characters outright
// to close off CRLF/header injection.
func (v *Validator) ValidateHostname(host string) (bool, string) {
	if host == "" {
		return false, "empty hostname"
	}
	for _, c := range host {
		if c == '\r' || c == '\n' || c < 0x20 || c == 0x7f {
			return false, "hostname contains control characters"
		}
	}
	for _, c := range host {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '.' && c != '-' {
			return false, fmt.Sprintf("hostname contains invalid character %q", c)
		}
	}
	if len(host) > maxHostnameLen {
		return false, fmt.Sprintf("hostname exceeds the RFC 1035 limit of %d characters", maxHostnameLen)
	}
	labels := strings.Split(host, ".")
	for _, label := range labels {
		if label == "" {
			return false, "hostname contains an empty label"
		}
		if len(label) > maxLabelLen {
			return false, fmt.Sprintf("label %q exceeds the RFC 1035 limit of %d characters", label, maxLabelLen)
		}
	}
	if !firstLabelRE.MatchString(labels[0]) {
		return false, fmt.Sprintf("label %q must start and end with an alphanumeric character", labels[0])
	}
	return true, ""
}

// ValidateUpstreamTarget decides whether the proxy may open a connection to
// host:port. It runs on every request, not just at route registration, so a
// DNS record that later repoints into a private range is still caught.
func (v *Validator) ValidateUpstreamTarget(ctx context.Context, host string, port int) *Block {
	if v.AllowPrivate {
		return nil
	}

	lowered := strings.ToLower(strings.TrimSuffix(host, "."))
	if _, ok := metadataHosts[lowered]; ok {
		return &Block{
			Class:  ReasonMetadata,
			Reason: fmt.Sprintf("upstream %q is a cloud metadata endpoint", host),
		}
	}

	addrs, err := v.resolve(ctx, host)
	if err != nil || len(addrs) == 0 {
		return &Block{
			Class:  ReasonResolve,
			Reason: fmt.Sprintf("cannot resolve upstream host %q", host),
		}
	}

	for _, addr := range addrs {
		addr = addr.Unmap()
		if addr.IsLoopback() {
			continue // 127.0.0.0/8 and ::1 are the common local-dev case
		}
		for _, prefix := range blockedRanges {
			if prefix.Contains(addr) {
				return &Block{
					Class:  ReasonPrivateRange,
					Reason: fmt.Sprintf("upstream %q resolves to %s in private/SSRF-blocked range %s", host, addr, prefix),
				}
			}
		}
	}
	return nil
}

func (v *Validator) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	// IP literals need no DNS round-trip.
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return []netip.Addr{addr}, nil
	}
	timeout := v.ResolveTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return v.Lookup(ctx, host)
}

package proxy

import (
	"net/http"
	"strings"
)

// hopHeaders are meaningful only for a single transport leg and must not
// cross the proxy (RFC 7230 §6.1).
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// spoofableHeaders are client-supplied forwarding headers. They are removed
// so a client cannot forge its apparent origin; the proxy currently does not
// add its own replacements, so upstreams do not see the real client IP.
var spoofableHeaders = []string{
	"Forwarded",
	"X-Forwarded-For",
	"X-Real-IP",
}

// connectionTokens lists the header names carried in Connection values,
// which are hop-by-hop by nomination.
func connectionTokens(h http.Header) []string {
	var tokens []string
	for _, value := range h.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				tokens = append(tokens, token)
			}
		}
	}
	return tokens
}

// sanitizeRequestHeaders builds the upstream-bound header set: hop-by-hop
// and spoofable forwarding headers dropped, everything else preserved.
// Accept-Encoding is also dropped so the transport negotiates compression
// itself and hands back a decoded body.
func sanitizeRequestHeaders(h http.Header) http.Header {
	sanitized := make(http.Header, len(h))
	for k, vv := range h {
		for _, v := range vv {
			sanitized.Add(k, v)
		}
	}
	for _, name := range connectionTokens(h) {
		sanitized.Del(name)
	}
	for _, name := range hopHeaders {
		sanitized.Del(name)
	}
	for _, name := range spoofableHeaders {
		sanitized.Del(name)
	}
	sanitized.Del("Accept-Encoding")
	return sanitized
}

// sanitizeResponseHeaders builds the client-bound header set. Multi-valued
// headers (repeated Vary, Link, Set-Cookie) survive as separate entries.
// Content-Length and Content-Encoding are dropped because the body has been
// re-read into memory and the original framing no longer applies.
func sanitizeResponseHeaders(h http.Header) http.Header {
	sanitized := make(http.Header, len(h))
	for k, vv := range h {
		for _, v := range vv {
			sanitized.Add(k, v)
		}
	}
	for _, name := range connectionTokens(h) {
		sanitized.Del(name)
	}
	for _, name := range hopHeaders {
		sanitized.Del(name)
	}
	sanitized.Del("Content-Length")
	sanitized.Del("Content-Encoding")
	return sanitized
}

// copyHeader copies headers from the source to the destination, preserving
// value multiplicity.
func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

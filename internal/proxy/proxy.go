// Package proxy implements the wildcard request handler: subdomain
// extraction, route lookup, upstream validation, pooled forwarding with
// retries, and header sanitization in both directions.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devhost-sh/devhost/internal/config"
	applog "github.com/devhost-sh/devhost/internal/log"
	"github.com/devhost-sh/devhost/internal/metrics"
	"github.com/devhost-sh/devhost/internal/routes"
	"github.com/devhost-sh/devhost/internal/security"
	"github.com/devhost-sh/devhost/internal/target"
)

const defaultRequestTimeout = 30 * time.Second

// Handler routes every inbound request by Host subdomain. One instance is
// created at startup and shared across requests; all of its collaborators
// are safe for concurrent use.
type Handler struct {
	domain    string
	aliases   map[string]struct{}
	routeCach *routes.Cache
	validator *security.Validator
	client    *Client
	collector *metrics.Collector

	logRequests    bool
	requestTimeout time.Duration
	connectTimeout time.Duration
}

func NewHandler(cfg *config.Config, cache *routes.Cache, validator *security.Validator, client *Client, collector *metrics.Collector) *Handler {
	aliases := map[string]struct{}{
		"localhost": {},
		"127.0.0.1": {},
		"::1":       {},
	}
	if host := cfg.ListenHost(); host != "" {
		aliases[strings.ToLower(host)] = struct{}{}
	}
	return &Handler{
		domain:         strings.ToLower(cfg.Domain),
		aliases:        aliases,
		routeCach:      cache,
		validator:      validator,
		client:         client,
		collector:      collector,
		logRequests:    cfg.LogRequests,
		requestTimeout: defaultRequestTimeout,
		connectTimeout: cfg.ConnectTimeout,
	}
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := ensureRequestID(r)
	w.Header().Set("X-Request-ID", requestID)

	subdomain := ""
	status := 0
	defer func() {
		elapsed := time.Since(start)
		h.collector.Record(subdomain, status, elapsed)
		metrics.ObserveProxyResponse(subdomain, r.Method, status, elapsed)
		if h.logRequests {
			logRequest(r, subdomain, status, elapsed, requestID)
		}
	}()

	sub, errStatus, errMsg := h.resolveSubdomain(r.Host)
	if errStatus != 0 {
		status = errStatus
		h.writeError(w, requestID, status, errMsg)
		return
	}
	subdomain = sub

	table := h.routeCach.Routes()
	entry, ok := table.Lookup(subdomain)
	if !ok {
		status = http.StatusNotFound
		h.writeError(w, requestID, status,
			fmt.Sprintf("no route for %s.%s", subdomain, h.domain))
		return
	}
	if entry.Err != nil {
		status = http.StatusNotFound
		h.writeError(w, requestID, status,
			fmt.Sprintf("route %q has an invalid target configured: %q", subdomain, entry.Raw))
		return
	}
	tgt := entry.Target

	// Validation runs per request, not per registration: an upstream whose
	// DNS later repoints into a private range must still be blocked.
	if ok, reason := h.validator.ValidateHostname(tgt.Host); !ok {
		status = http.StatusForbidden
		h.blockAndRespond(w, requestID, security.ReasonHostname, reason)
		return
	}
	if block := h.validator.ValidateUpstreamTarget(r.Context(), tgt.Host, tgt.Port); block != nil {
		status = http.StatusForbidden
		h.blockAndRespond(w, requestID, block.Class, block.Reason)
		return
	}

	if isWebSocketUpgrade(r) {
		status = h.serveWebSocket(w, r, tgt, requestID)
		return
	}

	status = h.forward(w, r, tgt, requestID)
}

// resolveSubdomain extracts the routing label from the Host header.
// A zero errStatus means success.
func (h *Handler) resolveSubdomain(host string) (sub string, errStatus int, errMsg string) {
	if strings.TrimSpace(host) == "" {
		return "", http.StatusBadRequest,
			"missing Host header; requests must target <service>." + h.domain
	}

	if hostOnly, _, err := net.SplitHostPort(host); err == nil {
		host = hostOnly
	}
	host = strings.ToLower(strings.TrimSuffix(strings.Trim(host, "[]"), "."))

	if host == h.domain {
		return "", http.StatusBadRequest,
			fmt.Sprintf("no subdomain in %q: you have reached the proxy directly; use <service>.%s instead", host, h.domain)
	}
	if _, ok := h.aliases[host]; ok {
		return "", http.StatusBadRequest,
			fmt.Sprintf("direct access via %q: use <service>.%s to reach a routed service", host, h.domain)
	}
	if !strings.HasSuffix(host, "."+h.domain) {
		return "", http.StatusBadRequest,
			fmt.Sprintf("host %q is not under the configured domain %q", host, h.domain)
	}
	sub = strings.TrimSuffix(host, "."+h.domain)
	if sub == "" {
		return "", http.StatusBadRequest, "empty subdomain"
	}
	return sub, 0, ""
}

// forward relays the request to the resolved target and copies back the
// sanitized response. Returns the status written to the client.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, tgt target.Target, requestID string) int {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, requestID, http.StatusBadRequest, "failed to read request body")
		return http.StatusBadRequest
	}

	upstreamURL := (&url.URL{
		Scheme:   tgt.Scheme,
		Host:     tgt.HostPort(),
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}).String()

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	resp, err := h.client.Do(ctx, r.Method, upstreamURL, sanitizeRequestHeaders(r.Header), body)
	if err != nil {
		h.writeError(w, requestID, http.StatusBadGateway,
			fmt.Sprintf("upstream unavailable: %s", upstreamURL))
		return http.StatusBadGateway
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		h.writeError(w, requestID, http.StatusBadGateway,
			fmt.Sprintf("upstream response read failed: %s", upstreamURL))
		return http.StatusBadGateway
	}

	copyHeader(w.Header(), sanitizeResponseHeaders(resp.Header))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
	return resp.StatusCode
}

func (h *Handler) blockAndRespond(w http.ResponseWriter, requestID, class, reason string) {
	applog.Warn("blocked upstream target", "reason", reason, "class", class, "request_id", requestID)
	h.collector.SSRFBlocked(class)
	h.writeError(w, requestID, http.StatusForbidden, reason)
}

func (h *Handler) writeError(w http.ResponseWriter, requestID string, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, RequestID: requestID})
}

func logRequest(r *http.Request, subdomain string, status int, elapsed time.Duration, requestID string) {
	applog.Info("request",
		"method", r.Method,
		"host", r.Host,
		"path", r.URL.RequestURI(),
		"subdomain", subdomain,
		"status", status,
		"dur", elapsed.String(),
		"request_id", requestID,
	)
	applog.PushLoki(map[string]string{
		"subdomain":  subdomain,
		"method":     r.Method,
		"status":     fmt.Sprintf("%d", status),
		"request_id": requestID,
	}, fmt.Sprintf("method=%s host=%s path=%s status=%d dur=%s",
		r.Method, r.Host, r.URL.RequestURI(), status, elapsed))
}

package proxy

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	applog "github.com/devhost-sh/devhost/internal/log"
	"github.com/devhost-sh/devhost/internal/target"
)

// isWebSocketUpgrade reports whether the request asks for a WebSocket
// handshake.
func isWebSocketUpgrade(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, token := range connectionTokens(r.Header) {
		if strings.EqualFold(token, "upgrade") {
			return true
		}
	}
	return false
}

// serveWebSocket tunnels a WebSocket connection: it dials the upstream,
// replays the handshake, hijacks the client connection and streams bytes in
// both directions until either side closes. The pooled client is bypassed;
// a tunnel holds its TCP connection for its whole lifetime and must not
// occupy a pool slot. Returns the status to record.
func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request, tgt target.Target, requestID string) int {
	upstream, err := h.dialUpstream(tgt)
	if err != nil {
		h.writeError(w, requestID, http.StatusBadGateway,
			fmt.Sprintf("upstream unavailable: %s", tgt.String()))
		return http.StatusBadGateway
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		_ = upstream.Close()
		h.writeError(w, requestID, http.StatusInternalServerError, "websocket upgrade not supported by server")
		return http.StatusInternalServerError
	}

	// Replay the handshake. Upgrade and Connection must survive here; only
	// the spoofable forwarding headers are dropped.
	header := r.Header.Clone()
	for _, name := range spoofableHeaders {
		header.Del(name)
	}
	var handshake strings.Builder
	fmt.Fprintf(&handshake, "%s %s HTTP/1.1\r\n", r.Method, r.URL.RequestURI())
	fmt.Fprintf(&handshake, "Host: %s\r\n", tgt.HostPort())
	for name, values := range header {
		for _, value := range values {
			fmt.Fprintf(&handshake, "%s: %s\r\n", name, value)
		}
	}
	handshake.WriteString("\r\n")
	if _, err := upstream.Write([]byte(handshake.String())); err != nil {
		_ = upstream.Close()
		h.writeError(w, requestID, http.StatusBadGateway,
			fmt.Sprintf("upstream handshake failed: %s", tgt.String()))
		return http.StatusBadGateway
	}

	client, clientRW, err := hijacker.Hijack()
	if err != nil {
		_ = upstream.Close()
		h.writeError(w, requestID, http.StatusInternalServerError, "websocket hijack failed")
		return http.StatusInternalServerError
	}

	h.collector.WebSocketOpen()
	applog.Debug("websocket tunnel opened", "upstream", tgt.String(), "request_id", requestID)

	go func() {
		defer h.collector.WebSocketClose()
		defer func() { _ = client.Close() }()
		defer func() { _ = upstream.Close() }()

		done := make(chan struct{}, 2)
		go pipe(upstream, clientRW.Reader, done)
		go pipe(client, upstream, done)
		<-done
	}()

	return http.StatusSwitchingProtocols
}

func (h *Handler) dialUpstream(tgt target.Target) (net.Conn, error) {
	addr := tgt.HostPort()
	if tgt.Scheme == "https" {
		dialer := &net.Dialer{Timeout: h.connectTimeout}
		return tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: tgt.Host})
	}
	return net.DialTimeout("tcp", addr, h.connectTimeout)
}

func pipe(dst io.Writer, src io.Reader, done chan<- struct{}) {
	_, _ = io.Copy(dst, src)
	done <- struct{}{}
}

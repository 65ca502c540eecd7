package proxy

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ensureRequestID returns the inbound X-Request-ID if the client sent one,
// otherwise generates a short opaque token. The ID correlates log lines and
// appears on every response.
func ensureRequestID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if id == "" {
		id = uuid.NewString()[:8]
		r.Header.Set("X-Request-ID", id)
	}
	return id
}

package proxy

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/devhost-sh/devhost/internal/routes"
)

// probeTimeout bounds the per-upstream TCP reachability check on /mappings.
const probeTimeout = 500 * time.Millisecond

type routeInfo struct {
	Name      string `json:"name"`
	Target    string `json:"target"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
	Reachable *bool  `json:"reachable,omitempty"`
}

type routesResponse struct {
	Routes []routeInfo    `json:"routes"`
	Count  int            `json:"count"`
	Source string         `json:"source,omitempty"`
	Cache  routes.Metrics `json:"cache"`
}

// RoutesHandler reports the current table: resolved URLs for valid entries,
// the parse error for invalid ones.
func (h *Handler) RoutesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.writeRoutes(w, false)
	}
}

// MappingsHandler is RoutesHandler plus a best-effort TCP reachability
// probe per upstream.
func (h *Handler) MappingsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.writeRoutes(w, true)
	}
}

func (h *Handler) writeRoutes(w http.ResponseWriter, probe bool) {
	table := h.routeCach.Routes()

	resp := routesResponse{
		Routes: make([]routeInfo, 0, len(table.Entries)),
		Count:  len(table.Entries),
		Source: table.SourcePath,
		Cache:  h.routeCach.Metrics(),
	}
	for _, name := range table.Names() {
		entry := table.Entries[name]
		info := routeInfo{Name: entry.Name, Target: entry.Raw}
		if entry.Err != nil {
			info.Error = entry.Err.Error()
		} else {
			info.URL = entry.Target.String()
			if probe {
				reachable := probeTarget(entry.Target.HostPort())
				info.Reachable = &reachable
			}
		}
		resp.Routes = append(resp.Routes, info)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// probeTarget checks TCP reachability with a short timeout. Best-effort
// only: a false here means "nothing is listening right now", not that the
// route is broken.
func probeTarget(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

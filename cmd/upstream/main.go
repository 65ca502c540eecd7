// Command upstream is a throwaway echo service for trying out the proxy:
// point a route at its port and it reports what it received.
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	applog "github.com/devhost-sh/devhost/internal/log"
)

type echo struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   string              `json:"query,omitempty"`
	Host    string              `json:"host"`
	Headers map[string][]string `json:"headers"`
}

func main() {
	addr := strings.TrimSpace(os.Getenv("UPSTREAM_LISTEN"))
	if addr == "" {
		addr = ":8000"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(echo{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.RawQuery,
			Host:    r.Host,
			Headers: r.Header,
		})
	})

	applog.Info("upstream echo server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		applog.Fatal("upstream server exited", "err", err)
	}
}

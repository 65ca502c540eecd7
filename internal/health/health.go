// Package health tracks request lifecycle state: the in-flight counter
// behind graceful shutdown draining and the readiness endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	applog "github.com/devhost-sh/devhost/internal/log"
	"github.com/devhost-sh/devhost/internal/metrics"
)

// degradedBelow is the pool success-rate threshold under which readiness
// reports the connection pool as degraded.
const degradedBelow = 0.9

// PoolStats feeds the readiness report; the sampled flag distinguishes "no
// traffic yet" from a genuine 100% success rate.
type PoolStats struct {
	SuccessRate float64
	Sampled     bool
}

// Tracker owns the in-flight request counter and the shutdown flag. The
// flag is set once and never unset.
type Tracker struct {
	inFlight     atomic.Int64
	shuttingDown atomic.Bool
	started      time.Time
}

func NewTracker() *Tracker {
	return &Tracker{started: time.Now()}
}

// Track wraps a handler so the in-flight counter is incremented on entry
// and decremented on every exit path, panics included.
func (t *Tracker) Track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.inFlight.Add(1)
		metrics.InFlightInc()
		defer func() {
			t.inFlight.Add(-1)
			metrics.InFlightDec()
		}()
		next.ServeHTTP(w, r)
	})
}

func (t *Tracker) InFlight() int64       { return t.inFlight.Load() }
func (t *Tracker) ShuttingDown() bool    { return t.shuttingDown.Load() }
func (t *Tracker) Uptime() time.Duration { return time.Since(t.started) }

// Drain flags shutdown and waits for in-flight requests to finish, up to
// timeout. New requests are still accepted while draining; the listener is
// torn down by the caller afterwards regardless of the return value.
func (t *Tracker) Drain(timeout time.Duration) bool {
	t.shuttingDown.Store(true)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if t.inFlight.Load() == 0 {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	drained := t.inFlight.Load() == 0
	if !drained {
		applog.Warn("shutdown drain timed out", "in_flight", t.inFlight.Load())
	}
	return drained
}

type poolReport struct {
	Status      string  `json:"status"`
	SuccessRate float64 `json:"successRate"`
}

type report struct {
	Status           string     `json:"status"`
	Version          string     `json:"version"`
	UptimeSeconds    float64    `json:"uptimeSeconds"`
	RoutesCount      int        `json:"routesCount"`
	InFlightRequests int64      `json:"inFlightRequests"`
	ConnectionPool   poolReport `json:"connectionPool"`
}

// Handler serves the readiness report. routeCount and pool are read lazily
// per request so the report always reflects live state.
func (t *Tracker) Handler(version string, routeCount func() int, pool func() PoolStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := pool()
		poolStatus := "healthy"
		if stats.Sampled && stats.SuccessRate < degradedBelow {
			poolStatus = "degraded"
		}

		status := "ok"
		if t.ShuttingDown() {
			status = "shutting_down"
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report{
			Status:           status,
			Version:          version,
			UptimeSeconds:    t.Uptime().Seconds(),
			RoutesCount:      routeCount(),
			InFlightRequests: t.InFlight(),
			ConnectionPool: poolReport{
				Status:      poolStatus,
				SuccessRate: stats.SuccessRate,
			},
		})
	}
}

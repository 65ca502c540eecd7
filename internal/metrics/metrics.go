package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Proxy metrics (low-cardinality; subdomain counts are bounded by the route
// config, which is small by construction for a local-dev proxy).
var (
	proxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devhost_requests_total",
			Help: "Total proxied responses by subdomain, method and status",
		},
		[]string{"subdomain", "method", "status"},
	)
	proxyReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devhost_request_duration_seconds",
			Help:    "End-to-end proxy request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subdomain"},
	)
	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devhost_inflight_requests",
			Help: "Number of requests currently being served",
		},
	)
)

// Route cache metrics.
var (
	routeCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devhost_route_cache_hits_total",
			Help: "Route lookups served from the cached table",
		},
	)
	routeCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devhost_route_cache_misses_total",
			Help: "Route lookups that triggered a reload",
		},
	)
	routeReloads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devhost_route_reloads_total",
			Help: "Route config reload attempts",
		},
	)
	routeCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devhost_routes",
			Help: "Number of routes in the active table",
		},
	)
)

// Upstream connection pool metrics.
var (
	upstreamRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devhost_upstream_retries_total",
			Help: "Upstream request retry attempts",
		},
	)
	upstreamFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devhost_upstream_failures_total",
			Help: "Upstream requests that failed after exhausting retries",
		},
	)
	upstreamTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devhost_upstream_timeouts_total",
			Help: "Upstream requests that timed out",
		},
	)
)

// Security and websocket metrics.
var (
	ssrfBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devhost_ssrf_blocks_total",
			Help: "Requests blocked by upstream target validation, by reason",
		},
		[]string{"reason"},
	)
	websocketsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devhost_websocket_connections_active",
			Help: "Currently open proxied WebSocket connections",
		},
	)
	websocketsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devhost_websocket_connections_total",
			Help: "Total proxied WebSocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		proxyRequestsTotal,
		proxyReqDuration,
		inFlight,
		routeCacheHits,
		routeCacheMisses,
		routeReloads,
		routeCount,
		upstreamRetries,
		upstreamFailures,
		upstreamTimeouts,
		ssrfBlocks,
		websocketsActive,
		websocketsTotal,
	)
}

// ---- Proxy helpers ----

func ObserveProxyResponse(subdomain, method string, status int, dur time.Duration) {
	if subdomain == "" {
		subdomain = "none"
	}
	proxyRequestsTotal.WithLabelValues(subdomain, method, strconv.Itoa(status)).Inc()
	proxyReqDuration.WithLabelValues(subdomain).Observe(dur.Seconds())
}

func InFlightInc() { inFlight.Inc() }
func InFlightDec() { inFlight.Dec() }

// ---- Route cache helpers ----

func RouteCacheHit()      { routeCacheHits.Inc() }
func RouteCacheMiss()     { routeCacheMisses.Inc() }
func RouteReload()        { routeReloads.Inc() }
func SetRouteCount(n int) { routeCount.Set(float64(n)) }

// ---- Upstream pool helpers ----

func UpstreamRetry()   { upstreamRetries.Inc() }
func UpstreamFailure() { upstreamFailures.Inc() }
func UpstreamTimeout() { upstreamTimeouts.Inc() }

// ---- Security / websocket helpers ----

func SSRFBlock(reason string) { ssrfBlocks.WithLabelValues(reason).Inc() }
func WebSocketOpened()        { websocketsActive.Inc(); websocketsTotal.Inc() }
func WebSocketClosed()        { websocketsActive.Dec() }

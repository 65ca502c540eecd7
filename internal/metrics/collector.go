package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// DefaultLatencyWindow is how many recent latency samples feed the
// percentile estimates. The window is a ring: oldest samples are evicted
// first, so percentiles describe recent traffic, not all-time history.
const DefaultLatencyWindow = 1000

// SubdomainStats counts requests and errors for one route.
type SubdomainStats struct {
	Count  uint64 `json:"count"`
	Errors uint64 `json:"errors"`
}

// Percentiles holds nearest-rank latency estimates in milliseconds.
type Percentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Collector aggregates in-process request statistics for the /metrics JSON
// endpoint. It mirrors what the Prometheus registry exports but keeps the
// derived values (percentiles, error rate) computable without a scraper.
type Collector struct {
	mu sync.Mutex

	total      uint64
	byStatus   map[int]uint64
	bySub      map[string]*SubdomainStats
	latencies  []float64 // ring buffer, milliseconds
	next       int
	filled     bool

	wsActive uint64
	wsTotal  uint64

	ssrfTotal    uint64
	ssrfByReason map[string]uint64
}

func NewCollector(window int) *Collector {
	if window <= 0 {
		window = DefaultLatencyWindow
	}
	return &Collector{
		byStatus:     make(map[int]uint64),
		bySub:        make(map[string]*SubdomainStats),
		latencies:    make([]float64, window),
		ssrfByReason: make(map[string]uint64),
	}
}

// Record registers one completed request. subdomain may be empty for
// requests rejected before route resolution.
func (c *Collector) Record(subdomain string, status int, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	c.byStatus[status]++

	if subdomain != "" {
		stats := c.bySub[subdomain]
		if stats == nil {
			stats = &SubdomainStats{}
			c.bySub[subdomain] = stats
		}
		stats.Count++
		if status >= 400 {
			stats.Errors++
		}
	}

	c.latencies[c.next] = float64(latency) / float64(time.Millisecond)
	c.next++
	if c.next == len(c.latencies) {
		c.next = 0
		c.filled = true
	}
}

// LatencyPercentiles computes p50/p95/p99 by nearest rank over the current
// window. An empty window yields zeros.
func (c *Collector) LatencyPercentiles() Percentiles {
	c.mu.Lock()
	n := c.next
	if c.filled {
		n = len(c.latencies)
	}
	samples := make([]float64, n)
	copy(samples, c.latencies[:n])
	c.mu.Unlock()

	if n == 0 {
		return Percentiles{}
	}
	sort.Float64s(samples)
	return Percentiles{
		P50: nearestRank(samples, 50),
		P95: nearestRank(samples, 95),
		P99: nearestRank(samples, 99),
	}
}

func nearestRank(sorted []float64, pct int) float64 {
	rank := (pct*len(sorted) + 99) / 100 // ceil(pct/100 * n)
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// ErrorRate returns the share of requests with status >= 400, in percent.
func (c *Collector) ErrorRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total == 0 {
		return 0
	}
	var errors uint64
	for status, n := range c.byStatus {
		if status >= 400 {
			errors += n
		}
	}
	return float64(errors) / float64(c.total) * 100
}

// WebSocketOpen/WebSocketClose track live tunneled connections.
func (c *Collector) WebSocketOpen() {
	c.mu.Lock()
	c.wsActive++
	c.wsTotal++
	c.mu.Unlock()
	WebSocketOpened()
}

func (c *Collector) WebSocketClose() {
	c.mu.Lock()
	if c.wsActive > 0 {
		c.wsActive--
	}
	c.mu.Unlock()
	WebSocketClosed()
}

// SSRFBlocked counts a blocked upstream by reason class.
func (c *Collector) SSRFBlocked(reason string) {
	c.mu.Lock()
	c.ssrfTotal++
	c.ssrfByReason[reason]++
	c.mu.Unlock()
	SSRFBlock(reason)
}

// Snapshot is the JSON shape served at /metrics.
type Snapshot struct {
	RequestsTotal       uint64                    `json:"requestsTotal"`
	RequestsByStatus    map[int]uint64            `json:"requestsByStatus"`
	RequestsBySubdomain map[string]SubdomainStats `json:"requestsBySubdomain"`
	LatencyMs           Percentiles               `json:"latencyMs"`
	ErrorRatePercent    float64                   `json:"errorRatePercent"`
	WebSocketsActive    uint64                    `json:"websocketConnectionsActive"`
	WebSocketsTotal     uint64                    `json:"websocketConnectionsTotal"`
	SSRFBlocksTotal     uint64                    `json:"ssrfBlocksTotal"`
	SSRFBlocksByReason  map[string]uint64         `json:"ssrfBlocksByReason"`
}

func (c *Collector) Snapshot() Snapshot {
	percentiles := c.LatencyPercentiles()
	errorRate := c.ErrorRate()

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		RequestsTotal:       c.total,
		RequestsByStatus:    make(map[int]uint64, len(c.byStatus)),
		RequestsBySubdomain: make(map[string]SubdomainStats, len(c.bySub)),
		LatencyMs:           percentiles,
		ErrorRatePercent:    errorRate,
		WebSocketsActive:    c.wsActive,
		WebSocketsTotal:     c.wsTotal,
		SSRFBlocksTotal:     c.ssrfTotal,
		SSRFBlocksByReason:  make(map[string]uint64, len(c.ssrfByReason)),
	}
	for status, n := range c.byStatus {
		snap.RequestsByStatus[status] = n
	}
	for sub, stats := range c.bySub {
		snap.RequestsBySubdomain[sub] = *stats
	}
	for reason, n := range c.ssrfByReason {
		snap.SSRFBlocksByReason[reason] = n
	}
	return snap
}

// Handler serves the snapshot as JSON.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c.Snapshot())
	}
}

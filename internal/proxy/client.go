package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/devhost-sh/devhost/internal/config"
	applog "github.com/devhost-sh/devhost/internal/log"
	"github.com/devhost-sh/devhost/internal/metrics"
)

// ErrPoolExhausted is returned when no connection slot frees up within the
// pool-acquire timeout.
var ErrPoolExhausted = errors.New("upstream connection pool exhausted")

// PoolMetrics reports the connection manager's counters. RequestsSent and
// RequestsFailed count requests, not attempts, so SuccessRate stays
// unit-consistent; retries show up only in RetriesAttempted.
type PoolMetrics struct {
	RequestsSent     uint64  `json:"requestsSent"`
	RequestsFailed   uint64  `json:"requestsFailed"`
	RetriesAttempted uint64  `json:"retriesAttempted"`
	Timeouts         uint64  `json:"timeouts"`
	SuccessRate      float64 `json:"successRate"`
}

// retryableMethods are safe to resend: their bodies are empty or replayable
// by definition. Everything else gets exactly one attempt.
var retryableMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

// retryableStatus marks transient upstream unavailability.
func retryableStatus(code int) bool {
	return code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// Client owns the one pooled HTTP client used for every upstream forward.
// A counting semaphore bounds total concurrent upstream connections; a slot
// is held from acquisition until the response body is closed, so cancelled
// requests release their slot on the same path as successful ones.
type Client struct {
	http        *http.Client
	sem         chan struct{}
	poolTimeout time.Duration
	maxAttempts int

	sent     atomic.Uint64
	failed   atomic.Uint64
	retries  atomic.Uint64
	timeouts atomic.Uint64
}

func NewClient(cfg *config.Config) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxKeepalive,
		MaxIdleConnsPerHost:   cfg.MaxKeepalive,
		IdleConnTimeout:       cfg.KeepaliveExpiry,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			// Redirects belong to the browser, not the proxy.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		sem:         make(chan struct{}, cfg.MaxConnections),
		poolTimeout: cfg.PoolTimeout,
		maxAttempts: cfg.MaxRetries,
	}
}

// Do forwards one request to url, retrying idempotent methods on transport
// errors and transient 502/503/504 responses. The returned response's body
// must be closed by the caller; closing it releases the pool slot.
func (c *Client) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*http.Response, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	resp, err := c.doAttempts(ctx, method, url, header, body)
	if err != nil {
		c.release()
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: c.release}
	return resp, nil
}

func (c *Client) doAttempts(ctx context.Context, method, url string, header http.Header, body []byte) (*http.Response, error) {
	c.sent.Add(1)

	attempts := 1
	if _, ok := retryableMethods[method]; ok {
		attempts = c.maxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.retries.Add(1)
			metrics.UpstreamRetry()
			applog.Debug("retrying upstream request", "method", method, "url", url, "attempt", attempt)
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				break
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header = header.Clone()
		if len(body) > 0 {
			req.ContentLength = int64(len(body))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if isTimeout(err) {
				c.timeouts.Add(1)
				metrics.UpstreamTimeout()
			}
			lastErr = err
			continue
		}

		if retryableStatus(resp.StatusCode) && attempt < attempts {
			// Drain so the connection can be reused, then try again.
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 32<<10))
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("upstream returned %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}

	c.failed.Add(1)
	metrics.UpstreamFailure()
	if lastErr == nil {
		lastErr = errors.New("upstream request failed")
	}
	return nil, lastErr
}

// acquire claims a pool slot, giving up after the pool timeout.
func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(c.poolTimeout)
	defer timer.Stop()
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-timer.C:
		c.timeouts.Add(1)
		c.failed.Add(1)
		metrics.UpstreamTimeout()
		return ErrPoolExhausted
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() { <-c.sem }

// Metrics returns a snapshot of the pool counters. SuccessRate is 1 when
// nothing has been sent yet.
func (c *Client) Metrics() PoolMetrics {
	m := PoolMetrics{
		RequestsSent:     c.sent.Load(),
		RequestsFailed:   c.failed.Load(),
		RetriesAttempted: c.retries.Load(),
		Timeouts:         c.timeouts.Load(),
		SuccessRate:      1,
	}
	if m.RequestsSent > 0 {
		m.SuccessRate = float64(m.RequestsSent-min64(m.RequestsFailed, m.RequestsSent)) / float64(m.RequestsSent)
	}
	return m
}

// Close drops idle pooled connections.
func (c *Client) Close() {
	if t, ok := c.http.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// releasingBody returns the pool slot exactly once, when the response body
// is closed.
type releasingBody struct {
	io.ReadCloser
	release  func()
	released atomic.Bool
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	if b.released.CompareAndSwap(false, true) {
		b.release()
	}
	return err
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

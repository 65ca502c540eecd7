package health_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/devhost-sh/devhost/internal/health"
)

func TestTracker_TrackCountsInFlight(t *testing.T) {
	tracker := health.NewTracker()

	entered := make(chan struct{})
	release := make(chan struct{})
	handler := tracker.Track(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}()

	<-entered
	if got := tracker.InFlight(); got != 1 {
		t.Fatalf("in-flight during request = %d, want 1", got)
	}
	close(release)
	wg.Wait()
	if got := tracker.InFlight(); got != 0 {
		t.Fatalf("in-flight after request = %d, want 0", got)
	}
}

func TestTracker_TrackDecrementsOnPanic(t *testing.T) {
	tracker := health.NewTracker()
	handler := tracker.Track(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	func() {
		defer func() { _ = recover() }()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}()

	if got := tracker.InFlight(); got != 0 {
		t.Fatalf("in-flight after panic = %d, want 0", got)
	}
}

func TestTracker_DrainWaitsForZero(t *testing.T) {
	tracker := health.NewTracker()

	entered := make(chan struct{})
	release := make(chan struct{})
	handler := tracker.Track(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))
	go handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	<-entered

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()

	if !tracker.Drain(2 * time.Second) {
		t.Fatal("drain should succeed once the request completes")
	}
	if !tracker.ShuttingDown() {
		t.Fatal("drain must latch the shutting-down flag")
	}
}

func TestTracker_DrainTimesOut(t *testing.T) {
	tracker := health.NewTracker()

	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	handler := tracker.Track(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))
	go handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	<-entered

	if tracker.Drain(100 * time.Millisecond) {
		t.Fatal("drain should report failure while a request is stuck")
	}
}

func TestHandler_ReportShape(t *testing.T) {
	tracker := health.NewTracker()
	handler := tracker.Handler("1.2.3",
		func() int { return 4 },
		func() health.PoolStats { return health.PoolStats{SuccessRate: 1, Sampled: false} },
	)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var report struct {
		Status         string `json:"status"`
		Version        string `json:"version"`
		RoutesCount    int    `json:"routesCount"`
		ConnectionPool struct {
			Status string `json:"status"`
		} `json:"connectionPool"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Status != "ok" {
		t.Errorf("status = %q, want ok", report.Status)
	}
	if report.Version != "1.2.3" || report.RoutesCount != 4 {
		t.Errorf("report = %+v", report)
	}
	if report.ConnectionPool.Status != "healthy" {
		t.Errorf("pool status = %q, want healthy", report.ConnectionPool.Status)
	}
}

func TestHandler_DegradedPoolAndShutdown(t *testing.T) {
	tracker := health.NewTracker()
	tracker.Drain(0)

	handler := tracker.Handler("dev",
		func() int { return 0 },
		func() health.PoolStats { return health.PoolStats{SuccessRate: 0.5, Sampled: true} },
	)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var report struct {
		Status         string `json:"status"`
		ConnectionPool struct {
			Status string `json:"status"`
		} `json:"connectionPool"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Status != "shutting_down" {
		t.Errorf("status = %q, want shutting_down", report.Status)
	}
	if report.ConnectionPool.Status != "degraded" {
		t.Errorf("pool status = %q, want degraded", report.ConnectionPool.Status)
	}
}

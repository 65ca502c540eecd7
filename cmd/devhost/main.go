package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devhost-sh/devhost/internal/config"
	"github.com/devhost-sh/devhost/internal/health"
	applog "github.com/devhost-sh/devhost/internal/log"
	"github.com/devhost-sh/devhost/internal/metrics"
	"github.com/devhost-sh/devhost/internal/proxy"
	"github.com/devhost-sh/devhost/internal/routes"
	"github.com/devhost-sh/devhost/internal/security"
)

// version is stamped via -ldflags at release time.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		applog.Fatal("invalid configuration", "err", err)
	}
	if err := applog.Setup(cfg.LogLevel, cfg.LogFile); err != nil {
		applog.Fatal("logger setup failed", "err", err)
	}

	validator := security.NewValidator(cfg.AllowPrivateNetworks)
	routeCache := routes.NewCache(routes.Options{
		ExplicitPath: cfg.ConfigPath,
		RouteTTL:     cfg.RouteTTL,
		ConfigTTL:    cfg.ConfigTTL,
	})
	client := proxy.NewClient(cfg)
	collector := metrics.NewCollector(metrics.DefaultLatencyWindow)
	tracker := health.NewTracker()
	handler := proxy.NewHandler(cfg, routeCache, validator, client, collector)

	// Prime the table and start the change watcher; TTL reloads cover us if
	// the watcher cannot run.
	table := routeCache.Routes()
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		if err := routeCache.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
			applog.Warn("route config watcher disabled, relying on TTL reloads", "err", err)
		}
	}()

	mux := newServerMux(cfg, handler, routeCache, client, collector, tracker)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           tracker.Track(hostDispatch(cfg, mux, handler)),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	applog.Info("devhost listening",
		"addr", cfg.ListenAddr,
		"domain", cfg.Domain,
		"routes", len(table.Entries),
		"config", table.SourcePath,
		"version", version,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		applog.Fatal("server error", "err", err)
	case sig := <-sigCh:
		applog.Info("shutting down", "signal", sig.String())
	}

	stopWatch()

	// Drain in-flight requests first; the listener keeps accepting during
	// the drain window, then is closed regardless.
	tracker.Drain(cfg.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		applog.Error("server shutdown error", "err", err)
	}
	client.Close()
	applog.Info("stopped")
}

// newServerMux assembles all HTTP endpoints: operational endpoints first,
// then the wildcard proxy.
func newServerMux(
	cfg *config.Config,
	handler *proxy.Handler,
	routeCache *routes.Cache,
	client *proxy.Client,
	collector *metrics.Collector,
	tracker *health.Tracker,
) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", tracker.Handler(version, routeCache.Len, func() health.PoolStats {
		m := client.Metrics()
		return health.PoolStats{SuccessRate: m.SuccessRate, Sampled: m.RequestsSent > 0}
	}))
	mux.HandleFunc("/metrics", collector.Handler())
	mux.Handle("/metrics/prometheus", promhttp.Handler())
	mux.HandleFunc("/routes", handler.RoutesHandler())
	mux.HandleFunc("/mappings", handler.MappingsHandler())
	// Anything else on the base domain falls through to the proxy handler,
	// which answers with the direct-access hint.
	mux.Handle("/", handler)
	return mux
}

// hostDispatch sends base-domain (and bare-IP) requests to the operational
// mux and everything else to the wildcard proxy, so a routed service's own
// /health is still proxied.
func hostDispatch(cfg *config.Config, admin *http.ServeMux, proxyHandler http.Handler) http.Handler {
	aliases := map[string]struct{}{
		cfg.Domain:  {},
		"localhost": {},
		"127.0.0.1": {},
		"::1":       {},
	}
	if host := cfg.ListenHost(); host != "" {
		aliases[strings.ToLower(host)] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		host = strings.ToLower(strings.Trim(host, "[]"))
		if _, ok := aliases[host]; ok {
			admin.ServeHTTP(w, r)
			return
		}
		proxyHandler.ServeHTTP(w, r)
	})
}

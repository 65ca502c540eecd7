package config_test

import (
	"testing"
	"time"

	"github.com/devhost-sh/devhost/internal/config"
)

// clearEnv blanks every DEVHOST_* variable so ambient shell state cannot
// leak into assertions about defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DEVHOST_LISTEN", "DEVHOST_DOMAIN", "DEVHOST_CONFIG",
		"DEVHOST_LOG_LEVEL", "DEVHOST_LOG_FILE", "DEVHOST_LOG_REQUESTS",
		"DEVHOST_ALLOW_PRIVATE_NETWORKS",
		"DEVHOST_MAX_CONNECTIONS", "DEVHOST_MAX_KEEPALIVE",
		"DEVHOST_KEEPALIVE_EXPIRY", "DEVHOST_CONNECT_TIMEOUT",
		"DEVHOST_READ_TIMEOUT", "DEVHOST_WRITE_TIMEOUT",
		"DEVHOST_POOL_TIMEOUT", "DEVHOST_MAX_RETRIES",
		"DEVHOST_ROUTE_TTL", "DEVHOST_CONFIG_TTL", "DEVHOST_SHUTDOWN_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":2000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Domain != "localhost" {
		t.Errorf("Domain = %q", cfg.Domain)
	}
	if cfg.MaxConnections != 100 || cfg.MaxKeepalive != 20 {
		t.Errorf("pool sizes = %d/%d", cfg.MaxConnections, cfg.MaxKeepalive)
	}
	if cfg.RouteTTL != 60*time.Second || cfg.ConfigTTL != 30*time.Second {
		t.Errorf("TTLs = %v/%v", cfg.RouteTTL, cfg.ConfigTTL)
	}
	if cfg.AllowPrivateNetworks {
		t.Error("private networks must be blocked by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEVHOST_LISTEN", "127.0.0.1:9999")
	t.Setenv("DEVHOST_DOMAIN", "Dev.Test")
	t.Setenv("DEVHOST_MAX_CONNECTIONS", "7")
	t.Setenv("DEVHOST_ALLOW_PRIVATE_NETWORKS", "yes")
	t.Setenv("DEVHOST_CONNECT_TIMEOUT", "1.5")
	t.Setenv("DEVHOST_ROUTE_TTL", "2m")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Domain != "dev.test" {
		t.Errorf("Domain = %q, want lowercased", cfg.Domain)
	}
	if cfg.MaxConnections != 7 {
		t.Errorf("MaxConnections = %d", cfg.MaxConnections)
	}
	if !cfg.AllowPrivateNetworks {
		t.Error("AllowPrivateNetworks should accept yes")
	}
	if cfg.ConnectTimeout != 1500*time.Millisecond {
		t.Errorf("ConnectTimeout = %v, want bare seconds parsed", cfg.ConnectTimeout)
	}
	if cfg.RouteTTL != 2*time.Minute {
		t.Errorf("RouteTTL = %v", cfg.RouteTTL)
	}
	if got := cfg.ListenHost(); got != "127.0.0.1" {
		t.Errorf("ListenHost = %q", got)
	}
}

func TestLoad_InvalidListenAddr(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEVHOST_LISTEN", "no-port-here")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected an error for a listen address without a port")
	}
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEVHOST_MAX_CONNECTIONS", "many")
	t.Setenv("DEVHOST_READ_TIMEOUT", "soon")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxConnections != 100 {
		t.Errorf("MaxConnections = %d, want the default", cfg.MaxConnections)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %v, want the default", cfg.ReadTimeout)
	}
}

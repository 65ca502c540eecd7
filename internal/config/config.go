package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config collects every DEVHOST_* environment option in one place. It is
// built once at startup and passed explicitly into the components that need
// it; nothing reads the environment after Load returns.
type Config struct {
	ListenAddr string // Example: ":2000"
	Domain     string // Base domain; subdomains of it are routed.
	ConfigPath string // Explicit route-config override (may be empty).

	LogLevel    string
	LogFile     string
	LogRequests bool

	AllowPrivateNetworks bool

	// Connection pool.
	MaxConnections  int
	MaxKeepalive    int
	KeepaliveExpiry time.Duration
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PoolTimeout     time.Duration
	MaxRetries      int

	// Route cache.
	RouteTTL  time.Duration
	ConfigTTL time.Duration

	ShutdownTimeout time.Duration
}

const (
	defaultListen          = ":2000"
	defaultDomain          = "localhost"
	defaultLogLevel        = "info"
	defaultMaxConnections  = 100
	defaultMaxKeepalive    = 20
	defaultKeepaliveExpiry = 90 * time.Second
	defaultConnectTimeout  = 5 * time.Second
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultPoolTimeout     = 5 * time.Second
	defaultMaxRetries      = 3
	defaultRouteTTL        = 60 * time.Second
	defaultConfigTTL       = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: getEnv("DEVHOST_LISTEN", defaultListen),
		Domain:     strings.ToLower(getEnv("DEVHOST_DOMAIN", defaultDomain)),
		ConfigPath: strings.TrimSpace(os.Getenv("DEVHOST_CONFIG")),

		LogLevel:    getEnv("DEVHOST_LOG_LEVEL", defaultLogLevel),
		LogFile:     strings.TrimSpace(os.Getenv("DEVHOST_LOG_FILE")),
		LogRequests: getEnvBool("DEVHOST_LOG_REQUESTS", false),

		AllowPrivateNetworks: getEnvBool("DEVHOST_ALLOW_PRIVATE_NETWORKS", false),

		MaxConnections:  getEnvInt("DEVHOST_MAX_CONNECTIONS", defaultMaxConnections),
		MaxKeepalive:    getEnvInt("DEVHOST_MAX_KEEPALIVE", defaultMaxKeepalive),
		KeepaliveExpiry: getEnvDuration("DEVHOST_KEEPALIVE_EXPIRY", defaultKeepaliveExpiry),
		ConnectTimeout:  getEnvDuration("DEVHOST_CONNECT_TIMEOUT", defaultConnectTimeout),
		ReadTimeout:     getEnvDuration("DEVHOST_READ_TIMEOUT", defaultReadTimeout),
		WriteTimeout:    getEnvDuration("DEVHOST_WRITE_TIMEOUT", defaultWriteTimeout),
		PoolTimeout:     getEnvDuration("DEVHOST_POOL_TIMEOUT", defaultPoolTimeout),
		MaxRetries:      getEnvInt("DEVHOST_MAX_RETRIES", defaultMaxRetries),

		RouteTTL:  getEnvDuration("DEVHOST_ROUTE_TTL", defaultRouteTTL),
		ConfigTTL: getEnvDuration("DEVHOST_CONFIG_TTL", defaultConfigTTL),

		ShutdownTimeout: getEnvDuration("DEVHOST_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
	}

	if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		return nil, fmt.Errorf("invalid DEVHOST_LISTEN %q: %w", cfg.ListenAddr, err)
	}
	if cfg.Domain == "" {
		return nil, fmt.Errorf("DEVHOST_DOMAIN must not be empty")
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}
	if cfg.MaxKeepalive <= 0 {
		cfg.MaxKeepalive = defaultMaxKeepalive
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return cfg, nil
}

// ListenHost returns the host part of ListenAddr ("" for a wildcard bind).
func (c *Config) ListenHost() string {
	host, _, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return ""
	}
	return host
}

// Retrieves an environment variable or returns the default value.
func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Retrieves a boolean environment variable or returns the default value.
// Accepts the usual truthy spellings (1, true, yes, on).
func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

// Retrieves an integer environment variable or returns the default value.
func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

// Retrieves a duration environment variable or returns the default value.
// Bare numbers are interpreted as seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

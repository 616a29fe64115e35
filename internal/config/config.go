// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"

	"foodshare-proxy/internal/upstream"
)

// DefaultUpstream is the production backend used when no upstream list is configured.
const DefaultUpstream = "https://api.foodshare.app"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/foodshare-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Upstreams  string `kong:"help='Comma-separated upstream base URLs (overrides config).',env='PROXY_UPSTREAMS'"`
	TimeoutMS  int    `kong:"name='timeout-ms',help='Per-attempt upstream timeout in milliseconds (overrides config).',env='PROXY_TIMEOUT_MS'"`
	MaxRetries *int   `kong:"help='Retries after a failed upstream attempt (overrides config).',env='PROXY_MAX_RETRIES'"`
	GatewayURL string `kong:"name='gateway-url',help='Backend base URL used by the API gateway (overrides config).',env='GATEWAY_BASE_URL'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Proxy   ProxyConfig   `toml:"proxy"`
	Gateway GatewayConfig `toml:"gateway"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	Tracing TracingConfig `toml:"tracing"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProxyConfig holds the edge reverse proxy settings.
type ProxyConfig struct {
	// Upstreams is nil when unset (the default host is used). An explicitly
	// configured list that normalizes to nothing stays empty, and every
	// proxied call then fails fast.
	Upstreams       []string `toml:"upstreams"`
	TimeoutMS       int      `toml:"timeout_ms"`
	MaxRetries      *int     `toml:"max_retries"` // pointer: 0 is a meaningful value
	IdleConnections int      `toml:"idle_connections"`
	PathPrefix      string   `toml:"path_prefix"`
}

// GatewayConfig holds settings for the direct backend API client.
type GatewayConfig struct {
	BaseURL    string `toml:"base_url"`
	TimeoutMS  int    `toml:"timeout_ms"`
	Retries    *int   `toml:"retries"`
	HealthPath string `toml:"health_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool     `toml:"enabled"`
	ServiceName string   `toml:"service_name"`
	SampleRatio *float64 `toml:"sample_ratio"`
	// Endpoint is the OTLP gRPC collector address (host:port). Empty falls
	// back to OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string `toml:"endpoint"`
	Insecure bool   `toml:"insecure"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/foodshare-proxy/config.toml then configs/config.toml. Unlike an
// explicit path, a missing search-path file is not an error: the proxy runs
// on defaults plus environment overrides.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Upstreams != "" {
		c.Proxy.Upstreams = []string{cli.Upstreams}
	}
	if cli.TimeoutMS != 0 {
		c.Proxy.TimeoutMS = cli.TimeoutMS
	}
	if cli.MaxRetries != nil {
		n := *cli.MaxRetries
		c.Proxy.MaxRetries = &n
	}
	if cli.GatewayURL != "" {
		c.Gateway.BaseURL = cli.GatewayURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// normalize flattens the upstream list: entries may themselves be comma-separated.
func (c *Config) normalize() {
	if c.Proxy.Upstreams != nil {
		c.Proxy.Upstreams = upstream.ParseHosts(strings.Join(c.Proxy.Upstreams, ","))
	}
}

func (c *Config) validate() error {
	for _, h := range c.Proxy.Upstreams {
		if err := validateBaseURL(h); err != nil {
			return fmt.Errorf("proxy.upstreams: %w", err)
		}
	}
	if c.Gateway.BaseURL != "" {
		if err := validateBaseURL(c.Gateway.BaseURL); err != nil {
			return fmt.Errorf("gateway.base_url: %w", err)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Proxy.TimeoutMS < 0 {
		return fmt.Errorf("proxy.timeout_ms must be non-negative; got %d", c.Proxy.TimeoutMS)
	}
	if c.Proxy.MaxRetries != nil && *c.Proxy.MaxRetries < 0 {
		return fmt.Errorf("proxy.max_retries must be non-negative; got %d", *c.Proxy.MaxRetries)
	}
	if c.Proxy.IdleConnections < 0 {
		return fmt.Errorf("proxy.idle_connections must be non-negative; got %d", c.Proxy.IdleConnections)
	}
	if c.Gateway.TimeoutMS < 0 {
		return fmt.Errorf("gateway.timeout_ms must be non-negative; got %d", c.Gateway.TimeoutMS)
	}
	if c.Gateway.Retries != nil && *c.Gateway.Retries < 0 {
		return fmt.Errorf("gateway.retries must be non-negative; got %d", *c.Gateway.Retries)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if r := c.Tracing.SampleRatio; r != nil && (*r < 0 || *r > 1) {
		return fmt.Errorf("tracing.sample_ratio must be within 0–1; got %v", *r)
	}

	if p := c.Proxy.PathPrefix; p != "" && (p[0] != '/' || p == "/") {
		return fmt.Errorf("proxy.path_prefix must start with '/' and not be the root; got %q", p)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range c.reservedRoutes() {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func (c *Config) reservedRoutes() []string {
	prefix := c.Proxy.PathPrefix
	if prefix == "" {
		prefix = "/api/proxy"
	}
	return []string{strings.TrimRight(prefix, "/"), "/healthz", "/readyz", "/proxy/status"}
}

var errNotAbsolute = errors.New("must be an absolute http(s) URL")

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%q is not a valid URL: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q %w", raw, errNotAbsolute)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Retry counts are
// pointers so that an explicit 0 disables retries.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Proxy.Upstreams == nil {
		c.Proxy.Upstreams = []string{DefaultUpstream}
	}
	if c.Proxy.TimeoutMS == 0 {
		c.Proxy.TimeoutMS = 8000
	}
	if c.Proxy.MaxRetries == nil {
		c.Proxy.MaxRetries = intPtr(1)
	}
	if c.Proxy.IdleConnections == 0 {
		c.Proxy.IdleConnections = 100
	}
	if c.Proxy.PathPrefix == "" {
		c.Proxy.PathPrefix = "/api/proxy"
	}
	c.Proxy.PathPrefix = strings.TrimRight(c.Proxy.PathPrefix, "/")
	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = DefaultUpstream
	}
	if c.Gateway.TimeoutMS == 0 {
		c.Gateway.TimeoutMS = 8000
	}
	if c.Gateway.Retries == nil {
		c.Gateway.Retries = intPtr(1)
	}
	if c.Gateway.HealthPath == "" {
		c.Gateway.HealthPath = "/health"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "foodshare-proxy"
	}
	if c.Tracing.SampleRatio == nil {
		c.Tracing.SampleRatio = floatPtr(1)
	}
}

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the per-attempt upstream timeout.
func (c *ProxyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Retries returns the configured retry count, 0 when unset.
func (c *ProxyConfig) Retries() int {
	if c.MaxRetries == nil {
		return 0
	}
	return *c.MaxRetries
}

// Timeout returns the default per-call gateway timeout.
func (c *GatewayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// RetryCount returns the configured gateway retry count, 0 when unset.
func (c *GatewayConfig) RetryCount() int {
	if c.Retries == nil {
		return 0
	}
	return *c.Retries
}

// Ratio returns the sampling ratio, 1 when unset.
func (c *TracingConfig) Ratio() float64 {
	if c.SampleRatio == nil {
		return 1
	}
	return *c.SampleRatio
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

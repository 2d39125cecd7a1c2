// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/media-proxy/config.toml",
	"configs/config.toml",
}

// Built-in routes that the proxy route and the metrics path must not shadow.
const (
	HealthzPath = "/healthz"
	StatusPath  = "/proxy/status"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Rewriter string `kong:"help='Manifest rewriter: regex|line (overrides config).',env='REWRITER'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Upstream UpstreamConfig `toml:"upstream" yaml:"upstream"`
	Proxy    ProxyConfig    `toml:"proxy" yaml:"proxy"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host" yaml:"host"`
	Port         int             `toml:"port" yaml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64           `toml:"body_max_bytes" yaml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
	CORS         CORSConfig      `toml:"cors" yaml:"cors"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// CORSConfig controls the CORS headers added to every response.
type CORSConfig struct {
	Enabled      bool     `toml:"enabled" yaml:"enabled"`
	AllowOrigins []string `toml:"allow_origins" yaml:"allow_origins"`
}

// UpstreamConfig holds origin fetch settings.
type UpstreamConfig struct {
	TimeoutSeconds int      `toml:"timeout_seconds" yaml:"timeout_seconds"` // 0 disables the client timeout
	AllowedHosts   []string `toml:"allowed_hosts" yaml:"allowed_hosts"`     // glob patterns; empty allows any host
}

// ProxyConfig holds settings of the proxy endpoint itself.
type ProxyConfig struct {
	Route                  string `toml:"route" yaml:"route"`
	Rewriter               string `toml:"rewriter" yaml:"rewriter"`
	RecomputeContentLength bool   `toml:"recompute_content_length" yaml:"recompute_content_length"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Load reads the config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/media-proxy/config.toml then configs/config.toml, and falls back to
// built-in defaults when neither exists.
func Load(cli *CLI) (*Config, error) {
	cfg := newConfig()

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return cfg, nil
}

// newConfig returns a Config with the boolean defaults pre-set, since a
// decoded file cannot tell an omitted bool from an explicit false.
func newConfig() *Config {
	return &Config{
		Server: ServerConfig{CORS: CORSConfig{Enabled: true}},
		Proxy:  ProxyConfig{RecomputeContentLength: true},
	}
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = toml.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Rewriter != "" {
		c.Proxy.Rewriter = cli.Rewriter
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	for i, h := range c.Upstream.AllowedHosts {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("upstream.allowed_hosts[%d] is empty", i)
		}
	}

	// Proxy route.
	if r := c.Proxy.Route; r != "" {
		if r[0] != '/' || r == "/" {
			return fmt.Errorf("proxy.route must start with '/' and not be the root; got %q", r)
		}
		if strings.ContainsAny(r, "?#") {
			return fmt.Errorf("proxy.route must be a plain path; got %q", r)
		}
		if err := checkReserved("proxy.route", r, HealthzPath, StatusPath); err != nil {
			return err
		}
	}
	switch strings.ToLower(c.Proxy.Rewriter) {
	case "regex", "line", "":
		// valid
	default:
		return fmt.Errorf("proxy.rewriter must be one of: regex, line; got %q", c.Proxy.Rewriter)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
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
		route := c.Proxy.Route
		if route == "" {
			route = DefaultRoute
		}
		if err := checkReserved("metrics.path", p, route, HealthzPath, StatusPath); err != nil {
			return err
		}
	}

	return nil
}

func checkReserved(field, p string, reserved ...string) error {
	for _, r := range reserved {
		if p == r || strings.HasPrefix(p, r+"/") {
			return fmt.Errorf("%s %q conflicts with reserved route %q", field, p, r)
		}
	}
	return nil
}

// DefaultRoute is the proxy endpoint path, which is also the prefix of every
// rewritten manifest reference.
const DefaultRoute = "/api/proxy"

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because the file formats cannot
// distinguish between an explicit 0 and an omitted key. The upstream timeout
// is the exception: 0 keeps the client without a deadline.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB; the proxy only accepts GET
	}
	if len(c.Server.CORS.AllowOrigins) == 0 {
		c.Server.CORS.AllowOrigins = []string{"*"}
	}
	if c.Proxy.Route == "" {
		c.Proxy.Route = DefaultRoute
	}
	if c.Proxy.Rewriter == "" {
		c.Proxy.Rewriter = "regex"
	}
	c.Proxy.Rewriter = strings.ToLower(c.Proxy.Rewriter)
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

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

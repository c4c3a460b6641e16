// Package config handles TOML/YAML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/cors-proxy/config.toml",
	"configs/config.toml",
	"configs/config.yaml",
}

// Rewrite modes for RouteConfig.Rewrite.
const (
	RewriteStrip   = "strip"
	RewriteKeep    = "keep"
	RewriteReplace = "replace"
)

// Paths served locally by the proxy. Route prefixes may not claim them.
const (
	HealthPath = "/health"
	StatusPath = "/proxy/status"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string            `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host     string            `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int               `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string            `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Upstream map[string]string `kong:"help='Override a route target as name=URL (repeatable).',env='UPSTREAMS',mapsep=';'"`
	Version  kong.VersionFlag  `kong:"short='v',help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Upstream UpstreamConfig `toml:"upstream" yaml:"upstream"`
	CORS     CORSConfig     `toml:"cors" yaml:"cors"`
	Routes   []RouteConfig  `toml:"routes" yaml:"routes"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host" yaml:"host"`
	Port         int             `toml:"port" yaml:"port"` // 0 means "use default" (3001)
	BodyMaxBytes int64           `toml:"body_max_bytes" yaml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// UpstreamConfig holds settings shared by every upstream connection.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds" yaml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections" yaml:"idle_connections"`
}

// CORSConfig holds the headers injected into every response.
type CORSConfig struct {
	AllowOrigin  string   `toml:"allow_origin" yaml:"allow_origin"`
	AllowMethods []string `toml:"allow_methods" yaml:"allow_methods"`
	AllowHeaders []string `toml:"allow_headers" yaml:"allow_headers"`
}

// RouteConfig declares one forwarding rule. Order in the file is match order.
type RouteConfig struct {
	Name        string `toml:"name" yaml:"name"`
	Prefix      string `toml:"prefix" yaml:"prefix"`
	Target      string `toml:"target" yaml:"target"`
	Rewrite     string `toml:"rewrite" yaml:"rewrite"`
	Replacement string `toml:"replacement" yaml:"replacement"`
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
// configSearchPaths in order.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := unmarshal(path, data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	if err := cfg.applyCLI(cli); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// unmarshal picks the decoder from the file extension; TOML is the default.
func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.UnmarshalStrict(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) error {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}

	names := make([]string, 0, len(cli.Upstream))
	for name := range cli.Upstream {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		i := c.routeIndex(name)
		if i < 0 {
			return fmt.Errorf("upstream override %q does not name a configured route", name)
		}
		c.Routes[i].Target = cli.Upstream[name]
	}
	return nil
}

func (c *Config) routeIndex(name string) int {
	for i, r := range c.Routes {
		if r.Name == name {
			return i
		}
	}
	return -1
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
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{HealthPath, StatusPath} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return c.validateRoutes()
}

func (c *Config) validateRoutes() error {
	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one [[routes]] entry is required")
	}

	reserved := []string{HealthPath, StatusPath}
	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p == "" {
			p = "/metrics"
		}
		reserved = append(reserved, p)
	}

	names := make(map[string]bool, len(c.Routes))
	prefixes := make(map[string]string, len(c.Routes))

	for i, r := range c.Routes {
		if r.Name == "" {
			return fmt.Errorf("routes[%d].name is required", i)
		}
		if names[r.Name] {
			return fmt.Errorf("routes[%d].name %q is duplicated", i, r.Name)
		}
		names[r.Name] = true

		if err := validatePrefix(r.Prefix); err != nil {
			return fmt.Errorf("route %q: %w", r.Name, err)
		}
		if other, ok := prefixes[r.Prefix]; ok {
			return fmt.Errorf("route %q: prefix %q already used by route %q", r.Name, r.Prefix, other)
		}
		prefixes[r.Prefix] = r.Name

		for _, p := range reserved {
			if overlaps(r.Prefix, p) {
				return fmt.Errorf("route %q: prefix %q conflicts with reserved route %q", r.Name, r.Prefix, p)
			}
		}

		if err := validateTarget(r.Target); err != nil {
			return fmt.Errorf("route %q: %w", r.Name, err)
		}

		switch strings.ToLower(r.Rewrite) {
		case RewriteStrip, RewriteKeep, "":
		case RewriteReplace:
			if !strings.HasPrefix(r.Replacement, "/") {
				return fmt.Errorf("route %q: replacement must start with '/' when rewrite is %q; got %q", r.Name, RewriteReplace, r.Replacement)
			}
		default:
			return fmt.Errorf("route %q: rewrite must be one of: strip, keep, replace; got %q", r.Name, r.Rewrite)
		}
	}
	return nil
}

func validatePrefix(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("prefix is required")
	case p[0] != '/':
		return fmt.Errorf("prefix must start with '/'; got %q", p)
	case p == "/":
		return fmt.Errorf("prefix must not be the root path")
	case strings.HasSuffix(p, "/"):
		return fmt.Errorf("prefix must not end with '/'; got %q", p)
	}
	return nil
}

func validateTarget(raw string) error {
	if raw == "" {
		return fmt.Errorf("target is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("target is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target must use http or https; got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("target must include a host; got %q", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("target must not carry a query or fragment; got %q", raw)
	}
	return nil
}

// overlaps reports whether either path is a segment-prefix of the other.
func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3001
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.CORS.AllowOrigin == "" {
		c.CORS.AllowOrigin = "*"
	}
	if len(c.CORS.AllowMethods) == 0 {
		c.CORS.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(c.CORS.AllowHeaders) == 0 {
		c.CORS.AllowHeaders = []string{"Origin", "X-Requested-With", "Content-Type", "Accept", "Authorization"}
	}
	for i := range c.Routes {
		c.Routes[i].Rewrite = strings.ToLower(c.Routes[i].Rewrite)
		if c.Routes[i].Rewrite == "" {
			c.Routes[i].Rewrite = RewriteKeep
		}
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

// Package config loads and validates the registro configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultSessionTTL is the internal session lifetime.
	DefaultSessionTTL = "2h"

	// DefaultRefreshMinInterval throttles the opportunistic refresh of
	// cached aggregates.
	DefaultRefreshMinInterval = "8h"

	// DefaultRESTBaseURL is the upstream REST API base.
	DefaultRESTBaseURL = "https://web.spaggiari.eu/rest/v1"

	// DefaultWebBaseURL is the upstream legacy web base serving the
	// server-rendered pages.
	DefaultWebBaseURL = "https://web.spaggiari.eu"

	// DefaultUserAgent identifies this client to the upstream the same
	// way the official mobile app does; other values get rejected.
	DefaultUserAgent = "CVVS/std/4.1.7 Android/10"

	// DefaultAPIKey is the upstream-issued application key sent with
	// every REST call.
	DefaultAPIKey = "Tg1NWEwNGIgIC0K"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Database DatabaseConfig `yaml:"database"`
	Refresh  RefreshConfig  `yaml:"refresh"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty"`

	// SecureCookies controls the Secure flag on session cookies; off by
	// default so non-TLS container deployments keep working.
	SecureCookies bool `yaml:"secure_cookies"`

	// AllowedRedirects is the allow-list for the optional post-login
	// redirect target.
	AllowedRedirects []string `yaml:"allowed_redirects,omitempty"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Auth          RateLimitTier `yaml:"auth,omitempty"`
	Authenticated RateLimitTier `yaml:"authenticated,omitempty"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// SessionConfig contains internal session credential settings.
type SessionConfig struct {
	// Secret signs the internal session token. Startup fails without it.
	Secret string `yaml:"secret"`
	TTL    string `yaml:"ttl"`
}

// UpstreamConfig contains settings for the upstream school portal.
type UpstreamConfig struct {
	RESTBaseURL string `yaml:"rest_base_url"`
	WebBaseURL  string `yaml:"web_base_url"`
	UserAgent   string `yaml:"user_agent"`
	APIKey      string `yaml:"api_key"`

	// LoginChain orders the login endpoint descriptors to try. Valid
	// names: rest, auth-p7, web-form.
	LoginChain []string `yaml:"login_chain,omitempty"`

	Transport TransportConfig `yaml:"transport,omitempty"`
}

// TransportConfig tunes the retrying HTTP client. Zero values defer to
// the transport package defaults.
type TransportConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	Timeout     string `yaml:"timeout"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// RefreshConfig throttles the opportunistic cached-aggregate refresh.
type RefreshConfig struct {
	MinInterval string `yaml:"min_interval"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if len(c.Server.AllowedRedirects) == 0 {
		c.Server.AllowedRedirects = []string{"/"}
	}

	if c.Session.TTL == "" {
		c.Session.TTL = DefaultSessionTTL
	}

	if c.Upstream.RESTBaseURL == "" {
		c.Upstream.RESTBaseURL = DefaultRESTBaseURL
	}

	if c.Upstream.WebBaseURL == "" {
		c.Upstream.WebBaseURL = DefaultWebBaseURL
	}

	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = DefaultUserAgent
	}

	if c.Upstream.APIKey == "" {
		c.Upstream.APIKey = DefaultAPIKey
	}

	if len(c.Upstream.LoginChain) == 0 {
		c.Upstream.LoginChain = []string{"rest", "auth-p7", "web-form"}
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = "./registro.db"
	}

	if c.Refresh.MinInterval == "" {
		c.Refresh.MinInterval = DefaultRefreshMinInterval
	}
}

// Validate checks the configuration for errors. A missing session
// secret is the one hard startup failure the core mandates.
func (c *Config) Validate() error {
	if c.Session.Secret == "" {
		return fmt.Errorf("session.secret is required")
	}

	if _, err := time.ParseDuration(c.Session.TTL); err != nil {
		return fmt.Errorf("session.ttl: %w", err)
	}

	if _, err := time.ParseDuration(c.Refresh.MinInterval); err != nil {
		return fmt.Errorf("refresh.min_interval: %w", err)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Upstream.Transport.BaseDelay != "" {
		if _, err := time.ParseDuration(c.Upstream.Transport.BaseDelay); err != nil {
			return fmt.Errorf("upstream.transport.base_delay: %w", err)
		}
	}

	if c.Upstream.Transport.Timeout != "" {
		if _, err := time.ParseDuration(c.Upstream.Transport.Timeout); err != nil {
			return fmt.Errorf("upstream.transport.timeout: %w", err)
		}
	}

	return nil
}

// SessionTTL returns the parsed session lifetime.
func (c *Config) SessionTTL() time.Duration {
	d, _ := time.ParseDuration(c.Session.TTL)

	return d
}

// RefreshMinInterval returns the parsed refresh throttle window.
func (c *Config) RefreshMinInterval() time.Duration {
	d, _ := time.ParseDuration(c.Refresh.MinInterval)

	return d
}

// ParsedBaseDelay returns the parsed retry base delay, or zero when unset.
func (c *TransportConfig) ParsedBaseDelay() time.Duration {
	d, _ := time.ParseDuration(c.BaseDelay)

	return d
}

// ParsedTimeout returns the parsed per-attempt timeout, or zero when unset.
func (c *TransportConfig) ParsedTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)

	return d
}

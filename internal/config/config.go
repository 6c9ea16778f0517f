// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Backend       BackendConfig       `yaml:"backend"`
	Mutation      MutationConfig      `yaml:"mutation"`
	Searcher      SearcherConfig      `yaml:"searcher"`
	Journal       JournalConfig       `yaml:"journal"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Permissions   PermissionsConfig   `yaml:"permissions"`
	Settings      SettingsConfig      `yaml:"settings"`
	Notify        NotifyConfig        `yaml:"notify"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
	// SessionIdleTimeout evicts a subject's in-memory state after this
	// long without a request. Zero keeps it until logout.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	// PublicURL is the path prefix the portal is served under.
	PublicURL string `yaml:"public_url"`
	// Environment names the deployment ("development" enables the root
	// redirect to the public URL).
	Environment string `yaml:"environment"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT verification settings for BFF callers.
// Exactly one of JWKSURL or HMACSecretEnv must be set.
type IdentityConfig struct {
	Issuer        string            `yaml:"issuer"`
	Audience      string            `yaml:"audience"`
	JWKSURL       string            `yaml:"jwks_url"`
	JWKSCacheTTL  time.Duration     `yaml:"jwks_cache_ttl"`
	HMACSecretEnv string            `yaml:"hmac_secret_env"`
	Algorithms    []string          `yaml:"algorithms"`
	ClaimPaths    map[string]string `yaml:"claim_paths"`
}

// BackendConfig describes the GraphQL backend.
type BackendConfig struct {
	// APIURL is the base API URL; GraphQL is served at APIURL + "/graphql".
	APIURL         string               `yaml:"api_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// CircuitBreakerConfig describes circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RateLimitConfig bounds outbound request rate. A zero RequestsPerSecond
// disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// MutationConfig describes mutation completion polling.
type MutationConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffStep time.Duration `yaml:"backoff_step"`
}

// SearcherConfig describes searcher definitions and filter caching.
type SearcherConfig struct {
	Directories     []string          `yaml:"directories"`
	HotReload       bool              `yaml:"hot_reload"`
	DefaultPageSize int               `yaml:"default_page_size"`
	FilterCache     FilterCacheConfig `yaml:"filter_cache"`
}

// FilterCacheConfig describes filter cache persistence.
type FilterCacheConfig struct {
	Driver  string        `yaml:"driver"`
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// JournalConfig describes mutation journal persistence.
type JournalConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CapabilityConfig describes rights resolution.
type CapabilityConfig struct {
	Cache CacheConfig `yaml:"cache"`
}

// PermissionsConfig describes the permission catalog cache.
type PermissionsConfig struct {
	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// SettingsConfig describes persisted client settings.
type SettingsConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	Watch  bool   `yaml:"watch"`
}

// NotifyConfig describes mutation outcome publishing.
type NotifyConfig struct {
	Driver        string `yaml:"driver"`
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // json or console
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Exporter          string  `yaml:"exporter"`
	Endpoint          string  `yaml:"endpoint"`
	SamplingRate      float64 `yaml:"sampling_rate"`
	ForceSampleErrors bool    `yaml:"force_sample_errors"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IsDevelopment reports whether the server runs in a development environment.
func (s ServerConfig) IsDevelopment() bool {
	switch strings.ToLower(s.Environment) {
	case "development", "dev":
		return true
	}
	return false
}

// GraphQLURL returns the backend's GraphQL endpoint.
func (b BackendConfig) GraphQLURL() string {
	return strings.TrimRight(b.APIURL, "/") + "/graphql"
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
			HandlerTimeout:     25 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			SessionIdleTimeout: 30 * time.Minute,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-CSRFToken"},
				MaxAge: 86400,
			},
			PublicURL:   "/",
			Environment: "production",
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject":  "sub",
				"username": "username",
				"email":    "email",
				"language": "language",
			},
		},
		Backend: BackendConfig{
			APIURL:  "/api",
			Timeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Mutation: MutationConfig{
			MaxAttempts: 10,
			BackoffStep: 100 * time.Millisecond,
		},
		Searcher: SearcherConfig{
			Directories:     []string{"/definitions"},
			DefaultPageSize: 10,
			FilterCache: FilterCacheConfig{
				Driver: "memory",
				TTL:    24 * time.Hour,
			},
		},
		Journal: JournalConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Capability: CapabilityConfig{
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 10000,
			},
		},
		Permissions: PermissionsConfig{
			Cache: CacheConfig{
				TTL:        15 * time.Minute,
				MaxEntries: 1,
			},
		},
		Settings: SettingsConfig{
			Driver: "memory",
		},
		Notify: NotifyConfig{
			Driver:        "inprocess",
			SubjectPrefix: "portico.mutations",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "/") {
		errs = append(errs, "server.public_url must start with /")
	}
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	switch {
	case c.Identity.JWKSURL == "" && c.Identity.HMACSecretEnv == "":
		errs = append(errs, "identity.jwks_url or identity.hmac_secret_env is required")
	case c.Identity.JWKSURL != "" && c.Identity.HMACSecretEnv != "":
		errs = append(errs, "identity.jwks_url and identity.hmac_secret_env are mutually exclusive")
	}
	if c.Backend.APIURL == "" {
		errs = append(errs, "backend.api_url is required")
	}
	if c.Mutation.MaxAttempts < 1 {
		errs = append(errs, "mutation.max_attempts must be at least 1")
	}
	if c.Mutation.BackoffStep < 0 {
		errs = append(errs, "mutation.backoff_step must not be negative")
	}
	if c.Searcher.DefaultPageSize < 1 {
		errs = append(errs, "searcher.default_page_size must be at least 1")
	}
	switch c.Searcher.FilterCache.Driver {
	case "memory":
	case "redis":
		if c.Searcher.FilterCache.AddrEnv == "" {
			errs = append(errs, "searcher.filter_cache.addr_env is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("searcher.filter_cache.driver %q is not supported", c.Searcher.FilterCache.Driver))
	}
	switch c.Journal.Driver {
	case "memory":
	case "postgres":
		if c.Journal.DSNEnv == "" {
			errs = append(errs, "journal.dsn_env is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("journal.driver %q is not supported", c.Journal.Driver))
	}
	switch c.Settings.Driver {
	case "memory":
	case "file":
		if c.Settings.Path == "" {
			errs = append(errs, "settings.path is required for the file driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("settings.driver %q is not supported", c.Settings.Driver))
	}
	switch c.Observability.LogFormat {
	case "json", "console", "":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format %q is not supported", c.Observability.LogFormat))
	}
	switch c.Notify.Driver {
	case "inprocess":
	case "nats":
		if c.Notify.NATSURL == "" {
			errs = append(errs, "notify.nats_url is required for the nats driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.driver %q is not supported", c.Notify.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads PORTICO_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORTICO_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PORTICO_API_URL"); v != "" {
		cfg.Backend.APIURL = v
	}
	if v := os.Getenv("PORTICO_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("PORTICO_ENV"); v != "" {
		cfg.Server.Environment = v
	}
	if v := os.Getenv("PORTICO_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("PORTICO_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("PORTICO_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("PORTICO_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("PORTICO_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
	if v := os.Getenv("PORTICO_NATS_URL"); v != "" {
		cfg.Notify.NATSURL = v
	}
}

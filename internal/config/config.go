// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultAPIBaseURL is used when neither API_BASE_URL nor NEXT_PUBLIC_API_BASE_URL is set.
const DefaultAPIBaseURL = "http://localhost:5003/api/v1"

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the storefront web server listens on (e.g. :3000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// APIBaseURL is the remote REST API origin including its version prefix.
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	// BackendURL is the origin used by the token-clearing path for /auth/logout. Defaults to APIBaseURL.
	BackendURL string `mapstructure:"BACKEND_URL"`
	// APITimeout bounds every remote API call (e.g. "15s").
	APITimeout string `mapstructure:"API_TIMEOUT"`
	// DatabaseURL selects the durable token store (postgres:// or sqlite://). Empty keeps tokens in memory.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// SessionIdleTTL is how long an unused visitor session is kept (e.g. "24h").
	SessionIdleTTL string `mapstructure:"SESSION_IDLE_TTL"`
	// OTPSendRate is the number of OTP or verification sends allowed per visitor per minute. 0 disables the limit.
	OTPSendRate int `mapstructure:"OTP_SEND_RATE"`
	// TemplateDir, when set, serves page templates from disk and reloads them on change.
	TemplateDir string `mapstructure:"TEMPLATE_DIR"`
	// AdminPolicyFile is an optional Rego module deciding admin access. Empty uses the built-in role list.
	AdminPolicyFile string `mapstructure:"ADMIN_POLICY_FILE"`

	// OTLPEndpoint enables OTLP export of traces, metrics and auth event logs.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated list of Kafka brokers for the auth event stream.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuthEventsTopic is the Kafka topic for auth events (default storefront-auth-events).
	AuthEventsTopic string `mapstructure:"AUTH_EVENTS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group of cmd/worker (default storefront-auth-events-worker).
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL cmd/worker pushes auth events to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// CookieSecure marks the visitor cookie Secure. Required when Env is production.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
// API_BASE_URL and BACKEND_URL fall back to their NEXT_PUBLIC_ prefixed names.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("API_BASE_URL", "")
	v.SetDefault("BACKEND_URL", "")
	v.SetDefault("API_TIMEOUT", "15s")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SESSION_IDLE_TTL", "24h")
	v.SetDefault("OTP_SEND_RATE", 3)
	v.SetDefault("TEMPLATE_DIR", "")
	v.SetDefault("ADMIN_POLICY_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUTH_EVENTS_KAFKA_TOPIC", "storefront-auth-events")
	v.SetDefault("KAFKA_GROUP_ID", "storefront-auth-events-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = v.GetString("NEXT_PUBLIC_API_BASE_URL")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = v.GetString("NEXT_PUBLIC_BACKEND_URL")
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = cfg.APIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if !isAbsoluteHTTPURL(cfg.APIBaseURL) {
		return nil, errors.New("config: API_BASE_URL must be an absolute http(s) URL")
	}
	if !isAbsoluteHTTPURL(cfg.BackendURL) {
		return nil, errors.New("config: BACKEND_URL must be an absolute http(s) URL")
	}
	if cfg.OTPSendRate < 0 {
		return nil, errors.New("config: OTP_SEND_RATE must not be negative")
	}
	if cfg.IsProduction() && !cfg.CookieSecure {
		return nil, errors.New("config: COOKIE_SECURE must be true when APP_ENV=production")
	}

	return &cfg, nil
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c != nil && strings.EqualFold(c.Env, "production")
}

// Timeout parses APITimeout as a time.Duration. Returns 15s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.APITimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// IdleTTL parses SessionIdleTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) IdleTTL() time.Duration {
	d, err := time.ParseDuration(c.SessionIdleTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list means the Kafka auth event stream is disabled.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

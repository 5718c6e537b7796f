package config

import (
	"testing"
	"time"
)

// unsetAll blanks every key Load reads; viper ignores empty env vars, so defaults apply.
func unsetAll(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "API_BASE_URL", "NEXT_PUBLIC_API_BASE_URL", "BACKEND_URL", "NEXT_PUBLIC_BACKEND_URL",
		"API_TIMEOUT", "DATABASE_URL", "SESSION_IDLE_TTL", "OTP_SEND_RATE", "TEMPLATE_DIR",
		"ADMIN_POLICY_FILE", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
		"KAFKA_BROKERS", "AUTH_EVENTS_KAFKA_TOPIC", "KAFKA_GROUP_ID", "LOKI_URL", "COOKIE_SECURE", "APP_ENV", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	unsetAll(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":3000")
	}
	if cfg.APIBaseURL != DefaultAPIBaseURL {
		t.Errorf("APIBaseURL = %q, want %q", cfg.APIBaseURL, DefaultAPIBaseURL)
	}
	if cfg.BackendURL != DefaultAPIBaseURL {
		t.Errorf("BackendURL = %q, want it to follow APIBaseURL", cfg.BackendURL)
	}
	if cfg.Timeout() != 15*time.Second {
		t.Errorf("Timeout() = %v, want 15s", cfg.Timeout())
	}
	if cfg.IdleTTL() != 24*time.Hour {
		t.Errorf("IdleTTL() = %v, want 24h", cfg.IdleTTL())
	}
	if cfg.OTPSendRate != 3 {
		t.Errorf("OTPSendRate = %d, want 3", cfg.OTPSendRate)
	}
	if cfg.AuthEventsTopic != "storefront-auth-events" {
		t.Errorf("AuthEventsTopic = %q, want default", cfg.AuthEventsTopic)
	}
	if cfg.KafkaGroupID != "storefront-auth-events-worker" {
		t.Errorf("KafkaGroupID = %q, want default", cfg.KafkaGroupID)
	}
	if cfg.CookieSecure {
		t.Error("CookieSecure should default to false")
	}
}

func TestLoad_PublicAliases(t *testing.T) {
	unsetAll(t)
	t.Setenv("NEXT_PUBLIC_API_BASE_URL", "https://api.example.com/api/v1/")
	t.Setenv("NEXT_PUBLIC_BACKEND_URL", "https://auth.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIBaseURL != "https://api.example.com/api/v1" {
		t.Errorf("APIBaseURL = %q, want trailing slash trimmed alias value", cfg.APIBaseURL)
	}
	if cfg.BackendURL != "https://auth.example.com" {
		t.Errorf("BackendURL = %q, want %q", cfg.BackendURL, "https://auth.example.com")
	}
}

func TestLoad_PrimaryKeyWinsOverAlias(t *testing.T) {
	unsetAll(t)
	t.Setenv("API_BASE_URL", "https://primary.example.com/api/v1")
	t.Setenv("NEXT_PUBLIC_API_BASE_URL", "https://alias.example.com/api/v1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIBaseURL != "https://primary.example.com/api/v1" {
		t.Errorf("APIBaseURL = %q, want primary", cfg.APIBaseURL)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	unsetAll(t)
	t.Setenv("HTTP_ADDR", ":8081")
	t.Setenv("API_TIMEOUT", "3s")
	t.Setenv("OTP_SEND_RATE", "10")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8081" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8081")
	}
	if cfg.Timeout() != 3*time.Second {
		t.Errorf("Timeout() = %v, want 3s", cfg.Timeout())
	}
	if cfg.OTPSendRate != 10 {
		t.Errorf("OTPSendRate = %d, want 10", cfg.OTPSendRate)
	}
	brokers := cfg.KafkaBrokersList()
	if len(brokers) != 2 || brokers[0] != "k1:9092" || brokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokersList() = %v, want [k1:9092 k2:9092]", brokers)
	}
}

func TestLoad_InvalidAPIBaseURL(t *testing.T) {
	unsetAll(t)
	t.Setenv("API_BASE_URL", "localhost:5003")

	if _, err := Load(); err == nil {
		t.Fatal("Load: expected error for relative API_BASE_URL")
	}
}

func TestLoad_ProductionRequiresSecureCookie(t *testing.T) {
	unsetAll(t)
	t.Setenv("APP_ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatal("Load: expected error when COOKIE_SECURE is false in production")
	}

	t.Setenv("COOKIE_SECURE", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction() = false, want true")
	}
}

func TestDurations_FallbackOnInvalid(t *testing.T) {
	cfg := &Config{APITimeout: "soon", SessionIdleTTL: "-1h"}
	if cfg.Timeout() != 15*time.Second {
		t.Errorf("Timeout() = %v, want 15s", cfg.Timeout())
	}
	if cfg.IdleTTL() != 24*time.Hour {
		t.Errorf("IdleTTL() = %v, want 24h", cfg.IdleTTL())
	}
}

func TestKafkaBrokersList_Nil(t *testing.T) {
	var cfg *Config
	if got := cfg.KafkaBrokersList(); got != nil {
		t.Errorf("KafkaBrokersList() on nil = %v, want nil", got)
	}
}

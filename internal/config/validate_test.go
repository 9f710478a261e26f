package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080, ReadTimeout: 15 * time.Second, WriteTimeout: 190 * time.Second},
		DB: DBConfig{
			Host: "localhost", Port: 5432, User: "liminal",
			Password: "secret", Name: "liminal", SSLMode: "disable", MaxConns: 25,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		NATS:  NATSConfig{URL: "nats://localhost:4222", Enabled: true},
		JWT: JWTConfig{
			AccessSecret:  "access-secret-that-is-at-least-32-chars!",
			RefreshSecret: "refresh-secret-that-is-at-least-32-chr!",
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: 168 * time.Hour,
		},
		RateLimit: RateLimitConfig{AuthMax: 10, AuthWindow: 60, ConsultMax: 10, ConsultWindow: 300},
		Quota: QuotaConfig{
			Backend:           QuotaBackendRedis,
			PerAgentLimit:     3,
			DefaultDailyLimit: 3,
			PremiumDailyLimit: 10,
			Timezone:          "UTC",
			RetentionDays:     60,
		},
		Generation: GenerationConfig{
			WebhookBaseURL: "https://n8n.example.com/webhook",
			UserAgent:      "Agents-Liminals/2.0",
			MaxAttempts:    3,
			BaseTimeout:    30 * time.Second,
			TimeoutGrowth:  10 * time.Second,
			BackoffUnit:    time.Second,
			SubmitTimeout:  3 * time.Minute,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_JWTAccessSecretTooShort(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.AccessSecret = "short"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "JWT_ACCESS_SECRET") {
		t.Fatalf("expected JWT_ACCESS_SECRET error, got: %v", err)
	}
}

func TestValidate_JWTSecretsMustDiffer(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.AccessSecret = "the-same-secret-that-is-at-least-32-chars!"
	cfg.JWT.RefreshSecret = "the-same-secret-that-is-at-least-32-chars!"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("expected 'must differ' error, got: %v", err)
	}
}

func TestValidate_DBPasswordRequired(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB_PASSWORD error, got: %v", err)
	}
}

func TestValidate_Quota(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*QuotaConfig)
		want   string
	}{
		{"unknown backend", func(q *QuotaConfig) { q.Backend = "etcd" }, "QUOTA_BACKEND"},
		{"zero per agent", func(q *QuotaConfig) { q.PerAgentLimit = 0 }, "QUOTA_PER_AGENT_LIMIT"},
		{"premium below default", func(q *QuotaConfig) { q.PremiumDailyLimit = 2 }, "QUOTA_PREMIUM_DAILY_LIMIT"},
		{"bad timezone", func(q *QuotaConfig) { q.Timezone = "Mars/Olympus" }, "QUOTA_TIMEZONE"},
		{"no retention", func(q *QuotaConfig) { q.RetentionDays = 0 }, "QUOTA_RETENTION_DAYS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg.Quota)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %s error, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_QuotaMemoryBackendAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.Backend = QuotaBackendMemory
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_Generation(t *testing.T) {
	cfg := validConfig()
	cfg.Generation.WebhookBaseURL = "ftp://example.com"
	cfg.Generation.MaxAttempts = 0
	cfg.Generation.BaseTimeout = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected generation validation errors")
	}
	for _, substr := range []string{"GENERATION_WEBHOOK_BASE_URL", "GENERATION_MAX_ATTEMPTS", "GENERATION_BASE_TIMEOUT"} {
		if !strings.Contains(err.Error(), substr) {
			t.Errorf("expected %q in error: %v", substr, err)
		}
	}
}

func TestValidate_WebhookBaseOptionalWithCatalogFile(t *testing.T) {
	cfg := validConfig()
	cfg.Generation.WebhookBaseURL = ""
	cfg.Agents.CatalogPath = "/etc/liminal/agents.yaml"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	cfg.Agents.CatalogPath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected GENERATION_WEBHOOK_BASE_URL error with the built-in catalog")
	}
}

func TestValidate_InvalidPorts(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.DB.Port = 99999
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected port validation errors")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("expected SERVER_PORT error in: %v", err)
	}
	if !strings.Contains(err.Error(), "DB_PORT") {
		t.Errorf("expected DB_PORT error in: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 0},
		DB:     DBConfig{Port: 5432},
		Redis:  RedisConfig{Port: 6379},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}
	errStr := err.Error()
	for _, substr := range []string{"JWT_ACCESS_SECRET", "JWT_REFRESH_SECRET", "DB_PASSWORD", "SERVER_PORT", "QUOTA_BACKEND", "GENERATION_MAX_ATTEMPTS"} {
		if !strings.Contains(errStr, substr) {
			t.Errorf("expected %q in error: %s", substr, errStr)
		}
	}
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("QUOTA_BACKEND", "postgres")
	t.Setenv("GENERATION_BASE_TIMEOUT", "5s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(t.TempDir() + "/missing.env")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Quota.Backend != QuotaBackendPostgres {
		t.Errorf("quota backend = %q, want postgres", cfg.Quota.Backend)
	}
	if cfg.Generation.BaseTimeout != 5*time.Second {
		t.Errorf("base timeout = %s, want 5s", cfg.Generation.BaseTimeout)
	}
	if cfg.Generation.SubmitTimeout != 3*time.Minute {
		t.Errorf("submit timeout = %s, want 3m", cfg.Generation.SubmitTimeout)
	}
	if cfg.Quota.PerAgentLimit != 3 || cfg.Quota.PremiumDailyLimit != 10 {
		t.Errorf("quota limits = %d/%d, want 3/10", cfg.Quota.PerAgentLimit, cfg.Quota.PremiumDailyLimit)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("cors origins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestServerConfig_TrustedProxyPrefixes(t *testing.T) {
	cfg := ServerConfig{TrustedProxies: []string{"10.0.0.0/8", "192.168.1.7", "2001:db8::1/64"}}
	prefixes, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"10.0.0.0/8", "192.168.1.7/32", "2001:db8::/64"}
	if len(prefixes) != len(want) {
		t.Fatalf("expected %d prefixes, got %d", len(want), len(prefixes))
	}
	for i, p := range prefixes {
		if p.String() != want[i] {
			t.Fatalf("prefix %d: expected %s, got %s", i, want[i], p)
		}
	}
}

func TestValidate_BadTrustedProxy(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "not-a-proxy"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SERVER_TRUSTED_PROXIES") {
		t.Fatalf("expected SERVER_TRUSTED_PROXIES error, got: %v", err)
	}
}

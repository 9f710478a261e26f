package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secrets
	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}
	if len(c.JWT.RefreshSecret) < 32 {
		errs = append(errs, "JWT_REFRESH_SECRET must be at least 32 characters")
	}
	if c.JWT.AccessSecret != "" && c.JWT.RefreshSecret != "" && c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Proxies
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, "SERVER_TRUSTED_PROXIES: "+err.Error())
	}

	// Quota
	switch c.Quota.Backend {
	case QuotaBackendMemory:
		slog.Warn("QUOTA_BACKEND=memory keeps counters in process; they reset on restart and are not shared")
	case QuotaBackendRedis, QuotaBackendPostgres:
	default:
		errs = append(errs, fmt.Sprintf("QUOTA_BACKEND must be memory, redis or postgres, got %q", c.Quota.Backend))
	}
	if c.Quota.PerAgentLimit < 1 {
		errs = append(errs, "QUOTA_PER_AGENT_LIMIT must be positive")
	}
	if c.Quota.DefaultDailyLimit < 1 {
		errs = append(errs, "QUOTA_DEFAULT_DAILY_LIMIT must be positive")
	}
	if c.Quota.PremiumDailyLimit < c.Quota.DefaultDailyLimit {
		errs = append(errs, "QUOTA_PREMIUM_DAILY_LIMIT must not be below QUOTA_DEFAULT_DAILY_LIMIT")
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("QUOTA_TIMEZONE %q is not a known location", c.Quota.Timezone))
	}
	if c.Quota.RetentionDays < 1 {
		errs = append(errs, "QUOTA_RETENTION_DAYS must be positive")
	}

	// Generation
	if c.Generation.WebhookBaseURL == "" {
		if c.Agents.CatalogPath == "" {
			errs = append(errs, "GENERATION_WEBHOOK_BASE_URL is required with the built-in agent catalog")
		}
	} else if u, err := url.Parse(c.Generation.WebhookBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, "GENERATION_WEBHOOK_BASE_URL must be an http(s) URL")
	}
	if c.Generation.MaxAttempts < 1 {
		errs = append(errs, "GENERATION_MAX_ATTEMPTS must be at least 1")
	}
	if c.Generation.BaseTimeout <= 0 {
		errs = append(errs, "GENERATION_BASE_TIMEOUT must be positive")
	}
	if c.Generation.TimeoutGrowth < 0 || c.Generation.BackoffUnit < 0 {
		errs = append(errs, "GENERATION_TIMEOUT_GROWTH and GENERATION_BACKOFF_UNIT must not be negative")
	}
	if c.Generation.SubmitTimeout > 0 && c.Server.WriteTimeout > 0 && c.Generation.SubmitTimeout >= c.Server.WriteTimeout {
		slog.Warn("GENERATION_SUBMIT_TIMEOUT is not below SERVER_WRITE_TIMEOUT; slow consultations may lose their response",
			"submit_timeout", c.Generation.SubmitTimeout, "write_timeout", c.Server.WriteTimeout)
	}

	// Rate limits
	if c.RateLimit.AuthMax < 1 || c.RateLimit.AuthWindow < 1 {
		errs = append(errs, "RATELIMIT_AUTH_MAX and RATELIMIT_AUTH_WINDOW must be positive")
	}
	if c.RateLimit.ConsultMax < 1 || c.RateLimit.ConsultWindow < 1 {
		errs = append(errs, "RATELIMIT_CONSULT_MAX and RATELIMIT_CONSULT_WINDOW must be positive")
	}

	// NATS: warn only
	if !c.NATS.Enabled {
		slog.Warn("NATS_ENABLED is false; consultation and audit events are not published")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}

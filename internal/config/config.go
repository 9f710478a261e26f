package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvFile is read when no explicit path is given.
const DefaultEnvFile = ".env"

type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Redis      RedisConfig
	NATS       NATSConfig
	JWT        JWTConfig
	Log        LogConfig
	CORS       CORSConfig
	RateLimit  RateLimitConfig
	Quota      QuotaConfig
	Generation GenerationConfig
	Agents     AgentsConfig
	Migrations MigrationsConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TrustedProxies lists the CIDRs or addresses whose forwarding
	// headers are believed. Empty means the peer address is the client.
	TrustedProxies []string
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is taken
// as a single-host prefix.
func (c ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		if p, err := netip.ParsePrefix(raw); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q is not an address or CIDR", raw)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig enables event publishing. With Enabled false the service
// runs without events and without the audit consumer.
type NATSConfig struct {
	URL     string
	Enabled bool
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig holds per-IP sliding windows, in requests per seconds.
type RateLimitConfig struct {
	AuthMax       int
	AuthWindow    int
	ConsultMax    int
	ConsultWindow int
}

// Quota backends.
const (
	QuotaBackendMemory   = "memory"
	QuotaBackendRedis    = "redis"
	QuotaBackendPostgres = "postgres"
)

type QuotaConfig struct {
	Backend           string
	PerAgentLimit     int
	DefaultDailyLimit int
	PremiumDailyLimit int
	Timezone          string
	RetentionDays     int
}

// Location resolves Timezone. Validate has already checked it.
func (c QuotaConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type GenerationConfig struct {
	WebhookBaseURL string
	UserAgent      string
	MaxAttempts    int
	BaseTimeout    time.Duration
	TimeoutGrowth  time.Duration
	BackoffUnit    time.Duration
	SubmitTimeout  time.Duration
}

type AgentsConfig struct {
	// CatalogPath points to a YAML catalog. Empty means the built-in one.
	CatalogPath string
}

type MigrationsConfig struct {
	Path      string
	AutoApply bool
}

// Load reads envFile (a dotenv file, ignored if missing) and then the
// process environment, which takes precedence.
func Load(envFile string) (*Config, error) {
	k := koanf.New(".")

	if envFile == "" {
		envFile = DefaultEnvFile
	}
	// A missing file is fine
	_ = k.Load(file.Provider(envFile), dotenv.Parser())

	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           k.String("server.host"),
			Port:           k.Int("server.port"),
			TrustedProxies: splitList(k.String("server.trusted.proxies")),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL:     k.String("nats.url"),
			Enabled: k.Bool("nats.enabled"),
		},
		JWT: JWTConfig{
			AccessSecret:  k.String("jwt.access.secret"),
			RefreshSecret: k.String("jwt.refresh.secret"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(k.String("cors.allowed.origins")),
		},
		RateLimit: RateLimitConfig{
			AuthMax:       k.Int("ratelimit.auth.max"),
			AuthWindow:    k.Int("ratelimit.auth.window"),
			ConsultMax:    k.Int("ratelimit.consult.max"),
			ConsultWindow: k.Int("ratelimit.consult.window"),
		},
		Quota: QuotaConfig{
			Backend:           k.String("quota.backend"),
			PerAgentLimit:     k.Int("quota.per.agent.limit"),
			DefaultDailyLimit: k.Int("quota.default.daily.limit"),
			PremiumDailyLimit: k.Int("quota.premium.daily.limit"),
			Timezone:          k.String("quota.timezone"),
			RetentionDays:     k.Int("quota.retention.days"),
		},
		Generation: GenerationConfig{
			WebhookBaseURL: k.String("generation.webhook.base.url"),
			UserAgent:      k.String("generation.user.agent"),
			MaxAttempts:    k.Int("generation.max.attempts"),
		},
		Agents: AgentsConfig{
			CatalogPath: k.String("agents.catalog.path"),
		},
		Migrations: MigrationsConfig{
			Path:      k.String("migrations.path"),
			AutoApply: k.Bool("migrations.auto.apply"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "liminal"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "liminal"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.RateLimit.AuthMax == 0 {
		cfg.RateLimit.AuthMax = 10
	}
	if cfg.RateLimit.AuthWindow == 0 {
		cfg.RateLimit.AuthWindow = 60
	}
	if cfg.RateLimit.ConsultMax == 0 {
		cfg.RateLimit.ConsultMax = 10
	}
	if cfg.RateLimit.ConsultWindow == 0 {
		cfg.RateLimit.ConsultWindow = 300
	}
	if cfg.Quota.Backend == "" {
		cfg.Quota.Backend = QuotaBackendRedis
	}
	if cfg.Quota.PerAgentLimit == 0 {
		cfg.Quota.PerAgentLimit = 3
	}
	if cfg.Quota.DefaultDailyLimit == 0 {
		cfg.Quota.DefaultDailyLimit = 3
	}
	if cfg.Quota.PremiumDailyLimit == 0 {
		cfg.Quota.PremiumDailyLimit = 10
	}
	if cfg.Quota.Timezone == "" {
		cfg.Quota.Timezone = "UTC"
	}
	if cfg.Quota.RetentionDays == 0 {
		cfg.Quota.RetentionDays = 60
	}
	if cfg.Generation.UserAgent == "" {
		cfg.Generation.UserAgent = "Agents-Liminals/2.0"
	}
	if cfg.Generation.MaxAttempts == 0 {
		cfg.Generation.MaxAttempts = 3
	}
	if cfg.Migrations.Path == "" {
		cfg.Migrations.Path = "migrations"
	}

	// Parse durations
	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"server.read.timeout", "15s", &cfg.Server.ReadTimeout},
		// Long enough for a submission to run all its attempts.
		{"server.write.timeout", "190s", &cfg.Server.WriteTimeout},
		{"jwt.access.expiry", "15m", &cfg.JWT.AccessExpiry},
		{"jwt.refresh.expiry", "168h", &cfg.JWT.RefreshExpiry},
		{"generation.base.timeout", "30s", &cfg.Generation.BaseTimeout},
		{"generation.timeout.growth", "10s", &cfg.Generation.TimeoutGrowth},
		{"generation.backoff.unit", "1s", &cfg.Generation.BackoffUnit},
		{"generation.submit.timeout", "3m", &cfg.Generation.SubmitTimeout},
	}
	for _, d := range durations {
		raw := k.String(d.key)
		if raw == "" {
			raw = d.def
		}
		*d.dst, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.key, err)
		}
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

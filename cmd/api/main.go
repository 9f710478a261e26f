package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/agents-liminals/liminal/internal/agents"
	"github.com/agents-liminals/liminal/internal/api"
	"github.com/agents-liminals/liminal/internal/audit"
	"github.com/agents-liminals/liminal/internal/auth"
	"github.com/agents-liminals/liminal/internal/config"
	"github.com/agents-liminals/liminal/internal/consultation"
	"github.com/agents-liminals/liminal/internal/database"
	"github.com/agents-liminals/liminal/internal/generation"
	mw "github.com/agents-liminals/liminal/internal/middleware"
	inats "github.com/agents-liminals/liminal/internal/nats"
	"github.com/agents-liminals/liminal/internal/orchestrator"
	"github.com/agents-liminals/liminal/internal/quota"
	iredis "github.com/agents-liminals/liminal/internal/redis"
	"github.com/agents-liminals/liminal/internal/retry"
	"github.com/agents-liminals/liminal/internal/server"
	"github.com/agents-liminals/liminal/internal/users"
)

func main() {
	envFile := pflag.String("config", config.DefaultEnvFile, "dotenv file to load before the environment")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	if cfg.Migrations.AutoApply {
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.Migrations.Path); err != nil {
			return err
		}
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisClient.Close()

	// NATS (optional)
	var (
		natsClient *inats.Client
		publisher  orchestrator.EventPublisher
	)
	auditRepo := audit.NewRepository(pool)
	if cfg.NATS.Enabled {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		defer natsClient.Close()

		publisher = inats.NewPublisher(natsClient.JetStream())

		auditConsumer := audit.NewConsumer(auditRepo, inats.NewConsumerManager(natsClient.JetStream()))
		go func() {
			if err := auditConsumer.Start(ctx); err != nil {
				slog.Error("audit consumer stopped", "error", err)
			}
		}()
	}

	// Quota
	ledger, err := newLedger(cfg.Quota, pool, redisClient)
	if err != nil {
		return err
	}

	// Users and auth
	userSvc := users.NewService(users.NewRepository(pool), users.Plans{
		DefaultDailyLimit: cfg.Quota.DefaultDailyLimit,
		PremiumDailyLimit: cfg.Quota.PremiumDailyLimit,
	})
	jwtManager := auth.NewJWTManager(
		cfg.JWT.AccessSecret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)
	authSvc := auth.NewService(jwtManager, redisClient)
	authHandler := auth.NewHandler(authSvc, userSvc)

	// Agents
	catalog, err := agents.LoadCatalog(cfg.Agents.CatalogPath, agents.CatalogConfig{
		WebhookBaseURL:    cfg.Generation.WebhookBaseURL,
		DefaultDailyLimit: cfg.Quota.PerAgentLimit,
	})
	if err != nil {
		return err
	}
	slog.Info("agent catalog loaded", "agents", catalog.Names())
	agentHandler := agents.NewHandler(catalog, ledger, userSvc)

	// Consultations
	caller := retry.NewCaller(retry.Policy{
		MaxAttempts:   cfg.Generation.MaxAttempts,
		BaseTimeout:   cfg.Generation.BaseTimeout,
		TimeoutGrowth: cfg.Generation.TimeoutGrowth,
		BackoffUnit:   cfg.Generation.BackoffUnit,
	})
	orchOpts := []orchestrator.Option{orchestrator.WithLogger(slog.Default().With("component", "orchestrator"))}
	if publisher != nil {
		orchOpts = append(orchOpts, orchestrator.WithPublisher(publisher))
	}
	orch := orchestrator.NewOrchestrator(
		orchestrator.NewRouter(catalog),
		ledger,
		userSvc,
		caller,
		generation.NewClient(generation.WithUserAgent(cfg.Generation.UserAgent)),
		consultation.NewRepository(pool),
		orchOpts...,
	)
	consultHandler := orchestrator.NewHandler(orch, cfg.Generation.SubmitTimeout)
	auditHandler := audit.NewHandler(auditRepo)

	// Rate limiters
	authLimiter := mw.NewRateLimiter(redisClient, "auth", cfg.RateLimit.AuthMax, cfg.RateLimit.AuthWindow)
	consultLimiter := mw.NewRateLimiter(redisClient, "consult", cfg.RateLimit.ConsultMax, cfg.RateLimit.ConsultWindow,
		mw.WithKeyFunc(auth.UserKey))

	// Validate already rejected malformed entries.
	trustedProxies, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	// Router
	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		TrustedProxies:     trustedProxies,
		AuthRateLimiter:    authLimiter.Middleware,
		ConsultRateLimiter: consultLimiter.Middleware,
		HealthChecks:       healthChecks(pool, redisClient, natsClient),
	}, api.HandlerSet{
		Register: authHandler.Register,
		Login:    authHandler.Login,
		Refresh:  authHandler.Refresh,
		Logout:   authHandler.Logout,
		Me:       authHandler.Me,

		ListAgents: agentHandler.List,
		GetAgent:   agentHandler.Get,

		SubmitConsultation: consultHandler.Submit,
		ListConsultations:  consultHandler.List,
		GetConsultation:    consultHandler.Get,
		RateConsultation:   consultHandler.Rate,
		ConsultationLimits: consultHandler.Limits,
		ConsultationStats:  consultHandler.Stats,

		ListAuditLogs: auditHandler.List,

		AuthMiddleware: auth.Middleware(authSvc),
	})

	// Start server
	srv := server.New(cfg.Server, router)
	srv.OnShutdown(func(context.Context) { cancel() })

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(sigCtx)
}

func newLedger(cfg config.QuotaConfig, pool *pgxpool.Pool, redisClient *goredis.Client) (quota.Ledger, error) {
	opts := []quota.Option{
		quota.WithLocation(cfg.Location()),
		quota.WithRetention(time.Duration(cfg.RetentionDays) * 24 * time.Hour),
	}

	switch cfg.Backend {
	case config.QuotaBackendMemory:
		return quota.NewMemoryLedger(opts...), nil
	case config.QuotaBackendRedis:
		return quota.NewRedisLedger(redisClient, opts...), nil
	case config.QuotaBackendPostgres:
		return quota.NewPostgresLedger(pool, opts...), nil
	default:
		return nil, fmt.Errorf("unknown quota backend %q", cfg.Backend)
	}
}

func healthChecks(pool *pgxpool.Pool, redisClient *goredis.Client, natsClient *inats.Client) []api.HealthCheck {
	checks := []api.HealthCheck{
		{Name: "database", Check: func(ctx context.Context) error { return database.HealthCheck(ctx, pool) }},
		{Name: "redis", Check: func(ctx context.Context) error { return iredis.HealthCheck(ctx, redisClient) }},
	}
	nc := api.HealthCheck{Name: "nats", Optional: true}
	if natsClient != nil {
		nc.Check = natsClient.Check
	}
	return append(checks, nc)
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler).With("service", "liminal-api"))
}

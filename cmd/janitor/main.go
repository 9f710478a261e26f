// Command janitor deletes daily quota rows that fell out of the
// retention window. It runs once or on an interval.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/agents-liminals/liminal/internal/config"
	"github.com/agents-liminals/liminal/internal/database"
	"github.com/agents-liminals/liminal/internal/quota"
)

func main() {
	envFile := pflag.String("config", config.DefaultEnvFile, "dotenv file to load before the environment")
	once := pflag.Bool("once", false, "run a single sweep and exit")
	interval := pflag.Duration("interval", 6*time.Hour, "time between sweeps")
	retentionDays := pflag.Int("retention-days", 0, "days of counters to keep (default QUOTA_RETENTION_DAYS)")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "liminal-janitor"))

	days := cfg.Quota.RetentionDays
	if *retentionDays > 0 {
		days = *retentionDays
	}
	if days < 1 {
		slog.Error("retention must be at least one day", "retention_days", days)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	ledger := quota.NewPostgresLedger(pool, quota.WithLocation(cfg.Quota.Location()))

	if *once {
		if err := sweep(ctx, ledger, ledger, days); err != nil {
			os.Exit(1)
		}
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		sweep(ctx, ledger, ledger, days)
		select {
		case <-ctx.Done():
			slog.Info("janitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// sweep removes rows for days before today minus days.
func sweep(ctx context.Context, today interface{ Today() (quota.Day, time.Time) }, purger quota.Purger, days int) error {
	day, _ := today.Today()
	cutoff := day.AddDays(-days)

	n, err := purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		slog.Error("purging quota rows", "error", err, "before", cutoff)
		return err
	}
	slog.Info("purged quota rows", "deleted", n, "before", cutoff)
	return nil
}

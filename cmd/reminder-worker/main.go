package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/medicore/clinic-scheduling/internal/clock"
	"github.com/medicore/clinic-scheduling/internal/config"
	"github.com/medicore/clinic-scheduling/internal/db"
	redisclient "github.com/medicore/clinic-scheduling/internal/redis"
	"github.com/medicore/clinic-scheduling/internal/scheduling"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}
	if cfg.Env == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	logger.Info().
		Str("env", cfg.Env).
		Str("schedule", cfg.ReminderSchedule).
		Dur("window", cfg.ReminderWindow).
		Msg("reminder-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pool, err := db.Connect(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect error")
	}
	defer pool.Close()

	rdb, err := redisclient.New(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}()

	store := scheduling.NewPgStore(pool)
	locker := redisclient.NewKeyedLocker(rdb, cfg.LockTTL, cfg.LockWait)
	notifier := scheduling.NewStoreDispatcher(store, clock.Real{})
	engine := scheduling.NewEngine(store, locker, notifier, clock.Real{}, cfg, logger)

	// Run once at startup so a restart never skips a sweep.
	runOnce(rootCtx, engine, logger)

	c := cron.New()
	if _, err := c.AddFunc(cfg.ReminderSchedule, func() {
		runOnce(rootCtx, engine, logger)
	}); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.ReminderSchedule).Msg("invalid reminder schedule")
	}
	c.Start()

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received, stopping reminder worker")
	<-c.Stop().Done()
}

func runOnce(ctx context.Context, eng *scheduling.Engine, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	sent, err := eng.SendUpcomingReminders(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("reminder sweep error")
		return
	}
	logger.Info().Int("sent", sent).Dur("took", time.Since(start)).Msg("reminder sweep complete")
}

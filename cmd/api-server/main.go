package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/medicore/clinic-scheduling/internal/api"
	"github.com/medicore/clinic-scheduling/internal/clock"
	"github.com/medicore/clinic-scheduling/internal/config"
	"github.com/medicore/clinic-scheduling/internal/db"
	"github.com/medicore/clinic-scheduling/internal/metrics"
	redisclient "github.com/medicore/clinic-scheduling/internal/redis"
	"github.com/medicore/clinic-scheduling/internal/scheduling"
)

const version = "1.2.0"

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}
	if cfg.Env == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	pool, err := db.Connect(connectCtx, cfg.PostgresDSN)
	cancel()
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

	m := metrics.New("clinic", nil)

	health := api.NewHealthHandler(cfg.Env, version, map[string]api.DependencyCheck{
		"postgres": pool.Ping,
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	})

	router := api.NewRouter(api.RouterConfig{
		Engine:  engine,
		Health:  health,
		Metrics: m,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}

	logger.Info().Msg("api-server stopped")
}

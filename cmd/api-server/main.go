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

	"github.com/careloop/clinic-scheduling/internal/api"
	"github.com/careloop/clinic-scheduling/internal/config"
	"github.com/careloop/clinic-scheduling/internal/db"
	"github.com/careloop/clinic-scheduling/internal/directory"
	"github.com/careloop/clinic-scheduling/internal/notify"
	redisclient "github.com/careloop/clinic-scheduling/internal/redis"
	"github.com/careloop/clinic-scheduling/internal/scheduling"
	"github.com/careloop/clinic-scheduling/internal/waitlist"
)

const version = "0.3.0"

func main() {
	logger := newLogger()
	logger.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	dir := directory.NewPgDirectory(pgPool)
	locker := redisclient.NewRedisResourceLocker(rdb, cfg.LockTTL)
	emitter := notify.NewRedisEmitter(rdb, cfg.EventChannel)

	waitlistRepo := waitlist.NewPgRepository(pgPool)
	prioritizer := waitlist.NewPrioritizer(waitlistRepo, locker, cfg.WaitlistTTL, logger)

	schedRepo := scheduling.NewPgRepository(pgPool)
	ledger := scheduling.NewService(schedRepo, locker, dir, emitter, prioritizer, logger)
	recommender := scheduling.NewRecommender(schedRepo, dir, cfg)

	router := api.NewRouter(api.RouterConfig{
		Scheduler:   ledger,
		Recommender: recommender,
		Waitlist:    prioritizer,
		PgPool:      pgPool,
		Redis:       rdb,
		Logger:      logger,
		Env:         cfg.Env,
		Version:     version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()
}

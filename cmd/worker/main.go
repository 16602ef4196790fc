package main

import (
	"context"
	"os"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/tour-checkout/internal/app"
	"github.com/noah-isme/tour-checkout/internal/booking"
	"github.com/noah-isme/tour-checkout/internal/config"
	"github.com/noah-isme/tour-checkout/internal/obs"
	"github.com/noah-isme/tour-checkout/internal/outcome"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(envOrDefault("OBS_LOG_FORMAT", "json"), envOrDefault("OBS_LOG_LEVEL", "info")).
		With().Str("component", "worker").Logger()

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required for the worker")
	}
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	ctx := context.Background()
	handler := outcome.ConfirmedHandler{Logger: logger}

	if cfg.DatabaseURL != "" {
		pool, err := app.NewPool(ctx, cfg.DatabaseURL, "tour-checkout-worker")
		if err != nil {
			logger.Fatal().Err(err).Msg("connect database")
		}
		defer pool.Close()
		handler.Store = outcome.NewPGStore(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, confirmed payments will not be persisted")
	}

	rdb, err := app.NewRedis(ctx, cfg.RedisURL, false)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer rdb.Close()
	handler.Invalidate = booking.NewCache(rdb, cfg.BookingCacheTTL).Invalidate

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Queues: map[string]int{cfg.TaskQueue: 1},
		Logger: asynqLogger{logger: logger},
	})
	mux := asynq.NewServeMux()
	mux.Handle(outcome.TypePaymentConfirmed, handler)

	logger.Info().Str("queue", cfg.TaskQueue).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

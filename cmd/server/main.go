package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"convenio-service/internal/config"
	"convenio-service/internal/handlers"
	"convenio-service/internal/helpers/logs"
	"convenio-service/internal/ratelimit"
	"convenio-service/internal/server"
	"convenio-service/internal/stats"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := logs.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	recorder, closeStats := newRecorder(ctx, cfg.Stats, logger)
	defer closeStats()

	var limiter *ratelimit.Limiter
	if cfg.Rate.RPS > 0 {
		limiter = ratelimit.New(cfg.Rate.RPS, cfg.Rate.Burst, ratelimit.WithIdleTTL(cfg.Rate.IdleTTL))
	}

	handler := handlers.NewConnHandler(logger,
		handlers.WithStats(recorder),
		handlers.WithMaxLineBytes(cfg.Server.MaxLineBytes),
		handlers.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
	)
	srv := server.New(server.Config{
		Addr:      cfg.Server.Addr,
		Workers:   cfg.Server.Workers,
		QueueSize: cfg.Server.QueueSize,
	}, handler, logger, server.WithRateLimiter(limiter, cfg.Rate.SweepEvery))

	banner(logger, cfg)

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("validation server failed", zap.Error(err))
		closeStats()
		_ = logger.Sync()
		os.Exit(1)
	}

	reportTotals(recorder, logger)
}

// newRecorder picks Redis counters when an address is configured and falls
// back to memory when Redis is absent or unreachable.
func newRecorder(ctx context.Context, cfg config.StatsConfig, logger *zap.Logger) (stats.Recorder, func()) {
	if cfg.RedisAddr == "" {
		return stats.NewMemoryStore(), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis stats unavailable, counting in memory", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = rdb.Close()
		return stats.NewMemoryStore(), func() {}
	}

	var once bool
	closeFn := func() {
		if once {
			return
		}
		once = true
		if err := rdb.Close(); err != nil {
			logger.Warn("close redis client", zap.Error(err))
		}
	}
	return stats.NewRedisStore(rdb, stats.WithPrefix(cfg.Prefix), stats.WithTTL(cfg.TTL)), closeFn
}

// reportTotals logs the counters accumulated by the recorder, if it can read
// them back.
func reportTotals(recorder stats.Recorder, logger *zap.Logger) {
	switch r := recorder.(type) {
	case *stats.MemoryStore:
		logTotals(logger, "validation totals", r.Total())
		for tipo, c := range r.ByType() {
			logTotals(logger.With(zap.String("tipo_pagamento", tipo)), "validation totals by type", c)
		}
	case *stats.RedisStore:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		total, err := r.Total(ctx)
		if err != nil {
			logger.Warn("read redis totals", zap.Error(err))
			return
		}
		logTotals(logger, "validation totals", total)
	}
}

func logTotals(logger *zap.Logger, msg string, c stats.Counters) {
	logger.Info(msg,
		zap.Int64("approved", c.Approved),
		zap.Int64("rejected", c.Rejected),
		zap.Int64("failed", c.Failed),
	)
}

func banner(logger *zap.Logger, cfg *config.Config) {
	logger.Info("convenio and payment validation service",
		zap.String("mode", "stateless"),
		zap.String("addr", cfg.Server.Addr),
		zap.Int("workers", cfg.Server.Workers),
	)
	logger.Info("rule: CONVENIO is approved when the plan name has an even length")
	logger.Info("rule: PARTICULAR is approved when the card's last digit is even")
	logger.Info("limits",
		zap.Float64("rate_rps", cfg.Rate.RPS),
		zap.Int("rate_burst", cfg.Rate.Burst),
		zap.Int("max_line_bytes", cfg.Server.MaxLineBytes),
		zap.Duration("read_timeout", cfg.Server.ReadTimeout),
		zap.Duration("write_timeout", cfg.Server.WriteTimeout),
	)
}

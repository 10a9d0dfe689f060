package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"qrattendance/internal/config"
	"qrattendance/internal/logging"
	"qrattendance/internal/queue"
	"qrattendance/internal/stats"
	"qrattendance/internal/store"
)

// Worker consumes attendance events and folds them into the daily counters.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if cfg.QueueBackend == "memory" {
		logger.Fatal("QUEUE_BACKEND=memory is served inside the api process; the worker needs redis")
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey, logger)
	agg := stats.NewAggregator(redisClient.Client, logger)

	logger.Info("worker started, waiting for messages", zap.String("queue", queue.DefaultKey))
	if err := agg.Run(ctx, q); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}

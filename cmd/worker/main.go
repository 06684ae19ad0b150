package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/solvejet/pixe-whatspp-sub001/internal/bootstrap"
	"github.com/solvejet/pixe-whatspp-sub001/internal/config"
	"github.com/solvejet/pixe-whatspp-sub001/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build dependencies", zap.Error(err))
	}
	if !c.Redis.Enabled() {
		logger.Warn("redis disabled; this worker only sees its own in-memory queues")
	}

	logger.Info("media worker started",
		zap.Int("consumers_per_queue", cfg.Queue.ConsumersPerQueue),
		zap.Int("max_retries", cfg.Queue.MaxRetries),
	)
	if err := c.RunBackground(ctx); err != nil {
		logger.Error("worker stopped", zap.Error(err))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c.Close(drainCtx)
}

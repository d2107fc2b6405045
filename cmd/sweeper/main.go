// Package main runs the expiry sweeper: a standalone process that bulk-expires
// overdue meetings on an interval. Lazy expiry at admission time keeps the API
// correct without it; the sweeper keeps listings and webhooks timely.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulsemeet/backend/config"
	"github.com/pulsemeet/backend/internal/meetcode"
	"github.com/pulsemeet/backend/internal/meetings"
	"github.com/pulsemeet/backend/internal/participants"
	"github.com/pulsemeet/backend/internal/turncred"
	"github.com/pulsemeet/backend/internal/webhooks"
	"github.com/pulsemeet/backend/pkg/database"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	credIssuer, err := turncred.NewIssuer(turncred.Config{
		SharedSecret: cfg.TURN.SharedSecret,
		TTLSeconds:   cfg.TURN.TTLSeconds,
		URLs:         cfg.TURN.URLs,
	})
	if err != nil {
		logger.Fatal("turn credentials", zap.Error(err))
	}

	webhookRepo := webhooks.NewRepository(pool)
	dispatcher := webhooks.NewDispatcher(webhookRepo, cfg.Webhook.DefaultSecret, cfg.Webhook.QueueSize, logger)
	go dispatcher.Run(ctx)

	allocator := meetcode.NewAllocator(meetcode.NewPGLedger(pool), logger)
	tracker := participants.NewTracker(participants.NewRepository(pool), logger)
	svc := meetings.NewService(
		meetings.NewRepository(pool), allocator, tracker, credIssuer, dispatcher,
		meetings.ServiceConfig{
			DefaultDurationMinutes: cfg.Meetings.DefaultDurationMinutes,
			ExpiryBufferMinutes:    cfg.Meetings.ExpiryBufferMinutes,
		}, logger)

	interval := time.Duration(cfg.Meetings.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("sweeper started", zap.Duration("interval", interval))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			n, err := svc.SweepExpired(ctx)
			if err != nil {
				logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("meetings expired", zap.Int("count", n))
			}
		case <-quit:
			logger.Info("sweeper stopped")
			return
		}
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

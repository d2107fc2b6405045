// Package main runs the meeting coordination HTTP server with WebSocket
// signaling and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulsemeet/backend/config"
	"github.com/pulsemeet/backend/internal/auth"
	"github.com/pulsemeet/backend/internal/meetcode"
	"github.com/pulsemeet/backend/internal/meetings"
	"github.com/pulsemeet/backend/internal/middleware"
	"github.com/pulsemeet/backend/internal/participants"
	"github.com/pulsemeet/backend/internal/realtime"
	"github.com/pulsemeet/backend/internal/turncred"
	"github.com/pulsemeet/backend/internal/webhooks"
	"github.com/pulsemeet/backend/pkg/database"
	"github.com/pulsemeet/backend/pkg/redis"
	"github.com/pulsemeet/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis only bridges signaling rooms across instances; single-instance
	// deployments run without it.
	var roomPub realtime.RoomPublisher
	var roomSub realtime.RoomSubscriber
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		bridge := realtime.NewRedisPubSub(rdb.Client, logger)
		roomPub, roomSub = bridge, bridge
	}

	credIssuer, err := turncred.NewIssuer(turncred.Config{
		SharedSecret: cfg.TURN.SharedSecret,
		TTLSeconds:   cfg.TURN.TTLSeconds,
		URLs:         cfg.TURN.URLs,
	})
	if err != nil {
		logger.Fatal("turn credentials", zap.Error(err))
	}
	tokenIssuer, err := auth.NewTokenIssuer(cfg.Signaling.JWTSecret, time.Duration(cfg.Signaling.ExpireHours)*time.Hour)
	if err != nil {
		logger.Fatal("session tokens", zap.Error(err))
	}

	// Webhooks
	webhookRepo := webhooks.NewRepository(pool)
	dispatcher := webhooks.NewDispatcher(webhookRepo, cfg.Webhook.DefaultSecret, cfg.Webhook.QueueSize, logger)
	webhookHandler := webhooks.NewHandler(webhookRepo, logger)

	// Meetings
	allocator := meetcode.NewAllocator(meetcode.NewPGLedger(pool), logger)
	tracker := participants.NewTracker(participants.NewRepository(pool), logger)
	meetingSvc := meetings.NewService(
		meetings.NewRepository(pool), allocator, tracker, credIssuer, dispatcher,
		meetings.ServiceConfig{
			DefaultDurationMinutes: cfg.Meetings.DefaultDurationMinutes,
			ExpiryBufferMinutes:    cfg.Meetings.ExpiryBufferMinutes,
		}, logger)
	meetingHandler := meetings.NewHandler(meetingSvc, logger)

	// Tenants
	tenantRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(tenantRepo, tokenIssuer, meetingSvc, logger)

	// Signaling
	hub := realtime.NewHub(logger, roomPub, roomSub)
	admitter := realtime.NewAdmitter(tokenIssuer, meetingSvc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Tenant provisioning (public; returns the API key once)
	router.POST("/tenants", authHandler.Provision)

	// Tenant API (API key required)
	api := router.Group("")
	api.Use(middleware.APIKey(tenantRepo))
	{
		api.POST("/meetings", meetingHandler.Create)
		api.GET("/meetings/:code", meetingHandler.Get)
		api.GET("/meetings/:code/validate", meetingHandler.Validate)
		api.GET("/meetings/:code/status", meetingHandler.Status)
		api.POST("/meetings/:code/join", meetingHandler.Join)
		api.POST("/meetings/:code/leave", meetingHandler.Leave)
		api.POST("/meetings/:code/end", meetingHandler.End)
		api.POST("/meetings/:code/cancel", meetingHandler.Cancel)
		api.POST("/meetings/:code/cleanup", meetingHandler.Cleanup)
		api.POST("/meetings/:code/session-token", authHandler.SessionToken)

		api.PUT("/webhooks/subscription", webhookHandler.Subscribe)
	}

	// WebSocket signaling (token or meeting credentials in query)
	router.GET("/ws", realtime.ServeWs(hub, admitter, meetingSvc, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Webhook delivery worker
	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	defer dispatcherCancel()
	go dispatcher.Run(dispatcherCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	dispatcherCancel()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

// Package main runs the live event relay HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/aura-webinar/liverelay/config"
	"github.com/aura-webinar/liverelay/internal/archive"
	"github.com/aura-webinar/liverelay/internal/auth"
	"github.com/aura-webinar/liverelay/internal/middleware"
	"github.com/aura-webinar/liverelay/internal/relay"
	"github.com/aura-webinar/liverelay/internal/session"
	"github.com/aura-webinar/liverelay/internal/store"
	"github.com/aura-webinar/liverelay/internal/streams"
	"github.com/aura-webinar/liverelay/internal/upstream"
	"github.com/aura-webinar/liverelay/pkg/queue"
	"github.com/aura-webinar/liverelay/pkg/redis"
	"github.com/aura-webinar/liverelay/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis is optional: it carries the event mirror and the archive queue.
	var (
		mirror *relay.RedisMirror
		sink   *archive.QueueSink
		rdb    *redis.Client
	)
	if cfg.Redis.Enabled() {
		rdb, err = redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		mirror = relay.NewRedisMirror(rdb.Client, cfg.Redis.EventsChannel, logger)
		instanceID := uuid.New().String()
		sink = archive.NewQueueSink(queue.NewQueue(rdb.Client, logger), instanceID, archive.DefaultBuffer, logger)
		logger.Info("archive enabled", zap.String("instance_id", instanceID))
	}

	var hubMirror relay.Mirror
	if mirror != nil {
		hubMirror = mirror
	}
	hub := relay.NewHub(logger, hubMirror)
	st := store.New(store.WithRetention(cfg.Relay.HistoryRetention))

	var connector upstream.Connector
	switch cfg.Upstream.Mode {
	case config.UpstreamSimulate:
		connector = &upstream.SimulatorConnector{
			Interval: cfg.Upstream.SimulateInterval,
			EndAfter: cfg.Upstream.SimulateEndAfter,
			Seed:     uint64(time.Now().UnixNano()),
		}
		logger.Info("upstream: simulator", zap.Duration("interval", cfg.Upstream.SimulateInterval))
	default:
		connector = upstream.NewBridgeConnector(cfg.Upstream.BridgeURL, logger)
		logger.Info("upstream: bridge", zap.String("url", cfg.Upstream.BridgeURL))
	}

	opts := session.Options{
		ConnectTimeout: cfg.Upstream.ConnectTimeout,
		HistoryLimit:   cfg.Relay.HistoryLimit,
		Logger:         logger,
	}
	if sink != nil {
		opts.Archive = sink
	}
	manager := session.NewManager(st, hub, connector, opts)

	streamHandler := streams.NewHandler(st, manager, cfg.Relay.HistoryLimit, logger)

	wsOpts := relay.ServeOptions{SendBuffer: cfg.Relay.SendBuffer}
	var controlGuards []gin.HandlerFunc
	if cfg.JWT.Enabled() {
		jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
		wsOpts.Validate = jwtService.Role
		controlGuards = append(controlGuards, middleware.JWT(jwtService), middleware.RequireRole(auth.RoleOperator))
	} else {
		logger.Warn("JWT_SECRET not set, control commands are open to every client")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins()))
	router.Use(middleware.Logger(logger, "/health", "/ws"))

	// Health
	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "clients": hub.Count()})
	})

	// Read-only API
	api := router.Group("/api")
	streamHandler.Register(api)
	// Control (operator token when auth is enabled)
	streamHandler.RegisterControl(api, controlGuards...)

	// WebSocket (token in query; only needed for control commands)
	router.GET("/ws", relay.ServeWs(hub, manager, wsOpts, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("upstream", cfg.Upstream.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if mirror != nil {
		g.Go(func() error { return mirror.Run(gCtx) })
	}
	// The sink outlives the session manager so the final export is flushed.
	sinkCtx, stopSink := context.WithCancel(context.Background())
	defer stopSink()
	if sink != nil {
		g.Go(func() error { return sink.Run(sinkCtx) })
	}
	g.Go(func() error {
		<-gCtx.Done()
		manager.Close()
		stopSink()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server", zap.Error(err))
	}
	if sink != nil && sink.Dropped() > 0 {
		logger.Warn("archive jobs dropped", zap.Int64("dropped", sink.Dropped()))
	}
	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		config.Level = lvl
	}
	logger, _ := config.Build()
	return logger
}

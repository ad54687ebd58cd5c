package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/physio-cv/server/config"
	"github.com/san-kum/physio-cv/server/exercise"
	"github.com/san-kum/physio-cv/server/handlers"
	"github.com/san-kum/physio-cv/server/metrics"
	"github.com/san-kum/physio-cv/server/middleware"
	"github.com/san-kum/physio-cv/server/poseclient"
	"github.com/san-kum/physio-cv/server/sessions"
	"github.com/san-kum/physio-cv/server/voice"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	registry    *sessions.Registry
	dispatcher  *voice.Dispatcher
	rateLimiter *middleware.RateLimiter
	config      *config.Config
}

func main() {
	cfg := config.LoadConfig()

	var logger *zap.Logger
	var err error

	if cfg.Logging.Format == "json" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Drain in-flight HTTP requests before tearing sessions down, otherwise a
	// frame still being served would hit a stopped session.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	server.registry.Close()

	if server.dispatcher != nil {
		if err := server.dispatcher.Shutdown(); err != nil {
			logger.Error("Failed to shutdown voice dispatcher", zap.Error(err))
		}
	}

	if server.rateLimiter != nil {
		server.rateLimiter.Shutdown()
	}

	logger.Info("Server exited")
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	var dispatcher *voice.Dispatcher
	var announcer exercise.Announcer
	if cfg.Voice.Enabled {
		binary := cfg.Voice.TTSBinary
		if binary == "" {
			binary = voice.DefaultTTSBinary()
		}
		dispatcher = voice.NewDispatcher(voice.Config{
			Cooldown:         cfg.Voice.Cooldown,
			UtteranceTimeout: cfg.Voice.UtteranceTimeout,
			ShutdownTimeout:  cfg.Voice.ShutdownTimeout,
		}, voice.NewPlatformFactory(binary, logger), logger)
		announcer = dispatcher
	}

	var poseClient *poseclient.Client
	if cfg.Pose.ServiceURL != "" {
		var err error
		poseClient, err = poseclient.NewClient(cfg.Pose.ServiceURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create pose client: %w", err)
		}
	}

	registry := sessions.NewRegistry(cfg.Sessions.MaxSessions, cfg.Sessions.IdleTTL, logger)

	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)

	router := gin.New()

	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestSize))
	router.Use(middleware.TimeoutHandler(cfg.Security.RequestTimeout))

	wsHandler := handlers.NewWebSocketHandler(poseClient, announcer, cfg, logger)
	sessionHandler := handlers.NewSessionHandler(registry, poseClient, announcer, cfg, logger)

	setupRoutes(router, wsHandler, sessionHandler, rateLimiter)

	return &Server{
		router:      router,
		logger:      logger,
		registry:    registry,
		dispatcher:  dispatcher,
		rateLimiter: rateLimiter,
		config:      cfg,
	}, nil
}

func setupRoutes(router *gin.Engine, wsHandler *handlers.WebSocketHandler, sessionHandler *handlers.SessionHandler, rateLimiter *middleware.RateLimiter) {
	router.GET("/health", middleware.HealthCheck())
	router.GET("/metrics", metrics.Handler())

	router.GET("/ws", rateLimiter.RateLimit(), wsHandler.HandleWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/health", middleware.HealthCheck())

		protected := api.Group("/")
		protected.Use(rateLimiter.RateLimit())
		{
			protected.POST("/sessions", sessionHandler.CreateSession)
			protected.GET("/sessions/:id", sessionHandler.GetSession)
			protected.DELETE("/sessions/:id", sessionHandler.DeleteSession)
			protected.POST("/sessions/:id/frames", sessionHandler.ProcessFrame)
			protected.POST("/sessions/:id/:command", sessionHandler.Command)

			protected.GET("/stats", sessionHandler.GetStats)
		}
	}

	router.Static("/static", "./client")
	router.StaticFile("/", "./client/index.html")
}

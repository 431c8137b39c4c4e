package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/adapters/azure"
	"github.com/satriahrh/voicebridge/domain/repositories"
	"github.com/satriahrh/voicebridge/internal/api"
	"github.com/satriahrh/voicebridge/internal/auth"
	"github.com/satriahrh/voicebridge/internal/config"
	"github.com/satriahrh/voicebridge/internal/metrics"
	"github.com/satriahrh/voicebridge/internal/websocket"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	var (
		broker repositories.CredentialBroker
		hub    *websocket.Hub
		reaper *websocket.IdleReaper
	)
	if cfg.AzureConfigured() {
		authorizer, err := azure.NewAuthorizer(cfg.Azure)
		if err != nil {
			logger.Fatal("Failed to create Azure credential", zap.Error(err))
		}
		sessionBroker, err := azure.NewSessionBroker(cfg.Azure, authorizer, logger)
		if err != nil {
			logger.Fatal("Failed to create session broker", zap.Error(err))
		}
		broker = sessionBroker

		// Relay sessions are configured without tools; clients that run
		// tools send their own session.update once connected.
		hub = websocket.NewHub(websocket.NewAzureDialer(cfg.Azure, authorizer), cfg.Azure.SessionConfig(nil), logger)
		go hub.Run()

		reaper = websocket.NewIdleReaper(hub, cfg.RelayIdleTimeout, nil, logger)
		reaper.Start()
	} else {
		logger.Warn("Azure OpenAI is not configured; /session and /ws will refuse requests",
			zap.Error(azure.ValidateConfig(cfg.Azure)))
	}

	var signer *auth.Signer
	if cfg.JWTSecret != "" {
		signer, _ = auth.NewSigner(cfg.JWTSecret, 0)
	} else {
		logger.Warn("JWT_SECRET is not set; /session is unauthenticated and /ws is disabled")
	}

	// Initialize API routes
	api.InitRoutes(e, hub, broker, signer, metrics.NewRegistry(), logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(cfg.Addr()); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Voice server started",
		zap.String("addr", cfg.Addr()),
		zap.Bool("azure", broker != nil),
		zap.Bool("relay", hub != nil && signer != nil))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	if reaper != nil {
		reaper.Stop()
	}
	if hub != nil {
		hub.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

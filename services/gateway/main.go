package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/diagnosis/museum-visits/pkg/config"
	"github.com/diagnosis/museum-visits/pkg/logger"
	"github.com/diagnosis/museum-visits/pkg/ratelimit"
	"github.com/diagnosis/museum-visits/pkg/telemetry"
	"github.com/diagnosis/museum-visits/services/gateway/internal/router"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	shutdownTelemetry := telemetry.Setup(ctx, "gateway", cfg.Telemetry)
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	limiter, closeLimiter := ratelimit.Connect(ctx, cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	defer closeLimiter()

	authProxy, visitsProxy := router.Upstreams(cfg.Gateway.AuthURL, cfg.Gateway.VisitsURL)
	handler := router.New(router.Options{
		Auth:    authProxy,
		Visits:  visitsProxy,
		Limiter: limiter,
		WriteLimit: ratelimit.Config{
			Requests: cfg.Gateway.PublicWriteLimit,
			Window:   cfg.Gateway.PublicWriteWindow,
			Prefix:   "public-write",
		},
		FrontendURL: cfg.Museum.FrontendURL,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(handler, "gateway"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down gateway service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Gateway shutdown error", "error", err)
		}
	}()

	logger.Info("Starting gateway service", "port", cfg.Server.Port,
		"auth", cfg.Gateway.AuthURL, "visits", cfg.Gateway.VisitsURL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Gateway server error", "error", err)
		os.Exit(1)
	}
}

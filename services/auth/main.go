package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/museum-visits/pkg/config"
	"github.com/diagnosis/museum-visits/pkg/database"
	"github.com/diagnosis/museum-visits/pkg/logger"
	mw "github.com/diagnosis/museum-visits/pkg/middleware"
	"github.com/diagnosis/museum-visits/pkg/ratelimit"
	"github.com/diagnosis/museum-visits/pkg/telemetry"
	"github.com/diagnosis/museum-visits/services/auth/internal/handlers"
	"github.com/diagnosis/museum-visits/services/auth/internal/repository"
	"github.com/diagnosis/museum-visits/services/auth/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	shutdownTelemetry := telemetry.Setup(ctx, "auth", cfg.Telemetry)
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	limiter, closeLimiter := ratelimit.Connect(ctx, cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	defer closeLimiter()

	staffRepo := repository.NewStaffRepository(pool)
	authService := service.NewAuthService(staffRepo, cfg.Auth, nil)
	if err := authService.EnsureBootstrapAdmin(ctx, cfg.Auth.BootstrapEmail, cfg.Auth.BootstrapPass); err != nil {
		logger.Error("Failed to bootstrap admin account", "error", err)
		os.Exit(1)
	}

	h := handlers.New(authService, limiter, cfg.Auth.JWTSecret)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("auth"))
	r.Use(mw.Logging)
	r.Use(mw.CORS(cfg.Museum.FrontendURL))
	r.Use(mw.Health)
	r.Use(mw.Metrics)
	r.Route("/api/v1/auth", h.Routes)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(r, "auth"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down auth service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Auth service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting auth service", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Auth service error", "error", err)
		os.Exit(1)
	}
}

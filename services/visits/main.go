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
	"github.com/diagnosis/museum-visits/pkg/events"
	"github.com/diagnosis/museum-visits/pkg/logger"
	mw "github.com/diagnosis/museum-visits/pkg/middleware"
	"github.com/diagnosis/museum-visits/pkg/telemetry"
	"github.com/diagnosis/museum-visits/services/visits/internal/capacity"
	"github.com/diagnosis/museum-visits/services/visits/internal/completion"
	"github.com/diagnosis/museum-visits/services/visits/internal/credential"
	"github.com/diagnosis/museum-visits/services/visits/internal/handlers"
	"github.com/diagnosis/museum-visits/services/visits/internal/repository"
	"github.com/diagnosis/museum-visits/services/visits/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	shutdownTelemetry := telemetry.Setup(ctx, "visits", cfg.Telemetry)
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb, err := repository.NewRedisClient(ctx, cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Connect to event bus
	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL, "visits")
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	rules, err := capacity.RulesFromConfig(cfg.Museum)
	if err != nil {
		logger.Error("Invalid museum configuration", "error", err)
		os.Exit(1)
	}
	table, err := completion.LoadTableFile(cfg.Museum.RulesFile)
	if err != nil {
		logger.Error("Failed to load completion rules", "error", err, "path", cfg.Museum.RulesFile)
		os.Exit(1)
	}

	deps := service.Deps{
		Bookings:    repository.NewBookingRepository(pool),
		Visitors:    repository.NewVisitorRepository(pool),
		Tokens:      repository.NewTokenRepository(pool),
		Idempotency: repository.NewIdempotencyRepository(rdb, cfg.Redis.IdempotencyTTL),
		Capacity:    capacity.NewManager(rules),
		Issuer:      credential.NewIssuer(nil),
		Validator:   completion.NewValidator(table),
		Publisher:   eventBus,
		Museum:      cfg.Museum,
	}

	h := handlers.New(
		service.NewBookingService(deps),
		service.NewCompanionService(deps),
		service.NewCheckInService(deps),
		cfg.Auth.JWTSecret,
	)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("visits"))
	r.Use(mw.Logging)
	r.Use(mw.CORS(cfg.Museum.FrontendURL))
	r.Use(mw.Health)
	r.Use(mw.Metrics)
	r.Route("/api/v1", h.Routes)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(r, "visits"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down visits service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Visits service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting visits service", "port", cfg.Server.Port, "timezone", rules.Location.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Visits service error", "error", err)
		os.Exit(1)
	}
	<-done
}

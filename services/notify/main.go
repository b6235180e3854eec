package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/museum-visits/internal/http/response"
	"github.com/diagnosis/museum-visits/pkg/config"
	"github.com/diagnosis/museum-visits/pkg/events"
	"github.com/diagnosis/museum-visits/pkg/logger"
	mw "github.com/diagnosis/museum-visits/pkg/middleware"
	"github.com/diagnosis/museum-visits/pkg/telemetry"
	"github.com/diagnosis/museum-visits/services/notify/internal/consumer"
	"github.com/diagnosis/museum-visits/services/notify/internal/mailer"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

func newMailer(cfg config.EmailConfig) mailer.Mailer {
	switch {
	case cfg.DevMode:
		logger.Info("Email dev mode: messages are printed, not sent")
		return mailer.NewDevMailer(os.Stdout)
	case cfg.MailerSendKey != "":
		return mailer.NewMailerSend(cfg.MailerSendKey, cfg.FromName, cfg.FromAddress)
	case cfg.SMTPHost != "":
		return mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.FromAddress, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPUseTLS)
	default:
		logger.Warn("No email provider configured, falling back to dev mailer")
		return mailer.NewDevMailer(os.Stdout)
	}
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	shutdownTelemetry := telemetry.Setup(ctx, "notify", cfg.Telemetry)
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	bus, err := events.NewNATSEventBus(cfg.NATS.URL, "notify")
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}

	c := consumer.New(newMailer(cfg.Email))
	if err := c.Subscribe(bus); err != nil {
		logger.Error("Failed to subscribe to notifications", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("notify"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(mw.Metrics)
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		response.WriteJSON(w, http.StatusOK, c.Stats())
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down notify service...")

		// Drain lets in-flight deliveries finish.
		if err := bus.Close(); err != nil {
			logger.Error("NATS drain error", "error", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Notify service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting notify service", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Notify service error", "error", err)
		os.Exit(1)
	}
}

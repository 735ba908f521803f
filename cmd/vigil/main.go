package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"vigil/internal/auth"
	"vigil/internal/core"
	"vigil/internal/mailer"
	"vigil/internal/monitor/services"
	"vigil/internal/server"
	"vigil/internal/storage"
	"vigil/internal/storage/postgres"
	"vigil/internal/storage/sqlite"
)

func main() {
	// Load .env file if it exists
	godotenv.Load()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := core.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := core.NewLogger(cfg.Log.Format, cfg.Log.Level)

	// Cancelled on SIGINT or SIGTERM, which starts the graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, authStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	logger.Info("Connected to database", "driver", cfg.Database.Driver)

	authService := auth.NewService(authStore, logger.ForComponent("auth"))
	if err := authService.Bootstrap(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		return fmt.Errorf("failed to bootstrap admin user: %w", err)
	}

	monitorLogger := logger.ForComponent("monitor")
	prober := services.NewProber(cfg.Monitor.ProbeTimeout, monitorLogger)
	writer := services.NewLogWriter(store, monitorLogger)

	recorder := services.ResultRecorder(writer)
	if cfg.Alert.Enabled() {
		alertMailer := mailer.New(cfg.Alert.SMTP2GOAPIKey, cfg.Alert.Sender, logger.ForComponent("mailer"))
		recorder = services.NewAlerter(writer, store, alertMailer, monitorLogger, services.AlerterConfig{
			Recipient: cfg.Alert.Recipient,
			Cooldown:  cfg.Alert.Cooldown,
		})
		logger.Info("Email alerts enabled", "recipient", cfg.Alert.Recipient)
	}

	scheduler := services.NewScheduler(store, prober, recorder, monitorLogger, services.SchedulerConfig{
		PollInterval:  cfg.Monitor.PollInterval,
		MaxConcurrent: cfg.Monitor.MaxConcurrent,
	})

	srv := server.New(cfg, logger, store, authService, scheduler)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}

	return <-serverErr
}

// openStore opens the configured database backend. Both return values are
// backed by the same connection, so closing one closes both.
func openStore(ctx context.Context, cfg *core.Config) (storage.Store, auth.Store, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		st, err := postgres.New(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, st, st.Close, nil
	case "sqlite":
		st, err := sqlite.New(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, st, func() { st.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

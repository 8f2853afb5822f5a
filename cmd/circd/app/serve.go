package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/circlib/circulation-server/internal/api"
	"github.com/circlib/circulation-server/internal/config"
	"github.com/circlib/circulation-server/internal/runner"
	"github.com/circlib/circulation-server/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the circulation server",
	Long: `Start the circulation server: periodic vendor sync, coverage providers and
the loan/hold expiration sweep run in the background while the HTTP API
serves circulation and admin requests.

The server requires a configuration file (--config) that specifies the
vendor collections, circulation policy and all other operational settings.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second // Must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	address := viper.GetString("address")

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"collections", len(cfg.Collections))

	meterProvider, registry, err := telemetry.NewMeterProvider(ctx,
		telemetry.WithMeterServiceName("circd"),
		telemetry.WithMeterServiceVersion(version),
		telemetry.WithMetricsEnabled(cfg.Metrics.Enabled),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	app, err := buildApplication(ctx, cfg, meterProvider)
	if err != nil {
		return err
	}
	defer app.Close()
	app.registry = registry

	// Background jobs: per-collection sync, coverage providers, the
	// expiration sweep.
	scheduler := runner.NewScheduler(app.run)
	app.schedule(scheduler)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	scheduler.Start(schedCtx)

	routes := api.NewRoutes(
		app.monitors,
		app.syncJobs,
		app.run,
		app.checkpoints,
		app.catalog,
		app.ledger,
		app.circulation,
		app.clk,
		buildInfo(),
	)

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
	}
	if app.registry != nil {
		serverOpts = append(serverOpts, api.WithMetricsRegistry(app.registry))
	}
	router := api.NewServer(routes, serverOpts...)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}

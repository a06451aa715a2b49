// Package main initializes and starts the HealthSync HTTP server,
// setting up configuration, logging, database connections, repositories,
// services, handlers and the tombstone cleaner.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/HealthSync/internal/config"
	"github.com/atinyakov/HealthSync/internal/db"
	"github.com/atinyakov/HealthSync/internal/logger"
	"github.com/atinyakov/HealthSync/internal/middleware"
	"github.com/atinyakov/HealthSync/internal/notify"
	"github.com/atinyakov/HealthSync/internal/repository"
	"github.com/atinyakov/HealthSync/internal/server/handler/http"
	"github.com/atinyakov/HealthSync/internal/service"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line, config file and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	if err := options.Validate(); err != nil {
		zapLogger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL connection.
	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}
	defer postgresDB.Close()

	// Initialize repositories.
	userRepo := repository.NewPostgresUserRepository(postgresDB)
	recordRepo := repository.NewPostgresRecordRepository(postgresDB)

	// Change notifications are optional.
	var notifier service.Notifier = notify.Nop{}
	if brokers := options.Brokers(); len(brokers) > 0 {
		publisher := notify.NewKafkaPublisher(brokers, options.KafkaTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				zapLogger.Warn("failed to close kafka publisher", zap.Error(err))
			}
		}()
		notifier = publisher
		zapLogger.Info("publishing change notifications", zap.Strings("brokers", brokers), zap.String("topic", options.KafkaTopic))
	}

	syncOpts := service.Options{
		PullLimit: options.PullLimit,
		Retry: service.RetryPolicy{
			MaxAttempts: options.RetryAttempts,
			BaseDelay:   options.RetryBaseDelay,
		},
		IsTransient: repository.IsTransient,
	}

	// Initialize business-logic services.
	userService := service.NewUserService(userRepo)
	syncService := service.NewSyncService(recordRepo, notifier, zapLogger, syncOpts)
	tombstones := service.NewTombstoneService(recordRepo, notifier, zapLogger, syncOpts)

	// Purge acknowledged tombstones in the background.
	db.StartSoftDeleteCleaner(ctx, tombstones, options.PurgeInterval, options.Retention, zapLogger)

	// Create HTTP handlers.
	authHandler := &http.AuthHandler{AuthService: userService}
	syncHandler := &http.SyncHandler{SyncService: syncService}
	recordHandler := &http.RecordHandler{Tombstones: tombstones}

	// Build the router with middleware and routes.
	tokens := middleware.TokenConfig{Secret: options.JWTSecret, Issuer: options.JWTIssuer}
	router := http.NewRouter(authHandler, syncHandler, recordHandler, tokens, zapLogger)

	server := &nethttp.Server{
		Addr:              options.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zapLogger.Info("starting HTTP server", zap.String("addr", options.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			zapLogger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("graceful shutdown failed", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}

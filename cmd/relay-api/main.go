package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckmesh/relay/internal/api"
	"github.com/duckmesh/relay/internal/auth"
	"github.com/duckmesh/relay/internal/bootstrap"
	"github.com/duckmesh/relay/internal/config"
	"github.com/duckmesh/relay/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("relay-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	components, err := bootstrap.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize transfer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = components.Close() }()

	deps := api.Dependencies{
		Logger:    logger,
		Transfers: components.Transfer,
		Readiness: api.CombineReadinessChecks(
			api.CheckSourceConfig(cfg),
			api.CheckObjectStoreConfig(cfg),
			api.CheckWarehouse(components.Warehouse),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/duckmesh/relay/internal/bootstrap"
	"github.com/duckmesh/relay/internal/config"
	"github.com/duckmesh/relay/internal/demo/seed"
	"github.com/duckmesh/relay/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("relay-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	seedCfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		logger.Error("failed to load seed config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.NewObjectStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	info, err := seed.Write(ctx, store, seedCfg)
	if err != nil {
		logger.Error("failed to write demo events", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("wrote demo events",
		slog.String("key", info.Key),
		slog.Int("rows", seedCfg.Rows),
		slog.Int64("bytes", info.Size),
		slog.Int64("seed", seedCfg.Seed),
	)
}

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/duckmesh/relay/internal/bootstrap"
	"github.com/duckmesh/relay/internal/config"
	"github.com/duckmesh/relay/internal/lambdafn"
	"github.com/duckmesh/relay/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("relay-lambda")
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

	h := &lambdafn.Handler{Transfers: components.Transfer, Logger: logger}
	lambda.Start(h.Handle)
}

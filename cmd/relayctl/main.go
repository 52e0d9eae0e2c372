package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/duckmesh/relay/internal/cli/relayctl"
)

func main() {
	options := relayctl.Options{
		BaseURL: envOr("RELAY_API_URL", "http://localhost:8080"),
		APIKey:  strings.TrimSpace(os.Getenv("RELAY_API_KEY")),
		Timeout: parseDurationWithDefault(strings.TrimSpace(os.Getenv("RELAY_CLI_TIMEOUT")), 0),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := relayctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid RELAY_CLI_TIMEOUT %q; using command default\n", raw)
		return fallback
	}
	return parsed
}

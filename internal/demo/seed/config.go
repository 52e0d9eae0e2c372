package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	ObjectKey       string
	Rows            int
	ProducerID      string
	UserCardinality int
	Seed            int64
}

func DefaultConfig() Config {
	return Config{
		ObjectKey:       "raw/events.parquet",
		Rows:            500,
		ProducerID:      "relay-seed",
		UserCardinality: 200,
		Seed:            time.Now().UTC().UnixNano(),
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "RELAY_DEMO_OBJECT_KEY", &cfg.ObjectKey); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "RELAY_DEMO_ROWS", &cfg.Rows); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "RELAY_DEMO_PRODUCER_ID", &cfg.ProducerID); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "RELAY_DEMO_USER_CARDINALITY", &cfg.UserCardinality); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "RELAY_DEMO_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}

	if cfg.ObjectKey == "" {
		return Config{}, fmt.Errorf("RELAY_DEMO_OBJECT_KEY is required")
	}
	if cfg.ProducerID == "" {
		return Config{}, fmt.Errorf("RELAY_DEMO_PRODUCER_ID is required")
	}
	if cfg.Rows <= 0 {
		return Config{}, fmt.Errorf("RELAY_DEMO_ROWS must be > 0")
	}
	if cfg.UserCardinality <= 0 {
		return Config{}, fmt.Errorf("RELAY_DEMO_USER_CARDINALITY must be > 0")
	}
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

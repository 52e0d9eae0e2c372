// Package bootstrap builds the process-wide clients from configuration. The
// command entry points call Build once at start-up and reuse the result for
// every transfer.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/duckmesh/relay/internal/awsconfig"
	"github.com/duckmesh/relay/internal/config"
	"github.com/duckmesh/relay/internal/query"
	"github.com/duckmesh/relay/internal/query/athena"
	duckdbengine "github.com/duckmesh/relay/internal/query/duckdb"
	"github.com/duckmesh/relay/internal/storage"
	"github.com/duckmesh/relay/internal/storage/awss3"
	s3store "github.com/duckmesh/relay/internal/storage/s3"
	"github.com/duckmesh/relay/internal/transfer"
	"github.com/duckmesh/relay/internal/warehouse/sqlwarehouse"
)

type Components struct {
	ObjectStore storage.ObjectStore
	Engine      query.Engine
	Warehouse   *sqlwarehouse.Warehouse
	Transfer    *transfer.Service
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Components, error) {
	var store storage.ObjectStore
	if cfg.UsesObjectStore() {
		if err := checkResultLocation(cfg); err != nil {
			return nil, err
		}
		var err error
		store, err = NewObjectStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	engine, err := NewEngine(ctx, cfg, store)
	if err != nil {
		return nil, err
	}

	wh, err := NewWarehouse(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Components{
		ObjectStore: store,
		Engine:      engine,
		Warehouse:   wh,
		Transfer:    NewTransferService(cfg, engine, wh, logger),
	}, nil
}

func (c *Components) Close() error {
	if c == nil || c.Warehouse == nil {
		return nil
	}
	return c.Warehouse.Close()
}

func NewObjectStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	storeCfg := cfg.ObjectStore
	switch storeCfg.Backend {
	case config.ObjectStoreBackendMinio:
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:         storeCfg.Endpoint,
			Region:           storeCfg.Region,
			Bucket:           storeCfg.Bucket,
			AccessKeyID:      storeCfg.AccessKeyID,
			SecretAccessKey:  storeCfg.SecretAccessKey,
			UseSSL:           storeCfg.UseSSL,
			Prefix:           storeCfg.Prefix,
			AutoCreateBucket: storeCfg.AutoCreateBucket,
			UsePathStyle:     storeCfg.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize minio object store: %w", err)
		}
		return store, nil
	case config.ObjectStoreBackendAWS:
		awsCfg, err := awsconfig.Load(ctx, awsconfig.Options{
			Region:          storeCfg.Region,
			AccessKeyID:     storeCfg.AccessKeyID,
			SecretAccessKey: storeCfg.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		store, err := awss3.New(awsCfg, awss3.Config{
			Bucket:       storeCfg.Bucket,
			Prefix:       storeCfg.Prefix,
			Endpoint:     storeCfg.Endpoint,
			UsePathStyle: storeCfg.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize s3 object store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported object store backend %q", storeCfg.Backend)
	}
}

// NewEngine returns the configured query engine. store may be nil when the
// engine reads results through its own API.
func NewEngine(ctx context.Context, cfg config.Config, store storage.ObjectStore) (query.Engine, error) {
	switch cfg.Source.Engine {
	case config.EngineAthena:
		awsCfg, err := awsconfig.Load(ctx, awsconfig.Options{
			Region:          cfg.Source.Region,
			AccessKeyID:     cfg.Source.AccessKeyID,
			SecretAccessKey: cfg.Source.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		engine := athena.New(awsCfg, athena.Config{
			Endpoint:         cfg.Source.Endpoint,
			Catalog:          cfg.Source.Catalog,
			SkipHeaderRow:    cfg.Source.SkipHeaderRow,
			ResultsFromStore: cfg.Source.ResultSource == config.ResultSourceObjectStore,
		})
		if cfg.Source.ResultSource == config.ResultSourceObjectStore || cfg.Transfer.DiscardResults {
			if store == nil {
				return nil, errors.New("athena result files require an object store")
			}
			engine.Store = store
		}
		return engine, nil
	case config.EngineDuckDB:
		if store == nil {
			return nil, errors.New("duckdb engine requires an object store")
		}
		tables, err := duckdbengine.ParseTables(cfg.Source.DuckDBTables)
		if err != nil {
			return nil, err
		}
		return duckdbengine.NewEngine(store, tables), nil
	default:
		return nil, fmt.Errorf("unsupported source engine %q", cfg.Source.Engine)
	}
}

func NewWarehouse(ctx context.Context, cfg config.Config) (*sqlwarehouse.Warehouse, error) {
	wh := cfg.Warehouse
	return sqlwarehouse.Open(ctx, sqlwarehouse.Config{
		Driver: wh.Driver,
		DSN:    wh.DSN,
		Snowflake: sqlwarehouse.SnowflakeConfig{
			Account:   wh.Account,
			User:      wh.User,
			Password:  wh.Password,
			Warehouse: wh.Warehouse,
			Database:  wh.Database,
			Schema:    wh.Schema,
			Role:      wh.Role,
		},
		MaxOpenConns:    wh.MaxOpenConns,
		MaxIdleConns:    wh.MaxIdleConns,
		ConnMaxLifetime: wh.ConnMaxLifetime,
	})
}

func NewTransferService(cfg config.Config, engine query.Engine, wh *sqlwarehouse.Warehouse, logger *slog.Logger) *transfer.Service {
	return &transfer.Service{
		Engine:    engine,
		Warehouse: wh,
		Config: transfer.Config{
			Query:          cfg.Source.Query,
			Database:       cfg.Source.Database,
			Workgroup:      cfg.Source.Workgroup,
			OutputLocation: cfg.Source.OutputLocation,
			Table:          cfg.Warehouse.Table,
			PollInterval:   cfg.Transfer.PollInterval,
			DiscardResults: cfg.Transfer.DiscardResults,
		},
		Logger: logger,
	}
}

// checkResultLocation makes sure result files written to the output location
// are reachable through the object store.
func checkResultLocation(cfg config.Config) error {
	loc, err := storage.ParseLocation(cfg.Source.OutputLocation)
	if err != nil {
		return fmt.Errorf("invalid RELAY_SOURCE_OUTPUT_LOCATION: %w", err)
	}
	if loc.Bucket != cfg.ObjectStore.Bucket {
		return fmt.Errorf("output location bucket %q does not match object store bucket %q", loc.Bucket, cfg.ObjectStore.Bucket)
	}
	if cfg.Source.Engine == config.EngineAthena && storage.CleanPrefix(cfg.ObjectStore.Prefix) != "" {
		return errors.New("object store prefix must be empty when reading athena result files")
	}
	return nil
}

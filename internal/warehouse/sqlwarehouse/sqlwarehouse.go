// Package sqlwarehouse writes rows through database/sql. Snowflake, Postgres,
// MySQL and DuckDB are supported.
package sqlwarehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/snowflakedb/gosnowflake"

	"github.com/duckmesh/relay/internal/query"
)

type SnowflakeConfig struct {
	Account   string
	User      string
	Password  string
	Warehouse string
	Database  string
	Schema    string
	Role      string
}

type Config struct {
	Driver          string
	DSN             string
	Snowflake       SnowflakeConfig
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Warehouse struct {
	db      *sql.DB
	dialect Dialect
}

func Open(ctx context.Context, cfg Config) (*Warehouse, error) {
	dialect, err := LookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := dataSourceName(dialect, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.SQLDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s warehouse: %w", dialect.Name, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s warehouse: %w", dialect.Name, err)
	}
	return New(db, dialect), nil
}

func New(db *sql.DB, dialect Dialect) *Warehouse {
	return &Warehouse{db: db, dialect: dialect}
}

// DB exposes the pool for schema setup outside the transfer path.
func (w *Warehouse) DB() *sql.DB {
	return w.db
}

func (w *Warehouse) Dialect() Dialect {
	return w.dialect
}

func (w *Warehouse) InsertRow(ctx context.Context, table string, row query.Row) error {
	statement, err := w.dialect.InsertStatement(table, len(row))
	if err != nil {
		return err
	}
	args := make([]any, len(row))
	for i, value := range row {
		args[i] = value
	}
	if _, err := w.db.ExecContext(ctx, statement, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

func (w *Warehouse) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

func (w *Warehouse) Close() error {
	return w.db.Close()
}

func dataSourceName(dialect Dialect, cfg Config) (string, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	switch dialect.Name {
	case DriverSnowflake:
		if dsn != "" {
			return dsn, nil
		}
		sf := cfg.Snowflake
		if sf.Account == "" || sf.User == "" {
			return "", fmt.Errorf("snowflake account and user are required when no dsn is set")
		}
		built, err := gosnowflake.DSN(&gosnowflake.Config{
			Account:   sf.Account,
			User:      sf.User,
			Password:  sf.Password,
			Warehouse: sf.Warehouse,
			Database:  sf.Database,
			Schema:    sf.Schema,
			Role:      sf.Role,
		})
		if err != nil {
			return "", fmt.Errorf("build snowflake dsn: %w", err)
		}
		return built, nil
	case DriverMySQL:
		if dsn == "" {
			return "", fmt.Errorf("mysql warehouse dsn is required")
		}
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		return dsn, nil
	case DriverDuckDB:
		// An empty DSN opens an in-memory database.
		return dsn, nil
	default:
		if dsn == "" {
			return "", fmt.Errorf("%s warehouse dsn is required", dialect.Name)
		}
		return dsn, nil
	}
}

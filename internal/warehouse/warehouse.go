// Package warehouse defines the destination side of a transfer.
package warehouse

import (
	"context"

	"github.com/duckmesh/relay/internal/query"
)

// Warehouse writes result rows into a destination table, one statement per row.
type Warehouse interface {
	InsertRow(ctx context.Context, table string, row query.Row) error
	Ping(ctx context.Context) error
	Close() error
}

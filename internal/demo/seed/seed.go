// Package seed writes synthetic event data as parquet into the object store so
// the local DuckDB engine has a table to query.
package seed

import (
	"bytes"
	"context"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/duckmesh/relay/internal/storage"
)

const ParquetContentType = "application/vnd.apache.parquet"

func EncodeParquet(events []Event) ([]byte, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("events are required")
	}
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[Event](buf)
	if _, err := writer.Write(events); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Write generates cfg.Rows events and stores them at cfg.ObjectKey.
func Write(ctx context.Context, store storage.ObjectStore, cfg Config) (storage.ObjectInfo, error) {
	generator := NewGenerator(cfg.Seed, cfg.ProducerID, cfg.UserCardinality)
	events := make([]Event, 0, cfg.Rows)
	for i := 0; i < cfg.Rows; i++ {
		events = append(events, generator.Next())
	}

	data, err := EncodeParquet(events)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := store.Put(ctx, cfg.ObjectKey, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: ParquetContentType})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put %s: %w", cfg.ObjectKey, err)
	}
	return info, nil
}

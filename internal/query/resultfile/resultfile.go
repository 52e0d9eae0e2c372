// Package resultfile reads and writes query results in the CSV layout Athena
// uses for its output location: a header record with the column names followed
// by one record per row.
package resultfile

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/duckmesh/relay/internal/query"
	"github.com/duckmesh/relay/internal/storage"
)

const ContentType = "text/csv"

func Encode(w io.Writer, result query.Result) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(result.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(result.Columns))
	for index, row := range result.Rows {
		if len(row) != len(result.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", index, len(row), len(result.Columns))
		}
		for i, value := range row {
			record[i] = value.String
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", index, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// Decode parses a result file. Empty fields decode as empty strings since the
// format does not distinguish them from NULL.
func Decode(r io.Reader) (query.Result, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return query.Result{}, nil
	}
	if err != nil {
		return query.Result{}, fmt.Errorf("read header: %w", err)
	}

	result := query.Result{Columns: header, Rows: make([]query.Row, 0)}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return query.Result{}, fmt.Errorf("read row %d: %w", len(result.Rows), err)
		}
		result.Rows = append(result.Rows, query.TextRow(record...))
	}
	return result, nil
}

func Write(ctx context.Context, store storage.ObjectStore, key string, result query.Result) (storage.ObjectInfo, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, result); err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := store.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), storage.PutOptions{ContentType: ContentType})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("store result file: %w", err)
	}
	return info, nil
}

func Read(ctx context.Context, store storage.ObjectStore, key string) (query.Result, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return query.Result{}, fmt.Errorf("get result file %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	result, err := Decode(reader)
	if err != nil {
		return query.Result{}, fmt.Errorf("decode result file %q: %w", key, err)
	}
	return result, nil
}

package duckdb

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/duckmesh/relay/internal/query"
	"github.com/duckmesh/relay/internal/storage"
	"github.com/duckmesh/relay/internal/storage/memstore"
)

type row struct {
	ID    int64  `parquet:"id"`
	Value string `parquet:"value"`
}

const outputLocation = "s3://relay/athena-results/"

func TestStartRunsQueryAndStoresResultFile(t *testing.T) {
	store := newStoreWithParquet(t, "raw/events.parquet", []row{{ID: 1, Value: "a"}, {ID: 2, Value: "b"}})
	engine := NewEngine(store, []TableFile{{TableName: "events", ObjectPath: "raw/events.parquet"}})
	ctx := context.Background()

	handle, err := engine.Start(ctx, query.Request{
		SQL:            "SELECT id, value FROM events ORDER BY id;",
		OutputLocation: outputLocation,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	status, err := engine.Status(ctx, handle)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != query.StateSucceeded {
		t.Fatalf("State = %q (%s)", status.State, status.Reason)
	}
	wantLocation := "s3://relay/athena-results/" + string(handle) + ".csv"
	if status.OutputLocation != wantLocation {
		t.Fatalf("OutputLocation = %q, want %q", status.OutputLocation, wantLocation)
	}
	if _, err := store.Stat(ctx, "athena-results/"+string(handle)+".csv"); err != nil {
		t.Fatalf("result file missing: %v", err)
	}

	result, err := engine.Results(ctx, handle)
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "id" {
		t.Fatalf("Columns = %#v", result.Columns)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if result.Rows[1][0].String != "2" || result.Rows[1][1].String != "b" {
		t.Fatalf("row[1] = %#v", result.Rows[1])
	}
}

func TestStartRecordsFailedQuery(t *testing.T) {
	store := newStoreWithParquet(t, "raw/events.parquet", []row{{ID: 1, Value: "a"}})
	engine := NewEngine(store, []TableFile{{TableName: "events", ObjectPath: "raw/events.parquet"}})
	ctx := context.Background()

	handle, err := engine.Start(ctx, query.Request{SQL: "SELECT missing_column FROM events", OutputLocation: outputLocation})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	status, err := engine.Status(ctx, handle)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != query.StateFailed {
		t.Fatalf("State = %q", status.State)
	}
	if status.Reason == "" {
		t.Fatal("expected failure reason")
	}
	if _, err := engine.Results(ctx, handle); err == nil {
		t.Fatal("expected Results() error for failed query")
	}
}

func TestDiscardRemovesResultFile(t *testing.T) {
	store := newStoreWithParquet(t, "raw/events.parquet", []row{{ID: 1, Value: "a"}})
	engine := NewEngine(store, []TableFile{{TableName: "events", ObjectPath: "raw/events.parquet"}})
	ctx := context.Background()

	handle, err := engine.Start(ctx, query.Request{SQL: "SELECT COUNT(*) AS c FROM events", OutputLocation: outputLocation})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := engine.Discard(ctx, handle); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if _, err := store.Stat(ctx, "athena-results/"+string(handle)+".csv"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() after discard error = %v", err)
	}
	if _, err := engine.Status(ctx, handle); !errors.Is(err, query.ErrUnknownHandle) {
		t.Fatalf("Status() after discard error = %v", err)
	}
}

func TestEngineForgetsOldestExecutions(t *testing.T) {
	engine := NewEngine(memstore.New(), nil)
	engine.MaxExecutions = 2
	ctx := context.Background()

	for _, handle := range []query.Handle{"h-1", "h-2", "h-3"} {
		engine.remember(handle, execution{status: query.Status{State: query.StateSucceeded}})
	}
	if _, err := engine.Status(ctx, "h-1"); !errors.Is(err, query.ErrUnknownHandle) {
		t.Fatalf("Status(h-1) error = %v, want ErrUnknownHandle", err)
	}
	for _, handle := range []query.Handle{"h-2", "h-3"} {
		if _, err := engine.Status(ctx, handle); err != nil {
			t.Fatalf("Status(%s) error = %v", handle, err)
		}
	}
	if len(engine.executions) != 2 || len(engine.order) != 2 {
		t.Fatalf("executions/order = %d/%d, want 2/2", len(engine.executions), len(engine.order))
	}

	if err := engine.Discard(ctx, "h-2"); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if len(engine.order) != 1 || engine.order[0] != "h-3" {
		t.Fatalf("order after discard = %#v", engine.order)
	}
}

func TestStatusUnknownHandle(t *testing.T) {
	engine := NewEngine(memstore.New(), nil)
	if _, err := engine.Status(context.Background(), "nope"); !errors.Is(err, query.ErrUnknownHandle) {
		t.Fatalf("Status() error = %v, want ErrUnknownHandle", err)
	}
}

func TestStartRejectsInvalidRequests(t *testing.T) {
	engine := NewEngine(memstore.New(), nil)
	if _, err := engine.Start(context.Background(), query.Request{SQL: " ", OutputLocation: outputLocation}); err == nil {
		t.Fatal("expected error for empty sql")
	}
	if _, err := engine.Start(context.Background(), query.Request{SQL: "SELECT 1", OutputLocation: "/tmp/out"}); err == nil {
		t.Fatal("expected error for non-s3 output location")
	}
}

func TestParseTables(t *testing.T) {
	tables, err := ParseTables("events=raw/events.parquet; users = raw/users.parquet ;")
	if err != nil {
		t.Fatalf("ParseTables() error = %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("tables = %#v", tables)
	}
	if tables[1].TableName != "users" || tables[1].ObjectPath != "raw/users.parquet" {
		t.Fatalf("tables[1] = %#v", tables[1])
	}
	if _, err := ParseTables("events"); err == nil {
		t.Fatal("expected error for binding without object key")
	}
}

func TestStripTrailingSemicolons(t *testing.T) {
	if got := stripTrailingSemicolons(" SELECT 1 ;; "); got != "SELECT 1" {
		t.Fatalf("stripTrailingSemicolons() = %q", got)
	}
}

func newStoreWithParquet(t *testing.T, key string, rows []row) *memstore.Store {
	t.Helper()
	parquetBytes, err := buildParquet(rows)
	if err != nil {
		t.Fatalf("buildParquet() error = %v", err)
	}
	store := memstore.New()
	if _, err := store.Put(context.Background(), key, bytes.NewReader(parquetBytes), int64(len(parquetBytes)), storage.PutOptions{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	return store
}

func buildParquet(rows []row) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[row](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

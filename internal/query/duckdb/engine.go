// Package duckdb runs queries locally against parquet objects, mirroring the
// submit/poll/fetch lifecycle of a managed query service.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/relay/internal/query"
	"github.com/duckmesh/relay/internal/query/resultfile"
	"github.com/duckmesh/relay/internal/storage"
)

type TableFile struct {
	TableName  string
	ObjectPath string
}

// DefaultMaxExecutions bounds how many finished executions an engine
// remembers when MaxExecutions is zero.
const DefaultMaxExecutions = 256

type Engine struct {
	Store  storage.ObjectStore
	Tables []TableFile
	// MaxExecutions caps the remembered executions. The oldest handle is
	// forgotten first; its result file stays in the object store.
	MaxExecutions int

	mu         sync.Mutex
	executions map[query.Handle]execution
	order      []query.Handle
}

type execution struct {
	status    query.Status
	resultKey string
}

func NewEngine(store storage.ObjectStore, tables []TableFile) *Engine {
	return &Engine{Store: store, Tables: tables, executions: map[query.Handle]execution{}}
}

// ParseTables parses "name=key;name=key" table bindings.
func ParseTables(spec string) ([]TableFile, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	tables := make([]TableFile, 0)
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, key, ok := strings.Cut(entry, "=")
		name, key = strings.TrimSpace(name), strings.TrimSpace(key)
		if !ok || name == "" || key == "" {
			return nil, fmt.Errorf("invalid table binding %q: expected name=object_key", entry)
		}
		tables = append(tables, TableFile{TableName: name, ObjectPath: key})
	}
	return tables, nil
}

// Start runs the query to completion and stores its result file. A query that
// fails to execute still yields a handle whose status is FAILED.
func (e *Engine) Start(ctx context.Context, request query.Request) (query.Handle, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return "", fmt.Errorf("sql is required")
	}
	if e.Store == nil {
		return "", fmt.Errorf("object store is required")
	}
	loc, err := storage.ParseLocation(request.OutputLocation)
	if err != nil {
		return "", fmt.Errorf("output location: %w", err)
	}

	handle := query.Handle(uuid.NewString())
	resultKey, err := storage.ResultObjectKey(loc, string(handle))
	if err != nil {
		return "", err
	}
	status := query.Status{State: query.StateSucceeded, OutputLocation: loc.String() + string(handle) + ".csv"}

	result, err := e.execute(ctx, request.SQL)
	if err == nil {
		_, err = resultfile.Write(ctx, e.Store, resultKey, result)
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		status.State = query.StateFailed
		status.Reason = err.Error()
	}

	e.remember(handle, execution{status: status, resultKey: resultKey})
	return handle, nil
}

func (e *Engine) remember(handle query.Handle, exec execution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.executions == nil {
		e.executions = map[query.Handle]execution{}
	}
	e.executions[handle] = exec
	e.order = append(e.order, handle)

	limit := e.MaxExecutions
	if limit <= 0 {
		limit = DefaultMaxExecutions
	}
	for len(e.order) > limit {
		delete(e.executions, e.order[0])
		e.order = e.order[1:]
	}
}

func (e *Engine) Status(_ context.Context, handle query.Handle) (query.Status, error) {
	exec, err := e.lookup(handle)
	if err != nil {
		return query.Status{}, err
	}
	return exec.status, nil
}

func (e *Engine) Results(ctx context.Context, handle query.Handle) (query.Result, error) {
	exec, err := e.lookup(handle)
	if err != nil {
		return query.Result{}, err
	}
	if exec.status.State != query.StateSucceeded {
		return query.Result{}, fmt.Errorf("query %s has no results in state %s", handle, exec.status.State)
	}
	return resultfile.Read(ctx, e.Store, exec.resultKey)
}

func (e *Engine) Discard(ctx context.Context, handle query.Handle) error {
	exec, err := e.lookup(handle)
	if err != nil {
		return err
	}
	if err := e.Store.Delete(ctx, exec.resultKey); err != nil {
		return fmt.Errorf("discard %s: %w", exec.resultKey, err)
	}
	e.mu.Lock()
	delete(e.executions, handle)
	e.order = slices.DeleteFunc(e.order, func(h query.Handle) bool { return h == handle })
	e.mu.Unlock()
	return nil
}

func (e *Engine) lookup(handle query.Handle) (execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions[handle]
	if !ok {
		return execution{}, fmt.Errorf("%w: %s", query.ErrUnknownHandle, handle)
	}
	return exec, nil
}

func (e *Engine) execute(ctx context.Context, sqlText string) (query.Result, error) {
	workDir, err := os.MkdirTemp("", "relay-query-")
	if err != nil {
		return query.Result{}, fmt.Errorf("create query temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	groupedPaths := map[string][]string{}
	for index, file := range e.Tables {
		reader, err := e.Store.Get(ctx, file.ObjectPath)
		if err != nil {
			return query.Result{}, fmt.Errorf("get object %q: %w", file.ObjectPath, err)
		}

		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(file.TableName), index))
		if err := writeFile(localPath, reader); err != nil {
			_ = reader.Close()
			return query.Result{}, fmt.Errorf("write local parquet file %q: %w", localPath, err)
		}
		if err := reader.Close(); err != nil {
			return query.Result{}, fmt.Errorf("close object %q: %w", file.ObjectPath, err)
		}
		groupedPaths[file.TableName] = append(groupedPaths[file.TableName], localPath)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return query.Result{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	for tableName, localPaths := range groupedPaths {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(tableName), quoteStringArray(localPaths))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			return query.Result{}, fmt.Errorf("create view for table %q: %w", tableName, err)
		}
	}

	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	result := query.Result{Columns: columns, Rows: make([]query.Row, 0)}
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, textValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// Package athena runs queries on Amazon Athena.
package athena

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"

	"github.com/duckmesh/relay/internal/query"
	"github.com/duckmesh/relay/internal/query/resultfile"
	"github.com/duckmesh/relay/internal/storage"
)

type API interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
}

type Config struct {
	Endpoint string
	Catalog  string
	// SkipHeaderRow drops the column-name row Athena prepends to SELECT
	// results. Only DML statements carry that row, so the first row of other
	// statement types is kept even when it matches the column names.
	SkipHeaderRow bool
	// ResultsFromStore reads <output-location>/<id>.csv through Store instead
	// of paging through GetQueryResults.
	ResultsFromStore bool
	// PageSize bounds GetQueryResults pages; zero uses the service default.
	PageSize int32
}

type Engine struct {
	api    API
	config Config
	// Store holds the result files. Discard needs it, and so does Results when
	// ResultsFromStore is set.
	Store storage.ObjectStore
}

func New(awsCfg aws.Config, cfg Config) *Engine {
	client := athena.NewFromConfig(awsCfg, func(o *athena.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewWithAPI(client, cfg)
}

func NewWithAPI(api API, cfg Config) *Engine {
	return &Engine{api: api, config: cfg}
}

func (e *Engine) Start(ctx context.Context, request query.Request) (query.Handle, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return "", fmt.Errorf("sql is required")
	}

	input := &athena.StartQueryExecutionInput{QueryString: aws.String(request.SQL)}
	if request.Database != "" || e.config.Catalog != "" {
		execCtx := &types.QueryExecutionContext{}
		if request.Database != "" {
			execCtx.Database = aws.String(request.Database)
		}
		if e.config.Catalog != "" {
			execCtx.Catalog = aws.String(e.config.Catalog)
		}
		input.QueryExecutionContext = execCtx
	}
	if request.OutputLocation != "" {
		input.ResultConfiguration = &types.ResultConfiguration{OutputLocation: aws.String(request.OutputLocation)}
	}
	if request.Workgroup != "" {
		input.WorkGroup = aws.String(request.Workgroup)
	}

	out, err := e.api.StartQueryExecution(ctx, input)
	if err != nil {
		return "", fmt.Errorf("start query execution: %w", err)
	}
	if out.QueryExecutionId == nil || *out.QueryExecutionId == "" {
		return "", errors.New("failed to start query execution: no query execution id returned")
	}
	return query.Handle(*out.QueryExecutionId), nil
}

func (e *Engine) Status(ctx context.Context, handle query.Handle) (query.Status, error) {
	out, err := e.api.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: aws.String(string(handle))})
	if err != nil {
		return query.Status{}, fmt.Errorf("get query execution %s: %w", handle, err)
	}
	if out.QueryExecution == nil {
		return query.Status{}, fmt.Errorf("failed to get query execution %s", handle)
	}
	if out.QueryExecution.Status == nil {
		return query.Status{}, fmt.Errorf("missing query execution status for %s", handle)
	}
	if out.QueryExecution.Status.State == "" {
		return query.Status{}, fmt.Errorf("missing query execution state for %s", handle)
	}

	status := query.Status{
		State:  query.State(out.QueryExecution.Status.State),
		Reason: aws.ToString(out.QueryExecution.Status.StateChangeReason),
	}
	if out.QueryExecution.ResultConfiguration != nil {
		status.OutputLocation = aws.ToString(out.QueryExecution.ResultConfiguration.OutputLocation)
	}
	return status, nil
}

func (e *Engine) Results(ctx context.Context, handle query.Handle) (query.Result, error) {
	if e.config.ResultsFromStore {
		if e.Store == nil {
			return query.Result{}, errors.New("athena results from object store require a store")
		}
		return e.resultsFromObjectStore(ctx, handle)
	}
	return e.resultsFromAPI(ctx, handle)
}

func (e *Engine) Config() Config {
	return e.config
}

// Discard deletes the result file and its metadata from the output location.
func (e *Engine) Discard(ctx context.Context, handle query.Handle) error {
	if e.Store == nil {
		return nil
	}
	loc, err := e.outputLocation(ctx, handle)
	if err != nil {
		return err
	}
	resultKey, err := storage.ResultObjectKey(loc, string(handle))
	if err != nil {
		return err
	}
	metadataKey, err := storage.ResultMetadataKey(loc, string(handle))
	if err != nil {
		return err
	}
	if err := storage.DeleteAll(ctx, e.Store, resultKey, metadataKey); err != nil {
		return fmt.Errorf("discard query %s: %w", handle, err)
	}
	return nil
}

func (e *Engine) resultsFromAPI(ctx context.Context, handle query.Handle) (query.Result, error) {
	input := &athena.GetQueryResultsInput{QueryExecutionId: aws.String(string(handle))}
	if e.config.PageSize > 0 {
		input.MaxResults = aws.Int32(e.config.PageSize)
	}

	result := query.Result{Rows: make([]query.Row, 0)}
	skipHeader := false
	if e.config.SkipHeaderRow {
		statementType, err := e.statementType(ctx, handle)
		if err != nil {
			return query.Result{}, err
		}
		skipHeader = statementType == types.StatementTypeDml
	}

	firstPage := true
	for {
		out, err := e.api.GetQueryResults(ctx, input)
		if err != nil {
			return query.Result{}, fmt.Errorf("get query results %s: %w", handle, err)
		}
		if out.ResultSet == nil {
			return query.Result{}, fmt.Errorf("failed to retrieve query results for %s", handle)
		}

		rows := out.ResultSet.Rows
		if firstPage {
			result.Columns = columnNames(out.ResultSet.ResultSetMetadata)
			if skipHeader && len(rows) > 0 && isHeaderRow(rows[0], result.Columns) {
				rows = rows[1:]
			}
			firstPage = false
		}
		for _, row := range rows {
			result.Rows = append(result.Rows, convertRow(row))
		}

		if out.NextToken == nil || *out.NextToken == "" {
			return result, nil
		}
		input.NextToken = out.NextToken
	}
}

func (e *Engine) statementType(ctx context.Context, handle query.Handle) (types.StatementType, error) {
	out, err := e.api.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: aws.String(string(handle))})
	if err != nil {
		return "", fmt.Errorf("get query execution %s: %w", handle, err)
	}
	if out.QueryExecution == nil {
		return "", fmt.Errorf("failed to get query execution %s", handle)
	}
	return out.QueryExecution.StatementType, nil
}

func (e *Engine) resultsFromObjectStore(ctx context.Context, handle query.Handle) (query.Result, error) {
	loc, err := e.outputLocation(ctx, handle)
	if err != nil {
		return query.Result{}, err
	}
	key, err := storage.ResultObjectKey(loc, string(handle))
	if err != nil {
		return query.Result{}, err
	}
	return resultfile.Read(ctx, e.Store, key)
}

// outputLocation resolves the directory holding the query's result file. Athena
// reports the full file URL, s3://bucket/prefix/<id>.csv.
func (e *Engine) outputLocation(ctx context.Context, handle query.Handle) (storage.Location, error) {
	status, err := e.Status(ctx, handle)
	if err != nil {
		return storage.Location{}, err
	}
	if status.OutputLocation == "" {
		return storage.Location{}, fmt.Errorf("query %s has no output location", handle)
	}
	loc, err := storage.ParseLocation(status.OutputLocation)
	if err != nil {
		return storage.Location{}, err
	}
	suffix := string(handle) + ".csv"
	if loc.Prefix == suffix || strings.HasSuffix(loc.Prefix, "/"+suffix) {
		loc.Prefix = strings.TrimSuffix(strings.TrimSuffix(loc.Prefix, suffix), "/")
	}
	return loc, nil
}

func columnNames(metadata *types.ResultSetMetadata) []string {
	if metadata == nil {
		return nil
	}
	names := make([]string, len(metadata.ColumnInfo))
	for i, column := range metadata.ColumnInfo {
		names[i] = aws.ToString(column.Name)
	}
	return names
}

func isHeaderRow(row types.Row, columns []string) bool {
	if len(columns) == 0 || len(row.Data) != len(columns) {
		return false
	}
	for i, datum := range row.Data {
		if datum.VarCharValue == nil || *datum.VarCharValue != columns[i] {
			return false
		}
	}
	return true
}

func convertRow(row types.Row) query.Row {
	converted := make(query.Row, len(row.Data))
	for i, datum := range row.Data {
		if datum.VarCharValue != nil {
			converted[i] = query.Text(*datum.VarCharValue)
		}
	}
	return converted
}

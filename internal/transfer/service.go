// Package transfer moves the result of one query into a warehouse table.
//
// A transfer submits the query, polls its status at a fixed interval until it
// leaves the QUEUED and RUNNING states, reads every result row and inserts the
// rows one statement at a time. Any failure ends the transfer; nothing is
// retried.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/duckmesh/relay/internal/observability"
	"github.com/duckmesh/relay/internal/query"
	"github.com/duckmesh/relay/internal/warehouse"
)

const SuccessMessage = "Data transfer completed successfully"

var (
	ErrQueryNotSucceeded = errors.New("query did not succeed")
	// ErrInvalidRequest marks a transfer that cannot start because the
	// request and configuration together lack a query or a target table.
	ErrInvalidRequest = errors.New("invalid transfer request")
)

type Service struct {
	Engine    query.Engine
	Warehouse warehouse.Warehouse
	Config    Config
	Logger    *slog.Logger
	Clock     func() time.Time
	// Sleep waits between status polls. It must return early with the
	// context error when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Config struct {
	Query          string
	Database       string
	Workgroup      string
	OutputLocation string
	Table          string
	PollInterval   time.Duration
	DiscardResults bool
}

// Request carries per-invocation overrides. Empty fields use Config.
type Request struct {
	Query    string `json:"query,omitempty"`
	Database string `json:"database,omitempty"`
	Table    string `json:"table,omitempty"`
}

type Summary struct {
	Status       string        `json:"status"`
	QueryID      string        `json:"query_id"`
	State        query.State   `json:"state"`
	Table        string        `json:"table"`
	Columns      []string      `json:"columns"`
	RowsFetched  int           `json:"rows_fetched"`
	RowsInserted int           `json:"rows_inserted"`
	Polls        int           `json:"polls"`
	Duration     time.Duration `json:"-"`
	DurationMS   int64         `json:"duration_ms"`
}

func (s *Service) Run(ctx context.Context, request Request) (Summary, error) {
	s.ensureDefaults()
	started := s.Clock()

	summary, err := s.run(ctx, request)
	summary.Duration = s.Clock().Sub(started)
	summary.DurationMS = summary.Duration.Milliseconds()

	if err != nil {
		observability.ObserveTransfer("failed", summary.RowsFetched, summary.RowsInserted, summary.Duration)
		s.logger().ErrorContext(ctx, "transfer failed",
			slog.String("query_id", summary.QueryID),
			slog.String("state", string(summary.State)),
			slog.Int("rows_inserted", summary.RowsInserted),
			slog.Any("error", err),
		)
		return summary, err
	}

	summary.Status = SuccessMessage
	observability.ObserveTransfer("succeeded", summary.RowsFetched, summary.RowsInserted, summary.Duration)
	s.logger().InfoContext(ctx, "transfer completed",
		slog.String("query_id", summary.QueryID),
		slog.String("table", summary.Table),
		slog.Int("rows", summary.RowsInserted),
		slog.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (s *Service) run(ctx context.Context, request Request) (Summary, error) {
	queryRequest, table, err := s.resolve(request)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Table: table}

	handle, err := s.Engine.Start(ctx, queryRequest)
	if err != nil {
		return summary, fmt.Errorf("start query: %w", err)
	}
	summary.QueryID = string(handle)
	s.logger().InfoContext(ctx, "query started", slog.String("query_id", summary.QueryID), slog.String("database", queryRequest.Database))

	status, polls, err := s.waitForQuery(ctx, handle)
	summary.Polls = polls
	summary.State = status.State
	if err != nil {
		return summary, err
	}
	if status.State != query.StateSucceeded {
		return summary, fmt.Errorf("%w: query %s finished in state %s: %s", ErrQueryNotSucceeded, handle, status.State, status.Reason)
	}

	result, err := s.Engine.Results(ctx, handle)
	if err != nil {
		return summary, fmt.Errorf("get query results: %w", err)
	}
	summary.Columns = result.Columns
	summary.RowsFetched = len(result.Rows)

	for i, row := range result.Rows {
		if err := s.Warehouse.InsertRow(ctx, table, row); err != nil {
			return summary, fmt.Errorf("insert row %d: %w", i, err)
		}
		summary.RowsInserted++
	}

	if s.Config.DiscardResults {
		s.discard(ctx, handle)
	}
	return summary, nil
}

func (s *Service) waitForQuery(ctx context.Context, handle query.Handle) (query.Status, int, error) {
	submitted := s.Clock()
	polls := 0
	for {
		if err := s.Sleep(ctx, s.Config.PollInterval); err != nil {
			return query.Status{}, polls, err
		}
		status, err := s.Engine.Status(ctx, handle)
		polls++
		observability.IncrementQueryPolls()
		if err != nil {
			return query.Status{}, polls, fmt.Errorf("get query status: %w", err)
		}
		if status.State.Pending() {
			continue
		}
		observability.ObserveQueryWait(s.Clock().Sub(submitted))
		s.logger().InfoContext(ctx, "query finished",
			slog.String("query_id", string(handle)),
			slog.String("state", string(status.State)),
			slog.Int("polls", polls),
		)
		return status, polls, nil
	}
}

func (s *Service) discard(ctx context.Context, handle query.Handle) {
	discarder, ok := s.Engine.(query.Discarder)
	if !ok {
		return
	}
	if err := discarder.Discard(ctx, handle); err != nil {
		s.logger().WarnContext(ctx, "discard query results failed", slog.String("query_id", string(handle)), slog.Any("error", err))
	}
}

func (s *Service) resolve(request Request) (query.Request, string, error) {
	sqlText := firstNonEmpty(request.Query, s.Config.Query)
	if sqlText == "" {
		return query.Request{}, "", fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	table := firstNonEmpty(request.Table, s.Config.Table)
	if table == "" {
		return query.Request{}, "", fmt.Errorf("%w: table is required", ErrInvalidRequest)
	}
	return query.Request{
		SQL:            sqlText,
		Database:       firstNonEmpty(request.Database, s.Config.Database),
		Workgroup:      s.Config.Workgroup,
		OutputLocation: s.Config.OutputLocation,
	}, table, nil
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Sleep == nil {
		s.Sleep = sleepContext
	}
	if s.Config.PollInterval <= 0 {
		s.Config.PollInterval = time.Second
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

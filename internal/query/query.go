package query

import (
	"context"
	"database/sql"
	"errors"
)

var ErrUnknownHandle = errors.New("unknown query handle")

// Handle identifies one submitted query for the lifetime of a transfer.
type Handle string

type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// Pending reports whether a query in this state may still change state.
func (s State) Pending() bool {
	return s == StateQueued || s == StateRunning
}

type Request struct {
	SQL            string
	Database       string
	Workgroup      string
	OutputLocation string
}

type Status struct {
	State          State
	Reason         string
	OutputLocation string
}

// Row is one result row; an invalid entry is a NULL column value.
type Row []sql.NullString

type Result struct {
	Columns []string
	Rows    []Row
}

type Engine interface {
	Start(ctx context.Context, request Request) (Handle, error)
	Status(ctx context.Context, handle Handle) (Status, error)
	Results(ctx context.Context, handle Handle) (Result, error)
}

// Discarder is implemented by engines that can delete the stored result of a
// finished query.
type Discarder interface {
	Discard(ctx context.Context, handle Handle) error
}

func Text(value string) sql.NullString {
	return sql.NullString{String: value, Valid: true}
}

func TextRow(values ...string) Row {
	row := make(Row, len(values))
	for i, value := range values {
		row[i] = Text(value)
	}
	return row
}

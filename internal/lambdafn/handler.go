// Package lambdafn adapts the transfer service to an AWS Lambda handler
// triggered by an EventBridge (CloudWatch Events) rule.
package lambdafn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/duckmesh/relay/internal/observability"
	"github.com/duckmesh/relay/internal/transfer"
)

type TransferRunner interface {
	Run(ctx context.Context, request transfer.Request) (transfer.Summary, error)
}

type Handler struct {
	Transfers TransferRunner
	Logger    *slog.Logger
}

// Handle runs one transfer per event. Optional query, database and table
// overrides are read from the event detail.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) (transfer.Summary, error) {
	traceID := observability.NewTraceID()
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		traceID = lc.AwsRequestID
	}
	ctx = observability.ContextWithTraceID(ctx, traceID)

	request, err := ParseDetail(event.Detail)
	if err != nil {
		return transfer.Summary{}, err
	}
	if h.Logger != nil {
		h.Logger.InfoContext(ctx, "transfer triggered",
			slog.String("event_id", event.ID),
			slog.String("source", event.Source),
			slog.String("detail_type", event.DetailType),
		)
	}
	return h.Transfers.Run(ctx, request)
}

func ParseDetail(detail json.RawMessage) (transfer.Request, error) {
	var request transfer.Request
	trimmed := bytes.TrimSpace(detail)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return request, nil
	}
	if err := json.Unmarshal(trimmed, &request); err != nil {
		return transfer.Request{}, fmt.Errorf("decode event detail: %w", err)
	}
	return request, nil
}

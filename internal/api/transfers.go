package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/duckmesh/relay/internal/transfer"
)

const maxTransferBodyBytes = 1 << 20

func handleRunTransfer(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Transfers == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSFER_NOT_CONFIGURED", "transfer service is not configured", false, nil)
		return
	}

	var request transfer.Request
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTransferBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid transfer request body", false, map[string]any{"details": err.Error()})
		return
	}

	summary, err := deps.Transfers.Run(r.Context(), request)
	if errors.Is(err, transfer.ErrInvalidRequest) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "transfer request failed", slog.String("query_id", summary.QueryID), slog.Any("error", err))
		}
		writeError(r.Context(), w, http.StatusBadGateway, "TRANSFER_FAILED", err.Error(), false, map[string]any{
			"query_id":      summary.QueryID,
			"state":         summary.State,
			"rows_fetched":  summary.RowsFetched,
			"rows_inserted": summary.RowsInserted,
		})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/duckmesh/relay/internal/auth"
	"github.com/duckmesh/relay/internal/config"
	"github.com/duckmesh/relay/internal/query"
	"github.com/duckmesh/relay/internal/transfer"
)

type fakeTransfers struct {
	requests []transfer.Request
	summary  transfer.Summary
	err      error
}

func (f *fakeTransfers) Run(_ context.Context, request transfer.Request) (transfer.Summary, error) {
	f.requests = append(f.requests, request)
	return f.summary, f.err
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error {
	return f.err
}

func TestHealthEndpoint(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected trace id header")
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["engine"] != "duckdb" || body["warehouse"] != "postgres" {
		t.Fatalf("health body = %#v", body)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})

	h := NewHandler(cfg, Dependencies{
		Readiness: CheckWarehouse(fakePinger{err: errors.New("connection refused")}),
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %#v", body)
	}
}

func TestRunTransferReturnsSummary(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	runner := &fakeTransfers{summary: transfer.Summary{
		Status:       transfer.SuccessMessage,
		QueryID:      "q-1",
		State:        query.StateSucceeded,
		Table:        "events",
		RowsFetched:  2,
		RowsInserted: 2,
	}}

	h := NewHandler(cfg, Dependencies{Transfers: runner})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/transfers", strings.NewReader(`{"query":"SELECT 1","table":"target"}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["status"] != transfer.SuccessMessage {
		t.Fatalf("status = %v", body["status"])
	}
	if body["rows_inserted"] != float64(2) {
		t.Fatalf("rows_inserted = %v", body["rows_inserted"])
	}
	if len(runner.requests) != 1 || runner.requests[0].Query != "SELECT 1" || runner.requests[0].Table != "target" {
		t.Fatalf("requests = %#v", runner.requests)
	}
}

func TestRunTransferAcceptsEmptyBody(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	runner := &fakeTransfers{summary: transfer.Summary{Status: transfer.SuccessMessage}}

	h := NewHandler(cfg, Dependencies{Transfers: runner})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/transfers", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if len(runner.requests) != 1 || runner.requests[0] != (transfer.Request{}) {
		t.Fatalf("requests = %#v", runner.requests)
	}
}

func TestRunTransferRejectsInvalidBody(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	runner := &fakeTransfers{}

	h := NewHandler(cfg, Dependencies{Transfers: runner})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/transfers", strings.NewReader(`{"sql":"SELECT 1"}`)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(runner.requests) != 0 {
		t.Fatal("transfer should not run for an invalid body")
	}
}

func TestRunTransferMapsFailureTo502(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	runner := &fakeTransfers{
		summary: transfer.Summary{QueryID: "q-9", State: query.StateFailed},
		err:     fmt.Errorf("%w: query q-9 finished in state FAILED", transfer.ErrQueryNotSucceeded),
	}

	h := NewHandler(cfg, Dependencies{Transfers: runner})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/transfers", nil))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "TRANSFER_FAILED" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
	extra, ok := body["context"].(map[string]any)
	if !ok || extra["query_id"] != "q-9" || extra["state"] != "FAILED" {
		t.Fatalf("context = %#v", body["context"])
	}
}

func TestRunTransferMapsInvalidRequestTo400(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	runner := &fakeTransfers{err: fmt.Errorf("%w: table is required", transfer.ErrInvalidRequest)}

	h := NewHandler(cfg, Dependencies{Transfers: runner})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/transfers", strings.NewReader(`{"query":"SELECT 1"}`)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "INVALID_REQUEST" || body["retryable"] != false {
		t.Fatalf("body = %#v", body)
	}
}

func TestRunTransferNotConfigured(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/transfers", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedRouteRequiresAuthAndRole(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"RELAY_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:scheduler:transfer_runner,k2:viewer:reader")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	runner := &fakeTransfers{summary: transfer.Summary{Status: transfer.SuccessMessage}}

	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Transfers:      runner,
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodPost, "/v1/transfers", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	forbiddenReq := httptest.NewRequest(http.MethodPost, "/v1/transfers", nil)
	forbiddenReq.Header.Set("X-API-Key", "k2")
	forbiddenResp := httptest.NewRecorder()
	h.ServeHTTP(forbiddenResp, forbiddenReq)
	if forbiddenResp.Code != http.StatusForbidden {
		t.Fatalf("forbidden status = %d", forbiddenResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodPost, "/v1/transfers", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d", authResp.Code)
	}
	if len(runner.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(runner.requests))
	}

	healthResp := httptest.NewRecorder()
	h.ServeHTTP(healthResp, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if healthResp.Code != http.StatusOK {
		t.Fatalf("health should not require auth, status = %d", healthResp.Code)
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"RELAY_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{Transfers: &fakeTransfers{}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/transfers", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestConfigReadinessChecks(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	if err := CheckSourceConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckSourceConfig() error = %v", err)
	}
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckObjectStoreConfig() error = %v", err)
	}

	cfg.Source.OutputLocation = "results/"
	if err := CheckSourceConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected error for output location without s3 scheme")
	}
	cfg.ObjectStore.Bucket = ""
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected error for missing bucket")
	}
	if err := CheckWarehouse(nil)(context.Background()); err == nil {
		t.Fatal("expected error for missing warehouse")
	}
}

func loadConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("relay-api", mapLookup(env))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	return body
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

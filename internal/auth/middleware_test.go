package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:scheduler:transfer_runner, k2:ops:admin|transfer_runner")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.Principal != "scheduler" {
		t.Fatalf("Principal = %q", identity.Principal)
	}
	if !identity.HasRole(RoleTransferRunner) {
		t.Fatal("expected transfer_runner role")
	}
	if identity.HasRole(RoleAdmin) {
		t.Fatal("unexpected admin role")
	}

	ops, ok := validator.Validate(context.Background(), "k2")
	if !ok {
		t.Fatal("expected k2 to be valid")
	}
	if len(ops.Roles) != 2 || ops.Roles[0] != RoleAdmin {
		t.Fatalf("Roles = %#v", ops.Roles)
	}
	if !ops.HasAnyRole("reader", RoleAdmin) {
		t.Fatal("expected HasAnyRole to match admin")
	}

	if _, ok := validator.Validate(context.Background(), "k3"); ok {
		t.Fatal("unknown key should not validate")
	}
	if len(identity.KeyID) != 8 || identity.KeyID == ops.KeyID {
		t.Fatalf("KeyID = %q / %q", identity.KeyID, ops.KeyID)
	}
}

func TestStaticAPIKeyValidatorErrorsDoNotEchoKeys(t *testing.T) {
	_, err := NewStaticAPIKeyValidator("super-secret:ops:admin,super-secret:other:admin")
	if err == nil {
		t.Fatal("expected duplicate key error")
	}
	if strings.Contains(err.Error(), "super-secret") {
		t.Fatalf("error leaks key: %v", err)
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	for _, spec := range []string{"invalid", "k1::admin", "k1:ops:|", "k1:ops:admin,k1:other:admin"} {
		if _, err := NewStaticAPIKeyValidator(spec); err == nil {
			t.Fatalf("expected parse error for %q", spec)
		}
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:scheduler:transfer_runner")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/transfers", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	bad := httptest.NewRequest(http.MethodPost, "/v1/transfers", nil)
	bad.Header.Set("X-API-Key", "nope")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, bad)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:scheduler:transfer_runner")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.Principal != "scheduler" {
			t.Fatalf("Principal = %q", identity.Principal)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, header := range []struct{ name, value string }{
		{"X-API-Key", "k1"},
		{"Authorization", "Bearer k1"},
		{"Authorization", "bearer k1"},
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/transfers", nil)
		req.Header.Set(header.name, header.value)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s %q: status = %d", header.name, header.value, rr.Code)
		}
	}
}

func TestRequireAnyRole(t *testing.T) {
	handler := RequireAnyRole(RoleTransferRunner, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name     string
		identity *Identity
		want     int
	}{
		{name: "anonymous", want: http.StatusNoContent},
		{name: "runner", identity: &Identity{Principal: "scheduler", Roles: []string{RoleTransferRunner}}, want: http.StatusNoContent},
		{name: "admin", identity: &Identity{Principal: "ops", Roles: []string{RoleAdmin}}, want: http.StatusNoContent},
		{name: "reader", identity: &Identity{Principal: "viewer", Roles: []string{"reader"}}, want: http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/transfers", nil)
		if tc.identity != nil {
			req = req.WithContext(WithIdentity(req.Context(), *tc.identity))
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, rr.Code, tc.want)
		}
	}
}

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskflow/taskflow-api/internal/service"
)

func withPrincipal(req *http.Request, perms ...string) *http.Request {
	p := &service.Principal{UserID: 1, SessionID: 1, Permissions: perms}
	return req.WithContext(context.WithValue(req.Context(), PrincipalContextKey, p))
}

func TestRequirePermissionDenied(t *testing.T) {
	mw := RequirePermission(service.NewRBACService(), service.PermSessionsRevoke)

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), service.PermSessionsRead)
	rr := httptest.NewRecorder()

	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("expected middleware to block request")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, rr.Code)
	}
}

func TestRequirePermissionWithoutPrincipal(t *testing.T) {
	mw := RequirePermission(service.NewRBACService(), service.PermSessionsRead)
	rr := httptest.NewRecorder()
	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("expected middleware to block request")
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestRequirePermissionAllowed(t *testing.T) {
	mw := RequirePermission(service.NewRBACService(), service.PermSessionsRead)

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), service.PermSessionsRead)
	rr := httptest.NewRecorder()

	called := false
	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !called {
		t.Fatal("expected wrapped handler to be called")
	}
}

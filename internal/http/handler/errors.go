package handler

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taskflow/taskflow-api/internal/http/middleware"
	"github.com/taskflow/taskflow-api/internal/http/response"
	"github.com/taskflow/taskflow-api/internal/service"
)

const invalidCodeMessage = "invalid or expired code"

// writeServiceError maps the service error taxonomy onto HTTP statuses. Unexpected
// errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
	case errors.Is(err, response.ErrInvalidBody):
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
	case errors.Is(err, service.ErrValidationFailed):
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, service.ErrNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, service.ErrConflict):
		response.Error(w, r, http.StatusConflict, "CONFLICT", err.Error(), nil)
	default:
		logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

// writeCodeError hides which part of a code check failed. Password policy failures are
// still reported so the caller can pick a better password.
func writeCodeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if errors.Is(err, service.ErrValidationFailed) && !errors.Is(err, service.ErrWeakPassword) {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", invalidCodeMessage, nil)
		return
	}
	writeServiceError(w, r, logger, err)
}

func principal(w http.ResponseWriter, r *http.Request) (*service.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
	}
	return p, ok
}

func uintParam(r *http.Request, name string) (uint, error) {
	n, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || n == 0 {
		return 0, service.ErrValidationFailed
	}
	return uint(n), nil
}

func intQuery(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

// clientIP expects chi's RealIP middleware to have already rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package handler

import (
	"log/slog"
	"net/http"

	"github.com/taskflow/taskflow-api/internal/http/response"
	"github.com/taskflow/taskflow-api/internal/observability"
	"github.com/taskflow/taskflow-api/internal/service"
)

type UserHandler struct {
	auth     *service.AuthService
	sessions *service.SessionService
	logger   *slog.Logger
}

func NewUserHandler(auth *service.AuthService, sessions *service.SessionService, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{auth: auth, sessions: sessions, logger: logger}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	user, err := h.auth.Me(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	view := toUserView(user)
	response.JSON(w, r, http.StatusOK, map[string]any{"user": view, "session_id": p.SessionID})
}

func (h *UserHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	sessions, err := h.sessions.ListActiveSessions(r.Context(), p.UserID, p.SessionID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": sessions, "max_active": h.sessions.MaxActive()})
}

// RevokeSession answers 404 for sessions the caller does not own, the same as for
// sessions that do not exist.
func (h *UserHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	sessionID, err := uintParam(r, "session_id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid session id", nil)
		return
	}
	_, revoked, err := h.sessions.RevokeSession(r.Context(), sessionID, p.UserID, "user_revoke")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "session.revoke", "user_id", p.UserID, "session_id", sessionID, "changed", revoked)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"revoked":    true,
		"current":    sessionID == p.SessionID,
	})
}

func (h *UserHandler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	n, err := h.sessions.RevokeOtherSessions(r.Context(), p.UserID, p.SessionID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "session.revoke_others", "user_id", p.UserID, "revoked_count", n)
	response.JSON(w, r, http.StatusOK, map[string]int{"revoked_count": n})
}

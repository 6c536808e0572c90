package handler

import (
	"log/slog"
	"net/http"

	"github.com/taskflow/taskflow-api/internal/http/response"
	"github.com/taskflow/taskflow-api/internal/observability"
	"github.com/taskflow/taskflow-api/internal/repository"
	"github.com/taskflow/taskflow-api/internal/service"
)

type AdminHandler struct {
	auth     *service.AuthService
	sessions *service.SessionService
	logger   *slog.Logger
}

func NewAdminHandler(auth *service.AuthService, sessions *service.SessionService, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{auth: auth, sessions: sessions, logger: logger}
}

func (h *AdminHandler) ListUserSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := uintParam(r, "id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid user id", nil)
		return
	}
	if _, err := h.auth.Me(r.Context(), userID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	page, err := h.sessions.ListUserSessions(r.Context(), userID, repository.PageRequest{
		Page:     intQuery(r, "page"),
		PageSize: intQuery(r, "page_size"),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

func (h *AdminHandler) ForceLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	userID, err := uintParam(r, "id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid user id", nil)
		return
	}
	correlationID, err := h.auth.ForceLogout(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "admin.force_logout", "actor_user_id", p.UserID, "target_user_id", userID, "correlation_id", correlationID)
	response.JSON(w, r, http.StatusAccepted, map[string]any{"user_id": userID, "correlation_id": correlationID})
}

package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/taskflow/taskflow-api/internal/domain"
	"github.com/taskflow/taskflow-api/internal/http/response"
	"github.com/taskflow/taskflow-api/internal/observability"
	"github.com/taskflow/taskflow-api/internal/service"
)

type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: auth, logger: logger}
}

type userView struct {
	ID              uint       `json:"id"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	Roles           []string   `json:"roles"`
	Permissions     []string   `json:"permissions"`
}

func toUserView(u *domain.User) userView {
	return userView{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Status:          u.Status,
		EmailVerifiedAt: u.EmailVerifiedAt,
		Roles:           u.RoleNames(),
		Permissions:     u.PermissionNames(),
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	user, err := h.auth.Register(r.Context(), service.RegisterInput{Email: req.Email, Name: req.Name, Password: req.Password})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "auth.register", "user_id", user.ID)
	response.JSON(w, r, http.StatusCreated, map[string]any{"user": toUserView(user)})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	res, err := h.auth.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Device:   service.DeviceMetadata{ClientIP: clientIP(r), UserAgent: r.UserAgent()},
	})
	if err != nil {
		observability.Audit(r, "auth.login.failed")
		writeServiceError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "auth.login", "user_id", res.User.ID, "session_id", res.Tokens.SessionID, "evicted_sessions", len(res.Evicted))
	response.JSON(w, r, http.StatusOK, map[string]any{"user": toUserView(res.User), "tokens": res.Tokens})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh answers 401 for every failure so callers cannot tell reuse from expiry.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token", nil)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.logger.InfoContext(r.Context(), "refresh rejected", "error", err)
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token", nil)
		return
	}
	observability.Audit(r, "auth.refresh", "session_id", pair.SessionID)
	response.JSON(w, r, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if err := h.auth.Logout(r.Context(), p); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "auth.logout", "user_id", p.UserID, "session_id", p.SessionID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	correlationID, err := h.auth.LogoutAll(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "auth.logout_all", "user_id", p.UserID, "correlation_id", correlationID)
	response.JSON(w, r, http.StatusAccepted, map[string]string{"correlation_id": correlationID})
}

type emailRequest struct {
	Email string `json:"email"`
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *AuthHandler) RequestEmailConfirmation(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := h.auth.RequestEmailConfirmation(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "if the account exists, a code has been sent"})
}

func (h *AuthHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := h.auth.ConfirmEmail(r.Context(), req.Email, req.Code); err != nil {
		writeCodeError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "auth.email_confirmed")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "email_confirmed"})
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := h.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "if the account exists, a code has been sent"})
}

func (h *AuthHandler) VerifyPasswordResetCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := h.auth.VerifyPasswordResetCode(r.Context(), req.Email, req.Code); err != nil {
		writeCodeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]bool{"valid": true})
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	correlationID, err := h.auth.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword)
	if err != nil {
		writeCodeError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "auth.password_reset", "correlation_id", correlationID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_reset", "correlation_id": correlationID})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	correlationID, err := h.auth.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "auth.password_changed", "user_id", p.UserID, "correlation_id", correlationID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_changed", "correlation_id": correlationID})
}

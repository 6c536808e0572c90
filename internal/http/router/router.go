package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/taskflow/taskflow-api/internal/health"
	"github.com/taskflow/taskflow-api/internal/http/handler"
	"github.com/taskflow/taskflow-api/internal/http/middleware"
	"github.com/taskflow/taskflow-api/internal/http/response"
	"github.com/taskflow/taskflow-api/internal/service"
)

type Dependencies struct {
	AuthHandler    *handler.AuthHandler
	UserHandler    *handler.UserHandler
	AdminHandler   *handler.AdminHandler
	Gate           middleware.Authenticator
	RBACService    service.RBACAuthorizer
	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	authenticated := middleware.AuthMiddleware(dep.Gate)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", dep.AuthHandler.Register)
			r.Post("/login", dep.AuthHandler.Login)
			r.Post("/refresh", dep.AuthHandler.Refresh)
			r.Post("/verify/request", dep.AuthHandler.RequestEmailConfirmation)
			r.Post("/verify/confirm", dep.AuthHandler.ConfirmEmail)
			r.Post("/password/forgot", dep.AuthHandler.ForgotPassword)
			r.Post("/password/verify", dep.AuthHandler.VerifyPasswordResetCode)
			r.Post("/password/reset", dep.AuthHandler.ResetPassword)
			r.Group(func(r chi.Router) {
				r.Use(authenticated)
				r.Post("/logout", dep.AuthHandler.Logout)
				r.Post("/logout-all", dep.AuthHandler.LogoutAll)
				r.Post("/change-password", dep.AuthHandler.ChangePassword)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			r.Get("/me", dep.UserHandler.Me)
			r.Get("/me/sessions", dep.UserHandler.Sessions)
			r.Delete("/me/sessions/{session_id}", dep.UserHandler.RevokeSession)
			r.Post("/me/sessions/revoke-others", dep.UserHandler.RevokeOtherSessions)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authenticated)
			r.With(middleware.RequirePermission(dep.RBACService, service.PermSessionsRead)).Get("/users/{id}/sessions", dep.AdminHandler.ListUserSessions)
			r.With(middleware.RequirePermission(dep.RBACService, service.PermSessionsRevoke)).Post("/users/{id}/force-logout", dep.AdminHandler.ForceLogout)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}

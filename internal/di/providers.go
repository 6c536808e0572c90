package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/taskflow/taskflow-api/internal/config"
	"github.com/taskflow/taskflow-api/internal/database"
	"github.com/taskflow/taskflow-api/internal/health"
	"github.com/taskflow/taskflow-api/internal/http/handler"
	"github.com/taskflow/taskflow-api/internal/http/middleware"
	"github.com/taskflow/taskflow-api/internal/http/router"
	"github.com/taskflow/taskflow-api/internal/queue"
	"github.com/taskflow/taskflow-api/internal/repository"
	"github.com/taskflow/taskflow-api/internal/security"
	"github.com/taskflow/taskflow-api/internal/service"
)

// ProvideDatabase opens the database, applies AutoMigrate when enabled and ensures
// the default roles exist.
func ProvideDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := database.Close(db); err != nil {
			logger.Error("close database", "error", err)
		}
	}
	if cfg.DatabaseAutoMigrate {
		if err := database.AutoMigrate(ctx, db); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	if err := repository.NewRoleRepository(db).Ensure(ctx, service.DefaultRoleSeeds()); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("seed roles: %w", err)
	}
	return db, cleanup, nil
}

func ProvideQueue(cfg *config.Config, logger *slog.Logger) (queue.Queue, func(), error) {
	q, err := queue.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return q, func() { _ = q.Close() }, nil
}

func ProvidePublisher(q queue.Queue) queue.Publisher { return q }

func ProvideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
}

func ProvidePasswordHasher(cfg *config.Config) *security.PasswordHasher {
	return security.NewPasswordHasher(cfg.BcryptCost)
}

func ProvideMailer(cfg *config.Config, logger *slog.Logger) service.Mailer {
	return service.NewLogMailer(logger, !cfg.IsProd())
}

func ProvideSessionService(sessions repository.SessionRepository, tokens repository.RefreshTokenRepository, cfg *config.Config, logger *slog.Logger) *service.SessionService {
	return service.NewSessionService(sessions, tokens, cfg.SessionMaxActive, logger)
}

func ProvideTokenService(
	jwtMgr *security.JWTManager,
	sessions repository.SessionRepository,
	tokens repository.RefreshTokenRepository,
	users repository.UserRepository,
	cfg *config.Config,
	logger *slog.Logger,
) *service.TokenService {
	return service.NewTokenService(jwtMgr, sessions, tokens, users, service.TokenServiceOptions{
		Pepper:              cfg.RefreshTokenPepper,
		AccessTTL:           cfg.JWTAccessTTL,
		RefreshTTL:          cfg.RefreshTokenTTL,
		ReuseRevokesSession: cfg.RefreshReuseRevokesSession,
	}, logger)
}

func ProvideConfirmationCodeService(codes repository.ConfirmationCodeRepository, cfg *config.Config, logger *slog.Logger) *service.ConfirmationCodeService {
	return service.NewConfirmationCodeService(codes, cfg.RefreshTokenPepper, logger)
}

func ProvideAuthServiceOptions(cfg *config.Config) service.AuthServiceOptions {
	return service.AuthServiceOptions{
		EmailCodeTTL:         cfg.EmailCodeTTL,
		PasswordResetCodeTTL: cfg.PasswordResetCodeTTL,
	}
}

func ProvideReadiness(cfg *config.Config, logger *slog.Logger, db *gorm.DB, q queue.Queue) *health.ProbeRunner {
	return health.NewProbeRunner(cfg.ReadinessProbeTimeout, logger, health.DatabaseChecker(db), health.QueueChecker(q))
}

func ProvideRouter(
	cfg *config.Config,
	auth *handler.AuthHandler,
	user *handler.UserHandler,
	admin *handler.AdminHandler,
	gate middleware.Authenticator,
	rbac service.RBACAuthorizer,
	readiness *health.ProbeRunner,
) http.Handler {
	return router.NewRouter(router.Dependencies{
		AuthHandler:    auth,
		UserHandler:    user,
		AdminHandler:   admin,
		Gate:           gate,
		RBACService:    rbac,
		Readiness:      readiness,
		EnableOTelHTTP: cfg.OTELHTTPEnabled,
	})
}

func ProvideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ProvideInProcessWorker returns a worker only for the memory queue; other drivers are
// drained by the separate worker process.
func ProvideInProcessWorker(cfg *config.Config, q queue.Queue, coordinator *service.RevocationCoordinator, logger *slog.Logger) *queue.Worker {
	if cfg.QueueDriver != config.QueueDriverMemory {
		return nil
	}
	return queue.NewWorker(q, coordinator.Handle, logger)
}

func ProvideWorker(q queue.Queue, coordinator *service.RevocationCoordinator, logger *slog.Logger) *queue.Worker {
	return queue.NewWorker(q, coordinator.Handle, logger)
}

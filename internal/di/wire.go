//go:build wireinject
// +build wireinject

package di

import (
	"context"
	"log/slog"

	"github.com/google/wire"

	"github.com/taskflow/taskflow-api/internal/app"
	"github.com/taskflow/taskflow-api/internal/config"
	"github.com/taskflow/taskflow-api/internal/http/handler"
	"github.com/taskflow/taskflow-api/internal/http/middleware"
	"github.com/taskflow/taskflow-api/internal/observability"
	"github.com/taskflow/taskflow-api/internal/repository"
	"github.com/taskflow/taskflow-api/internal/security"
	"github.com/taskflow/taskflow-api/internal/service"
)

var repositorySet = wire.NewSet(
	ProvideDatabase,
	repository.NewUserRepository,
	repository.NewSessionRepository,
	repository.NewRefreshTokenRepository,
	repository.NewConfirmationCodeRepository,
)

var revocationSet = wire.NewSet(
	ProvideQueue,
	ProvidePublisher,
	service.NewRevocationCoordinator,
	wire.Bind(new(service.RevocationEnqueuer), new(*service.RevocationCoordinator)),
)

var serviceSet = wire.NewSet(
	ProvideJWTManager,
	ProvidePasswordHasher,
	wire.Bind(new(service.CredentialVerifier), new(*security.PasswordHasher)),
	ProvideMailer,
	ProvideSessionService,
	ProvideTokenService,
	ProvideConfirmationCodeService,
	ProvideAuthServiceOptions,
	service.NewAuthService,
	service.NewAuthGate,
	wire.Bind(new(middleware.Authenticator), new(*service.AuthGate)),
	service.NewRBACService,
	wire.Bind(new(service.RBACAuthorizer), new(*service.RBACService)),
)

var httpSet = wire.NewSet(
	handler.NewAuthHandler,
	handler.NewUserHandler,
	handler.NewAdminHandler,
	ProvideReadiness,
	ProvideRouter,
	ProvideHTTPServer,
)

func InitializeApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime) (*app.App, func(), error) {
	wire.Build(repositorySet, revocationSet, serviceSet, httpSet, ProvideInProcessWorker, app.New)
	return nil, nil, nil
}

func InitializeWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime) (*app.WorkerApp, func(), error) {
	wire.Build(repositorySet, revocationSet, ProvideWorker, app.NewWorkerApp)
	return nil, nil, nil
}

func InitializeRevoker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*service.RevocationCoordinator, func(), error) {
	wire.Build(repositorySet, revocationSet)
	return nil, nil, nil
}

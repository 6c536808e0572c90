package service

import (
	"context"
	"errors"

	"github.com/taskflow/taskflow-api/internal/observability"
	"github.com/taskflow/taskflow-api/internal/repository"
	"github.com/taskflow/taskflow-api/internal/security"
)

// Principal is what an authenticated request knows about its caller.
type Principal struct {
	UserID      uint
	SessionID   uint
	Roles       []string
	Permissions []string
	Claims      *security.Claims
}

// AuthGate verifies access tokens and then re-reads the session on every call.
// Liveness results are never cached, so a revoked session is refused on its next request.
type AuthGate struct {
	jwtMgr   *security.JWTManager
	sessions repository.SessionRepository
}

func NewAuthGate(jwtMgr *security.JWTManager, sessions repository.SessionRepository) *AuthGate {
	return &AuthGate{jwtMgr: jwtMgr, sessions: sessions}
}

func (g *AuthGate) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	if raw == "" {
		observability.RecordAccessTokenValidation(ctx, "missing", "bearer")
		return nil, ErrUnauthenticated
	}
	claims, err := g.jwtMgr.ParseAccessToken(raw)
	if err != nil {
		observability.RecordAccessTokenValidation(ctx, "invalid", "bearer")
		return nil, ErrUnauthenticated
	}
	userID, err := claims.UserID()
	if err != nil || claims.SessionID == 0 {
		observability.RecordAccessTokenValidation(ctx, "malformed", "bearer")
		return nil, ErrUnauthenticated
	}
	if _, err := g.sessions.FindActiveByIDForUser(ctx, userID, claims.SessionID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordAccessTokenValidation(ctx, "session_revoked", "bearer")
			return nil, ErrUnauthenticated
		}
		observability.RecordAccessTokenValidation(ctx, "error", "bearer")
		return nil, err
	}
	observability.RecordAccessTokenValidation(ctx, "success", "bearer")
	return &Principal{
		UserID:      userID,
		SessionID:   claims.SessionID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		Claims:      claims,
	}, nil
}

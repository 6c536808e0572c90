package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskflow/taskflow-api/internal/domain"
	"github.com/taskflow/taskflow-api/internal/observability"
	"github.com/taskflow/taskflow-api/internal/repository"
	"github.com/taskflow/taskflow-api/internal/security"
)

// reuseGracePeriod keeps a client that double-submits the same refresh token from
// revoking its own session. Presentations of a token consumed longer ago count as reuse.
const reuseGracePeriod = 5 * time.Second

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        uint      `json:"session_id"`
}

type TokenServiceOptions struct {
	Pepper              string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	ReuseRevokesSession bool
}

type TokenService struct {
	jwtMgr   *security.JWTManager
	sessions repository.SessionRepository
	tokens   repository.RefreshTokenRepository
	users    repository.UserRepository
	opts     TokenServiceOptions
	logger   *slog.Logger
	now      func() time.Time
}

func NewTokenService(jwtMgr *security.JWTManager, sessions repository.SessionRepository, tokens repository.RefreshTokenRepository, users repository.UserRepository, opts TokenServiceOptions, logger *slog.Logger) *TokenService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{
		jwtMgr:   jwtMgr,
		sessions: sessions,
		tokens:   tokens,
		users:    users,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IssueForSession records a refresh token for an existing session and mints the access
// token that goes with it. The session must already be stored.
func (s *TokenService) IssueForSession(ctx context.Context, user *domain.User, sessionID uint) (*TokenPair, error) {
	raw, err := security.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	rt := &domain.RefreshToken{
		TokenHash: security.HashSecret(raw, s.opts.Pepper),
		UserID:    user.ID,
		SessionID: sessionID,
		ExpiresAt: now.Add(s.opts.RefreshTTL),
	}
	if err := s.tokens.Create(ctx, rt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return s.pair(user, sessionID, raw, rt.ExpiresAt)
}

// ValidateAndUseRefreshToken consumes a live refresh token exactly once. Every failure
// kind collapses into ErrUnauthenticated.
func (s *TokenService) ValidateAndUseRefreshToken(ctx context.Context, raw string) (*domain.RefreshToken, error) {
	if raw == "" {
		return nil, ErrUnauthenticated
	}
	hash := security.HashSecret(raw, s.opts.Pepper)
	t, err := s.tokens.ConsumeByHash(ctx, hash, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			s.handleRejected(ctx, hash)
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	return t, nil
}

// Rotate exchanges a live refresh token for a new pair bound to the same session.
func (s *TokenService) Rotate(ctx context.Context, raw string) (*TokenPair, error) {
	if raw == "" {
		observability.RecordAuthRefresh(ctx, "rejected")
		return nil, ErrUnauthenticated
	}
	nextRaw, err := security.NewRefreshToken()
	if err != nil {
		observability.RecordAuthRefresh(ctx, "error")
		return nil, err
	}
	now := s.now()
	hash := security.HashSecret(raw, s.opts.Pepper)
	replacement := &domain.RefreshToken{
		TokenHash: security.HashSecret(nextRaw, s.opts.Pepper),
		ExpiresAt: now.Add(s.opts.RefreshTTL),
	}
	consumed, err := s.tokens.RotateByHash(ctx, hash, now, replacement)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			s.handleRejected(ctx, hash)
			observability.RecordAuthRefresh(ctx, "rejected")
			return nil, ErrUnauthenticated
		}
		observability.RecordAuthRefresh(ctx, "error")
		return nil, err
	}

	user, err := s.users.FindByID(ctx, consumed.UserID)
	if err != nil || user.Status != domain.UserStatusActive {
		if _, revokeErr := s.tokens.RevokeByIDsForUser(ctx, consumed.UserID, []uint{replacement.ID}); revokeErr != nil {
			s.logger.ErrorContext(ctx, "revoke replacement refresh token", "user_id", consumed.UserID, "error", revokeErr)
		}
		if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthRefresh(ctx, "error")
			return nil, err
		}
		observability.RecordAuthRefresh(ctx, "rejected")
		return nil, ErrUnauthenticated
	}
	pair, err := s.pair(user, consumed.SessionID, nextRaw, replacement.ExpiresAt)
	if err != nil {
		observability.RecordAuthRefresh(ctx, "error")
		return nil, err
	}
	observability.RecordAuthRefresh(ctx, "success")
	return pair, nil
}

func (s *TokenService) RevokeRefreshTokensBySession(ctx context.Context, sessionID, userID uint) (int64, error) {
	return s.RevokeRefreshTokensBySessions(ctx, []uint{sessionID}, userID)
}

func (s *TokenService) RevokeRefreshTokensBySessions(ctx context.Context, sessionIDs []uint, userID uint) (int64, error) {
	n, err := s.tokens.RevokeBySessionsForUser(ctx, userID, sessionIDs)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	observability.RecordRevokedRows(ctx, "refresh_token", n)
	return n, nil
}

// handleRejected looks at why a presented token could not be consumed. A token that was
// already rotated while its session is still live is treated as stolen when the reuse
// policy is on. Errors here are logged only; the caller already answers Unauthenticated.
func (s *TokenService) handleRejected(ctx context.Context, hash string) {
	if !s.opts.ReuseRevokesSession {
		return
	}
	t, err := s.tokens.FindByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, repository.ErrRefreshTokenNotFound) {
			s.logger.WarnContext(ctx, "refresh reuse lookup failed", "error", err)
		}
		return
	}
	if !t.IsUsed || t.UsedAt == nil || s.now().Sub(*t.UsedAt) < reuseGracePeriod {
		return
	}
	if _, err := s.sessions.FindActiveByIDForUser(ctx, t.UserID, t.SessionID); err != nil {
		return
	}
	ids := []uint{t.SessionID}
	if _, err := s.sessions.RevokeByIDsForUser(ctx, t.UserID, ids, "refresh_reuse_detected"); err != nil {
		s.logger.ErrorContext(ctx, "revoke session after refresh reuse", "user_id", t.UserID, "session_id", t.SessionID, "error", err)
		return
	}
	if _, err := s.RevokeRefreshTokensBySessions(ctx, ids, t.UserID); err != nil {
		s.logger.ErrorContext(ctx, "revoke tokens after refresh reuse", "user_id", t.UserID, "session_id", t.SessionID, "error", err)
		return
	}
	s.logger.WarnContext(ctx, "refresh token reuse detected, session revoked", "user_id", t.UserID, "session_id", t.SessionID)
}

func (s *TokenService) pair(user *domain.User, sessionID uint, refresh string, refreshExp time.Time) (*TokenPair, error) {
	access, claims, err := s.jwtMgr.SignAccessToken(security.AccessTokenInput{
		UserID:      user.ID,
		SessionID:   sessionID,
		Roles:       user.RoleNames(),
		Permissions: user.PermissionNames(),
	}, s.opts.AccessTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshExpiresAt: refreshExp,
		SessionID:        sessionID,
	}, nil
}

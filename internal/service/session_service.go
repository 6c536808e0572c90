package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/taskflow/taskflow-api/internal/domain"
	"github.com/taskflow/taskflow-api/internal/observability"
	"github.com/taskflow/taskflow-api/internal/repository"
)

const DefaultMaxActiveSessions = 5

type DeviceMetadata struct {
	ClientIP  string
	UserAgent string
}

type SessionView struct {
	ID        uint       `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	UserAgent string     `json:"user_agent"`
	ClientIP  string     `json:"client_ip"`
	IsRevoked bool       `json:"is_revoked"`
	IsCurrent bool       `json:"is_current"`
}

func toSessionView(s domain.Session, currentSessionID uint) SessionView {
	return SessionView{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		RevokedAt: s.RevokedAt,
		UserAgent: s.UserAgent,
		ClientIP:  s.ClientIP,
		IsRevoked: s.IsRevoked,
		IsCurrent: s.ID == currentSessionID,
	}
}

type SessionService struct {
	sessions  repository.SessionRepository
	tokens    repository.RefreshTokenRepository
	maxActive int
	logger    *slog.Logger
}

func NewSessionService(sessions repository.SessionRepository, tokens repository.RefreshTokenRepository, maxActive int, logger *slog.Logger) *SessionService {
	if maxActive < 1 {
		maxActive = DefaultMaxActiveSessions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{sessions: sessions, tokens: tokens, maxActive: maxActive, logger: logger}
}

func (s *SessionService) MaxActive() int { return s.maxActive }

func (s *SessionService) CreateSession(ctx context.Context, userID uint, meta DeviceMetadata) (*domain.Session, error) {
	if userID == 0 {
		return nil, ErrValidationFailed
	}
	session := &domain.Session{
		UserID:    userID,
		ClientIP:  truncate(meta.ClientIP, 64),
		UserAgent: truncate(meta.UserAgent, 512),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetExcessSessionIDs returns active sessions beyond the cap most recent ones.
func (s *SessionService) GetExcessSessionIDs(ctx context.Context, userID uint, cap int) ([]uint, error) {
	return s.sessions.ExcessActiveIDs(ctx, userID, cap)
}

// EnforceCap revokes sessions beyond the configured cap and then their refresh tokens.
func (s *SessionService) EnforceCap(ctx context.Context, userID uint) ([]uint, error) {
	excess, err := s.GetExcessSessionIDs(ctx, userID, s.maxActive)
	if err != nil {
		return nil, fmt.Errorf("find excess sessions: %w", err)
	}
	if len(excess) == 0 {
		return nil, nil
	}
	if err := s.revokeCascade(ctx, userID, excess, "session_cap_evicted"); err != nil {
		return nil, err
	}
	observability.RecordSessionEvictions(ctx, len(excess))
	s.logger.InfoContext(ctx, "evicted sessions over cap", "user_id", userID, "evicted", len(excess), "cap", s.maxActive)
	return excess, nil
}

// RevokeSession revokes one owned session and the refresh tokens bound to it. It is
// idempotent: revoking an already revoked session returns it with changed=false.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID, userID uint, reason string) (*domain.Session, bool, error) {
	session, changed, err := s.sessions.RevokeByIDForUser(ctx, userID, sessionID, reason)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}
	if _, err := s.tokens.RevokeBySessionsForUser(ctx, userID, []uint{sessionID}); err != nil {
		return nil, false, fmt.Errorf("revoke refresh tokens for session: %w", err)
	}
	return session, changed, nil
}

// RevokeSessionsByUser flips the given sessions to revoked. It does not touch refresh tokens.
func (s *SessionService) RevokeSessionsByUser(ctx context.Context, ids []uint, userID uint, reason string) (int64, error) {
	n, err := s.sessions.RevokeByIDsForUser(ctx, userID, ids, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	observability.RecordRevokedRows(ctx, "session", n)
	return n, nil
}

func (s *SessionService) RevokeOtherSessions(ctx context.Context, userID, keepSessionID uint) (int, error) {
	ids, err := s.sessions.ListActiveIDsByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}
	others := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id != keepSessionID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return 0, nil
	}
	if err := s.revokeCascade(ctx, userID, others, "user_revoke_others"); err != nil {
		return 0, err
	}
	return len(others), nil
}

// revokeCascade revokes sessions before their refresh tokens. A token that outlives its
// session for a moment is still rejected because consumption requires a live session.
func (s *SessionService) revokeCascade(ctx context.Context, userID uint, ids []uint, reason string) error {
	if _, err := s.RevokeSessionsByUser(ctx, ids, userID, reason); err != nil {
		return err
	}
	n, err := s.tokens.RevokeBySessionsForUser(ctx, userID, ids)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	observability.RecordRevokedRows(ctx, "refresh_token", n)
	return nil
}

func (s *SessionService) ListActiveSessions(ctx context.Context, userID, currentSessionID uint) ([]SessionView, error) {
	sessions, err := s.sessions.ListActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, toSessionView(session, currentSessionID))
	}
	return views, nil
}

func (s *SessionService) ListUserSessions(ctx context.Context, userID uint, req repository.PageRequest) (repository.PageResult[SessionView], error) {
	page, err := s.sessions.ListByUserPaged(ctx, userID, req)
	if err != nil {
		return repository.PageResult[SessionView]{}, err
	}
	out := repository.PageResult[SessionView]{
		Items:      make([]SessionView, 0, len(page.Items)),
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}
	for _, session := range page.Items {
		out.Items = append(out.Items, toSessionView(session, 0))
	}
	return out, nil
}

// truncate caps v at max bytes without splitting a rune. Invalid UTF-8 from client
// headers is dropped since PostgreSQL rejects it.
func truncate(v string, max int) string {
	v = strings.ToValidUTF8(v, "")
	if len(v) <= max {
		return v
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(v[cut]) {
		cut--
	}
	return v[:cut]
}

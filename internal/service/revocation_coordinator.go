package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskflow/taskflow-api/internal/observability"
	"github.com/taskflow/taskflow-api/internal/queue"
	"github.com/taskflow/taskflow-api/internal/repository"
)

const (
	RevokeReasonPasswordChange   = "password_change"
	RevokeReasonPasswordReset    = "password_reset"
	RevokeReasonAdminForceLogout = "admin_force_logout"
	RevokeReasonUserLogoutAll    = "user_logout_all"
)

type RevocationResult struct {
	SessionsRevoked int64
	TokensRevoked   int64
}

// RevocationCoordinator revokes every session and then every refresh token of a user
// outside the request path. Each phase only touches rows that are not yet revoked, so
// a redelivered or partially applied job converges on the same end state.
type RevocationCoordinator struct {
	publisher queue.Publisher
	sessions  repository.SessionRepository
	tokens    repository.RefreshTokenRepository
	logger    *slog.Logger
	now       func() time.Time
}

func NewRevocationCoordinator(publisher queue.Publisher, sessions repository.SessionRepository, tokens repository.RefreshTokenRepository, logger *slog.Logger) *RevocationCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RevocationCoordinator{
		publisher: publisher,
		sessions:  sessions,
		tokens:    tokens,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// EnqueueRevokeAll publishes a revoke-all job and returns its correlation id.
func (c *RevocationCoordinator) EnqueueRevokeAll(ctx context.Context, userID uint, reason string) (string, error) {
	if userID == 0 {
		return "", ErrValidationFailed
	}
	correlationID := uuid.NewString()
	job := queue.NewRevokeAllJob(userID, correlationID, reason, c.now())
	if err := c.publisher.Publish(ctx, job); err != nil {
		observability.RecordRevocationJob(ctx, reason, "enqueue_failed")
		return "", fmt.Errorf("enqueue revoke-all: %w", err)
	}
	observability.RecordRevocationJob(ctx, reason, "enqueued")
	c.logger.InfoContext(ctx, "revoke-all enqueued", job.LogAttrs()...)
	return correlationID, nil
}

// RevokeAllReliably enqueues revoke-all and, when the queue rejects the job, runs both
// phases inline so a credential change never leaves sessions alive. The error is non-nil
// only when neither path succeeded.
func (c *RevocationCoordinator) RevokeAllReliably(ctx context.Context, userID uint, reason string) (string, error) {
	correlationID, err := c.EnqueueRevokeAll(ctx, userID, reason)
	if err == nil || errors.Is(err, ErrValidationFailed) {
		return correlationID, err
	}
	correlationID = uuid.NewString()
	c.logger.WarnContext(ctx, "revoke-all enqueue failed, revoking inline",
		"user_id", userID, "reason", reason, "correlation_id", correlationID, "error", err)
	res, inlineErr := c.RevokeAll(ctx, userID, reason)
	if inlineErr != nil {
		observability.RecordRevocationJob(ctx, reason, "failed")
		return "", errors.Join(err, fmt.Errorf("inline revoke-all: %w", inlineErr))
	}
	observability.RecordRevocationJob(ctx, reason, "completed_inline")
	c.logger.InfoContext(ctx, "revoke-all completed inline",
		"user_id", userID, "reason", reason, "correlation_id", correlationID,
		"sessions_revoked", res.SessionsRevoked, "tokens_revoked", res.TokensRevoked)
	return correlationID, nil
}

// Handle is the queue.Handler for revoke-all jobs. Errors are returned so the queue
// redelivers the job.
func (c *RevocationCoordinator) Handle(ctx context.Context, job queue.Job) error {
	res, err := c.RevokeAll(ctx, job.UserID, job.Reason)
	attrs := append(job.LogAttrs(), "sessions_revoked", res.SessionsRevoked, "tokens_revoked", res.TokensRevoked)
	if err != nil {
		observability.RecordRevocationJob(ctx, job.Reason, "failed")
		c.logger.ErrorContext(ctx, "revoke-all failed", append(attrs, "error", err)...)
		return err
	}
	observability.RecordRevocationJob(ctx, job.Reason, "completed")
	c.logger.InfoContext(ctx, "revoke-all completed", attrs...)
	return nil
}

// RevokeAll runs both phases synchronously. Sessions go first so a token can only
// outlive its session, never the reverse.
func (c *RevocationCoordinator) RevokeAll(ctx context.Context, userID uint, reason string) (RevocationResult, error) {
	var res RevocationResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	sessionIDs, err := c.sessions.ListActiveIDsByUserID(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("load active sessions: %w", err)
	}
	if len(sessionIDs) > 0 {
		n, err := c.sessions.RevokeByIDsForUser(ctx, userID, sessionIDs, reason)
		if err != nil {
			return res, fmt.Errorf("revoke sessions: %w", err)
		}
		res.SessionsRevoked = n
		observability.RecordRevokedRows(ctx, "session", n)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	tokenIDs, err := c.tokens.ListLiveIDsByUserID(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("load live refresh tokens: %w", err)
	}
	if len(tokenIDs) == 0 {
		return res, nil
	}
	n, err := c.tokens.RevokeByIDsForUser(ctx, userID, tokenIDs)
	if err != nil {
		return res, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	res.TokensRevoked = n
	observability.RecordRevokedRows(ctx, "refresh_token", n)
	return res, nil
}

package service

import (
	"context"

	"github.com/taskflow/taskflow-api/internal/domain"
)

// CredentialVerifier checks and produces password hashes. security.PasswordHasher
// satisfies it.
type CredentialVerifier interface {
	Verify(storedHash, supplied string) bool
	Hash(password string) (string, error)
}

type ConfirmationMessage struct {
	To        string
	Name      string
	Type      domain.ConfirmationCodeType
	Code      string
	ExpiresIn string
}

// Mailer delivers confirmation codes out of band. Delivery errors are logged, never
// surfaced to the caller.
type Mailer interface {
	SendConfirmationCode(ctx context.Context, msg ConfirmationMessage) error
}

// RevocationEnqueuer schedules revoke-all for a user and returns the correlation id.
// RevokeAllReliably falls back to revoking inline when the queue is unavailable.
type RevocationEnqueuer interface {
	EnqueueRevokeAll(ctx context.Context, userID uint, reason string) (string, error)
	RevokeAllReliably(ctx context.Context, userID uint, reason string) (string, error)
}

type RBACAuthorizer interface {
	HasPermission(permissions []string, required string) bool
}

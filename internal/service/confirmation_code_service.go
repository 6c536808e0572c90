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

type IssuedCode struct {
	Code      string
	Type      domain.ConfirmationCodeType
	ExpiresAt time.Time
}

type ConfirmationCodeService struct {
	codes    repository.ConfirmationCodeRepository
	pepper   string
	length   int
	generate func(length int) (string, error)
	logger   *slog.Logger
	now      func() time.Time
}

func NewConfirmationCodeService(codes repository.ConfirmationCodeRepository, pepper string, logger *slog.Logger) *ConfirmationCodeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfirmationCodeService{
		codes:    codes,
		pepper:   pepper,
		length:   security.DefaultCodeLength,
		generate: security.NewNumericCode,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateConfirmationCode supersedes every active code of (userID, codeType) and stores a
// fresh one in the same transaction. The clear code is returned for delivery only.
func (s *ConfirmationCodeService) CreateConfirmationCode(ctx context.Context, userID uint, codeType domain.ConfirmationCodeType, expiry time.Duration) (*IssuedCode, error) {
	if userID == 0 || expiry <= 0 {
		return nil, ErrValidationFailed
	}
	if _, err := domain.ParseConfirmationCodeType(string(codeType)); err != nil {
		return nil, ErrValidationFailed
	}
	code, err := s.generate(s.length)
	if err != nil {
		return nil, fmt.Errorf("generate confirmation code: %w", err)
	}
	now := s.now()
	row := &domain.ConfirmationCode{
		UserID:    userID,
		Type:      codeType,
		CodeHash:  s.hash(userID, codeType, code),
		ExpiresAt: now.Add(expiry),
	}
	superseded, err := s.codes.CreateSuperseding(ctx, row, now)
	if err != nil {
		return nil, fmt.Errorf("store confirmation code: %w", err)
	}
	observability.RecordConfirmationCodeEvent(ctx, string(codeType), "issued")
	if superseded > 0 {
		observability.RecordConfirmationCodeEvent(ctx, string(codeType), "superseded")
		s.logger.DebugContext(ctx, "superseded confirmation codes", "user_id", userID, "type", codeType, "count", superseded)
	}
	return &IssuedCode{Code: code, Type: codeType, ExpiresAt: row.ExpiresAt}, nil
}

// ValidateAndUseConfirmationCode consumes a matching active code. Mismatch, expiry and
// prior use all return ErrValidationFailed.
func (s *ConfirmationCodeService) ValidateAndUseConfirmationCode(ctx context.Context, userID uint, codeType domain.ConfirmationCodeType, code string) (*domain.ConfirmationCode, error) {
	if !s.wellFormed(userID, code) {
		observability.RecordConfirmationCodeEvent(ctx, string(codeType), "rejected")
		return nil, ErrValidationFailed
	}
	c, err := s.codes.ConsumeActive(ctx, userID, codeType, s.hash(userID, codeType, code), s.now())
	if err != nil {
		if errors.Is(err, repository.ErrConfirmationCodeNotFound) {
			observability.RecordConfirmationCodeEvent(ctx, string(codeType), "rejected")
			return nil, ErrValidationFailed
		}
		return nil, err
	}
	observability.RecordConfirmationCodeEvent(ctx, string(codeType), "consumed")
	return c, nil
}

// VerifyConfirmationCode checks a code without consuming it.
func (s *ConfirmationCodeService) VerifyConfirmationCode(ctx context.Context, userID uint, codeType domain.ConfirmationCodeType, code string) error {
	if !s.wellFormed(userID, code) {
		observability.RecordConfirmationCodeEvent(ctx, string(codeType), "rejected")
		return ErrValidationFailed
	}
	if _, err := s.codes.FindActive(ctx, userID, codeType, s.hash(userID, codeType, code), s.now()); err != nil {
		if errors.Is(err, repository.ErrConfirmationCodeNotFound) {
			observability.RecordConfirmationCodeEvent(ctx, string(codeType), "rejected")
			return ErrValidationFailed
		}
		return err
	}
	observability.RecordConfirmationCodeEvent(ctx, string(codeType), "verified")
	return nil
}

func (s *ConfirmationCodeService) wellFormed(userID uint, code string) bool {
	return userID != 0 && security.IsNumericCode(code, s.length)
}

// hash binds the digest to the owner and type so equal codes never collide across rows.
func (s *ConfirmationCodeService) hash(userID uint, codeType domain.ConfirmationCodeType, code string) string {
	return security.HashSecret(fmt.Sprintf("%d:%s:%s", userID, codeType, code), s.pepper)
}

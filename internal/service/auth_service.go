package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/taskflow/taskflow-api/internal/domain"
	"github.com/taskflow/taskflow-api/internal/observability"
	"github.com/taskflow/taskflow-api/internal/repository"
	"github.com/taskflow/taskflow-api/internal/security"
)

type AuthServiceOptions struct {
	EmailCodeTTL         time.Duration
	PasswordResetCodeTTL time.Duration
}

type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

type LoginInput struct {
	Email    string
	Password string
	Device   DeviceMetadata
}

type LoginResult struct {
	User    *domain.User
	Tokens  *TokenPair
	Evicted []uint
}

type AuthService struct {
	users       repository.UserRepository
	credentials CredentialVerifier
	sessions    *SessionService
	tokens      *TokenService
	codes       *ConfirmationCodeService
	revoker     RevocationEnqueuer
	mailer      Mailer
	opts        AuthServiceOptions
	logger      *slog.Logger
	dummyHash   string
}

func NewAuthService(
	users repository.UserRepository,
	credentials CredentialVerifier,
	sessions *SessionService,
	tokens *TokenService,
	codes *ConfirmationCodeService,
	revoker RevocationEnqueuer,
	mailer Mailer,
	opts AuthServiceOptions,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	// Unknown emails still pay for one hash comparison so login timing does not leak
	// which accounts exist.
	dummy, err := credentials.Hash("taskflow-timing-equalizer")
	if err != nil {
		logger.Warn("could not prepare dummy password hash", "error", err)
	}
	return &AuthService{
		users:       users,
		credentials: credentials,
		sessions:    sessions,
		tokens:      tokens,
		codes:       codes,
		revoker:     revoker,
		mailer:      mailer,
		opts:        opts,
		logger:      logger,
		dummyHash:   dummy,
	}
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", ErrValidationFailed)
	}
	return email, nil
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 200 {
		return nil, fmt.Errorf("%w: name is required", ErrValidationFailed)
	}
	if err := security.ValidatePassword(in.Password); err != nil {
		return nil, weakPassword(err)
	}
	hash, err := s.credentials.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{Email: email, Name: name, PasswordHash: hash, Status: domain.UserStatusActive}
	if err := s.users.Create(ctx, user, RoleUser); err != nil {
		if errors.Is(err, repository.ErrEmailAlreadyExists) {
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return nil, err
	}
	if err := s.sendCode(ctx, user, domain.ConfirmationCodeEmail, s.opts.EmailCodeTTL); err != nil {
		s.logger.ErrorContext(ctx, "issue email confirmation code after register", "user_id", user.ID, "error", err)
	}
	return user, nil
}

// Login verifies credentials, opens a session, evicts sessions over the cap and only
// then issues tokens, so no token ever exists for a session that is not stored.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		observability.RecordAuthLogin(ctx, "rejected")
		return nil, ErrUnauthenticated
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.credentials.Verify(s.dummyHash, in.Password)
			observability.RecordAuthLogin(ctx, "rejected")
			return nil, ErrUnauthenticated
		}
		observability.RecordAuthLogin(ctx, "error")
		return nil, err
	}
	if !s.credentials.Verify(user.PasswordHash, in.Password) || user.Status != domain.UserStatusActive {
		observability.RecordAuthLogin(ctx, "rejected")
		return nil, ErrUnauthenticated
	}

	session, err := s.sessions.CreateSession(ctx, user.ID, in.Device)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, err
	}
	evicted, err := s.sessions.EnforceCap(ctx, user.ID)
	if err != nil {
		s.abandonSession(ctx, user.ID, session.ID)
		observability.RecordAuthLogin(ctx, "error")
		return nil, err
	}
	pair, err := s.tokens.IssueForSession(ctx, user, session.ID)
	if err != nil {
		s.abandonSession(ctx, user.ID, session.ID)
		observability.RecordAuthLogin(ctx, "error")
		return nil, err
	}
	observability.RecordAuthLogin(ctx, "success")
	return &LoginResult{User: user, Tokens: pair, Evicted: evicted}, nil
}

func (s *AuthService) abandonSession(ctx context.Context, userID, sessionID uint) {
	if _, _, err := s.sessions.RevokeSession(ctx, sessionID, userID, "login_aborted"); err != nil {
		s.logger.ErrorContext(ctx, "revoke abandoned session", "user_id", userID, "session_id", sessionID, "error", err)
	}
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return s.tokens.Rotate(ctx, refreshToken)
}

// Logout revokes the caller's session and its refresh tokens synchronously.
func (s *AuthService) Logout(ctx context.Context, p *Principal) error {
	if _, _, err := s.sessions.RevokeSession(ctx, p.SessionID, p.UserID, "user_logout"); err != nil {
		observability.RecordAuthLogout(ctx, "session", "error")
		return err
	}
	observability.RecordAuthLogout(ctx, "session", "success")
	return nil
}

func (s *AuthService) LogoutAll(ctx context.Context, p *Principal) (string, error) {
	correlationID, err := s.revoker.RevokeAllReliably(ctx, p.UserID, RevokeReasonUserLogoutAll)
	if err != nil {
		observability.RecordAuthLogout(ctx, "all", "error")
		return "", err
	}
	observability.RecordAuthLogout(ctx, "all", "success")
	return correlationID, nil
}

// ChangePassword updates the hash and schedules revocation of every session, the
// caller's included. Revocation runs inline when the queue is down.
func (s *AuthService) ChangePassword(ctx context.Context, p *Principal, current, next string) (string, error) {
	user, err := s.users.FindByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", ErrUnauthenticated
		}
		return "", err
	}
	if !s.credentials.Verify(user.PasswordHash, current) {
		return "", fmt.Errorf("%w: current password is incorrect", ErrValidationFailed)
	}
	if err := security.ValidatePassword(next); err != nil {
		return "", weakPassword(err)
	}
	if err := s.setPassword(ctx, user.ID, next); err != nil {
		return "", err
	}
	return s.revoker.RevokeAllReliably(ctx, user.ID, RevokeReasonPasswordChange)
}

// RequestEmailConfirmation answers the same way for unknown, verified and unverified
// accounts.
func (s *AuthService) RequestEmailConfirmation(ctx context.Context, rawEmail string) error {
	user, err := s.lookupForCode(ctx, rawEmail)
	if err != nil || user == nil || user.EmailVerifiedAt != nil {
		return err
	}
	return s.sendCode(ctx, user, domain.ConfirmationCodeEmail, s.opts.EmailCodeTTL)
}

func (s *AuthService) ConfirmEmail(ctx context.Context, rawEmail, code string) error {
	user, err := s.lookupForCode(ctx, rawEmail)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrValidationFailed
	}
	if _, err := s.codes.ValidateAndUseConfirmationCode(ctx, user.ID, domain.ConfirmationCodeEmail, code); err != nil {
		return err
	}
	return s.users.MarkEmailVerified(ctx, user.ID, time.Now().UTC())
}

func (s *AuthService) ForgotPassword(ctx context.Context, rawEmail string) error {
	user, err := s.lookupForCode(ctx, rawEmail)
	if err != nil || user == nil || user.Status != domain.UserStatusActive {
		return err
	}
	return s.sendCode(ctx, user, domain.ConfirmationCodePasswordReset, s.opts.PasswordResetCodeTTL)
}

// VerifyPasswordResetCode tells the client whether a reset code is currently valid. It
// does not consume the code; ResetPassword does.
func (s *AuthService) VerifyPasswordResetCode(ctx context.Context, rawEmail, code string) error {
	user, err := s.lookupForCode(ctx, rawEmail)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrValidationFailed
	}
	return s.codes.VerifyConfirmationCode(ctx, user.ID, domain.ConfirmationCodePasswordReset, code)
}

func (s *AuthService) ResetPassword(ctx context.Context, rawEmail, code, newPassword string) (string, error) {
	if err := security.ValidatePassword(newPassword); err != nil {
		return "", weakPassword(err)
	}
	user, err := s.lookupForCode(ctx, rawEmail)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrValidationFailed
	}
	if _, err := s.codes.ValidateAndUseConfirmationCode(ctx, user.ID, domain.ConfirmationCodePasswordReset, code); err != nil {
		return "", err
	}
	if err := s.setPassword(ctx, user.ID, newPassword); err != nil {
		return "", err
	}
	return s.revoker.RevokeAllReliably(ctx, user.ID, RevokeReasonPasswordReset)
}

func (s *AuthService) ForceLogout(ctx context.Context, targetUserID uint) (string, error) {
	if _, err := s.Me(ctx, targetUserID); err != nil {
		return "", err
	}
	return s.revoker.RevokeAllReliably(ctx, targetUserID, RevokeReasonAdminForceLogout)
}

func (s *AuthService) Me(ctx context.Context, userID uint) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *AuthService) setPassword(ctx context.Context, userID uint, password string) error {
	hash, err := s.credentials.Hash(password)
	if err != nil {
		return err
	}
	return s.users.UpdatePasswordHash(ctx, userID, hash)
}

// lookupForCode returns a nil user without error when the email is malformed or unknown.
func (s *AuthService) lookupForCode(ctx context.Context, rawEmail string) (*domain.User, error) {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return nil, nil
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (s *AuthService) sendCode(ctx context.Context, user *domain.User, codeType domain.ConfirmationCodeType, ttl time.Duration) error {
	issued, err := s.codes.CreateConfirmationCode(ctx, user.ID, codeType, ttl)
	if err != nil {
		return err
	}
	msg := ConfirmationMessage{
		To:        user.Email,
		Name:      user.Name,
		Type:      codeType,
		Code:      issued.Code,
		ExpiresIn: ttl.String(),
	}
	if err := s.mailer.SendConfirmationCode(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "confirmation code delivery failed", "user_id", user.ID, "type", codeType, "error", err)
	}
	return nil
}

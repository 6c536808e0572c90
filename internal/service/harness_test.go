package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/taskflow/taskflow-api/internal/domain"
	"github.com/taskflow/taskflow-api/internal/queue"
	"github.com/taskflow/taskflow-api/internal/security"
)

const testPassword = "correct horse battery"

type capturingPublisher struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (p *capturingPublisher) Publish(_ context.Context, job queue.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *capturingPublisher) drain() []queue.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.jobs
	p.jobs = nil
	return out
}

type harness struct {
	users     *inMemoryUserRepo
	sessions  *inMemorySessionRepo
	tokens    *inMemoryRefreshTokenRepo
	codes     *inMemoryConfirmationCodeRepo
	jwt       *security.JWTManager
	hasher    *security.PasswordHasher
	gate      *AuthGate
	sessSvc   *SessionService
	tokenSvc  *TokenService
	codeSvc   *ConfirmationCodeService
	revoker   *RevocationCoordinator
	publisher *capturingPublisher
	mailer    *recordingMailer
	auth      *AuthService
}

type harnessOption func(*TokenServiceOptions)

func withReusePolicy(on bool) harnessOption {
	return func(o *TokenServiceOptions) { o.ReuseRevokesSession = on }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		users:     newInMemoryUserRepo(),
		sessions:  newInMemorySessionRepo(),
		codes:     newInMemoryConfirmationCodeRepo(),
		jwt:       security.NewJWTManager("taskflow-test", "taskflow-clients", "test-access-secret"),
		hasher:    security.NewPasswordHasher(4),
		publisher: &capturingPublisher{},
		mailer:    &recordingMailer{},
	}
	h.tokens = newInMemoryRefreshTokenRepo(h.sessions)

	tokenOpts := TokenServiceOptions{
		Pepper:              "test-pepper",
		AccessTTL:           15 * time.Minute,
		RefreshTTL:          24 * time.Hour,
		ReuseRevokesSession: true,
	}
	for _, opt := range opts {
		opt(&tokenOpts)
	}
	logger := discardLogger()
	h.gate = NewAuthGate(h.jwt, h.sessions)
	h.sessSvc = NewSessionService(h.sessions, h.tokens, DefaultMaxActiveSessions, logger)
	h.tokenSvc = NewTokenService(h.jwt, h.sessions, h.tokens, h.users, tokenOpts, logger)
	h.codeSvc = NewConfirmationCodeService(h.codes, "test-pepper", logger)
	h.revoker = NewRevocationCoordinator(h.publisher, h.sessions, h.tokens, logger)
	h.auth = NewAuthService(h.users, h.hasher, h.sessSvc, h.tokenSvc, h.codeSvc, h.revoker, h.mailer, AuthServiceOptions{
		EmailCodeTTL:         30 * time.Minute,
		PasswordResetCodeTTL: 15 * time.Minute,
	}, logger)
	return h
}

func (h *harness) createUser(t *testing.T, email string) *domain.User {
	t.Helper()
	hash, err := h.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &domain.User{Email: email, Name: "Test User", PasswordHash: hash}
	if err := h.users.Create(context.Background(), u, RoleUser); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (h *harness) login(t *testing.T, email string) *LoginResult {
	t.Helper()
	res, err := h.auth.Login(context.Background(), LoginInput{
		Email:    email,
		Password: testPassword,
		Device:   DeviceMetadata{ClientIP: "127.0.0.1", UserAgent: "go-test"},
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return res
}

// runJobs hands every captured job to the coordinator, as the worker would.
func (h *harness) runJobs(t *testing.T) {
	t.Helper()
	for _, job := range h.publisher.drain() {
		if err := h.revoker.Handle(context.Background(), job); err != nil {
			t.Fatalf("handle job %s: %v", job.ID, err)
		}
	}
}

package service

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskflow/taskflow-api/internal/domain"
	"github.com/taskflow/taskflow-api/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type inMemorySessionRepo struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]*domain.Session
	failOn map[string]error
}

func newInMemorySessionRepo() *inMemorySessionRepo {
	return &inMemorySessionRepo{nextID: 1, byID: map[uint]*domain.Session{}, failOn: map[string]error{}}
}

func (r *inMemorySessionRepo) fail(op string) error {
	if err, ok := r.failOn[op]; ok {
		return err
	}
	return nil
}

func (r *inMemorySessionRepo) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = r.nextID
	r.nextID++
	s.CreatedAt = time.Now().UTC()
	s.IsRevoked = false
	s.RevokedAt = nil
	cp := *s
	r.byID[s.ID] = &cp
	return nil
}

func (r *inMemorySessionRepo) isLive(id uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return ok && !s.IsRevoked
}

func (r *inMemorySessionRepo) get(id uint) domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.byID[id]
}

func (r *inMemorySessionRepo) FindActiveByIDForUser(_ context.Context, userID, sessionID uint) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok || s.UserID != userID || s.IsRevoked {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *inMemorySessionRepo) FindByIDForUser(_ context.Context, userID, sessionID uint) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok || s.UserID != userID {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// newestFirst mirrors the created_at DESC, id DESC ordering of the gorm repository.
func (r *inMemorySessionRepo) newestFirst(userID uint, activeOnly bool) []domain.Session {
	out := make([]domain.Session, 0)
	for _, s := range r.byID {
		if s.UserID != userID || (activeOnly && s.IsRevoked) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (r *inMemorySessionRepo) ListActiveByUserID(_ context.Context, userID uint) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("list_active"); err != nil {
		return nil, err
	}
	return r.newestFirst(userID, true), nil
}

func (r *inMemorySessionRepo) ListActiveIDsByUserID(ctx context.Context, userID uint) ([]uint, error) {
	sessions, err := r.ListActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (r *inMemorySessionRepo) ListByUserPaged(_ context.Context, userID uint, req repository.PageRequest) (repository.PageResult[domain.Session], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.newestFirst(userID, false)
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 {
		req.PageSize = repository.DefaultPageSize
	}
	start := min((req.Page-1)*req.PageSize, len(all))
	end := min(start+req.PageSize, len(all))
	total := int64(len(all))
	pages := int((total + int64(req.PageSize) - 1) / int64(req.PageSize))
	return repository.PageResult[domain.Session]{
		Items: all[start:end], Page: req.Page, PageSize: req.PageSize, Total: total, TotalPages: pages,
	}, nil
}

func (r *inMemorySessionRepo) ExcessActiveIDs(ctx context.Context, userID uint, keep int) ([]uint, error) {
	ids, err := r.ListActiveIDsByUserID(ctx, userID)
	if err != nil || len(ids) <= keep {
		return nil, err
	}
	return ids[keep:], nil
}

func (r *inMemorySessionRepo) RevokeByIDForUser(_ context.Context, userID, sessionID uint, reason string) (*domain.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok || s.UserID != userID {
		return nil, false, repository.ErrSessionNotFound
	}
	changed := false
	if !s.IsRevoked {
		now := time.Now().UTC()
		s.IsRevoked = true
		s.RevokedAt = &now
		s.RevokedReason = &reason
		changed = true
	}
	cp := *s
	return &cp, changed, nil
}

func (r *inMemorySessionRepo) RevokeByIDsForUser(_ context.Context, userID uint, ids []uint, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("revoke_ids"); err != nil {
		return 0, err
	}
	var n int64
	now := time.Now().UTC()
	for _, id := range ids {
		s, ok := r.byID[id]
		if !ok || s.UserID != userID || s.IsRevoked {
			continue
		}
		s.IsRevoked = true
		s.RevokedAt = &now
		s.RevokedReason = &reason
		n++
	}
	return n, nil
}

type inMemoryRefreshTokenRepo struct {
	mu       sync.Mutex
	nextID   uint
	byID     map[uint]*domain.RefreshToken
	sessions *inMemorySessionRepo
	failOn   map[string]error
}

func newInMemoryRefreshTokenRepo(sessions *inMemorySessionRepo) *inMemoryRefreshTokenRepo {
	return &inMemoryRefreshTokenRepo{nextID: 1, byID: map[uint]*domain.RefreshToken{}, sessions: sessions, failOn: map[string]error{}}
}

func (r *inMemoryRefreshTokenRepo) Create(_ context.Context, t *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insert(t)
	return nil
}

func (r *inMemoryRefreshTokenRepo) insert(t *domain.RefreshToken) {
	t.ID = r.nextID
	r.nextID++
	t.CreatedAt = time.Now().UTC()
	cp := *t
	r.byID[t.ID] = &cp
}

func (r *inMemoryRefreshTokenRepo) findByHash(hash string) *domain.RefreshToken {
	for _, t := range r.byID {
		if t.TokenHash == hash {
			return t
		}
	}
	return nil
}

func (r *inMemoryRefreshTokenRepo) FindByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.findByHash(hash)
	if t == nil {
		return nil, repository.ErrRefreshTokenNotFound
	}
	cp := *t
	return &cp, nil
}

// consume is the compare-and-set: the flag check and the write happen under one lock.
func (r *inMemoryRefreshTokenRepo) consume(hash string, now time.Time) (*domain.RefreshToken, error) {
	t := r.findByHash(hash)
	if t == nil || t.IsUsed || t.IsRevoked || !t.ExpiresAt.After(now) || !r.sessions.isLive(t.SessionID) {
		return nil, repository.ErrRefreshTokenNotFound
	}
	t.IsUsed = true
	t.UsedAt = &now
	t.RevokedAt = &now
	cp := *t
	return &cp, nil
}

func (r *inMemoryRefreshTokenRepo) ConsumeByHash(_ context.Context, hash string, now time.Time) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consume(hash, now)
}

func (r *inMemoryRefreshTokenRepo) RotateByHash(_ context.Context, hash string, now time.Time, replacement *domain.RefreshToken) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.consume(hash, now)
	if err != nil {
		return nil, err
	}
	replacement.UserID = t.UserID
	replacement.SessionID = t.SessionID
	r.insert(replacement)
	return t, nil
}

func (r *inMemoryRefreshTokenRepo) ListLiveIDsByUserID(_ context.Context, userID uint) ([]uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failOn["list_live"]; ok {
		return nil, err
	}
	ids := make([]uint, 0)
	for _, t := range r.byID {
		if t.UserID == userID && !t.IsUsed && !t.IsRevoked {
			ids = append(ids, t.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *inMemoryRefreshTokenRepo) revokeWhere(match func(*domain.RefreshToken) bool) int64 {
	var n int64
	now := time.Now().UTC()
	for _, t := range r.byID {
		if t.IsUsed || t.IsRevoked || !match(t) {
			continue
		}
		t.IsRevoked = true
		t.RevokedAt = &now
		n++
	}
	return n
}

func (r *inMemoryRefreshTokenRepo) RevokeBySessionsForUser(_ context.Context, userID uint, sessionIDs []uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeWhere(func(t *domain.RefreshToken) bool {
		return t.UserID == userID && slices.Contains(sessionIDs, t.SessionID)
	}), nil
}

func (r *inMemoryRefreshTokenRepo) RevokeByIDsForUser(_ context.Context, userID uint, ids []uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeWhere(func(t *domain.RefreshToken) bool {
		return t.UserID == userID && slices.Contains(ids, t.ID)
	}), nil
}

func (r *inMemoryRefreshTokenRepo) liveForSession(sessionID uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.byID {
		if t.SessionID == sessionID && !t.IsUsed && !t.IsRevoked {
			n++
		}
	}
	return n
}

type inMemoryConfirmationCodeRepo struct {
	mu     sync.Mutex
	nextID uint
	codes  []*domain.ConfirmationCode
}

func newInMemoryConfirmationCodeRepo() *inMemoryConfirmationCodeRepo {
	return &inMemoryConfirmationCodeRepo{nextID: 1}
}

func (r *inMemoryConfirmationCodeRepo) CreateSuperseding(_ context.Context, code *domain.ConfirmationCode, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, c := range r.codes {
		if c.UserID == code.UserID && c.Type == code.Type && c.Active(now) {
			c.IsUsed = true
			c.UsedAt = &now
			n++
		}
	}
	code.ID = r.nextID
	r.nextID++
	cp := *code
	r.codes = append(r.codes, &cp)
	return n, nil
}

func (r *inMemoryConfirmationCodeRepo) find(userID uint, codeType domain.ConfirmationCodeType, hash string, now time.Time) *domain.ConfirmationCode {
	for i := len(r.codes) - 1; i >= 0; i-- {
		c := r.codes[i]
		if c.UserID == userID && c.Type == codeType && c.CodeHash == hash && c.Active(now) {
			return c
		}
	}
	return nil
}

func (r *inMemoryConfirmationCodeRepo) FindActive(_ context.Context, userID uint, codeType domain.ConfirmationCodeType, hash string, now time.Time) (*domain.ConfirmationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.find(userID, codeType, hash, now)
	if c == nil {
		return nil, repository.ErrConfirmationCodeNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *inMemoryConfirmationCodeRepo) ConsumeActive(_ context.Context, userID uint, codeType domain.ConfirmationCodeType, hash string, now time.Time) (*domain.ConfirmationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.find(userID, codeType, hash, now)
	if c == nil {
		return nil, repository.ErrConfirmationCodeNotFound
	}
	c.IsUsed = true
	c.UsedAt = &now
	cp := *c
	return &cp, nil
}

func (r *inMemoryConfirmationCodeRepo) activeCount(userID uint, codeType domain.ConfirmationCodeType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, c := range r.codes {
		if c.UserID == userID && c.Type == codeType && c.Active(now) {
			n++
		}
	}
	return n
}

type inMemoryUserRepo struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]*domain.User
	roles  map[string]domain.Role
}

func newInMemoryUserRepo() *inMemoryUserRepo {
	roles := map[string]domain.Role{}
	for i, seed := range DefaultRoleSeeds() {
		role := domain.Role{ID: uint(i + 1), Name: seed.Name}
		for _, p := range seed.Permissions {
			res, act, _ := strings.Cut(p, ":")
			role.Permissions = append(role.Permissions, domain.Permission{Resource: res, Action: act})
		}
		roles[seed.Name] = role
	}
	return &inMemoryUserRepo{nextID: 1, users: map[uint]*domain.User{}, roles: roles}
}

func (r *inMemoryUserRepo) FindByID(_ context.Context, id uint) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *inMemoryUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *inMemoryUserRepo) Create(_ context.Context, user *domain.User, roleNames ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return repository.ErrEmailAlreadyExists
		}
	}
	user.ID = r.nextID
	r.nextID++
	if user.Status == "" {
		user.Status = domain.UserStatusActive
	}
	for _, name := range roleNames {
		if role, ok := r.roles[name]; ok {
			user.Roles = append(user.Roles, role)
		}
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *inMemoryUserRepo) UpdatePasswordHash(_ context.Context, userID uint, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *inMemoryUserRepo) MarkEmailVerified(_ context.Context, userID uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.EmailVerifiedAt = &at
	return nil
}

func (r *inMemoryUserRepo) grant(userID uint, roleName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID].Roles = append(r.users[userID].Roles, r.roles[roleName])
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []ConfirmationMessage
}

func (m *recordingMailer) SendConfirmationCode(_ context.Context, msg ConfirmationMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) last(t domain.ConfirmationCodeType) (ConfirmationMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Type == t {
			return m.sent[i], true
		}
	}
	return ConfirmationMessage{}, false
}

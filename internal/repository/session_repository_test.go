package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskflow/taskflow-api/internal/domain"
)

func TestSessionRepositoryListActiveByUserID(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))

	base := time.Now().UTC().Add(-time.Hour)
	older := &domain.Session{UserID: 1, UserAgent: "older", CreatedAt: base}
	newer := &domain.Session{UserID: 1, UserAgent: "newer", CreatedAt: base.Add(time.Minute)}
	revoked := &domain.Session{UserID: 1, UserAgent: "revoked", CreatedAt: base.Add(2 * time.Minute)}
	otherUser := &domain.Session{UserID: 2, UserAgent: "other", CreatedAt: base}
	for _, s := range []*domain.Session{older, newer, revoked, otherUser} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create %s: %v", s.UserAgent, err)
		}
	}
	if _, _, err := repo.RevokeByIDForUser(ctx, 1, revoked.ID, "manual"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	sessions, err := repo.ListActiveByUserID(ctx, 1)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(sessions))
	}
	if sessions[0].ID != newer.ID || sessions[1].ID != older.ID {
		t.Fatalf("expected newest first, got %+v", sessions)
	}
}

func TestSessionRepositoryFindActiveByIDForUser(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))

	s := &domain.Session{UserID: 1}
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.FindActiveByIDForUser(ctx, 1, s.ID); err != nil {
		t.Fatalf("expected active session: %v", err)
	}
	if _, err := repo.FindActiveByIDForUser(ctx, 2, s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for foreign user, got %v", err)
	}
	if _, _, err := repo.RevokeByIDForUser(ctx, 1, s.ID, "logout"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := repo.FindActiveByIDForUser(ctx, 1, s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected revoked session to be invisible, got %v", err)
	}
}

func TestSessionRepositoryRevokeByIDForUser(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))

	s := &domain.Session{UserID: 1, ClientIP: "10.0.0.1"}
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, _, err := repo.RevokeByIDForUser(ctx, 2, s.ID, "manual"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for non-owner, got %v", err)
	}

	updated, changed, err := repo.RevokeByIDForUser(ctx, 1, s.ID, "manual")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !changed || !updated.IsRevoked || updated.RevokedAt == nil {
		t.Fatalf("expected revoked session, changed=%v session=%+v", changed, updated)
	}
	firstRevokedAt := *updated.RevokedAt

	again, changed, err := repo.RevokeByIDForUser(ctx, 1, s.ID, "other")
	if err != nil {
		t.Fatalf("idempotent revoke: %v", err)
	}
	if changed {
		t.Fatal("expected changed=false on already revoked session")
	}
	if !again.RevokedAt.Equal(firstRevokedAt) || again.RevokedReason == nil || *again.RevokedReason != "manual" {
		t.Fatalf("expected original revocation to be preserved, got %+v", again)
	}
}

func TestSessionRepositoryExcessActiveIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))

	base := time.Now().UTC().Add(-time.Hour)
	ids := make([]uint, 0, 7)
	for i := 0; i < 7; i++ {
		s := &domain.Session{UserID: 9, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, s.ID)
	}
	if _, _, err := repo.RevokeByIDForUser(ctx, 9, ids[6], "manual"); err != nil {
		t.Fatalf("revoke newest: %v", err)
	}

	excess, err := repo.ExcessActiveIDs(ctx, 9, 5)
	if err != nil {
		t.Fatalf("excess: %v", err)
	}
	if len(excess) != 1 || excess[0] != ids[0] {
		t.Fatalf("expected only the oldest session %d, got %v", ids[0], excess)
	}

	none, err := repo.ExcessActiveIDs(ctx, 9, 10)
	if err != nil {
		t.Fatalf("excess under cap: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no excess, got %v", none)
	}
}

func TestSessionRepositoryRevokeByIDsForUserScopesByUser(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))

	mine := &domain.Session{UserID: 1}
	theirs := &domain.Session{UserID: 2}
	for _, s := range []*domain.Session{mine, theirs} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	n, err := repo.RevokeByIDsForUser(ctx, 1, []uint{mine.ID, theirs.ID}, "bulk")
	if err != nil {
		t.Fatalf("bulk revoke: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 revoked row, got %d", n)
	}
	n, err = repo.RevokeByIDsForUser(ctx, 1, []uint{mine.ID}, "bulk")
	if err != nil || n != 0 {
		t.Fatalf("expected idempotent re-run, n=%d err=%v", n, err)
	}
	if _, err := repo.FindActiveByIDForUser(ctx, 2, theirs.ID); err != nil {
		t.Fatalf("other user's session must stay active: %v", err)
	}
}

func TestSessionRepositoryListByUserPaged(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))

	for i := 0; i < 5; i++ {
		if err := repo.Create(ctx, &domain.Session{UserID: 3}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	page, err := repo.ListByUserPaged(ctx, 3, PageRequest{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("paged: %v", err)
	}
	if page.Total != 5 || page.TotalPages != 3 || len(page.Items) != 2 || page.Page != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

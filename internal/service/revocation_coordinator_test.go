package service

import (
	"context"
	"errors"
	"testing"

	"github.com/taskflow/taskflow-api/internal/queue"
)

func TestEnqueueRevokeAllPublishesJob(t *testing.T) {
	h := newHarness(t)
	correlationID, err := h.revoker.EnqueueRevokeAll(context.Background(), 5, RevokeReasonAdminForceLogout)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs := h.publisher.drain()
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	job := jobs[0]
	if job.UserID != 5 || job.CorrelationID != correlationID || job.Reason != RevokeReasonAdminForceLogout || job.Kind != queue.KindRevokeAllSessions {
		t.Fatalf("unexpected job %+v", job)
	}
	if _, err := h.revoker.EnqueueRevokeAll(context.Background(), 0, "x"); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected validation failure for user 0, got %v", err)
	}
}

func TestEnqueueRevokeAllSurfacesPublishErrors(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("broker down")
	if _, err := h.revoker.EnqueueRevokeAll(context.Background(), 5, RevokeReasonPasswordChange); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestRevokeAllRevokesEverySessionAndToken(t *testing.T) {
	h := newHarness(t)
	u := h.createUser(t, "all@example.com")
	bystander := h.createUser(t, "bystander@example.com")
	a := h.login(t, "all@example.com")
	b := h.login(t, "all@example.com")
	keep := h.login(t, "bystander@example.com")
	ctx := context.Background()

	res, err := h.revoker.RevokeAll(ctx, u.ID, RevokeReasonPasswordChange)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if res.SessionsRevoked != 2 || res.TokensRevoked != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, l := range []*LoginResult{a, b} {
		if _, err := h.gate.Authenticate(ctx, l.Tokens.AccessToken); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("expected access token of session %d rejected, got %v", l.Tokens.SessionID, err)
		}
		if _, err := h.tokenSvc.Rotate(ctx, l.Tokens.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("expected refresh of session %d rejected, got %v", l.Tokens.SessionID, err)
		}
	}
	if reason := h.sessions.get(a.Tokens.SessionID).RevokedReason; reason == nil || *reason != RevokeReasonPasswordChange {
		t.Fatalf("expected revoke reason recorded, got %v", reason)
	}
	if _, err := h.gate.Authenticate(ctx, keep.Tokens.AccessToken); err != nil {
		t.Fatalf("other users must be untouched: %v (user %d)", err, bystander.ID)
	}

	again, err := h.revoker.RevokeAll(ctx, u.ID, RevokeReasonPasswordChange)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again.SessionsRevoked != 0 || again.TokensRevoked != 0 {
		t.Fatalf("expected idempotent second run, got %+v", again)
	}
}

func TestHandleRetriesConvergeAfterPartialFailure(t *testing.T) {
	h := newHarness(t)
	u := h.createUser(t, "partial@example.com")
	login := h.login(t, "partial@example.com")
	ctx := context.Background()
	job := queue.NewRevokeAllJob(u.ID, "corr", RevokeReasonPasswordChange, h.revoker.now())

	h.tokens.failOn["list_live"] = errors.New("token store timeout")
	if err := h.revoker.Handle(ctx, job); err == nil {
		t.Fatal("expected handler to surface the token phase failure")
	}
	if h.sessions.isLive(login.Tokens.SessionID) {
		t.Fatal("session phase should have completed before the failure")
	}
	if h.tokens.liveForSession(login.Tokens.SessionID) != 1 {
		t.Fatal("token phase should not have run")
	}

	delete(h.tokens.failOn, "list_live")
	if err := h.revoker.Handle(ctx, job); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if h.tokens.liveForSession(login.Tokens.SessionID) != 0 {
		t.Fatal("redelivery must finish the token phase")
	}
}

func TestHandleSessionPhaseFailureStillAllowsTokenPhaseOnRetry(t *testing.T) {
	h := newHarness(t)
	u := h.createUser(t, "phase2@example.com")
	login := h.login(t, "phase2@example.com")
	ctx := context.Background()
	job := queue.NewRevokeAllJob(u.ID, "corr", RevokeReasonAdminForceLogout, h.revoker.now())

	h.sessions.failOn["revoke_ids"] = errors.New("deadlock")
	if err := h.revoker.Handle(ctx, job); err == nil {
		t.Fatal("expected session phase failure to be returned")
	}
	delete(h.sessions.failOn, "revoke_ids")

	if err := h.revoker.Handle(ctx, job); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if h.sessions.isLive(login.Tokens.SessionID) || h.tokens.liveForSession(login.Tokens.SessionID) != 0 {
		t.Fatal("retry must complete both phases")
	}
}

func TestRevokeAllHonorsCancellation(t *testing.T) {
	h := newHarness(t)
	u := h.createUser(t, "cancel@example.com")
	login := h.login(t, "cancel@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.revoker.RevokeAll(ctx, u.ID, RevokeReasonPasswordChange); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !h.sessions.isLive(login.Tokens.SessionID) {
		t.Fatal("cancelled run must not have revoked anything")
	}
}

func TestCoordinatorRunsBehindMemoryQueue(t *testing.T) {
	h := newHarness(t)
	u := h.createUser(t, "queued@example.com")
	login := h.login(t, "queued@example.com")

	q := queue.NewMemoryQueue(4, 3, 0, discardLogger())
	coordinator := NewRevocationCoordinator(q, h.sessions, h.tokens, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, func(ctx context.Context, job queue.Job) error {
			defer close(done)
			return coordinator.Handle(ctx, job)
		})
	}()
	if _, err := coordinator.EnqueueRevokeAll(ctx, u.ID, RevokeReasonUserLogoutAll); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-done
	if h.sessions.isLive(login.Tokens.SessionID) {
		t.Fatal("expected queued job to revoke the session")
	}
}

func TestRevokeAllReliablyPrefersQueue(t *testing.T) {
	h := newHarness(t)
	h.createUser(t, "queued@example.com")
	login := h.login(t, "queued@example.com")

	if _, err := h.revoker.RevokeAllReliably(context.Background(), login.User.ID, RevokeReasonPasswordChange); err != nil {
		t.Fatalf("revoke reliably: %v", err)
	}
	if !h.sessions.isLive(login.Tokens.SessionID) {
		t.Fatal("a healthy queue must defer revocation to the worker")
	}
	if jobs := h.publisher.drain(); len(jobs) != 1 {
		t.Fatalf("expected one published job, got %d", len(jobs))
	}
}

func TestRevokeAllReliablyFallsBackInline(t *testing.T) {
	h := newHarness(t)
	h.createUser(t, "inline@example.com")
	login := h.login(t, "inline@example.com")
	h.publisher.err = errors.New("broker down")

	correlationID, err := h.revoker.RevokeAllReliably(context.Background(), login.User.ID, RevokeReasonAdminForceLogout)
	if err != nil || correlationID == "" {
		t.Fatalf("expected inline success, got id=%q err=%v", correlationID, err)
	}
	if h.sessions.isLive(login.Tokens.SessionID) {
		t.Fatal("expected the session to be revoked inline")
	}
	if reason := h.sessions.get(login.Tokens.SessionID).RevokedReason; reason == nil || *reason != RevokeReasonAdminForceLogout {
		t.Fatalf("unexpected revoke reason %v", reason)
	}
	if _, err := h.revoker.RevokeAllReliably(context.Background(), 0, "x"); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected validation error for user 0, got %v", err)
	}
}

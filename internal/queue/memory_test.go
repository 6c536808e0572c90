package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testJob(userID uint) Job {
	return NewRevokeAllJob(userID, "corr-1", "password_change", time.Now())
}

func TestJobValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Job)
		ok     bool
	}{
		{name: "valid", mutate: func(*Job) {}, ok: true},
		{name: "no id", mutate: func(j *Job) { j.ID = "" }},
		{name: "unknown kind", mutate: func(j *Job) { j.Kind = "send_mail" }},
		{name: "no user", mutate: func(j *Job) { j.UserID = 0 }},
		{name: "no correlation", mutate: func(j *Job) { j.CorrelationID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := testJob(7)
			tc.mutate(&j)
			err := j.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidJob) {
				t.Fatalf("expected ErrInvalidJob, got %v", err)
			}
		})
	}
}

func TestDecodeJobRejectsGarbage(t *testing.T) {
	if _, err := decodeJob([]byte("{not json")); !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("expected ErrInvalidJob, got %v", err)
	}
	body, err := encodeJob(testJob(3))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	j, err := decodeJob(body)
	if err != nil || j.UserID != 3 || j.Reason != "password_change" {
		t.Fatalf("unexpected decode result %+v err=%v", j, err)
	}
}

func TestMemoryQueueDeliversAndRetries(t *testing.T) {
	q := NewMemoryQueue(8, 3, time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var (
		mu       sync.Mutex
		attempts []int
	)
	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, job Job) error {
			mu.Lock()
			defer mu.Unlock()
			attempts = append(attempts, job.Attempt)
			if job.Attempt < 2 {
				return errors.New("store unavailable")
			}
			close(done)
			return nil
		})
	}()

	if err := q.Publish(ctx, testJob(1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("job was not retried to success")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("expected attempts [1 2], got %v", attempts)
	}
	if len(q.DeadLetters()) != 0 {
		t.Fatal("expected no dead letters")
	}
}

func TestMemoryQueueDeadLettersAfterMaxAttempts(t *testing.T) {
	q := NewMemoryQueue(8, 2, time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		_ = q.Consume(ctx, func(context.Context, Job) error { return errors.New("boom") })
	}()
	if err := q.Publish(ctx, testJob(1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if dl := q.DeadLetters(); len(dl) == 1 {
			if dl[0].Attempt != 2 {
				t.Fatalf("expected dead letter after 2 attempts, got %d", dl[0].Attempt)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected job to be dead-lettered")
}

func TestMemoryQueueFullBufferDoesNotStallDeadLettering(t *testing.T) {
	q := NewMemoryQueue(1, 1, 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	go func() {
		_ = q.Consume(ctx, func(context.Context, Job) error {
			once.Do(func() {
				close(started)
				<-release
			})
			return errors.New("database unavailable")
		})
	}()

	if err := q.Publish(ctx, testJob(1)); err != nil {
		t.Fatalf("publish first: %v", err)
	}
	<-started
	if err := q.Publish(ctx, testJob(2)); err != nil {
		t.Fatalf("publish second: %v", err)
	}
	blocked := make(chan error, 1)
	go func() { blocked <- q.Publish(ctx, testJob(3)) }()

	// Let the third publish park on the full buffer before the handler fails.
	time.Sleep(20 * time.Millisecond)
	close(release)

	pingDone := make(chan error, 1)
	go func() { pingDone <- q.Ping(ctx) }()
	select {
	case err := <-pingDone:
		if err != nil {
			t.Fatalf("ping: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ping blocked behind a publisher waiting on a full buffer")
	}
	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("third publish: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publisher never unblocked")
	}

	deadline := time.Now().Add(time.Second)
	for len(q.DeadLetters()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 dead letters, got %d", len(q.DeadLetters()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	closeDone := make(chan error, 1)
	go func() { closeDone <- q.Close() }()
	select {
	case <-closeDone:
	case <-time.After(time.Second):
		t.Fatal("close blocked")
	}
}

func TestMemoryQueueCloseUnblocksPublisher(t *testing.T) {
	q := NewMemoryQueue(1, 1, 0, nil)
	ctx := context.Background()
	if err := q.Publish(ctx, testJob(1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	blocked := make(chan error, 1)
	go func() { blocked <- q.Publish(ctx, testJob(2)) }()
	time.Sleep(20 * time.Millisecond)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-blocked:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publisher stayed blocked after close")
	}
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(1, 1, 0, nil)
	if err := q.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Publish(context.Background(), testJob(1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := q.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from ping, got %v", err)
	}
	if err := q.Consume(context.Background(), func(context.Context, Job) error { return nil }); err != nil {
		t.Fatalf("consume on closed queue should return nil, got %v", err)
	}
}

func TestWorkerRecoversPanics(t *testing.T) {
	q := NewMemoryQueue(4, 1, 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	w := NewWorker(q, func(context.Context, Job) error { panic("handler bug") }, nil)
	go func() { _ = w.Run(ctx) }()

	if err := q.Publish(ctx, testJob(9)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(q.DeadLetters()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected panicking job to be dead-lettered")
}

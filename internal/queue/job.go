// Package queue carries background jobs between the API and the revocation worker.
// Delivery is at least once on every driver, so handlers must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

const KindRevokeAllSessions = "revoke_all_sessions"

var (
	ErrClosed     = errors.New("queue closed")
	ErrInvalidJob = errors.New("invalid job")
)

type Job struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	UserID        uint      `json:"user_id"`
	CorrelationID string    `json:"correlation_id"`
	Reason        string    `json:"reason"`
	Attempt       int       `json:"attempt"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

func NewRevokeAllJob(userID uint, correlationID, reason string, now time.Time) Job {
	return Job{
		ID:            ulid.Make().String(),
		Kind:          KindRevokeAllSessions,
		UserID:        userID,
		CorrelationID: correlationID,
		Reason:        reason,
		EnqueuedAt:    now.UTC(),
	}
}

func (j Job) Validate() error {
	switch {
	case j.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidJob)
	case j.Kind != KindRevokeAllSessions:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, j.Kind)
	case j.UserID == 0:
		return fmt.Errorf("%w: missing user id", ErrInvalidJob)
	case j.CorrelationID == "":
		return fmt.Errorf("%w: missing correlation id", ErrInvalidJob)
	}
	return nil
}

func (j Job) LogAttrs() []any {
	return []any{
		"job_id", j.ID,
		"kind", j.Kind,
		"user_id", j.UserID,
		"correlation_id", j.CorrelationID,
		"reason", j.Reason,
		"attempt", j.Attempt,
	}
}

func encodeJob(j Job) ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

func decodeJob(b []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Handler processes one delivery. A non-nil error asks the driver to redeliver.
type Handler func(ctx context.Context, job Job) error

type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

type Consumer interface {
	// Consume blocks until ctx is cancelled or the queue fails permanently.
	Consume(ctx context.Context, h Handler) error
}

type Queue interface {
	Publisher
	Consumer
	Ping(ctx context.Context) error
	Close() error
}

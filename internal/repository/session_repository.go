package repository

import (
	"context"
	"errors"
	"time"

	"github.com/taskflow/taskflow-api/internal/domain"
	"github.com/taskflow/taskflow-api/internal/observability"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindActiveByIDForUser(ctx context.Context, userID, sessionID uint) (*domain.Session, error)
	FindByIDForUser(ctx context.Context, userID, sessionID uint) (*domain.Session, error)
	ListActiveByUserID(ctx context.Context, userID uint) ([]domain.Session, error)
	ListActiveIDsByUserID(ctx context.Context, userID uint) ([]uint, error)
	ListByUserPaged(ctx context.Context, userID uint, req PageRequest) (PageResult[domain.Session], error)
	ExcessActiveIDs(ctx context.Context, userID uint, keep int) ([]uint, error)
	RevokeByIDForUser(ctx context.Context, userID, sessionID uint, reason string) (*domain.Session, bool, error)
	RevokeByIDsForUser(ctx context.Context, userID uint, sessionIDs []uint, reason string) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	s.IsRevoked = false
	s.RevokedAt = nil
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

// FindActiveByIDForUser is the liveness read behind every authenticated request.
func (r *GormSessionRepository) FindActiveByIDForUser(ctx context.Context, userID, sessionID uint) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND is_revoked = ?", sessionID, userID, false).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_active_by_id_for_user", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_active_by_id_for_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_active_by_id_for_user", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindByIDForUser(ctx context.Context, userID, sessionID uint) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, sessionID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_by_id_for_user", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_by_id_for_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_id_for_user", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(ctx context.Context, userID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Order("created_at DESC").Order("id DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) ListActiveIDsByUserID(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Order("created_at DESC").Order("id DESC").
		Pluck("id", &ids).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_ids_by_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_ids_by_user_id", "success")
	return ids, nil
}

func (r *GormSessionRepository) ListByUserPaged(ctx context.Context, userID uint, req PageRequest) (PageResult[domain.Session], error) {
	normalized := normalizePageRequest(req)
	result := PageResult[domain.Session]{Page: normalized.Page, PageSize: normalized.PageSize}

	base := r.db.WithContext(ctx).Model(&domain.Session{}).Where("user_id = ?", userID)
	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_by_user_paged", "error")
		return PageResult[domain.Session]{}, err
	}
	offset := (normalized.Page - 1) * normalized.PageSize
	if err := base.Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(normalized.PageSize).
		Find(&result.Items).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_by_user_paged", "error")
		return PageResult[domain.Session]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, normalized.PageSize)
	observability.RecordRepositoryOperation(ctx, "session", "list_by_user_paged", "success")
	return result, nil
}

// ExcessActiveIDs returns active session ids beyond the keep most recent ones.
// The scan is per user and bounded by the cap policy.
func (r *GormSessionRepository) ExcessActiveIDs(ctx context.Context, userID uint, keep int) ([]uint, error) {
	if keep < 0 {
		keep = 0
	}
	ids, err := r.ListActiveIDsByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) <= keep {
		return nil, nil
	}
	return ids[keep:], nil
}

// RevokeByIDForUser returns ErrSessionNotFound when the session is not owned by userID.
// changed is false when the session was already revoked.
func (r *GormSessionRepository) RevokeByIDForUser(ctx context.Context, userID, sessionID uint, reason string) (*domain.Session, bool, error) {
	var (
		out     domain.Session
		changed bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&domain.Session{}).
			Where("id = ? AND user_id = ? AND is_revoked = ?", sessionID, userID, false).
			Updates(map[string]any{"is_revoked": true, "revoked_at": now, "revoked_reason": reason})
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected == 1
		if err := tx.Where("id = ? AND user_id = ?", sessionID, userID).First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "revoke_by_id_for_user", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "session", "revoke_by_id_for_user", "error")
		}
		return nil, false, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_id_for_user", "success")
	return &out, changed, nil
}

// RevokeByIDsForUser only touches sessions that are still active, so re-running it is a no-op.
func (r *GormSessionRepository) RevokeByIDsForUser(ctx context.Context, userID uint, sessionIDs []uint, reason string) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND id IN ? AND is_revoked = ?", userID, sessionIDs, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at": time.Now().UTC(), "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_ids_for_user", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_ids_for_user", "success")
	return res.RowsAffected, nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/taskflow/taskflow-api/internal/domain"
	"github.com/taskflow/taskflow-api/internal/observability"

	"gorm.io/gorm"
)

var ErrRefreshTokenNotFound = errors.New("refresh token not found")

type RefreshTokenRepository interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	ConsumeByHash(ctx context.Context, hash string, now time.Time) (*domain.RefreshToken, error)
	RotateByHash(ctx context.Context, hash string, now time.Time, replacement *domain.RefreshToken) (*domain.RefreshToken, error)
	ListLiveIDsByUserID(ctx context.Context, userID uint) ([]uint, error)
	RevokeBySessionsForUser(ctx context.Context, userID uint, sessionIDs []uint) (int64, error)
	RevokeByIDsForUser(ctx context.Context, userID uint, ids []uint) (int64, error)
}

type GormRefreshTokenRepository struct{ db *gorm.DB }

func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &GormRefreshTokenRepository{db: db}
}

func (r *GormRefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "success")
	return nil
}

func (r *GormRefreshTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "not_found")
			return nil, ErrRefreshTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "success")
	return &t, nil
}

// ConsumeByHash marks a live token used with one conditional UPDATE. Of two racing
// callers exactly one sees a row affected; the other gets ErrRefreshTokenNotFound.
func (r *GormRefreshTokenRepository) ConsumeByHash(ctx context.Context, hash string, now time.Time) (*domain.RefreshToken, error) {
	var consumed *domain.RefreshToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := consume(tx, hash, now)
		if err != nil {
			return err
		}
		consumed = t
		return nil
	})
	if err != nil {
		r.recordConsume(ctx, "consume_by_hash", err)
		return nil, err
	}
	r.recordConsume(ctx, "consume_by_hash", nil)
	return consumed, nil
}

// RotateByHash consumes the presented token and inserts replacement bound to the same
// user and session in one transaction.
func (r *GormRefreshTokenRepository) RotateByHash(ctx context.Context, hash string, now time.Time, replacement *domain.RefreshToken) (*domain.RefreshToken, error) {
	var consumed *domain.RefreshToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := consume(tx, hash, now)
		if err != nil {
			return err
		}
		replacement.UserID = t.UserID
		replacement.SessionID = t.SessionID
		replacement.IsUsed = false
		replacement.IsRevoked = false
		if err := tx.Create(replacement).Error; err != nil {
			return err
		}
		consumed = t
		return nil
	})
	if err != nil {
		r.recordConsume(ctx, "rotate_by_hash", err)
		return nil, err
	}
	r.recordConsume(ctx, "rotate_by_hash", nil)
	return consumed, nil
}

func consume(tx *gorm.DB, hash string, now time.Time) (*domain.RefreshToken, error) {
	liveSessions := tx.Session(&gorm.Session{NewDB: true}).
		Model(&domain.Session{}).Select("id").Where("is_revoked = ?", false)
	res := tx.Model(&domain.RefreshToken{}).
		Where("token_hash = ? AND is_used = ? AND is_revoked = ? AND expires_at > ?", hash, false, false, now).
		Where("session_id IN (?)", liveSessions).
		Updates(map[string]any{"is_used": true, "used_at": now, "revoked_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRefreshTokenNotFound
	}
	var t domain.RefreshToken
	if err := tx.Where("token_hash = ?", hash).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *GormRefreshTokenRepository) recordConsume(ctx context.Context, op string, err error) {
	switch {
	case err == nil:
		observability.RecordRepositoryOperation(ctx, "refresh_token", op, "success")
	case errors.Is(err, ErrRefreshTokenNotFound):
		observability.RecordRepositoryOperation(ctx, "refresh_token", op, "not_found")
	default:
		observability.RecordRepositoryOperation(ctx, "refresh_token", op, "error")
	}
}

func (r *GormRefreshTokenRepository) ListLiveIDsByUserID(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("user_id = ? AND is_used = ? AND is_revoked = ?", userID, false, false).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "list_live_ids_by_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "list_live_ids_by_user_id", "success")
	return ids, nil
}

func (r *GormRefreshTokenRepository) RevokeBySessionsForUser(ctx context.Context, userID uint, sessionIDs []uint) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("user_id = ? AND session_id IN ? AND is_used = ? AND is_revoked = ?", userID, sessionIDs, false, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at": time.Now().UTC()})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_by_sessions_for_user", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_by_sessions_for_user", "success")
	return res.RowsAffected, nil
}

func (r *GormRefreshTokenRepository) RevokeByIDsForUser(ctx context.Context, userID uint, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("user_id = ? AND id IN ? AND is_used = ? AND is_revoked = ?", userID, ids, false, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at": time.Now().UTC()})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_by_ids_for_user", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_by_ids_for_user", "success")
	return res.RowsAffected, nil
}

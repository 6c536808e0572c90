package repository

import (
	"context"
	"errors"
	"time"

	"github.com/taskflow/taskflow-api/internal/domain"
	"github.com/taskflow/taskflow-api/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrConfirmationCodeNotFound = errors.New("confirmation code not found")

type ConfirmationCodeRepository interface {
	CreateSuperseding(ctx context.Context, code *domain.ConfirmationCode, now time.Time) (int64, error)
	FindActive(ctx context.Context, userID uint, codeType domain.ConfirmationCodeType, codeHash string, now time.Time) (*domain.ConfirmationCode, error)
	ConsumeActive(ctx context.Context, userID uint, codeType domain.ConfirmationCodeType, codeHash string, now time.Time) (*domain.ConfirmationCode, error)
}

type GormConfirmationCodeRepository struct{ db *gorm.DB }

func NewConfirmationCodeRepository(db *gorm.DB) ConfirmationCodeRepository {
	return &GormConfirmationCodeRepository{db: db}
}

// CreateSuperseding marks every active code of (UserID, Type) used and inserts code in the
// same transaction. The owning user row is locked first so concurrent issuers serialize.
func (r *GormConfirmationCodeRepository) CreateSuperseding(ctx context.Context, code *domain.ConfirmationCode, now time.Time) (int64, error) {
	var superseded int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner []domain.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").Where("id = ?", code.UserID).Find(&owner).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.ConfirmationCode{}).
			Where("user_id = ? AND type = ? AND is_used = ? AND expires_at > ?", code.UserID, code.Type, false, now).
			Updates(map[string]any{"is_used": true, "used_at": now})
		if res.Error != nil {
			return res.Error
		}
		superseded = res.RowsAffected
		code.IsUsed = false
		code.UsedAt = nil
		return tx.Create(code).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "confirmation_code", "create_superseding", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "confirmation_code", "create_superseding", "success")
	return superseded, nil
}

func (r *GormConfirmationCodeRepository) FindActive(ctx context.Context, userID uint, codeType domain.ConfirmationCodeType, codeHash string, now time.Time) (*domain.ConfirmationCode, error) {
	var c domain.ConfirmationCode
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND code_hash = ? AND is_used = ? AND expires_at > ?", userID, codeType, codeHash, false, now).
		Order("id DESC").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "confirmation_code", "find_active", "not_found")
			return nil, ErrConfirmationCodeNotFound
		}
		observability.RecordRepositoryOperation(ctx, "confirmation_code", "find_active", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "confirmation_code", "find_active", "success")
	return &c, nil
}

// ConsumeActive flips is_used with a conditional UPDATE so a code validates at most once.
func (r *GormConfirmationCodeRepository) ConsumeActive(ctx context.Context, userID uint, codeType domain.ConfirmationCodeType, codeHash string, now time.Time) (*domain.ConfirmationCode, error) {
	var out domain.ConfirmationCode
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND type = ? AND code_hash = ? AND is_used = ? AND expires_at > ?", userID, codeType, codeHash, false, now).
			Order("id DESC").First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConfirmationCodeNotFound
			}
			return err
		}
		res := tx.Model(&domain.ConfirmationCode{}).
			Where("id = ? AND is_used = ?", out.ID, false).
			Updates(map[string]any{"is_used": true, "used_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConfirmationCodeNotFound
		}
		out.IsUsed = true
		out.UsedAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConfirmationCodeNotFound) {
			observability.RecordRepositoryOperation(ctx, "confirmation_code", "consume_active", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "confirmation_code", "consume_active", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "confirmation_code", "consume_active", "success")
	return &out, nil
}

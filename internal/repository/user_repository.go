package repository

import (
	"context"
	"errors"
	"time"

	"github.com/taskflow/taskflow-api/internal/domain"
	"github.com/taskflow/taskflow-api/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailAlreadyExists = errors.New("email already registered")
)

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User, roleNames ...string) error
	UpdatePasswordHash(ctx context.Context, userID uint, hash string) error
	MarkEmailVerified(ctx context.Context, userID uint, at time.Time) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Preload("Roles.Permissions").First(&u, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Preload("Roles.Permissions").Where("email = ?", email).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "success")
	return &u, nil
}

// Create inserts the user and attaches the named roles that exist.
func (r *GormUserRepository) Create(ctx context.Context, user *domain.User, roleNames ...string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&domain.User{}).Where("email = ?", user.Email).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrEmailAlreadyExists
		}
		if len(roleNames) > 0 {
			var roles []domain.Role
			if err := tx.Where("name IN ?", roleNames).Find(&roles).Error; err != nil {
				return err
			}
			user.Roles = roles
		}
		return tx.Omit("Roles.*").Create(user).Error
	})
	if err != nil {
		if errors.Is(err, ErrEmailAlreadyExists) {
			observability.RecordRepositoryOperation(ctx, "user", "create", "conflict")
		} else {
			observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "create", "success")
	return nil
}

func (r *GormUserRepository) UpdatePasswordHash(ctx context.Context, userID uint, hash string) error {
	return r.updateColumns(ctx, "update_password_hash", userID, map[string]any{"password_hash": hash})
}

func (r *GormUserRepository) MarkEmailVerified(ctx context.Context, userID uint, at time.Time) error {
	return r.updateColumns(ctx, "mark_email_verified", userID, map[string]any{"email_verified_at": at})
}

func (r *GormUserRepository) updateColumns(ctx context.Context, op string, userID uint, cols map[string]any) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", userID).Updates(cols)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "user", op, "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "user", op, "not_found")
		return ErrUserNotFound
	}
	observability.RecordRepositoryOperation(ctx, "user", op, "success")
	return nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/taskflow/taskflow-api/internal/domain"
	"github.com/taskflow/taskflow-api/internal/observability"

	"gorm.io/gorm"
)

var ErrRoleNotFound = errors.New("role not found")

// RoleSeed describes a role and the "resource:action" permissions it must carry.
type RoleSeed struct {
	Name        string
	Description string
	Permissions []string
}

type RoleRepository interface {
	FindByName(ctx context.Context, name string) (*domain.Role, error)
	Ensure(ctx context.Context, seeds []RoleSeed) error
}

type GormRoleRepository struct{ db *gorm.DB }

func NewRoleRepository(db *gorm.DB) RoleRepository { return &GormRoleRepository{db: db} }

func (r *GormRoleRepository) FindByName(ctx context.Context, name string) (*domain.Role, error) {
	var role domain.Role
	err := r.db.WithContext(ctx).Preload("Permissions").Where("name = ?", name).First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "role", "find_by_name", "not_found")
			return nil, ErrRoleNotFound
		}
		observability.RecordRepositoryOperation(ctx, "role", "find_by_name", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "role", "find_by_name", "success")
	return &role, nil
}

// Ensure upserts roles and permissions and appends missing grants. Existing grants are
// never removed, so it is safe to call on every start.
func (r *GormRoleRepository) Ensure(ctx context.Context, seeds []RoleSeed) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, seed := range seeds {
			role := domain.Role{Name: seed.Name, Description: seed.Description}
			if err := tx.Where(domain.Role{Name: seed.Name}).FirstOrCreate(&role).Error; err != nil {
				return fmt.Errorf("ensure role %s: %w", seed.Name, err)
			}
			perms := make([]domain.Permission, 0, len(seed.Permissions))
			for _, name := range seed.Permissions {
				resource, action, ok := strings.Cut(name, ":")
				if !ok || resource == "" || action == "" {
					return fmt.Errorf("invalid permission %q", name)
				}
				var p domain.Permission
				if err := tx.Where(domain.Permission{Resource: resource, Action: action}).FirstOrCreate(&p).Error; err != nil {
					return fmt.Errorf("ensure permission %s: %w", name, err)
				}
				perms = append(perms, p)
			}
			if len(perms) > 0 {
				if err := tx.Model(&role).Association("Permissions").Append(perms); err != nil {
					return fmt.Errorf("grant permissions to %s: %w", seed.Name, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "role", "ensure", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "role", "ensure", "success")
	return nil
}

package domain

import "time"

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

type User struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Email           string     `gorm:"size:320;uniqueIndex;not null" json:"email"`
	Name            string     `gorm:"size:200" json:"name"`
	PasswordHash    string     `gorm:"size:255;not null" json:"-"`
	Status          string     `gorm:"size:32;not null;default:active" json:"status"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	Roles           []Role     `gorm:"many2many:user_roles;" json:"roles,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (u *User) RoleNames() []string {
	out := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		out = append(out, r.Name)
	}
	return out
}

// PermissionNames flattens role permissions into unique "resource:action" strings.
func (u *User) PermissionNames() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, r := range u.Roles {
		for _, p := range r.Permissions {
			name := p.Name()
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

type Role struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"size:64;uniqueIndex;not null" json:"name"`
	Description string       `gorm:"size:255" json:"description"`
	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type Permission struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Resource  string    `gorm:"size:64;not null;uniqueIndex:idx_permissions_resource_action" json:"resource"`
	Action    string    `gorm:"size:64;not null;uniqueIndex:idx_permissions_resource_action" json:"action"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p Permission) Name() string {
	return p.Resource + ":" + p.Action
}

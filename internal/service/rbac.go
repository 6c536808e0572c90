package service

import (
	"slices"

	"github.com/taskflow/taskflow-api/internal/repository"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	PermSessionsRead   = "sessions:read"
	PermSessionsRevoke = "sessions:revoke"
)

// DefaultRoleSeeds is ensured at startup. Admins manage other users' sessions.
func DefaultRoleSeeds() []repository.RoleSeed {
	return []repository.RoleSeed{
		{Name: RoleUser, Description: "Standard account"},
		{Name: RoleAdmin, Description: "Operator account", Permissions: []string{PermSessionsRead, PermSessionsRevoke}},
	}
}

// RBACService checks permissions carried in access token claims.
type RBACService struct{}

func NewRBACService() *RBACService { return &RBACService{} }

func (s *RBACService) HasPermission(permissions []string, required string) bool {
	return slices.Contains(permissions, required)
}

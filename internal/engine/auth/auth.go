package auth

import (
	"fmt"

	"buildline/internal/config"
	"buildline/internal/domain"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Role       string
	Permission string
}

func (e ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("permission %s required", e.Permission)
	}
	return fmt.Sprintf("permission %s required (role %s)", e.Permission, e.Role)
}

// Service answers permission checks from the rbac section of the config.
type Service struct {
	Config *config.Config
}

// Permissions returns what role may do. Unknown roles get nothing.
func (s Service) Permissions(role string) []string {
	if !domain.IsRole(role) {
		return nil
	}
	cfg := s.Config
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg.Permissions(role)
}

func (s Service) RoleHasPermission(role, perm string) bool {
	for _, p := range s.Permissions(role) {
		if p == perm {
			return true
		}
	}
	return false
}

// Require returns ForbiddenError unless role grants perm.
func (s Service) Require(role, perm string) error {
	if s.RoleHasPermission(role, perm) {
		return nil
	}
	return ForbiddenError{Role: role, Permission: perm}
}

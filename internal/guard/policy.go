package guard

import (
	"context"

	"storefront/internal/user/domain"
)

// RolePolicy decides whether a signed-in user may see a role-restricted page.
type RolePolicy interface {
	Allowed(ctx context.Context, u *domain.User) (bool, error)
}

// StaticRoles allows users whose role is in the list.
type StaticRoles []domain.Role

// Allowed implements RolePolicy.
func (r StaticRoles) Allowed(_ context.Context, u *domain.User) (bool, error) {
	return u.HasRole(r...), nil
}

// AdminRoles is the built-in admin area policy.
var AdminRoles = StaticRoles{domain.RoleAdmin, domain.RoleSuperAdmin}

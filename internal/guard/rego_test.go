package guard

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/user/domain"
)

func TestRegoPolicy_Default(t *testing.T) {
	ctx := context.Background()
	p, err := NewRegoPolicy(ctx, "")
	require.NoError(t, err)
	require.NoError(t, p.HealthCheck(ctx))

	for _, tt := range []struct {
		role domain.Role
		want bool
	}{
		{domain.RoleAdmin, true},
		{domain.RoleSuperAdmin, true},
		{domain.RoleUser, false},
		{"", false},
	} {
		ok, err := p.Allowed(ctx, &domain.User{ID: "u1", Role: tt.role})
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "role %q", tt.role)
	}
	ok, err := p.Allowed(ctx, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegoPolicy_FromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "authz.rego")
	module := `package storefront.authz

default allow := false

allow if {
	input.user.role == "Admin"
	input.user.isEmailVerified
}
`
	require.NoError(t, os.WriteFile(path, []byte(module), 0o600))
	p, err := LoadRegoPolicy(ctx, path)
	require.NoError(t, err)

	ok, err := p.Allowed(ctx, &domain.User{Role: domain.RoleAdmin, IsEmailVerified: true})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.Allowed(ctx, &domain.User{Role: domain.RoleAdmin})
	require.NoError(t, err)
	assert.False(t, ok)

	d := Role(ctx, State{Initialized: true, User: &domain.User{Role: domain.RoleSuperAdmin}}, p)
	assert.Equal(t, Forbidden, d.Outcome)
}

func TestRegoPolicy_CompileError(t *testing.T) {
	_, err := NewRegoPolicy(context.Background(), "package storefront.authz\nallow if {")
	assert.Error(t, err)
	_, err = LoadRegoPolicy(context.Background(), filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)
}

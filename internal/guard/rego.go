package guard

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"storefront/internal/user/domain"
)

const regoQuery = "data.storefront.authz.allow"

// DefaultRegoPolicy matches AdminRoles.
const DefaultRegoPolicy = `package storefront.authz

default allow := false

allow if {
	input.user.role in {"Admin", "SuperAdmin"}
}
`

// RegoPolicy evaluates a Rego module exposing data.storefront.authz.allow.
// Input is {"user": {...}} carrying a subset of the user fields.
type RegoPolicy struct {
	query rego.PreparedEvalQuery
}

// NewRegoPolicy compiles module. An empty module uses DefaultRegoPolicy.
func NewRegoPolicy(ctx context.Context, module string) (*RegoPolicy, error) {
	if module == "" {
		module = DefaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"authz.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(regoQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	return &RegoPolicy{query: q}, nil
}

// LoadRegoPolicy reads a module from path. An empty path uses DefaultRegoPolicy.
func LoadRegoPolicy(ctx context.Context, path string) (*RegoPolicy, error) {
	if path == "" {
		return NewRegoPolicy(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return NewRegoPolicy(ctx, string(b))
}

// Allowed implements RolePolicy. An undefined or non-boolean result denies.
func (p *RegoPolicy) Allowed(ctx context.Context, u *domain.User) (bool, error) {
	if u == nil {
		return false, nil
	}
	input := map[string]interface{}{
		"user": map[string]interface{}{
			"id":              u.ID,
			"role":            string(u.Role),
			"email":           u.Email,
			"isEmailVerified": u.IsEmailVerified,
			"isPhoneVerified": u.IsPhoneVerified,
			"authProvider":    u.AuthProvider,
		},
	}
	rs, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allow, _ := rs[0].Expressions[0].Value.(bool)
	return allow, nil
}

// HealthCheck evaluates the compiled policy against a minimal input.
func (p *RegoPolicy) HealthCheck(ctx context.Context) error {
	_, err := p.Allowed(ctx, &domain.User{ID: "healthcheck", Role: domain.RoleUser})
	return err
}

// Package guard decides, from session state alone, whether a protected page
// renders, shows a loading state, redirects or is forbidden.
package guard

import (
	"context"
	"net/url"

	"storefront/internal/user/domain"
)

// Paths guards redirect to.
const (
	LoginPath           = "/auth/login"
	DashboardPath       = "/dashboard"
	CompleteProfilePath = "/auth/complete-profile"
	VerifyPhonePath     = "/auth/verify-phone"
	VerifyEmailPath     = "/auth/send-verification-email"
	ReturnURLParam      = "returnUrl"
)

// Outcome is what the page should do.
type Outcome int

const (
	Render Outcome = iota
	Loading
	Redirect
	// Forbidden renders the not-authorized view: signed in, but not allowed.
	Forbidden
	// Nothing renders neither the page nor a redirect.
	Nothing
)

func (o Outcome) String() string {
	switch o {
	case Render:
		return "render"
	case Loading:
		return "loading"
	case Redirect:
		return "redirect"
	case Forbidden:
		return "forbidden"
	default:
		return "nothing"
	}
}

// State is the part of a session guards look at.
type State struct {
	User        *domain.User
	Loading     bool
	Initialized bool
}

// Decision is a guard's verdict. Location is set for Redirect.
type Decision struct {
	Outcome  Outcome
	Location string
}

var (
	render  = Decision{Outcome: Render}
	loading = Decision{Outcome: Loading}
)

func redirect(path string) Decision { return Decision{Outcome: Redirect, Location: path} }

func withReturn(path, from string) string {
	if from == "" {
		return path
	}
	return path + "?" + url.Values{ReturnURLParam: {from}}.Encode()
}

// Authenticated renders only for a signed-in visitor once the session is initialized.
func Authenticated(s State) Decision {
	switch {
	case !s.Initialized || s.Loading:
		return loading
	case s.User == nil:
		return redirect(LoginPath)
	default:
		return render
	}
}

// GuestOnly sends signed-in visitors away from login and registration pages.
func GuestOnly(s State) Decision {
	switch {
	case s.User != nil && s.Loading:
		return Decision{Outcome: Nothing}
	case s.User != nil:
		return redirect(DashboardPath)
	default:
		return render
	}
}

// Role renders for users the policy allows and forbids everyone else who is signed in.
// A policy error forbids.
func Role(ctx context.Context, s State, p RolePolicy) Decision {
	switch {
	case !s.Initialized || s.Loading:
		return loading
	case s.User == nil:
		return redirect(LoginPath)
	}
	ok, err := p.Allowed(ctx, s.User)
	if err != nil || !ok {
		return Decision{Outcome: Forbidden}
	}
	return render
}

// CompleteProfile sends users with an incomplete profile to the profile form.
func CompleteProfile(s State) Decision {
	switch {
	case !s.Initialized || s.Loading:
		return loading
	case s.User == nil:
		return redirect(LoginPath)
	case !s.User.IsProfileComplete():
		return redirect(CompleteProfilePath)
	default:
		return render
	}
}

// Verified requires a verified phone, then a verified email, sending the visitor
// to the first missing step with from as the return destination.
func Verified(s State, from string) Decision {
	if !s.Initialized || s.Loading {
		return loading
	}
	if s.User == nil {
		return redirect(withReturn(LoginPath, from))
	}
	switch s.User.PendingVerification() {
	case domain.VerificationPhone:
		return redirect(withReturn(VerifyPhonePath, from))
	case domain.VerificationEmail:
		return redirect(withReturn(VerifyEmailPath, from))
	}
	return render
}

// Meta is per-route guard metadata.
type Meta struct {
	GuestOnly   bool
	RequireAuth bool
	// Roles, when set, restricts the route to users the policy allows.
	Roles                  RolePolicy
	RequireCompleteProfile bool
	RequireVerified        bool
}

// Evaluate applies m's guards in order (guest, auth, role, profile, verified)
// and returns the first decision that is not Render.
func Evaluate(ctx context.Context, m Meta, s State, path string) Decision {
	checks := make([]func() Decision, 0, 5)
	if m.GuestOnly {
		checks = append(checks, func() Decision { return GuestOnly(s) })
	}
	if m.RequireAuth {
		checks = append(checks, func() Decision { return Authenticated(s) })
	}
	if m.Roles != nil {
		checks = append(checks, func() Decision { return Role(ctx, s, m.Roles) })
	}
	if m.RequireCompleteProfile {
		checks = append(checks, func() Decision { return CompleteProfile(s) })
	}
	if m.RequireVerified {
		checks = append(checks, func() Decision { return Verified(s, path) })
	}
	for _, c := range checks {
		if d := c(); d.Outcome != Render {
			return d
		}
	}
	return render
}

package session

import "storefront/internal/user/domain"

// Step is where the visitor should go after an operation.
type Step int

const (
	// StepNone keeps the visitor on the current page (e.g. to enter an OTP).
	StepNone Step = iota
	StepCompleteProfile
	StepVerifyPhone
	StepVerifyEmail
	StepAccount
	StepLogin
)

var stepPaths = map[Step]string{
	StepCompleteProfile: "/auth/complete-profile",
	StepVerifyPhone:     "/auth/verify-phone",
	StepVerifyEmail:     "/auth/send-verification-email",
	StepAccount:         "/user",
	StepLogin:           "/auth/login",
}

// Path is the page for s, or "" for StepNone.
func (s Step) Path() string { return stepPaths[s] }

func (s Step) String() string {
	switch s {
	case StepCompleteProfile:
		return "complete_profile"
	case StepVerifyPhone:
		return "verify_phone"
	case StepVerifyEmail:
		return "verify_email"
	case StepAccount:
		return "account"
	case StepLogin:
		return "login"
	default:
		return "none"
	}
}

// Result is what every session operation returns. Failure detail lives in the
// session's error slot, never in Result.
type Result struct {
	OK   bool
	Next Step
}

// verificationStep applies phone-before-email precedence.
func verificationStep(u *domain.User) Step {
	if u == nil {
		return StepLogin
	}
	switch u.PendingVerification() {
	case domain.VerificationPhone:
		return StepVerifyPhone
	case domain.VerificationEmail:
		return StepVerifyEmail
	default:
		return StepAccount
	}
}

// googleStep routes an OAuth sign-in: accounts missing the basic profile complete it first,
// everything else continues with verification.
func googleStep(u *domain.User) Step {
	if !u.HasBasicProfile() {
		return StepCompleteProfile
	}
	return verificationStep(u)
}

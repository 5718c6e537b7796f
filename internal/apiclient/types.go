package apiclient

import "storefront/internal/user/domain"

// Endpoint paths relative to the API base URL.
const (
	PathRegisterPhone       = "/auth/register/phone"
	PathRegisterPhoneVerify = "/auth/register/phone/verify"
	PathLoginPhone          = "/auth/login/phone"
	PathLoginPhoneVerify    = "/auth/login/phone/verify"
	PathProfileComplete     = "/auth/profile/complete"
	PathResendVerification  = "/auth/resend-verification-email"
	PathVerifyEmail         = "/auth/verify-email"
	PathAddPhone            = "/auth/add-phone"
	PathVerifyPhoneOTP      = "/auth/verify-phone-otp"
	PathTokenRefresh        = "/auth/token/refresh"
	PathLogout              = "/auth/logout"
	PathMe                  = "/users/me"
)

// RefreshCookieName is the HTTP-only cookie the API keeps the refresh credential in.
const RefreshCookieName = "refreshToken"

// AuthResponse is returned by the OTP verification endpoints.
type AuthResponse struct {
	AccessToken string       `json:"accessToken"`
	User        *domain.User `json:"user"`
	// Status is the HTTP status the API answered with.
	Status int `json:"-"`
}

type userEnvelope struct {
	User *domain.User `json:"user"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type phoneCodeRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

// ProfileInput is the profile-completion form.
type ProfileInput struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Address     string `json:"address,omitempty"`
	City        string `json:"city,omitempty"`
	Country     string `json:"country,omitempty"`
}

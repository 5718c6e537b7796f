package session

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"storefront/internal/apiclient"
	"storefront/internal/autherr"
)

// Default messages used when the API does not supply one.
const (
	msgSendOTP        = "Failed to send OTP. Please try again."
	msgRegistration   = "Registration failed. Please try again."
	msgLogin          = "Login failed. Please try again."
	msgProfile        = "Failed to complete profile. Please try again."
	msgSendEmail      = "Failed to send verification email. Please try again."
	msgVerifyEmail    = "Email verification failed. The link may have expired."
	msgGoogle         = "Google authentication failed. Please try again."
	msgAddPhone       = "Failed to add phone number. Please try again."
	msgPhoneVerify    = "Phone verification failed. Please try again."
	msgFetchUser      = "Failed to load your account. Please try again."
	msgPhoneRequired  = "Phone number is required"
	msgOTPRequired    = "Phone number and OTP are required"
	msgTokenRequired  = "Verification token is missing"
	msgFieldsRequired = "Please fill in all required fields"
)

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func requirePhone(phone string) func() (Step, *autherr.Error) {
	return func() (Step, *autherr.Error) {
		if blank(phone) {
			return StepNone, autherr.Validation(msgPhoneRequired, "REQUIRED", "phone")
		}
		return StepNone, nil
	}
}

func requirePhoneAndOTP(phone, otp string) (Step, *autherr.Error) {
	var missing []string
	if blank(phone) {
		missing = append(missing, "phone")
	}
	if blank(otp) {
		missing = append(missing, "otp")
	}
	if len(missing) > 0 {
		return StepNone, autherr.Validation(msgOTPRequired, "REQUIRED", missing...)
	}
	return StepNone, nil
}

// RegisterWithPhone asks the API to send a registration OTP.
func (s *Session) RegisterWithPhone(ctx context.Context, phone string) Result {
	phone = strings.TrimSpace(phone)
	return s.run(ctx, op{
		name:      "register_with_phone",
		message:   msgSendOTP,
		check:     requirePhone(phone),
		throttled: true,
		call: func(ctx context.Context) (Step, error) {
			return StepNone, s.api.RequestRegistrationOTP(ctx, phone)
		},
	})
}

// VerifyOTPForRegistration creates the account. On success the credential and user
// are replaced and the visitor continues to profile completion.
func (s *Session) VerifyOTPForRegistration(ctx context.Context, phone, otp string) Result {
	phone, otp = strings.TrimSpace(phone), strings.TrimSpace(otp)
	return s.run(ctx, op{
		name:    "verify_otp_for_registration",
		message: msgRegistration,
		check:   func() (Step, *autherr.Error) { return requirePhoneAndOTP(phone, otp) },
		call: func(ctx context.Context) (Step, error) {
			resp, err := s.api.VerifyRegistrationOTP(ctx, phone, otp)
			if err != nil {
				return StepNone, err
			}
			if err := s.signIn(ctx, resp, http.StatusCreated, msgRegistration); err != nil {
				return StepNone, err
			}
			return StepCompleteProfile, nil
		},
	})
}

// LoginWithPhone asks the API to send a login OTP.
func (s *Session) LoginWithPhone(ctx context.Context, phone string) Result {
	phone = strings.TrimSpace(phone)
	return s.run(ctx, op{
		name:      "login_with_phone",
		message:   msgSendOTP,
		check:     requirePhone(phone),
		throttled: true,
		call: func(ctx context.Context) (Step, error) {
			return StepNone, s.api.RequestLoginOTP(ctx, phone)
		},
	})
}

// VerifyOTPForLogin signs an existing account in.
func (s *Session) VerifyOTPForLogin(ctx context.Context, phone, otp string) Result {
	phone, otp = strings.TrimSpace(phone), strings.TrimSpace(otp)
	return s.run(ctx, op{
		name:    "verify_otp_for_login",
		message: msgLogin,
		check:   func() (Step, *autherr.Error) { return requirePhoneAndOTP(phone, otp) },
		call: func(ctx context.Context) (Step, error) {
			resp, err := s.api.VerifyLoginOTP(ctx, phone, otp)
			if err != nil {
				return StepNone, err
			}
			if err := s.signIn(ctx, resp, http.StatusOK, msgLogin); err != nil {
				return StepNone, err
			}
			return StepAccount, nil
		},
	})
}

// signIn stores the credential and user from an OTP verification that answered with want.
func (s *Session) signIn(ctx context.Context, resp *apiclient.AuthResponse, want int, message string) error {
	if resp == nil || resp.Status != want || resp.AccessToken == "" || resp.User == nil {
		return autherr.New(autherr.KindServer, message, "UNEXPECTED_AUTH_RESPONSE")
	}
	s.storeCredential(ctx, resp.AccessToken)
	s.setUser(resp.User)
	return nil
}

// CompleteProfile submits the profile form. The next step follows verification precedence.
func (s *Session) CompleteProfile(ctx context.Context, in apiclient.ProfileInput) Result {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	return s.run(ctx, op{
		name:    "complete_profile",
		message: msgProfile,
		check: func() (Step, *autherr.Error) {
			var missing []string
			for _, f := range []struct{ name, v string }{
				{"firstName", in.FirstName}, {"lastName", in.LastName}, {"email", in.Email},
			} {
				if f.v == "" {
					missing = append(missing, f.name)
				}
			}
			if len(missing) > 0 {
				return StepNone, autherr.Validation(msgFieldsRequired, "REQUIRED_FIELDS", missing...)
			}
			return StepNone, nil
		},
		call: func(ctx context.Context) (Step, error) {
			u, err := s.api.CompleteProfile(ctx, in)
			if err != nil {
				return StepNone, err
			}
			if u == nil {
				return StepNone, autherr.New(autherr.KindServer, msgProfile, "UNEXPECTED_AUTH_RESPONSE")
			}
			s.setUser(u)
			return verificationStep(u), nil
		},
	})
}

// SendVerificationEmail mails a verification link to the user's email.
func (s *Session) SendVerificationEmail(ctx context.Context) Result {
	var email string
	return s.run(ctx, op{
		name:    "send_verification_email",
		message: msgSendEmail,
		check: func() (Step, *autherr.Error) {
			u := s.User()
			switch {
			case u == nil:
				return StepLogin, autherr.New(autherr.KindAuthentication, autherr.MsgAuthentication, "NOT_SIGNED_IN")
			case blank(u.Email):
				return StepCompleteProfile, autherr.Precondition("Add an email address before verifying it", "EMAIL_MISSING")
			case u.IsEmailVerified:
				return StepAccount, autherr.Precondition("Your email is already verified", "EMAIL_ALREADY_VERIFIED")
			}
			email = u.Email
			return StepNone, nil
		},
		throttled: true,
		call: func(ctx context.Context) (Step, error) {
			return StepNone, s.api.ResendVerificationEmail(ctx, email)
		},
	})
}

// VerifyEmailFromLink consumes the token from a verification email, then re-fetches
// the user when signed in.
func (s *Session) VerifyEmailFromLink(ctx context.Context, token string) Result {
	token = strings.TrimSpace(token)
	return s.run(ctx, op{
		name:    "verify_email_from_link",
		message: msgVerifyEmail,
		check: func() (Step, *autherr.Error) {
			if token == "" {
				return StepLogin, autherr.Validation(msgTokenRequired, "REQUIRED", "token")
			}
			if u := s.User(); u != nil && u.IsEmailVerified {
				return StepAccount, autherr.Precondition("Your email is already verified", "EMAIL_ALREADY_VERIFIED")
			}
			return StepNone, nil
		},
		call: func(ctx context.Context) (Step, error) {
			if err := s.api.VerifyEmail(ctx, token); err != nil {
				return StepNone, err
			}
			if _, ok := s.tokens.Get(ctx); !ok {
				return StepLogin, nil
			}
			u, err := s.api.Me(ctx)
			if err != nil {
				return StepNone, err
			}
			s.setUser(u)
			return verificationStep(u), nil
		},
		onError: func(*autherr.Error) Step { return StepLogin },
	})
}

// HandleGoogleCallback adopts the credentials an OAuth redirect carried and loads the user.
// refreshToken is optional; without it the session ends when the access token expires.
func (s *Session) HandleGoogleCallback(ctx context.Context, accessToken, refreshToken string) Result {
	accessToken, refreshToken = strings.TrimSpace(accessToken), strings.TrimSpace(refreshToken)
	return s.run(ctx, op{
		name:    "handle_google_callback",
		message: msgGoogle,
		check: func() (Step, *autherr.Error) {
			if accessToken == "" {
				return StepLogin, autherr.Precondition(msgGoogle, "GOOGLE_AUTH_FAILED")
			}
			return StepNone, nil
		},
		call: func(ctx context.Context) (Step, error) {
			if err := s.api.AdoptRefreshToken(refreshToken); err != nil {
				s.logger.Warn("adopt refresh token", zap.Error(err))
			}
			s.storeCredential(ctx, accessToken)
			u, err := s.api.Me(ctx)
			if err != nil {
				s.storeCredential(ctx, "")
				return StepLogin, err
			}
			s.setUser(u)
			return googleStep(u), nil
		},
		onError: func(*autherr.Error) Step { return StepLogin },
	})
}

// phoneCheck rejects phone operations for signed-out visitors and verified phones.
func (s *Session) phoneCheck() (Step, *autherr.Error) {
	u := s.User()
	if u == nil {
		return StepLogin, autherr.New(autherr.KindAuthentication, autherr.MsgAuthentication, "NOT_SIGNED_IN")
	}
	if u.IsPhoneVerified {
		return verificationStep(u), autherr.Precondition("Your phone number is already verified", "PHONE_ALREADY_VERIFIED")
	}
	return StepNone, nil
}

// AddPhoneForGoogleUser attaches a phone to an OAuth account and sends it an OTP.
func (s *Session) AddPhoneForGoogleUser(ctx context.Context, phone string) Result {
	phone = strings.TrimSpace(phone)
	return s.run(ctx, op{
		name:    "add_phone_for_google_user",
		message: msgAddPhone,
		check: func() (Step, *autherr.Error) {
			if next, err := requirePhone(phone)(); err != nil {
				return next, err
			}
			return s.phoneCheck()
		},
		throttled: true,
		call: func(ctx context.Context) (Step, error) {
			return StepNone, s.api.AddPhone(ctx, phone)
		},
	})
}

// VerifyOTPForPhoneVerification verifies the OTP sent by AddPhoneForGoogleUser and reloads the user.
func (s *Session) VerifyOTPForPhoneVerification(ctx context.Context, phone, otp string) Result {
	phone, otp = strings.TrimSpace(phone), strings.TrimSpace(otp)
	return s.run(ctx, op{
		name:    "verify_otp_for_phone_verification",
		message: msgPhoneVerify,
		check: func() (Step, *autherr.Error) {
			if next, err := requirePhoneAndOTP(phone, otp); err != nil {
				return next, err
			}
			return s.phoneCheck()
		},
		call: func(ctx context.Context) (Step, error) {
			if err := s.api.VerifyPhoneOTP(ctx, phone, otp); err != nil {
				return StepNone, err
			}
			u, err := s.api.Me(ctx)
			if err != nil {
				return StepNone, err
			}
			s.setUser(u)
			return verificationStep(u), nil
		},
	})
}

// RefreshUser re-fetches the user. Without a credential it signs the session out locally.
func (s *Session) RefreshUser(ctx context.Context) Result {
	return s.run(ctx, op{
		name:    "refresh_user",
		message: msgFetchUser,
		call: func(ctx context.Context) (Step, error) {
			if _, ok := s.tokens.Get(ctx); !ok {
				s.setUser(nil)
				return StepLogin, nil
			}
			u, err := s.api.Me(ctx)
			if err != nil {
				return StepNone, err
			}
			s.setUser(u)
			return StepNone, nil
		},
		onError: func(e *autherr.Error) Step {
			if e.Kind == autherr.KindAuthentication {
				return StepLogin
			}
			return StepNone
		},
	})
}

// Logout revokes the refresh credential server-side, then drops the local credential
// and user. A failed server call is logged; the local sign-out always happens.
func (s *Session) Logout(ctx context.Context) Result {
	return s.run(ctx, op{
		name: "logout",
		call: func(ctx context.Context) (Step, error) {
			if err := s.api.Logout(ctx); err != nil {
				s.logger.Warn("server logout failed; clearing local session", zap.Error(err))
			}
			s.storeCredential(ctx, "")
			s.setUser(nil)
			return StepLogin, nil
		},
	})
}

package web

import (
	"context"
	"net/http"
	"strings"

	"storefront/internal/apiclient"
	"storefront/internal/guard"
	"storefront/internal/session"
)

// Form posts follow Post/Redirect/Get: run the session operation, then redirect
// to the step it names. Failures keep the visitor on the form; the error is shown
// from the session's error slot.

func (s *Server) redirect(w http.ResponseWriter, r *http.Request, loc string) {
	http.Redirect(w, r, loc, http.StatusSeeOther)
}

// next picks where to go after res. A finished flow (StepAccount) honours
// returnURL; StepNone stays on back.
func next(res session.Result, back, returnURL string) string {
	if res.OK && res.Next == session.StepAccount && returnURL != "" {
		return returnURL
	}
	if p := res.Next.Path(); p != "" {
		return p
	}
	return back
}

func formValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.PostFormValue(key))
}

func (s *Server) sendLoginOTP(w http.ResponseWriter, r *http.Request) {
	s.sendOTP(w, r, "/auth/login", mustSession(r).LoginWithPhone)
}

func (s *Server) sendRegistrationOTP(w http.ResponseWriter, r *http.Request) {
	s.sendOTP(w, r, "/auth/register", mustSession(r).RegisterWithPhone)
}

func (s *Server) addPhone(w http.ResponseWriter, r *http.Request) {
	s.sendOTP(w, r, "/auth/verify-phone", mustSession(r).AddPhoneForGoogleUser)
}

func (s *Server) verifyLoginOTP(w http.ResponseWriter, r *http.Request) {
	s.verifyOTP(w, r, "/auth/login", mustSession(r).VerifyOTPForLogin)
}

func (s *Server) verifyRegistrationOTP(w http.ResponseWriter, r *http.Request) {
	s.verifyOTP(w, r, "/auth/register", mustSession(r).VerifyOTPForRegistration)
}

func (s *Server) verifyPhoneOTP(w http.ResponseWriter, r *http.Request) {
	s.verifyOTP(w, r, "/auth/verify-phone", mustSession(r).VerifyOTPForPhoneVerification)
}

// sendOTP sends a code for the phone form at back. The number and whether a
// code went out stay in the session, never in the redirect URL.
func (s *Server) sendOTP(w http.ResponseWriter, r *http.Request, back string, send func(context.Context, string) session.Result) {
	sess := mustSession(r)
	phone := formValue(r, "phone")
	returnURL := safeReturn(formValue(r, guard.ReturnURLParam))
	res := send(r.Context(), phone)
	prev := sess.PhoneForm(back)
	sess.SetPhoneForm(back, session.PhoneForm{Phone: phone, Sent: res.OK || (prev.Sent && prev.Phone == phone)})
	if res.OK {
		s.redirect(w, r, formURL(back, returnURL))
		return
	}
	s.redirect(w, r, next(res, formURL(back, returnURL), returnURL))
}

func (s *Server) verifyOTP(w http.ResponseWriter, r *http.Request, back string, verify func(context.Context, string, string) session.Result) {
	sess := mustSession(r)
	phone := formValue(r, "phone")
	if phone == "" {
		phone = sess.PhoneForm(back).Phone
	}
	returnURL := safeReturn(formValue(r, guard.ReturnURLParam))
	res := verify(r.Context(), phone, formValue(r, "otp"))
	if res.OK {
		sess.SetPhoneForm(back, session.PhoneForm{})
	}
	s.redirect(w, r, next(res, formURL(back, returnURL), returnURL))
}

func (s *Server) completeProfile(w http.ResponseWriter, r *http.Request) {
	in := apiclient.ProfileInput{
		FirstName:   formValue(r, "firstName"),
		LastName:    formValue(r, "lastName"),
		Email:       formValue(r, "email"),
		DateOfBirth: formValue(r, "dateOfBirth"),
		Gender:      formValue(r, "gender"),
		Bio:         formValue(r, "bio"),
		Address:     formValue(r, "address"),
		City:        formValue(r, "city"),
		Country:     formValue(r, "country"),
	}
	res := mustSession(r).CompleteProfile(r.Context(), in)
	s.redirect(w, r, next(res, "/auth/complete-profile", ""))
}

func (s *Server) sendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	res := mustSession(r).SendVerificationEmail(r.Context())
	if res.OK {
		s.redirect(w, r, "/auth/send-verification-email?sent=1")
		return
	}
	s.redirect(w, r, next(res, "/auth/send-verification-email", ""))
}

func (s *Server) refreshUser(w http.ResponseWriter, r *http.Request) {
	res := mustSession(r).RefreshUser(r.Context())
	s.redirect(w, r, next(res, "/user", ""))
}

func (s *Server) clearError(w http.ResponseWriter, r *http.Request) {
	mustSession(r).ClearError()
	back := safeReturn(formValue(r, "back"))
	if back == "" {
		back = "/"
	}
	s.redirect(w, r, back)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	res := mustSession(r).Logout(r.Context())
	s.redirect(w, r, next(res, guard.LoginPath, ""))
}

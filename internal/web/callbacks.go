package web

import (
	"net/http"

	"storefront/internal/guard"
)

// GoogleAuthFailed is the error query value the login page receives after a failed OAuth callback.
const GoogleAuthFailed = "GoogleAuthFailed"

// googleCallback takes the tokens from the OAuth redirect's query and hands them to the session.
func (s *Server) googleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := mustSession(r).HandleGoogleCallback(r.Context(), q.Get("accessToken"), q.Get("refreshToken"))
	if !res.OK {
		http.Redirect(w, r, guard.LoginPath+"?error="+GoogleAuthFailed, http.StatusFound)
		return
	}
	http.Redirect(w, r, next(res, guard.LoginPath, ""), http.StatusFound)
}

// verifyEmail consumes the token from a verification email link.
func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	res := mustSession(r).VerifyEmailFromLink(r.Context(), r.URL.Query().Get("token"))
	http.Redirect(w, r, next(res, guard.LoginPath, ""), http.StatusFound)
}

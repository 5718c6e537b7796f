package web

import (
	"net/http"
	"net/url"
	"strings"

	"storefront/internal/autherr"
	"storefront/internal/guard"
	"storefront/internal/session"
	"storefront/internal/user/domain"
)

// pageData is what every template receives.
type pageData struct {
	Title string
	// Path is the current request URI, used as the return target of error dismissal.
	Path    string
	User    *domain.User
	Err     *autherr.Error
	Refresh int

	// Phone/OTP forms.
	Action    string
	Phone     string
	OTPSent   bool
	ReturnURL string

	// Sent is set after a verification email went out.
	Sent bool
}

func mustSession(r *http.Request) *session.Session {
	s, ok := SessionFrom(r.Context())
	if !ok {
		panic("web: handler reached without a visitor session")
	}
	return s
}

func (s *Server) data(r *http.Request, title string) pageData {
	snap := mustSession(r).Snapshot()
	return pageData{
		Title: title,
		Path:  r.URL.RequestURI(),
		User:  snap.User,
		Err:   snap.Err,
	}
}

func (s *Server) page(name, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.pages.Render(w, http.StatusOK, name, s.data(r, title))
	}
}

// phonePage renders a two-step phone form: the phone field, then the OTP field
// once the session says a code went out for this form.
func (s *Server) phonePage(name, title, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := mustSession(r).PhoneForm(action)
		d := s.data(r, title)
		d.Action = action
		d.Phone = f.Phone
		d.OTPSent = f.Sent && f.Phone != ""
		d.ReturnURL = safeReturn(r.URL.Query().Get(guard.ReturnURLParam))
		s.pages.Render(w, http.StatusOK, name, d)
	}
}

func (s *Server) sendEmailPage(w http.ResponseWriter, r *http.Request) {
	d := s.data(r, "Verify your email")
	d.Sent = r.URL.Query().Get("sent") == "1"
	s.pages.Render(w, http.StatusOK, "send_verification_email", d)
}

func (s *Server) forbidden(w http.ResponseWriter, r *http.Request) {
	s.pages.Render(w, http.StatusForbidden, "forbidden", s.data(r, "Not authorized"))
}

// guarded evaluates meta against the visitor's session before the page handler runs.
func (s *Server) guarded(meta guard.Meta) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := mustSession(r).Snapshot()
			state := guard.State{User: snap.User, Loading: snap.Loading, Initialized: snap.Initialized}
			d := guard.Evaluate(r.Context(), meta, state, r.URL.RequestURI())
			switch d.Outcome {
			case guard.Render:
				next.ServeHTTP(w, r)
			case guard.Redirect:
				http.Redirect(w, r, d.Location, http.StatusFound)
			case guard.Forbidden:
				s.forbidden(w, r)
			case guard.Loading:
				pd := s.data(r, "")
				pd.Refresh = 1
				w.Header().Set("Cache-Control", "no-store")
				s.pages.Render(w, http.StatusOK, "loading", pd)
			default:
				w.WriteHeader(http.StatusNoContent)
			}
		})
	}
}

// safeReturn accepts only local absolute paths, so a returnUrl can never send the
// visitor off-site.
func safeReturn(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return ""
	}
	return raw
}

// formURL builds path?returnUrl=.. when returnURL is set.
func formURL(path, returnURL string) string {
	if returnURL == "" {
		return path
	}
	return path + "?" + url.Values{guard.ReturnURLParam: {returnURL}}.Encode()
}

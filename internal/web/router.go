// Package web serves the storefront's auth pages and protected areas. Every
// request is bound to the visitor's session; route guards decide what renders.
package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"storefront/internal/guard"
	"storefront/internal/session"
	"storefront/internal/telemetry"
)

// Config holds what the router needs.
type Config struct {
	Registry  *session.Registry
	Templates *Templates
	Logger    *zap.Logger
	// AdminPolicy restricts /admin. Nil uses guard.AdminRoles.
	AdminPolicy guard.RolePolicy
	// Events receives one http_request event per page request. Optional.
	Events       telemetry.EventEmitter
	CookieSecure bool
	// VisitorTTL is the visitor cookie lifetime; 0 makes it a browser-session cookie.
	VisitorTTL time.Duration
	// Checks run on /healthz.
	Checks []HealthCheck
}

// Server holds the handlers.
type Server struct {
	pages  *Templates
	logger *zap.Logger
	checks []HealthCheck
}

// NewRouter returns the storefront HTTP handler.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.AdminPolicy == nil {
		cfg.AdminPolicy = guard.AdminRoles
	}
	s := &Server{pages: cfg.Templates, logger: cfg.Logger, checks: cfg.Checks}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogging(cfg.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.health)

	guest := guard.Meta{GuestOnly: true}
	auth := guard.Meta{RequireAuth: true}
	verified := guard.Meta{RequireAuth: true, RequireVerified: true}
	admin := guard.Meta{RequireAuth: true, Roles: cfg.AdminPolicy}

	// Pages only read the session.
	r.Group(func(r chi.Router) {
		r.Use(visitorSession(cfg.Registry, cfg.CookieSecure, cfg.VisitorTTL, true))
		r.Use(requestTelemetry(cfg.Events, cfg.Logger, nil))

		r.Get("/", s.page("home", ""))
		r.Get("/403", s.forbidden)

		r.With(s.guarded(guest)).Get("/auth/login", s.phonePage("login", "Log in", "/auth/login"))
		r.With(s.guarded(guest)).Get("/auth/register", s.phonePage("register", "Register", "/auth/register"))
		r.With(s.guarded(auth)).Get("/auth/complete-profile", s.page("complete_profile", "Complete your profile"))
		r.With(s.guarded(auth)).Get("/auth/verify-phone", s.phonePage("verify_phone", "Verify your phone", "/auth/verify-phone"))
		r.With(s.guarded(auth)).Get("/auth/send-verification-email", s.sendEmailPage)

		r.With(s.guarded(auth)).Get("/dashboard", s.page("dashboard", "Dashboard"))
		r.With(s.guarded(verified)).Get("/user", s.page("account", "Your account"))
		r.With(s.guarded(verified)).Get("/profile", s.page("account", "Your account"))
		r.With(s.guarded(admin)).Get("/admin", s.page("admin", "Admin"))
	})

	// Form posts and callbacks run session operations.
	r.Group(func(r chi.Router) {
		r.Use(visitorSession(cfg.Registry, cfg.CookieSecure, cfg.VisitorTTL, false))
		r.Use(requestTelemetry(cfg.Events, cfg.Logger, nil))

		r.Post("/auth/login", s.sendLoginOTP)
		r.Post("/auth/login/verify", s.verifyLoginOTP)
		r.Post("/auth/register", s.sendRegistrationOTP)
		r.Post("/auth/register/verify", s.verifyRegistrationOTP)
		r.Post("/auth/complete-profile", s.completeProfile)
		r.Post("/auth/verify-phone", s.addPhone)
		r.Post("/auth/verify-phone/verify", s.verifyPhoneOTP)
		r.Post("/auth/send-verification-email", s.sendVerificationEmail)

		r.Get("/auth/verify-email", s.verifyEmail)
		r.Get("/auth/google/callback", s.googleCallback)
		r.Get("/auth/google-callback", s.googleCallback)

		r.Post("/auth/error/clear", s.clearError)
		r.Post("/auth/logout", s.logout)
		r.Post("/user/refresh", s.refreshUser)
	})
	return r
}

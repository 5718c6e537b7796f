package web

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront/internal/session"
	"storefront/internal/telemetry"
)

// VisitorCookie names the cookie that identifies a visitor's session.
const VisitorCookie = "sf_visitor"

// requestLogging logs each request with its request id and stores the
// request-scoped logger in the context.
func requestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := logger.With(zap.String("request_id", chimw.GetReqID(r.Context())))
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(withLogger(r.Context(), reqLogger)))
			reqLogger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// visitorSession resolves the sf_visitor cookie to the visitor's session. Routes
// that run session operations (eager) mint a visitor id for new or malformed
// cookies. Read-only routes (lazy) serve cookieless visitors from an anonymous
// session instead, so crawlers never occupy the registry.
func visitorSession(reg *session.Registry, secure bool, maxAge time.Duration, lazy bool) func(http.Handler) http.Handler {
	anonymous := session.Anonymous()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(VisitorCookie); err == nil {
				if _, err := uuid.Parse(c.Value); err == nil {
					id = c.Value
				}
			}
			if id == "" && lazy {
				next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), anonymous)))
				return
			}
			if id == "" {
				id = uuid.NewString()
			}
			cookie := &http.Cookie{
				Name:     VisitorCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   secure,
				SameSite: http.SameSiteLaxMode,
			}
			if maxAge > 0 {
				cookie.MaxAge = int(maxAge.Seconds())
			}
			http.SetCookie(w, cookie)

			s, err := reg.Get(r.Context(), id)
			if err != nil {
				loggerFrom(r.Context(), zap.NewNop()).Error("load visitor session", zap.Error(err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			ctx := WithSession(r.Context(), s)
			ctx = withLogger(ctx, loggerFrom(ctx, zap.NewNop()).With(zap.String("visitor_id", id)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestTelemetry emits an http_request event after each request. Best-effort:
// emit failures are logged. Paths in skip are not emitted.
func requestTelemetry(emitter telemetry.EventEmitter, logger *zap.Logger, skip map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if emitter == nil || skip[r.URL.Path] {
				return
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			ev := &telemetry.Event{
				Type:    "http_request",
				Outcome: telemetry.OutcomeSuccess,
				Source:  telemetry.SourceStorefront,
				Metadata: map[string]string{
					"method":      r.Method,
					"route":       route,
					"status_code": strconv.Itoa(ww.Status()),
					"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
					"client_ip":   clientIP(r),
				},
			}
			if ww.Status() >= http.StatusInternalServerError {
				ev.Outcome = telemetry.OutcomeFailure
			}
			if s, ok := SessionFrom(r.Context()); ok {
				ev.VisitorID = s.VisitorID()
				if u := s.User(); u != nil {
					ev.UserID = u.ID
				}
			}
			telemetry.EmitAsync(r.Context(), emitter, ev, logger)
		})
	}
}

// clientIP prefers X-Forwarded-For, then X-Real-IP, then the peer address.
func clientIP(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		if i := strings.Index(v, ","); i > 0 {
			v = v[:i]
		}
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(r.Header.Get("X-Real-IP")); s != "" {
		return s
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

package web

import (
	"context"

	"go.uber.org/zap"

	"storefront/internal/session"
)

type contextKey struct{ name string }

var (
	sessionKey = contextKey{"session"}
	loggerKey  = contextKey{"logger"}
)

// WithSession returns a context carrying the visitor's session.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFrom returns the visitor's session and true if set; otherwise nil, false.
func SessionFrom(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*session.Session)
	return s, ok && s != nil
}

func withLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// loggerFrom returns the request-scoped logger, or fallback.
func loggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return fallback
}

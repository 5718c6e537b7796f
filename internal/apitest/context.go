package apitest

import "context"

type contextKey struct{ name string }

var userIDKey = contextKey{"user_id"}

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// userIDFrom returns the authenticated user id set by requireAccess, or "".
func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"storefront/internal/tokenstore"
)

type contextKey struct{ name string }

var retriedKey = &contextKey{"retried"}

// WithRetried marks ctx so the Transport passes a 401 through instead of refreshing.
func WithRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey, true)
}

func isRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey).(bool)
	return v
}

// ErrBodyNotReplayable is returned when a request that needs a retry has a body without GetBody.
var ErrBodyNotReplayable = errors.New("apiclient: request body cannot be replayed after refresh")

// Refresher obtains a new access credential. It must not go through the refreshing Transport.
type Refresher func(ctx context.Context) (string, error)

// Transport attaches the stored bearer token and recovers from 401 with one shared refresh.
// Requests that fault while a refresh is in flight wait for it and retry with its result.
type Transport struct {
	Base    http.RoundTripper
	Tokens  tokenstore.Store
	Refresh Refresher
	// Expire runs after a failed refresh has cleared the stored token; token is the credential that failed.
	Expire func(ctx context.Context, token string)
	// RefreshTimeout bounds a refresh independently of the request that started it.
	RefreshTimeout time.Duration
	Logger         *zap.Logger
	// OnRefresh observes every settled refresh.
	OnRefresh func(ctx context.Context, err error)

	// mu orders "token still stale?" checks against the refresh storing its result,
	// so a caller either joins the in-flight refresh or sees the new token.
	mu    sync.Mutex
	group singleflight.Group
	// failed is the credential whose refresh failed; late 401s carrying it get failedErr.
	failed    string
	failedErr error
}

const refreshKey = "refresh"

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logger() *zap.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return zap.NewNop()
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	token, _ := t.Tokens.Get(ctx)

	resp, err := t.base().RoundTrip(authorize(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized || isRetried(ctx) {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}
	drain(resp)

	fresh, err := t.recoverToken(ctx, token)
	if err != nil {
		return nil, err
	}
	retry, err := replay(req, fresh)
	if err != nil {
		return nil, err
	}
	return t.base().RoundTrip(retry)
}

// recoverToken returns a usable token after a 401 produced with stale.
func (t *Transport) recoverToken(ctx context.Context, stale string) (string, error) {
	t.mu.Lock()
	if cur, ok := t.Tokens.Get(ctx); ok && cur != stale {
		t.mu.Unlock()
		return cur, nil
	}
	if stale != "" && stale == t.failed {
		err := t.failedErr
		t.mu.Unlock()
		return "", err
	}
	refreshCtx := context.WithoutCancel(ctx)
	ch := t.group.DoChan(refreshKey, func() (any, error) {
		return t.refresh(refreshCtx, stale)
	})
	t.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *Transport) refresh(ctx context.Context, stale string) (token string, err error) {
	if t.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.RefreshTimeout)
		defer cancel()
	}
	log := t.logger()
	if exp, ok := tokenExpiry(stale); ok {
		log.Debug("refreshing access token", zap.Time("expired_at", exp))
	} else {
		log.Debug("refreshing access token")
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("apiclient: refresh panicked: %v", r)
			}
		}()
		token, err = t.Refresh(ctx)
	}()
	if err == nil && token == "" {
		err = errors.New("apiclient: refresh returned no access token")
	}

	t.mu.Lock()
	if err != nil {
		t.Tokens.Set(ctx, "")
		t.failed, t.failedErr = stale, err
	} else {
		t.Tokens.Set(ctx, token)
		t.failed, t.failedErr = "", nil
	}
	t.mu.Unlock()

	if err != nil {
		log.Warn("token refresh failed; clearing credentials", zap.Error(err))
		if t.Expire != nil {
			t.Expire(ctx, stale)
		}
	}
	if t.OnRefresh != nil {
		t.OnRefresh(ctx, err)
	}
	return token, err
}

func authorize(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	return out
}

func replay(req *http.Request, token string) (*http.Request, error) {
	out := authorize(req.WithContext(WithRetried(req.Context())), token)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, ErrBodyNotReplayable
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	return out, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// tokenExpiry reads exp from a JWT without verifying it. Only used for logging.
func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

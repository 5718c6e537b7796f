// Package apiclient talks to the remote storefront REST API on behalf of one visitor.
// Each Client owns a cookie jar holding the API's refresh cookie and a Transport
// that keeps the visitor's access credential fresh.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"storefront/internal/autherr"
	"storefront/internal/tokenstore"
	"storefront/internal/user/domain"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API origin including the version prefix, without trailing slash.
	BaseURL string
	// BackendURL is the origin of the logout endpoint used when clearing credentials. Defaults to BaseURL.
	BackendURL string
	Timeout    time.Duration
	Tokens     tokenstore.Store
	// Base is the underlying transport; nil uses http.DefaultTransport.
	Base   http.RoundTripper
	Logger *zap.Logger
	// OnExpired is called after a failed refresh cleared the credentials.
	OnExpired func()
}

// Client is a per-visitor API client.
type Client struct {
	baseURL    string
	backendURL string
	tokens     tokenstore.Store
	http       *http.Client
	// raw shares the cookie jar but bypasses the refreshing Transport.
	raw       *http.Client
	transport *Transport
	jar       http.CookieJar
	logger    *zap.Logger
	onExpired func()
}

// New builds a Client with its own cookie jar.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("apiclient: BaseURL is required")
	}
	if cfg.Tokens == nil {
		cfg.Tokens = tokenstore.Nop{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport
	}
	base = otelhttp.NewTransport(base)

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		backendURL: strings.TrimRight(cfg.BackendURL, "/"),
		tokens:     cfg.Tokens,
		logger:     cfg.Logger,
		onExpired:  cfg.OnExpired,
		jar:        jar,
	}
	if c.backendURL == "" {
		c.backendURL = c.baseURL
	}
	c.raw = &http.Client{Jar: jar, Transport: base, Timeout: cfg.Timeout}
	c.transport = &Transport{
		Base:           base,
		Tokens:         cfg.Tokens,
		Refresh:        c.refreshToken,
		Expire:         c.expire,
		RefreshTimeout: cfg.Timeout,
		Logger:         cfg.Logger,
		OnRefresh:      refreshObserver(),
	}
	c.http = &http.Client{Jar: jar, Transport: c.transport, Timeout: cfg.Timeout}
	return c, nil
}

func refreshObserver() func(context.Context, error) {
	counter, err := otel.Meter("storefront/apiclient").Int64Counter(
		"storefront.auth.token_refresh",
		metric.WithDescription("Access token refresh attempts by outcome"),
	)
	if err != nil {
		otel.Handle(err)
		return nil
	}
	return func(ctx context.Context, err error) {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// RequestRegistrationOTP asks the API to send a registration OTP to phone.
func (c *Client) RequestRegistrationOTP(ctx context.Context, phone string) error {
	_, err := c.post(ctx, PathRegisterPhone, phoneRequest{Phone: phone}, nil)
	return err
}

// VerifyRegistrationOTP verifies a registration OTP. The API answers 201 on success.
func (c *Client) VerifyRegistrationOTP(ctx context.Context, phone, code string) (*AuthResponse, error) {
	var out AuthResponse
	status, err := c.post(ctx, PathRegisterPhoneVerify, phoneCodeRequest{Phone: phone, Code: code}, &out)
	if err != nil {
		return nil, err
	}
	out.Status = status
	return &out, nil
}

// RequestLoginOTP asks the API to send a login OTP to phone.
func (c *Client) RequestLoginOTP(ctx context.Context, phone string) error {
	_, err := c.post(ctx, PathLoginPhone, phoneRequest{Phone: phone}, nil)
	return err
}

// VerifyLoginOTP verifies a login OTP. The API answers 200 on success.
func (c *Client) VerifyLoginOTP(ctx context.Context, phone, code string) (*AuthResponse, error) {
	var out AuthResponse
	status, err := c.post(ctx, PathLoginPhoneVerify, phoneCodeRequest{Phone: phone, Code: code}, &out)
	if err != nil {
		return nil, err
	}
	out.Status = status
	return &out, nil
}

// CompleteProfile submits the profile form and returns the updated user.
func (c *Client) CompleteProfile(ctx context.Context, in ProfileInput) (*domain.User, error) {
	var out userEnvelope
	if _, err := c.post(ctx, PathProfileComplete, in, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// ResendVerificationEmail asks the API to mail a verification link to email.
func (c *Client) ResendVerificationEmail(ctx context.Context, email string) error {
	_, err := c.post(ctx, PathResendVerification, emailRequest{Email: email}, nil)
	return err
}

// VerifyEmail consumes an email verification token.
func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	_, err := c.post(ctx, PathVerifyEmail, tokenRequest{Token: token}, nil)
	return err
}

// AddPhone attaches phone to an OAuth account and triggers an OTP.
func (c *Client) AddPhone(ctx context.Context, phone string) error {
	_, err := c.post(ctx, PathAddPhone, phoneRequest{Phone: phone}, nil)
	return err
}

// VerifyPhoneOTP verifies the OTP sent by AddPhone.
func (c *Client) VerifyPhoneOTP(ctx context.Context, phone, code string) error {
	_, err := c.post(ctx, PathVerifyPhoneOTP, phoneCodeRequest{Phone: phone, Code: code}, nil)
	return err
}

// Me fetches the user bound to the current credential.
func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	var out userEnvelope
	if _, err := c.do(ctx, c.http, http.MethodGet, c.baseURL+PathMe, nil, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, autherr.New(autherr.KindServer, "", "EMPTY_USER")
	}
	return out.User, nil
}

// Logout revokes the refresh credential server-side.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.post(ctx, PathLogout, nil, nil)
	return err
}

// ClearCredentials is the token-clearing path: a best-effort server logout with
// the current bearer, then the local credential is dropped.
func (c *Client) ClearCredentials(ctx context.Context) {
	token, _ := c.tokens.Get(ctx)
	c.serverLogout(ctx, token)
	c.tokens.Set(ctx, "")
}

// AdoptRefreshToken places a refresh credential obtained outside the client (an
// OAuth redirect) into the cookie jar, where the refresh call picks it up.
func (c *Client) AdoptRefreshToken(token string) error {
	if token == "" {
		return nil
	}
	u, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return err
	}
	c.jar.SetCookies(u, []*http.Cookie{{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
	}})
	return nil
}

func (c *Client) expire(ctx context.Context, token string) {
	c.serverLogout(ctx, token)
	if c.onExpired != nil {
		c.onExpired()
	}
}

func (c *Client) serverLogout(ctx context.Context, token string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL+PathLogout, nil)
	if err != nil {
		return
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.raw.Do(req)
	if err != nil {
		c.logger.Debug("logout during credential clearing failed", zap.Error(err))
		return
	}
	drain(resp)
}

// refreshToken calls the refresh endpoint through the raw client so the refresh cookie
// in the jar is sent and a 401 here never recurses into the Transport.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	var out refreshResponse
	if _, err := c.do(ctx, c.raw, http.MethodPost, c.baseURL+PathTokenRefresh, nil, &out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) (int, error) {
	return c.do(ctx, c.http, http.MethodPost, c.baseURL+path, body, out)
}

// do issues a JSON request and decodes a 2xx body into out. Non-2xx responses
// become *autherr.Error; transport failures become Network errors unless the
// Transport already returned a classified error (a failed refresh).
func (c *Client) do(ctx context.Context, hc *http.Client, method, url string, body, out any) (int, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(url, c.baseURL), c.backendURL)
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		payload = b
	}
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return 0, autherr.FromTransport(endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, autherr.FromTransport(endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("api error response",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
		)
		return resp.StatusCode, autherr.FromResponse(endpoint, resp.StatusCode, data)
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			e := autherr.New(autherr.KindServer, "", "DECODE")
			e.Endpoint = endpoint
			e.Status = resp.StatusCode
			e.Err = err
			return resp.StatusCode, e
		}
	}
	return resp.StatusCode, nil
}

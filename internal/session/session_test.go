package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/apiclient"
	"storefront/internal/apitest"
	"storefront/internal/autherr"
	"storefront/internal/guard"
	"storefront/internal/telemetry"
	"storefront/internal/tokenstore"
	"storefront/internal/user/domain"
)

const (
	testPhone = "+919876543210"
	testOTP   = "123456"
)

type harness struct {
	s      *Session
	api    *apitest.Server
	tokens tokenstore.Store
	events *recordingEmitter
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []*telemetry.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e *telemetry.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type+":"+e.Outcome)
	}
	return out
}

func newHarness(t *testing.T, opts apitest.Options, sendRate int) *harness {
	t.Helper()
	return newHarnessWith(t, opts, sendRate, nil)
}

// newHarnessWith serves the fake API through override, which may answer a path
// itself and otherwise delegate to next.
func newHarnessWith(t *testing.T, opts apitest.Options, sendRate int, override func(next http.Handler) http.Handler) *harness {
	t.Helper()
	if opts.FixedOTP == "" {
		opts.FixedOTP = testOTP
	}
	api := apitest.New(opts)
	handler := api.Handler()
	if override != nil {
		handler = override(handler)
	}
	srv := &apitest.Server{API: api, HTTP: httptest.NewServer(handler)}
	t.Cleanup(srv.Close)
	tokens := tokenstore.NewMemoryBackend(0).Scoped("v1")
	h := &harness{api: srv, tokens: tokens, events: &recordingEmitter{}}

	client, err := apiclient.New(apiclient.Config{
		BaseURL:   srv.BaseURL(),
		Tokens:    tokens,
		Timeout:   5 * time.Second,
		OnExpired: func() { h.s.Expire() },
	})
	require.NoError(t, err)
	h.s = New(Options{
		VisitorID:   "v1",
		API:         client,
		Tokens:      tokens,
		Events:      h.events,
		OTPSendRate: sendRate,
	})
	return h
}

func (h *harness) token(t *testing.T) string {
	t.Helper()
	tok, _ := h.tokens.Get(context.Background())
	return tok
}

func (h *harness) register(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.True(t, h.s.RegisterWithPhone(ctx, testPhone).OK)
	require.True(t, h.s.VerifyOTPForRegistration(ctx, testPhone, testOTP).OK)
}

func TestRegistrationHappyPath(t *testing.T) {
	h := newHarness(t, apitest.Options{MintAccess: apitest.Sequence("tok1")}, 0)
	ctx := context.Background()

	res := h.s.RegisterWithPhone(ctx, testPhone)
	require.True(t, res.OK, "err: %v", h.s.Err())
	assert.Equal(t, StepNone, res.Next)

	res = h.s.VerifyOTPForRegistration(ctx, testPhone, testOTP)
	require.True(t, res.OK, "err: %v", h.s.Err())
	assert.Equal(t, StepCompleteProfile, res.Next)
	assert.Equal(t, "/auth/complete-profile", res.Next.Path())

	snap := h.s.Snapshot()
	require.NotNil(t, snap.User)
	assert.Equal(t, "u1", snap.User.ID)
	assert.True(t, snap.User.IsPhoneVerified)
	assert.False(t, snap.User.IsEmailVerified)
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.Err)
	assert.Equal(t, "tok1", h.token(t))
}

func TestExpiredCredentialRefreshesSilently(t *testing.T) {
	h := newHarness(t, apitest.Options{MintAccess: apitest.Sequence("tok1", "tok2")}, 0)
	h.register(t)

	h.api.ExpireAccess("tok1")
	res := h.s.RefreshUser(context.Background())
	require.True(t, res.OK)
	assert.Nil(t, h.s.Err(), "no user-visible error after a silent refresh")
	assert.Equal(t, "tok2", h.token(t))
	assert.Equal(t, 1, h.api.Calls(apiclient.PathTokenRefresh))
	assert.Equal(t, "u1", h.s.User().ID)
}

func TestRefreshFailureSignsOut(t *testing.T) {
	h := newHarness(t, apitest.Options{MintAccess: apitest.Sequence("tok1")}, 0)
	h.register(t)

	h.api.SetRefreshFailure(true)
	h.api.ExpireAccess("tok1")
	res := h.s.RefreshUser(context.Background())
	assert.False(t, res.OK)
	assert.Equal(t, StepLogin, res.Next)

	err := h.s.Err()
	require.NotNil(t, err)
	assert.Equal(t, autherr.KindAuthentication, err.Kind)
	assert.Empty(t, h.token(t))

	snap := h.s.Snapshot()
	assert.Nil(t, snap.User)
	d := guard.Authenticated(guard.State{User: snap.User, Loading: snap.Loading, Initialized: true})
	assert.Equal(t, guard.Redirect, d.Outcome)
	assert.Equal(t, "/auth/login", d.Location)
}

func TestRestoreRunsOnce(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 0)
	u := h.api.SeedUser(domain.User{Phone: "+1", IsPhoneVerified: true})
	h.tokens.Set(context.Background(), h.api.IssueAccess(u.ID))
	assert.False(t, h.s.Snapshot().Initialized)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.s.Restore(context.Background())
		}()
	}
	wg.Wait()
	h.s.Restore(context.Background())

	snap := h.s.Snapshot()
	assert.True(t, snap.Initialized)
	assert.False(t, snap.Loading)
	require.NotNil(t, snap.User)
	assert.Equal(t, u.ID, snap.User.ID)
	assert.Equal(t, 1, h.api.Calls(apiclient.PathMe))
}

func TestRestoreWithoutCredential(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 0)
	h.s.Restore(context.Background())
	snap := h.s.Snapshot()
	assert.True(t, snap.Initialized)
	assert.Nil(t, snap.User)
	assert.Nil(t, snap.Err, "no credential means nothing to report")
	assert.Equal(t, 0, h.api.Calls(apiclient.PathMe))
}

// answer replaces the API response for one path.
func answer(path string, status int, body string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v1"+path {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
		})
	}
}

func TestRestoreNormalizesAddresses(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 0)
	u := h.api.SeedUser(domain.User{
		Phone: "+1",
		Addresses: []domain.Address{
			{ID: "a1", Line1: "1 Main St", IsDefault: true},
			{ID: "a2", Line1: "2 Side St", IsDefault: true},
		},
	})
	h.tokens.Set(context.Background(), h.api.IssueAccess(u.ID))
	h.s.Restore(context.Background())

	got := h.s.User()
	require.NotNil(t, got)
	require.Len(t, got.Addresses, 2)
	assert.True(t, got.Addresses[0].IsDefault)
	assert.False(t, got.Addresses[1].IsDefault)
}

func TestRestoreServerErrorFillsErrorSlot(t *testing.T) {
	h := newHarnessWith(t, apitest.Options{}, 0, answer(apiclient.PathMe, http.StatusInternalServerError, `{}`))
	u := h.api.SeedUser(domain.User{Phone: "+1"})
	tok := h.api.IssueAccess(u.ID)
	h.tokens.Set(context.Background(), tok)
	h.s.Restore(context.Background())

	snap := h.s.Snapshot()
	assert.True(t, snap.Initialized)
	assert.Nil(t, snap.User)
	require.NotNil(t, snap.Err)
	assert.Equal(t, autherr.KindServer, snap.Err.Kind)
	assert.Equal(t, tok, h.token(t), "a server error keeps the credential")
}

func TestRestoreAuthErrorStaysSilent(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 0)
	h.tokens.Set(context.Background(), "forged")
	h.s.Restore(context.Background())

	snap := h.s.Snapshot()
	assert.True(t, snap.Initialized)
	assert.Nil(t, snap.User)
	assert.Nil(t, snap.Err)
	assert.Empty(t, h.token(t))
}

func TestCompleteProfileWithoutUserInResponse(t *testing.T) {
	h := newHarnessWith(t, apitest.Options{}, 0, answer(apiclient.PathProfileComplete, http.StatusOK, `{"message":"ok"}`))
	h.register(t)
	before := h.token(t)

	res := h.s.CompleteProfile(context.Background(), apiclient.ProfileInput{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com",
	})
	assert.False(t, res.OK)
	assert.Equal(t, StepNone, res.Next)
	err := h.s.Err()
	require.NotNil(t, err)
	assert.Equal(t, autherr.KindServer, err.Kind)
	assert.Equal(t, "UNEXPECTED_AUTH_RESPONSE", err.Code)
	require.NotNil(t, h.s.User(), "the visitor stays signed in")
	assert.Equal(t, before, h.token(t))
}

func TestValidationFailsBeforeNetwork(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 0)
	ctx := context.Background()

	res := h.s.RegisterWithPhone(ctx, "   ")
	assert.False(t, res.OK)
	err := h.s.Err()
	require.NotNil(t, err)
	assert.Equal(t, autherr.KindValidation, err.Kind)
	assert.Equal(t, "phone", err.Field())

	h.s.VerifyOTPForLogin(ctx, "", "")
	assert.Equal(t, []string{"phone", "otp"}, h.s.Err().Fields)

	h.s.CompleteProfile(ctx, apiclient.ProfileInput{FirstName: "Ada"})
	assert.Equal(t, []string{"lastName", "email"}, h.s.Err().Fields)

	assert.Equal(t, 0, h.api.Calls(apiclient.PathRegisterPhone))
	assert.Equal(t, 0, h.api.Calls(apiclient.PathLoginPhoneVerify))
	assert.Equal(t, 0, h.api.Calls(apiclient.PathProfileComplete))
}

func TestNewOperationClearsPreviousError(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 0)
	ctx := context.Background()
	h.s.RegisterWithPhone(ctx, "")
	require.NotNil(t, h.s.Err())

	require.True(t, h.s.RegisterWithPhone(ctx, testPhone).OK)
	assert.Nil(t, h.s.Err())

	h.s.RegisterWithPhone(ctx, "")
	h.s.ClearError()
	assert.Nil(t, h.s.Err())
}

func TestServerErrorsAreClassified(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 0)
	ctx := context.Background()

	res := h.s.LoginWithPhone(ctx, "+10000000000")
	assert.False(t, res.OK)
	assert.Equal(t, autherr.KindNotFound, h.s.Err().Kind)
	assert.Equal(t, autherr.MsgNotFound, h.s.Err().Message)

	h.s.RegisterWithPhone(ctx, testPhone)
	h.s.VerifyOTPForRegistration(ctx, testPhone, "000000")
	err := h.s.Err()
	require.NotNil(t, err)
	assert.Equal(t, autherr.KindValidation, err.Kind)
	assert.Equal(t, "Invalid or expired OTP", err.Message)
	assert.NotEmpty(t, err.CorrelationID)
	assert.Nil(t, h.s.User())
}

func TestOTPSendsAreThrottled(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 1)
	ctx := context.Background()

	require.True(t, h.s.RegisterWithPhone(ctx, testPhone).OK)
	res := h.s.RegisterWithPhone(ctx, testPhone)
	assert.False(t, res.OK)
	assert.Equal(t, autherr.KindRateLimit, h.s.Err().Kind)
	assert.Equal(t, 1, h.api.Calls(apiclient.PathRegisterPhone))
}

func TestConcurrentOperationWaitsThenGivesUp(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 0)
	require.NoError(t, h.s.ops.Acquire(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := h.s.RegisterWithPhone(ctx, testPhone)
	assert.False(t, res.OK)
	assert.Equal(t, autherr.KindBusy, h.s.Err().Kind)
	assert.Equal(t, 0, h.api.Calls(apiclient.PathRegisterPhone))

	h.s.ops.Release(1)
	assert.True(t, h.s.RegisterWithPhone(context.Background(), testPhone).OK)
}

func TestProfileAndEmailVerification(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 0)
	h.register(t)
	ctx := context.Background()

	res := h.s.CompleteProfile(ctx, apiclient.ProfileInput{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"})
	require.True(t, res.OK, "err: %v", h.s.Err())
	assert.Equal(t, StepVerifyEmail, res.Next, "phone verified at registration, email pending")

	require.True(t, h.s.SendVerificationEmail(ctx).OK)
	link := h.api.EmailToken("u1")
	require.NotEmpty(t, link)

	res = h.s.VerifyEmailFromLink(ctx, link)
	require.True(t, res.OK, "err: %v", h.s.Err())
	assert.Equal(t, StepAccount, res.Next)
	assert.True(t, h.s.User().IsEmailVerified)

	res = h.s.SendVerificationEmail(ctx)
	assert.False(t, res.OK)
	assert.Equal(t, StepAccount, res.Next)
	assert.Equal(t, autherr.KindPrecondition, h.s.Err().Kind)
	assert.Equal(t, 1, h.api.Calls(apiclient.PathResendVerification))
}

func TestVerifyEmailFromLinkRouting(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 0)
	ctx := context.Background()

	res := h.s.VerifyEmailFromLink(ctx, "")
	assert.Equal(t, StepLogin, res.Next)
	assert.Equal(t, "token", h.s.Err().Field())

	res = h.s.VerifyEmailFromLink(ctx, "bogus")
	assert.False(t, res.OK)
	assert.Equal(t, StepLogin, res.Next)
}

func TestGoogleCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("missing token", func(t *testing.T) {
		h := newHarness(t, apitest.Options{}, 0)
		res := h.s.HandleGoogleCallback(ctx, "", "")
		assert.False(t, res.OK)
		assert.Equal(t, StepLogin, res.Next)
		assert.Equal(t, "GOOGLE_AUTH_FAILED", h.s.Err().Code)
		assert.Equal(t, 0, h.api.Calls(apiclient.PathMe))
	})

	t.Run("missing token keeps an existing session", func(t *testing.T) {
		h := newHarness(t, apitest.Options{}, 0)
		h.register(t)
		tok := h.token(t)
		res := h.s.HandleGoogleCallback(ctx, "", "")
		assert.False(t, res.OK)
		assert.Equal(t, StepLogin, res.Next)
		assert.Equal(t, autherr.KindPrecondition, h.s.Err().Kind)
		require.NotNil(t, h.s.User())
		assert.Equal(t, tok, h.token(t))
	})

	t.Run("bad token", func(t *testing.T) {
		h := newHarness(t, apitest.Options{}, 0)
		res := h.s.HandleGoogleCallback(ctx, "forged", "")
		assert.False(t, res.OK)
		assert.Equal(t, StepLogin, res.Next)
		assert.Empty(t, h.token(t))
	})

	t.Run("new account completes profile", func(t *testing.T) {
		h := newHarness(t, apitest.Options{}, 0)
		u := h.api.SeedUser(domain.User{Email: "g@example.com", AuthProvider: "google"})
		res := h.s.HandleGoogleCallback(ctx, h.api.IssueAccess(u.ID), "")
		require.True(t, res.OK)
		assert.Equal(t, StepCompleteProfile, res.Next)
	})

	t.Run("named account adds phone", func(t *testing.T) {
		h := newHarness(t, apitest.Options{}, 0)
		u := h.api.SeedUser(domain.User{FirstName: "Grace", LastName: "Hopper", Email: "g@example.com", IsEmailVerified: true})
		tok := h.api.IssueAccess(u.ID)
		res := h.s.HandleGoogleCallback(ctx, tok, "")
		require.True(t, res.OK)
		assert.Equal(t, StepVerifyPhone, res.Next)
		assert.Equal(t, tok, h.token(t))

		require.True(t, h.s.AddPhoneForGoogleUser(ctx, "+447700900000").OK)
		code, ok := h.api.OTP(apitest.PurposePhone, "+447700900000")
		require.True(t, ok)
		res = h.s.VerifyOTPForPhoneVerification(ctx, "+447700900000", code)
		require.True(t, res.OK, "err: %v", h.s.Err())
		assert.Equal(t, StepAccount, res.Next)
		assert.True(t, h.s.User().IsPhoneVerified)

		res = h.s.AddPhoneForGoogleUser(ctx, "+447700900001")
		assert.False(t, res.OK)
		assert.Equal(t, "PHONE_ALREADY_VERIFIED", h.s.Err().Code)
	})
}

func TestGoogleCallback_AdoptsRefreshToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, apitest.Options{}, 0)
	u := h.api.SeedUser(domain.User{FirstName: "Grace", LastName: "Hopper", Email: "g@example.com"})
	tok := h.api.IssueAccess(u.ID)
	refresh := h.api.IssueRefresh(u.ID)

	require.True(t, h.s.HandleGoogleCallback(ctx, tok, refresh.Value).OK)

	h.api.ExpireAccess(tok)
	res := h.s.RefreshUser(ctx)
	require.True(t, res.OK, "err: %v", h.s.Err())
	assert.Equal(t, 1, h.api.Calls(apiclient.PathTokenRefresh))
	assert.NotEqual(t, tok, h.token(t))
	assert.Equal(t, u.ID, h.s.User().ID)
}

func TestPhoneOperationsRequireSignIn(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 0)
	res := h.s.AddPhoneForGoogleUser(context.Background(), "+1")
	assert.False(t, res.OK)
	assert.Equal(t, StepLogin, res.Next)
	assert.Equal(t, autherr.KindAuthentication, h.s.Err().Kind)
	assert.Equal(t, 0, h.api.Calls(apiclient.PathAddPhone))
}

func TestLogout(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 0)
	h.register(t)

	res := h.s.Logout(context.Background())
	assert.True(t, res.OK)
	assert.Equal(t, StepLogin, res.Next)
	assert.Nil(t, h.s.User())
	assert.Empty(t, h.token(t))
	assert.Equal(t, 1, h.api.Calls(apiclient.PathLogout))
}

func TestClosedSessionIgnoresLateWrites(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 0)
	ctx := context.Background()
	require.True(t, h.s.RegisterWithPhone(ctx, testPhone).OK)

	h.s.Close()
	res := h.s.VerifyOTPForRegistration(ctx, testPhone, testOTP)
	assert.True(t, res.OK, "the call itself still completes")
	assert.Nil(t, h.s.User())
	assert.Empty(t, h.token(t))
}

func TestOperationsEmitEvents(t *testing.T) {
	h := newHarness(t, apitest.Options{}, 0)
	h.register(t)
	h.s.RegisterWithPhone(context.Background(), "")

	assert.Eventually(t, func() bool { return len(h.events.types()) == 3 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{
		"register_with_phone:success",
		"verify_otp_for_registration:success",
		"register_with_phone:failure",
	}, h.events.types())
}

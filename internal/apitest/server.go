// Package apitest is an in-process stand-in for the remote storefront REST API.
// It issues OTPs, access tokens and an HTTP-only refresh cookie, counts calls per
// endpoint and can be told to fail or stall refreshes.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storefront/internal/user/domain"
)

// OTP purposes.
const (
	PurposeRegister = "register"
	PurposeLogin    = "login"
	PurposePhone    = "phone"
)

// RefreshCookie is the name of the HTTP-only refresh credential cookie.
const RefreshCookie = "refreshToken"

// Options tune the fake API.
type Options struct {
	// MintAccess replaces JWT minting, e.g. to hand out "tok1", "tok2" in order.
	MintAccess func(userID string) string
	// AccessTTL defaults to 15m.
	AccessTTL time.Duration
	// FixedOTP, when set, is sent for every OTP instead of a random code.
	FixedOTP string
	// ExposeOTP serves GET /dev/otp?purpose=&phone= for local development.
	ExposeOTP bool
}

// Sequence returns a MintAccess func yielding the given tokens in order, then prefix-numbered ones.
func Sequence(tokens ...string) func(string) string {
	var mu sync.Mutex
	i := 0
	return func(string) string {
		mu.Lock()
		defer mu.Unlock()
		i++
		if i <= len(tokens) {
			return tokens[i-1]
		}
		return fmt.Sprintf("tok%d", i)
	}
}

type grant struct {
	userID    string
	expiresAt time.Time
}

// API is the fake API state. Use Handler to serve it.
type API struct {
	opts   Options
	signer *accessSigner
	otps   *otpOutbox
	nowF   func() time.Time

	mu           sync.Mutex
	users        map[string]*domain.User
	byPhone      map[string]string
	nextID       int
	access       map[string]grant
	refresh      map[string]string // refresh token hash -> user id
	emailTokens  map[string]string // email token hash -> user id
	lastEmail    map[string]string // user id -> last plain email token
	calls        map[string]int
	failRefresh  bool
	refreshDelay time.Duration
}

// New returns an empty fake API.
func New(opts Options) *API {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	nowF := func() time.Time { return time.Now().UTC() }
	return &API{
		opts:        opts,
		signer:      newAccessSigner(opts.AccessTTL),
		otps:        newOTPOutbox(nowF),
		nowF:        nowF,
		users:       make(map[string]*domain.User),
		byPhone:     make(map[string]string),
		access:      make(map[string]grant),
		refresh:     make(map[string]string),
		emailTokens: make(map[string]string),
		lastEmail:   make(map[string]string),
		calls:       make(map[string]int),
	}
}

// Server is an API served over httptest.
type Server struct {
	*API
	HTTP *httptest.Server
}

// NewServer starts a fake API on a local port. Call Close when done.
func NewServer(opts Options) *Server {
	api := New(opts)
	return &Server{API: api, HTTP: httptest.NewServer(api.Handler())}
}

// BaseURL is the API origin including the /api/v1 prefix.
func (s *Server) BaseURL() string { return s.HTTP.URL + "/api/v1" }

// Close shuts the server down.
func (s *Server) Close() { s.HTTP.Close() }

// Handler serves the API under /api/v1.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.countCalls)
		r.Post("/auth/register/phone", a.handleRegisterPhone)
		r.Post("/auth/register/phone/verify", a.handleRegisterVerify)
		r.Post("/auth/login/phone", a.handleLoginPhone)
		r.Post("/auth/login/phone/verify", a.handleLoginVerify)
		r.Post("/auth/verify-email", a.handleVerifyEmail)
		r.Post("/auth/token/refresh", a.handleRefresh)
		r.Post("/auth/logout", a.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAccess)
			r.Post("/auth/profile/complete", a.handleCompleteProfile)
			r.Post("/auth/resend-verification-email", a.handleResendVerification)
			r.Post("/auth/add-phone", a.handleAddPhone)
			r.Post("/auth/verify-phone-otp", a.handleVerifyPhoneOTP)
			r.Get("/users/me", a.handleMe)
		})
	})
	if a.opts.ExposeOTP {
		r.Get("/dev/otp", a.handleDevOTP)
	}
	return r
}

// --- test controls ---

// SeedUser stores u, assigning an id when empty, and returns a copy.
func (a *API) SeedUser(u domain.User) *domain.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	if u.ID == "" {
		u.ID = a.newIDLocked()
	}
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	stored := u.Clone()
	a.users[u.ID] = stored
	if u.Phone != "" {
		a.byPhone[u.Phone] = u.ID
	}
	return stored.Clone()
}

// IssueAccess mints an access token for userID as if the user had just signed in.
func (a *API) IssueAccess(userID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	tok, err := a.mintLocked(userID)
	if err != nil {
		panic(err)
	}
	return tok
}

// IssueRefresh creates a refresh credential for userID and returns it as a cookie.
func (a *API) IssueRefresh(userID string) *http.Cookie {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshCookieLocked(userID)
}

// ExpireAccess makes token fail with 401 from now on.
func (a *API) ExpireAccess(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.access, token)
}

// SetRefreshFailure makes /auth/token/refresh answer 401.
func (a *API) SetRefreshFailure(fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failRefresh = fail
}

// SetRefreshDelay stalls /auth/token/refresh by d.
func (a *API) SetRefreshDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshDelay = d
}

// Calls returns how often path (relative to /api/v1) was hit.
func (a *API) Calls(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[path]
}

// OTP returns the outstanding code for purpose and phone.
func (a *API) OTP(purpose, phone string) (string, bool) {
	return a.otps.peek(purpose, phone)
}

// EmailToken returns the last verification link token mailed to userID.
func (a *API) EmailToken(userID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastEmail[userID]
}

// User returns a copy of the stored user.
func (a *API) User(id string) *domain.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.users[id].Clone()
}

// --- middleware ---

func (a *API) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.calls[strings.TrimPrefix(r.URL.Path, "/api/v1")]++
		a.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (a *API) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := a.authenticate(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid or expired access token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

func (a *API) authenticate(r *http.Request) (string, bool) {
	token := extractBearer(r.Header.Get("Authorization"))
	if token == "" {
		return "", false
	}
	a.mu.Lock()
	g, ok := a.access[token]
	a.mu.Unlock()
	if !ok || !g.expiresAt.After(a.nowF()) {
		return "", false
	}
	if a.opts.MintAccess == nil {
		sub, err := a.signer.subject(token)
		if err != nil || sub != g.userID {
			return "", false
		}
	}
	return g.userID, true
}

// --- handlers ---

type phoneBody struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

func (a *API) handleRegisterPhone(w http.ResponseWriter, r *http.Request) {
	var in phoneBody
	if !decode(w, r, &in) {
		return
	}
	if in.Phone == "" {
		writeError(w, http.StatusBadRequest, "Phone number is required", map[string]any{"field": "phone", "code": "REQUIRED"})
		return
	}
	a.mu.Lock()
	_, exists := a.byPhone[in.Phone]
	a.mu.Unlock()
	if exists {
		writeError(w, http.StatusConflict, "Phone number already registered", map[string]any{"field": "phone"})
		return
	}
	if !a.sendOTP(w, PurposeRegister, in.Phone) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "OTP sent"})
}

func (a *API) handleRegisterVerify(w http.ResponseWriter, r *http.Request) {
	var in phoneBody
	if !decode(w, r, &in) {
		return
	}
	if !a.otps.consume(PurposeRegister, in.Phone, in.Code) {
		writeError(w, http.StatusBadRequest, "Invalid or expired OTP", map[string]any{"field": "code"})
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.byPhone[in.Phone]; exists {
		writeError(w, http.StatusConflict, "Phone number already registered", map[string]any{"field": "phone"})
		return
	}
	now := a.nowF()
	u := &domain.User{
		ID:              a.newIDLocked(),
		Phone:           in.Phone,
		Role:            domain.RoleUser,
		IsPhoneVerified: true,
		AuthProvider:    "phone",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	a.users[u.ID] = u
	a.byPhone[u.Phone] = u.ID
	a.signInLocked(w, u, http.StatusCreated)
}

func (a *API) handleLoginPhone(w http.ResponseWriter, r *http.Request) {
	var in phoneBody
	if !decode(w, r, &in) {
		return
	}
	a.mu.Lock()
	_, exists := a.byPhone[in.Phone]
	a.mu.Unlock()
	if !exists {
		writeError(w, http.StatusNotFound, "No account found for this phone number", nil)
		return
	}
	if !a.sendOTP(w, PurposeLogin, in.Phone) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "OTP sent"})
}

func (a *API) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	var in phoneBody
	if !decode(w, r, &in) {
		return
	}
	if !a.otps.consume(PurposeLogin, in.Phone, in.Code) {
		writeError(w, http.StatusBadRequest, "Invalid or expired OTP", map[string]any{"field": "code"})
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[a.byPhone[in.Phone]]
	if !ok {
		writeError(w, http.StatusNotFound, "No account found for this phone number", nil)
		return
	}
	a.signInLocked(w, u, http.StatusOK)
}

type profileBody struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	DateOfBirth string `json:"dateOfBirth"`
	Gender      string `json:"gender"`
	Bio         string `json:"bio"`
	Address     string `json:"address"`
	City        string `json:"city"`
	Country     string `json:"country"`
}

func (a *API) handleCompleteProfile(w http.ResponseWriter, r *http.Request) {
	var in profileBody
	if !decode(w, r, &in) {
		return
	}
	var missing []string
	for name, v := range map[string]string{"firstName": in.FirstName, "lastName": in.LastName, "email": in.Email} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "Missing required profile fields", map[string]any{"missingFields": missing, "code": "REQUIRED_FIELDS"})
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.users[userIDFrom(r.Context())]
	if u.Email != in.Email {
		u.IsEmailVerified = false
	}
	u.FirstName, u.LastName, u.Email = in.FirstName, in.LastName, in.Email
	u.DateOfBirth, u.Gender, u.Bio = in.DateOfBirth, in.Gender, in.Bio
	u.Address, u.City, u.Country = in.Address, in.City, in.Country
	u.UpdatedAt = a.nowF()
	if !u.IsEmailVerified {
		a.mailVerificationLocked(u.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (a *API) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &in) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.users[userIDFrom(r.Context())]
	if u.Email == "" || !strings.EqualFold(u.Email, in.Email) {
		writeError(w, http.StatusBadRequest, "Email does not match your account", map[string]any{"field": "email"})
		return
	}
	if u.IsEmailVerified {
		writeError(w, http.StatusBadRequest, "Email is already verified", map[string]any{"code": "EMAIL_ALREADY_VERIFIED"})
		return
	}
	a.mailVerificationLocked(u.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Verification email sent"})
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token string `json:"token"`
	}
	if !decode(w, r, &in) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	h := hashToken(in.Token)
	userID, ok := a.emailTokens[h]
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid or expired verification token", map[string]any{"field": "token"})
		return
	}
	delete(a.emailTokens, h)
	u := a.users[userID]
	u.IsEmailVerified = true
	u.UpdatedAt = a.nowF()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified"})
}

func (a *API) handleAddPhone(w http.ResponseWriter, r *http.Request) {
	var in phoneBody
	if !decode(w, r, &in) {
		return
	}
	userID := userIDFrom(r.Context())
	a.mu.Lock()
	owner, taken := a.byPhone[in.Phone]
	a.mu.Unlock()
	if taken && owner != userID {
		writeError(w, http.StatusConflict, "Phone number already in use", map[string]any{"field": "phone"})
		return
	}
	if !a.sendOTP(w, PurposePhone, in.Phone) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "OTP sent"})
}

func (a *API) handleVerifyPhoneOTP(w http.ResponseWriter, r *http.Request) {
	var in phoneBody
	if !decode(w, r, &in) {
		return
	}
	if !a.otps.consume(PurposePhone, in.Phone, in.Code) {
		writeError(w, http.StatusBadRequest, "Invalid or expired OTP", map[string]any{"field": "code"})
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.users[userIDFrom(r.Context())]
	u.Phone = in.Phone
	u.IsPhoneVerified = true
	u.UpdatedAt = a.nowF()
	a.byPhone[in.Phone] = u.ID
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	delay, fail := a.refreshDelay, a.failRefresh
	a.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	c, err := r.Cookie(RefreshCookie)
	if fail || err != nil {
		writeError(w, http.StatusUnauthorized, "Refresh token missing or expired", nil)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	h := hashToken(c.Value)
	userID, ok := a.refresh[h]
	if !ok || !hashEqual(c.Value, h) {
		writeError(w, http.StatusUnauthorized, "Refresh token missing or expired", nil)
		return
	}
	delete(a.refresh, h)
	tok, err := a.mintLocked(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not issue token", nil)
		return
	}
	http.SetCookie(w, a.refreshCookieLocked(userID))
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": tok})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	if c, err := r.Cookie(RefreshCookie); err == nil {
		delete(a.refresh, hashToken(c.Value))
	}
	if tok := extractBearer(r.Header.Get("Authorization")); tok != "" {
		delete(a.access, tok)
	}
	a.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[userIDFrom(r.Context())]
	if !ok {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (a *API) handleDevOTP(w http.ResponseWriter, r *http.Request) {
	code, ok := a.otps.peek(r.URL.Query().Get("purpose"), r.URL.Query().Get("phone"))
	if !ok {
		writeError(w, http.StatusNotFound, "No outstanding OTP", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"otp": code})
}

// --- helpers ---

func (a *API) sendOTP(w http.ResponseWriter, purpose, phone string) bool {
	code := a.opts.FixedOTP
	if code == "" {
		var err error
		if code, err = generateOTP(); err != nil {
			writeError(w, http.StatusInternalServerError, "Could not send OTP", nil)
			return false
		}
	}
	a.otps.put(purpose, phone, code)
	return true
}

func (a *API) newIDLocked() string {
	a.nextID++
	return fmt.Sprintf("u%d", a.nextID)
}

func (a *API) mintLocked(userID string) (string, error) {
	now := a.nowF()
	if a.opts.MintAccess != nil {
		tok := a.opts.MintAccess(userID)
		a.access[tok] = grant{userID: userID, expiresAt: now.Add(a.opts.AccessTTL)}
		return tok, nil
	}
	tok, exp, err := a.signer.issue(userID, now)
	if err != nil {
		return "", err
	}
	a.access[tok] = grant{userID: userID, expiresAt: exp}
	return tok, nil
}

func (a *API) refreshCookieLocked(userID string) *http.Cookie {
	raw := uuid.NewString()
	a.refresh[hashToken(raw)] = userID
	return &http.Cookie{
		Name:     RefreshCookie,
		Value:    raw,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  a.nowF().Add(7 * 24 * time.Hour),
	}
}

func (a *API) signInLocked(w http.ResponseWriter, u *domain.User, status int) {
	tok, err := a.mintLocked(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not issue token", nil)
		return
	}
	http.SetCookie(w, a.refreshCookieLocked(u.ID))
	writeJSON(w, status, map[string]any{"accessToken": tok, "user": u})
}

func (a *API) mailVerificationLocked(userID string) {
	raw := uuid.NewString()
	a.emailTokens[hashToken(raw)] = userID
	a.lastEmail[userID] = raw
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, details map[string]any) {
	writeJSON(w, status, map[string]any{
		"message":   message,
		"details":   details,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"errorId":   uuid.NewString(),
	})
}

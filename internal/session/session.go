// Package session holds one visitor's auth state: the current user, whether an
// auth operation is running, the last error and whether the silent restore has
// finished. All credential-acquiring operations live here.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"storefront/internal/apiclient"
	"storefront/internal/autherr"
	"storefront/internal/telemetry"
	"storefront/internal/tokenstore"
	"storefront/internal/user/domain"
)

// API is the remote API as the session uses it. *apiclient.Client implements it.
type API interface {
	RequestRegistrationOTP(ctx context.Context, phone string) error
	VerifyRegistrationOTP(ctx context.Context, phone, code string) (*apiclient.AuthResponse, error)
	RequestLoginOTP(ctx context.Context, phone string) error
	VerifyLoginOTP(ctx context.Context, phone, code string) (*apiclient.AuthResponse, error)
	CompleteProfile(ctx context.Context, in apiclient.ProfileInput) (*domain.User, error)
	ResendVerificationEmail(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, token string) error
	AddPhone(ctx context.Context, phone string) error
	VerifyPhoneOTP(ctx context.Context, phone, code string) error
	Me(ctx context.Context) (*domain.User, error)
	Logout(ctx context.Context) error
	ClearCredentials(ctx context.Context)
	AdoptRefreshToken(token string) error
}

// Options configure a Session.
type Options struct {
	VisitorID string
	API       API
	Tokens    tokenstore.Store
	Events    telemetry.EventEmitter
	Logger    *zap.Logger
	// OTPSendRate is how many OTP or verification-email sends are allowed per minute. 0 disables the limit.
	OTPSendRate int
}

// Snapshot is an immutable copy of session state for guards and templates.
type Snapshot struct {
	User        *domain.User
	Loading     bool
	Initialized bool
	Err         *autherr.Error
}

// Session is one visitor's auth state. Auth-mutating operations are serialized:
// a second operation waits for the first, bounded by its own context.
type Session struct {
	visitorID string
	api       API
	tokens    tokenstore.Store
	events    telemetry.EventEmitter
	logger    *zap.Logger
	otp       *rate.Limiter

	ops     *semaphore.Weighted
	restore sync.Once

	mu          sync.RWMutex
	user        *domain.User
	loading     bool
	err         *autherr.Error
	initialized bool
	closed      bool
	forms       map[string]PhoneForm
}

// New builds a Session. It does not contact the API; call Restore for that.
func New(opts Options) *Session {
	s := &Session{
		visitorID: opts.VisitorID,
		api:       opts.API,
		tokens:    opts.Tokens,
		events:    opts.Events,
		logger:    opts.Logger,
		ops:       semaphore.NewWeighted(1),
	}
	if s.tokens == nil {
		s.tokens = tokenstore.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.With(zap.String("visitor_id", opts.VisitorID))
	if n := opts.OTPSendRate; n > 0 {
		s.otp = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
	return s
}

// VisitorID identifies the visitor this session belongs to.
func (s *Session) VisitorID() string { return s.visitorID }

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		User:        s.user.Clone(),
		Loading:     s.loading,
		Initialized: s.initialized,
	}
	if s.err != nil {
		cp := *s.err
		snap.Err = &cp
	}
	return snap
}

// User returns a copy of the current user, or nil.
func (s *Session) User() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Clone()
}

// Err returns the last operation error, or nil.
func (s *Session) Err() *autherr.Error {
	return s.Snapshot().Err
}

// ClearError empties the error slot.
func (s *Session) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.err = nil
	}
}

// Close detaches the session. Operations still in flight finish, but their state updates are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Expire drops the user after the API client cleared credentials on a failed refresh.
func (s *Session) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.user = nil
	}
}

// Restore makes the one silent attempt to resume a session from a stored credential.
// Only the first call does any work; every call returns after initialized is true.
func (s *Session) Restore(ctx context.Context) {
	s.restore.Do(func() {
		ctx := context.WithoutCancel(ctx)
		defer s.update(func() { s.loading, s.initialized = false, true })

		if _, ok := s.tokens.Get(ctx); !ok {
			return
		}
		s.update(func() { s.loading = true })
		u, err := s.api.Me(ctx)
		if err != nil {
			if autherr.IsKind(err, autherr.KindAuthentication) {
				s.api.ClearCredentials(ctx)
			} else {
				ae := autherr.Classify(err, msgFetchUser)
				s.update(func() { s.err = ae })
			}
			s.logger.Info("session restore failed", zap.Error(err))
			s.emit(ctx, "restore", "", err)
			return
		}
		s.setUser(u)
		s.emit(ctx, "restore", u.ID, nil)
	})
}

// update applies fn under the lock unless the session is closed.
func (s *Session) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		fn()
	}
}

// setUser replaces the user. Records from the API are normalized so the address
// list keeps exactly one default.
func (s *Session) setUser(u *domain.User) {
	if u != nil {
		u = u.Normalize()
	}
	s.update(func() { s.user = u })
}

func (s *Session) storeCredential(ctx context.Context, token string) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if !closed {
		s.tokens.Set(ctx, token)
	}
}

// op describes one session operation for run.
type op struct {
	name string
	// message is shown when the API gives no message of its own.
	message string
	// check runs before any network call; a non-nil error fails the operation with its step.
	check func() (Step, *autherr.Error)
	// throttled operations send an OTP or email and count against the send rate.
	throttled bool
	call      func(ctx context.Context) (Step, error)
	// onError picks the step after a failed call; nil keeps StepNone.
	onError func(err *autherr.Error) Step
}

// run is the envelope every operation goes through: clear the error, check inputs
// locally, mark loading, call the API, record the outcome, clear loading.
func (s *Session) run(ctx context.Context, o op) Result {
	if err := s.ops.Acquire(ctx, 1); err != nil {
		s.recordError(ctx, o.name, autherr.Busy(err))
		return Result{}
	}
	defer s.ops.Release(1)

	s.update(func() { s.err = nil })

	if o.check != nil {
		if next, verr := o.check(); verr != nil {
			s.recordError(ctx, o.name, verr)
			return Result{Next: next}
		}
	}
	if o.throttled && s.otp != nil && !s.otp.Allow() {
		s.recordError(ctx, o.name, autherr.RateLimited())
		return Result{}
	}

	s.update(func() { s.loading = true })
	next, err := o.call(ctx)
	s.update(func() { s.loading = false })

	if err != nil {
		ae := autherr.Classify(err, o.message)
		s.recordError(ctx, o.name, ae)
		if o.onError != nil {
			next = o.onError(ae)
		} else {
			next = StepNone
		}
		return Result{Next: next}
	}
	s.emit(ctx, o.name, s.userID(), nil)
	return Result{OK: true, Next: next}
}

// recordError stores err in the error slot. Authentication failures also drop the
// credential and the user so guards treat the visitor as signed out.
func (s *Session) recordError(ctx context.Context, name string, err *autherr.Error) {
	if err.Kind == autherr.KindAuthentication {
		s.storeCredential(ctx, "")
		s.setUser(nil)
	}
	s.update(func() { s.err = err })
	s.logger.Debug("session operation failed",
		zap.String("op", name),
		zap.String("kind", string(err.Kind)),
		zap.String("correlation_id", err.CorrelationID),
	)
	s.emit(ctx, name, s.userID(), err)
}

func (s *Session) userID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

func (s *Session) emit(ctx context.Context, name, userID string, err error) {
	if s.events == nil {
		return
	}
	ev := &telemetry.Event{
		Type:      name,
		VisitorID: s.visitorID,
		UserID:    userID,
		Outcome:   telemetry.OutcomeSuccess,
		Source:    telemetry.SourceStorefront,
	}
	if err != nil {
		ev.Outcome = telemetry.OutcomeFailure
		ae := autherr.Classify(err, "")
		ev.ErrorKind = string(ae.Kind)
		ev.CorrelationID = ae.CorrelationID
	}
	telemetry.EmitAsync(ctx, s.events, ev, s.logger)
}

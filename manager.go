package session

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"golang.org/x/time/rate"

	"github.com/goliatone/go-auth-session/clock"
	"github.com/goliatone/go-auth-session/guard"
)

const (
	MessageSignUpSuccess      = "Account created"
	MessageSignUpConfirm      = "Account created, check your email to confirm the registration"
	MessageSignUpFailure      = "Unable to create account"
	MessageSignInSuccess      = "Signed in"
	MessageSessionExpired     = "Session already expired"
	MessageInvalidCredentials = "Invalid credentials"
	MessageSignOutSuccess     = "Signed out"
	MessageRefreshSuccess     = "Session refreshed"
	MessageRefreshFailure     = "Unable to refresh session"
	MessageInvalidInput       = "Invalid input"
	MessageUnexpected         = "Unexpected error"
)

// Manager is the session lifecycle engine. It owns the store, scheduler,
// refresh coordinator and event bus and keeps them consistent with the
// backend.
type Manager struct {
	cfg     Config
	backend Backend
	clock   clock.Clock

	store     *Store
	scheduler *Scheduler
	refresher *Coordinator
	bus       *Bus
	policy    guard.Policy
	routes    guard.RouteTable
	resync    *rate.Limiter
	activity  ActivitySink

	loggerProvider LoggerProvider
	logger         Logger
	fallbackLogger Logger

	mu          sync.Mutex
	started     bool
	stopped     bool
	unsubscribe Disposer
	intended    string
}

// NewManager builds an engine around backend. The configuration is validated
// before anything is wired.
func NewManager(backend Backend, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, goerrors.New("session backend is required", goerrors.CategoryBadInput).
			WithTextCode(TextCodeInvalidConfig).
			WithCode(goerrors.CodeBadRequest)
	}

	m := &Manager{
		cfg:      DefaultConfig(),
		backend:  backend,
		clock:    clock.Real(),
		activity: noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	if err := m.cfg.Validate(); err != nil {
		return nil, err
	}

	m.fallbackLogger = m.logger
	m.loggerProvider, m.logger = ResolveLogger("session.manager", m.loggerProvider, m.fallbackLogger)

	m.policy = m.cfg.Policy()
	m.routes = m.cfg.Routes()
	m.resync = newResyncLimiter(m.cfg.ResyncInterval)

	m.bus = NewBus(m.scopedLogger("session.bus"))
	m.store = NewStore(m.scopedLogger("session.store"))
	m.scheduler = NewScheduler(m.clock, m.cfg, SchedulerHooks{
		Expire:  m.expireFromScheduler,
		Refresh: m.refreshFromScheduler,
		Warn:    m.warn,
	}, m.scopedLogger("session.scheduler"))
	m.refresher = NewCoordinator(backend, m.store, m.clock, m.cfg.MaxRefreshAttempts,
		m.refreshed, m.expireFromRefresh, m.scopedLogger("session.refresh"))

	m.store.OnApply(func(sess *Session, changed bool, version uint64) {
		if changed {
			m.scheduler.ArmVersion(sess, version)
		}
	})

	return m, nil
}

func newResyncLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

func (m *Manager) scopedLogger(name string) Logger {
	_, lgr := ResolveLogger(name, m.loggerProvider, m.fallbackLogger)
	return lgr
}

// Start subscribes to backend notifications and performs the initial
// session load. Calling it again is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return m.store.WaitInitialized(ctx)
	}
	m.started = true
	m.mu.Unlock()

	unsubscribe := m.backend.Subscribe(m.handleBackendChange)

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	return m.store.Initialize(ctx, m.backend.GetSession)
}

// Stop releases the backend subscription and cancels every timer. A refresh
// still in flight applies its result to the store but arms nothing and
// publishes nothing.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.stopped = true
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.scheduler.Stop()
}

// State returns a snapshot of the store.
func (m *Manager) State() State {
	return m.store.State()
}

// Subscribe registers a lifecycle event handler.
func (m *Manager) Subscribe(handler Handler) Disposer {
	return m.bus.Subscribe(handler)
}

// SignUp registers a new account. A nil session from the backend means the
// account awaits email confirmation.
func (m *Manager) SignUp(ctx context.Context, data SignUpData) Result {
	if err := data.Validate(); err != nil {
		return fail(MessageInvalidInput, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid sign up data").
			WithTextCode(TextCodeInvalidSignUp).
			WithCode(goerrors.CodeBadRequest))
	}

	m.store.SetLoading(true)
	defer m.store.SetLoading(false)

	user, sess, err := m.backend.SignUp(ctx, data.Email, data.Password)
	if err != nil {
		m.logger.Warn("sign up failed", "email", data.Email, "error", err)
		return fail(MessageSignUpFailure, err)
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivitySignUp,
		UserID:    identityID(user),
		Email:     data.Email,
		Metadata:  map[string]any{"confirmation_required": sess == nil},
	})

	if sess == nil {
		return succeed(MessageSignUpConfirm)
	}

	if err := m.adopt(sess); err != nil {
		if IsSessionExpired(err) {
			return fail(MessageSessionExpired, err)
		}
		return fail(MessageSignUpFailure, err)
	}
	return succeed(MessageSignUpSuccess)
}

// Validate checks the sign up payload.
func (d SignUpData) Validate() error {
	rules := []*validation.FieldRules{
		validation.Field(&d.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&d.Password, validation.Required, validation.Length(6, 100)),
	}
	if d.ConfirmPassword != "" {
		rules = append(rules, validation.Field(&d.ConfirmPassword, validation.By(stringEquals(d.Password))))
	}
	return validation.ValidateStruct(&d, rules...)
}

func stringEquals(expected string) validation.RuleFunc {
	return func(value any) error {
		if s, _ := value.(string); s != expected {
			return fmt.Errorf("does not match")
		}
		return nil
	}
}

// SignIn authenticates with email and password.
func (m *Manager) SignIn(ctx context.Context, email, password string) Result {
	err := validation.Errors{
		"email":    validation.Validate(email, validation.Required, is.Email),
		"password": validation.Validate(password, validation.Required),
	}.Filter()
	if err != nil {
		return fail(MessageInvalidInput, err)
	}

	m.store.SetLoading(true)
	defer m.store.SetLoading(false)

	sess, err := m.backend.SignInWithPassword(ctx, email, password)
	if err == nil && sess == nil {
		err = ErrSessionAbsent
	}
	if err != nil {
		m.logger.Warn("sign in failed", "email", email, "error", err)
		m.record(ctx, ActivityEvent{
			EventType: ActivitySignInFailure,
			Email:     email,
			Metadata:  map[string]any{"error": err.Error()},
		})
		return fail(MessageInvalidCredentials, err)
	}

	if err := m.adopt(sess); err != nil {
		if IsSessionExpired(err) {
			return fail(MessageSessionExpired, err)
		}
		return fail(MessageUnexpected, err)
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivitySignInSuccess,
		UserID:    identityID(sess.User),
		Email:     email,
	})
	return succeed(MessageSignInSuccess)
}

// adopt installs a session obtained from an explicit sign in. A session that
// is already past its expiry is rejected without touching the store.
func (m *Manager) adopt(sess *Session) error {
	if sess != nil && sess.Expires() && !m.clock.Now().Before(*sess.ExpiresAt) {
		m.logger.Warn("backend returned an expired session", "expires_at", sess.ExpiresAt)
		return ErrSessionExpired
	}

	m.refresher.Invalidate()
	m.store.ResetAttempts()

	changed, err := m.store.Apply(sess)
	if err != nil {
		m.logger.Error("backend returned a session without identity", "error", err)
		return err
	}
	if !sameSession(m.store.Session(), sess) {
		m.logger.Warn("session was dropped while being installed")
		return ErrSessionExpired
	}
	if changed {
		m.announce(Event{Type: EventSignedIn, Session: sess.Clone()})
	}
	return nil
}

// SignOut ends the session. Local state is cleared even when the backend
// call fails.
func (m *Manager) SignOut(ctx context.Context) Result {
	m.store.SetLoading(true)
	defer m.store.SetLoading(false)

	m.refresher.Invalidate()
	prev := m.store.Session()

	if err := m.backend.SignOut(ctx); err != nil {
		m.logger.Warn("backend sign out failed, clearing local session", "error", err)
	}

	m.scheduler.Disarm()
	m.store.ResetAttempts()
	if m.store.Clear() {
		m.announce(Event{Type: EventSignedOut, Session: prev})
	}

	if prev != nil {
		m.record(ctx, ActivityEvent{
			EventType: ActivitySignOut,
			UserID:    identityID(prev.User),
			Email:     identityEmail(prev.User),
		})
	}
	return succeed(MessageSignOutSuccess)
}

// Refresh renews the session on demand, sharing any refresh in flight.
func (m *Manager) Refresh(ctx context.Context) Result {
	m.store.SetLoading(true)
	defer m.store.SetLoading(false)

	sess, err := m.refresher.Refresh(ctx, false)
	if err != nil {
		m.record(ctx, ActivityEvent{
			EventType: ActivityRefreshFailure,
			Metadata:  map[string]any{"error": err.Error()},
		})
		return fail(MessageRefreshFailure, err)
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivityRefreshSuccess,
		UserID:    identityID(sess.User),
		Email:     identityEmail(sess.User),
	})
	return succeed(MessageRefreshSuccess)
}

// CheckAuthState reads the backend session without touching the store.
func (m *Manager) CheckAuthState(ctx context.Context) AuthState {
	sess, err := m.backend.GetSession(ctx)
	if err != nil {
		m.logger.Warn("check auth state failed", "error", err)
		return AuthState{}
	}
	if sess == nil || sess.User == nil {
		return AuthState{}
	}
	return AuthState{
		User:            sess.User.Clone(),
		Session:         sess.Clone(),
		IsAuthenticated: true,
	}
}

// CurrentUser returns the identity of the backend session, or nil.
func (m *Manager) CurrentUser(ctx context.Context) (*Identity, error) {
	sess, err := m.backend.GetSession(ctx)
	if err != nil {
		m.logger.Error("get current user failed", "error", err)
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	return sess.User.Clone(), nil
}

// TimeUntilExpiration returns the time left on the current session. The
// second value is false when there is no expiring session.
func (m *Manager) TimeUntilExpiration() (time.Duration, bool) {
	remaining, ok := m.store.Session().Remaining(m.clock.Now())
	if !ok {
		return 0, false
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Resync re-reads the backend session, typically after the host regained
// focus or connectivity. Calls closer together than ResyncInterval are
// dropped.
func (m *Manager) Resync(ctx context.Context) error {
	if !m.resync.AllowN(m.clock.Now(), 1) {
		m.logger.Debug("resync throttled")
		return nil
	}

	sess, err := m.backend.GetSession(ctx)
	if err != nil {
		m.logger.Warn("resync failed, keeping current session", "error", err)
		return classifyRefreshError(err)
	}

	if sess == nil || sess.User == nil {
		if m.store.Session() != nil {
			m.expire(ctx, "resync_absent")
		}
		return nil
	}

	if sess.Expires() && !m.clock.Now().Before(*sess.ExpiresAt) {
		if !m.cfg.AutoRefresh {
			m.expire(ctx, "resync_expired")
			return nil
		}
		_, err := m.refresher.Refresh(ctx, false)
		return err
	}

	changed, err := m.store.Apply(sess)
	if err != nil {
		return err
	}
	if changed {
		m.logger.Debug("resync applied backend session", "expires_at", sess.ExpiresAt)
	}
	return nil
}

// EvaluateRoute answers whether intendedPath may be visited. It waits for
// the initial load. Guest-only errors allow access, protected errors send
// the visitor to sign in.
func (m *Manager) EvaluateRoute(ctx context.Context, class guard.Classification, intendedPath, requestedRedirect string) guard.Decision {
	return m.evaluate(ctx, guard.Rule{Classification: class}, intendedPath, requestedRedirect)
}

// EvaluatePath classifies fullPath with the configured route table and
// evaluates it. The redirect target is read from the query string.
func (m *Manager) EvaluatePath(ctx context.Context, fullPath string) guard.Decision {
	rule := m.routes.Classify(fullPath)
	return m.evaluate(ctx, rule, fullPath, m.requestedRedirect(fullPath))
}

func (m *Manager) requestedRedirect(fullPath string) string {
	u, err := url.Parse(fullPath)
	if err != nil {
		return ""
	}
	return u.Query().Get(m.policy.RedirectParam)
}

func (m *Manager) evaluate(ctx context.Context, rule guard.Rule, intendedPath, requestedRedirect string) guard.Decision {
	if rule.Classification == guard.Public {
		return guard.Allow()
	}

	if err := m.store.WaitInitialized(ctx); err != nil {
		return m.evaluationFailed(rule, intendedPath, err)
	}
	if err := m.store.WaitLoaded(ctx); err != nil {
		return m.evaluationFailed(rule, intendedPath, err)
	}

	decision, err := m.policy.EvaluateRule(rule, m.store.State().GuardState(), intendedPath, requestedRedirect)
	if err != nil {
		return m.evaluationFailed(rule, intendedPath, err)
	}

	if decision.Allow && rule.Classification == guard.Protected {
		m.mu.Lock()
		m.intended = intendedPath
		m.mu.Unlock()
	}
	return decision
}

func (m *Manager) evaluationFailed(rule guard.Rule, intendedPath string, err error) guard.Decision {
	if rule.Classification == guard.GuestOnly {
		m.logger.Warn("guest route evaluation failed, allowing", "path", intendedPath, "error", err)
		return guard.Allow()
	}
	m.logger.Warn("protected route evaluation failed, redirecting to sign in", "path", intendedPath, "error", err)
	return m.policy.SignIn(intendedPath, guard.ReasonNotAuthenticated)
}

func (m *Manager) handleBackendChange(name string, sess *Session) {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return
	}

	action := NormalizeProviderEvent(name)
	if action == ActionSignedOut {
		sess = nil
		m.refresher.Invalidate()
	}

	prev := m.store.Session()
	changed, err := m.store.Apply(sess)
	if err != nil {
		m.logger.Warn("ignoring backend notification with malformed session", "event", name, "error", err)
		return
	}

	if action == ActionSignedIn || action == ActionSignedOut {
		m.store.ResetAttempts()
	}

	eventType, ok := action.EventType()
	if !ok || !changed {
		m.logger.Trace("backend notification applied", "event", name, "changed", changed)
		return
	}
	if !sameSession(m.store.Session(), sess) {
		m.logger.Debug("backend notification superseded before it could be announced", "event", name)
		return
	}

	payload := sess.Clone()
	if payload == nil {
		payload = prev
	}
	m.announce(Event{Type: eventType, Session: payload})
}

func (m *Manager) refreshFromScheduler() bool {
	_, err := m.refresher.Refresh(context.Background(), false)
	return err == nil
}

func (m *Manager) refreshed(sess *Session) {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		m.logger.Debug("refresh completed after stop, not announcing")
		return
	}
	// an unchanged renewal did not go through the apply hook
	if current, version := m.store.versioned(); sameSession(current, sess) {
		m.scheduler.ArmVersion(current, version)
	}
	m.announce(Event{Type: EventTokenRefreshed, Session: sess})
}

func (m *Manager) warn(remaining time.Duration) {
	m.publish(Event{Type: EventSessionWarning, Session: m.store.Session(), TimeRemaining: remaining})
}

func (m *Manager) expireFromScheduler() {
	m.expire(context.Background(), "expired")
}

func (m *Manager) expireFromRefresh() {
	m.expire(context.Background(), "refresh_failed")
}

// expire escalates to expiration: the session is dropped, timers cancelled,
// SESSION_EXPIRED published and the backend signed out best-effort.
func (m *Manager) expire(ctx context.Context, reason string) {
	m.refresher.Invalidate()
	m.scheduler.Disarm()

	prev := m.store.Session()
	m.store.ResetAttempts()
	if !m.store.Clear() {
		return
	}

	m.mu.Lock()
	intended := m.intended
	m.mu.Unlock()

	decision := m.policy.SignIn(intended, guard.ReasonSessionExpired)
	m.logger.Info("session expired", "reason", reason, "redirect", decision.Location())
	m.announce(Event{Type: EventSessionExpired, Session: prev, Redirect: &decision})

	m.record(ctx, ActivityEvent{
		EventType: ActivityExpired,
		UserID:    identityID(prevUser(prev)),
		Email:     identityEmail(prevUser(prev)),
		Metadata:  map[string]any{"reason": reason},
	})

	if err := m.backend.SignOut(ctx); err != nil {
		m.logger.Warn("backend sign out after expiry failed", "error", err)
	}
}

// announce publishes a state transition. The loading flag is cleared first so
// handlers that evaluate routes do not wait on the operation that called them.
func (m *Manager) announce(event Event) {
	m.store.SetLoading(false)
	m.publish(event)
}

func (m *Manager) publish(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.clock.Now()
	}
	m.logger.Debug("session event", "type", string(event.Type), "event", print.MaybePrettyJSON(event))
	m.bus.Publish(event)
}

func (m *Manager) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.clock.Now()
	}
	if err := m.activity.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink error", "event", string(event.EventType), "error", err)
	}
}

func prevUser(s *Session) *Identity {
	if s == nil {
		return nil
	}
	return s.User
}

func identityID(i *Identity) string {
	if i == nil {
		return ""
	}
	return i.ID
}

func identityEmail(i *Identity) string {
	if i == nil {
		return ""
	}
	return i.Email
}

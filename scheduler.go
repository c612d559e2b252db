package session

import (
	"sync"
	"time"

	"github.com/goliatone/go-auth-session/clock"
)

// SchedulerHooks are the actions the scheduler triggers.
type SchedulerHooks struct {
	// Expire escalates to expiration.
	Expire func()
	// Refresh renews the session and reports whether it succeeded.
	Refresh func() bool
	// Warn announces the remaining time before expiry.
	Warn func(remaining time.Duration)
}

type armedSession struct {
	expiresAt time.Time
	ticker    clock.Timer
	warnTimer clock.Timer
	warned    bool
}

// Scheduler arms the expiry check tick and warning timer for the current
// session. Every tick recomputes the remaining time from the clock.
type Scheduler struct {
	mu      sync.Mutex
	clock   clock.Clock
	hooks   SchedulerHooks
	current *armedSession
	stopped bool
	version uint64

	warningThreshold time.Duration
	refreshThreshold time.Duration
	interval         time.Duration
	autoRefresh      bool

	logger Logger
}

// NewScheduler returns a scheduler for the config thresholds.
func NewScheduler(clk clock.Clock, cfg Config, hooks SchedulerHooks, logger Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = defaultLogger()
	}
	return &Scheduler{
		clock:            clk,
		hooks:            hooks,
		warningThreshold: cfg.WarningThreshold,
		refreshThreshold: cfg.RefreshThreshold,
		interval:         cfg.CheckInterval,
		autoRefresh:      cfg.AutoRefresh,
		logger:           logger,
	}
}

// Arm replaces any armed timers with timers for sess. Sessions without an
// expiry arm nothing. Sessions already past their expiry arm nothing and
// escalate immediately.
func (s *Scheduler) Arm(sess *Session) {
	s.arm(sess, 0, false)
}

// ArmVersion is Arm for the store write numbered version. Calls carrying a
// version older than one already armed are ignored, so the timers always
// follow the latest write even when hooks finish out of order.
func (s *Scheduler) ArmVersion(sess *Session, version uint64) {
	s.arm(sess, version, true)
}

func (s *Scheduler) arm(sess *Session, version uint64, versioned bool) {
	s.mu.Lock()
	if versioned {
		if version < s.version {
			s.mu.Unlock()
			s.logger.Debug("ignoring stale arm", "version", version, "current", s.version)
			return
		}
		s.version = version
	}
	s.disarmLocked()

	if s.stopped || !sess.Expires() {
		s.mu.Unlock()
		return
	}

	expiresAt := *sess.ExpiresAt
	now := s.clock.Now()
	if !now.Before(expiresAt) {
		s.mu.Unlock()
		s.logger.Info("session already expired when armed", "expires_at", expiresAt)
		s.expire()
		return
	}

	a := &armedSession{expiresAt: expiresAt}
	a.ticker = s.clock.Every(s.interval, func() { s.tick(a) })
	if until := expiresAt.Sub(now) - s.warningThreshold; until > 0 {
		a.warnTimer = s.clock.AfterFunc(until, func() { s.warnDue(a) })
	}
	s.current = a
	s.mu.Unlock()

	s.logger.Debug("session expiry armed", "expires_at", expiresAt, "remaining", expiresAt.Sub(now))
}

// Disarm cancels every timer. It is safe to call when nothing is armed.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
}

// Stop disarms and ignores future Arm calls.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.disarmLocked()
}

// Armed reports whether a session is being tracked.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *Scheduler) disarmLocked() {
	if s.current == nil {
		return
	}
	if s.current.ticker != nil {
		s.current.ticker.Stop()
	}
	if s.current.warnTimer != nil {
		s.current.warnTimer.Stop()
	}
	s.current = nil
}

func (s *Scheduler) isCurrent(a *armedSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == a
}

func (s *Scheduler) tick(a *armedSession) {
	// check and disarm under one lock: a session armed in between must not
	// be expired by this tick
	s.mu.Lock()
	if s.current != a {
		s.mu.Unlock()
		return
	}
	remaining := a.expiresAt.Sub(s.clock.Now())
	if remaining <= 0 {
		s.disarmLocked()
	}
	s.mu.Unlock()

	switch {
	case remaining <= 0:
		s.expire()
	case s.autoRefresh && remaining <= s.refreshThreshold:
		if s.refresh() {
			return
		}
		if remaining <= s.warningThreshold {
			s.warn(a, remaining)
		}
	case remaining <= s.warningThreshold:
		s.warn(a, remaining)
	}
}

func (s *Scheduler) warnDue(a *armedSession) {
	if !s.isCurrent(a) {
		return
	}
	if remaining := a.expiresAt.Sub(s.clock.Now()); remaining > 0 {
		s.warn(a, remaining)
	}
}

// warn emits at most one warning per armed session.
func (s *Scheduler) warn(a *armedSession, remaining time.Duration) {
	s.mu.Lock()
	if s.current != a || a.warned {
		s.mu.Unlock()
		return
	}
	a.warned = true
	s.mu.Unlock()

	if s.hooks.Warn != nil {
		s.hooks.Warn(remaining)
	}
}

func (s *Scheduler) expire() {
	if s.hooks.Expire != nil {
		s.hooks.Expire()
	}
}

func (s *Scheduler) refresh() bool {
	if s.hooks.Refresh == nil {
		return false
	}
	return s.hooks.Refresh()
}

package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-auth-session/clock"
)

type refreshCall struct {
	done    chan struct{}
	session *Session
	err     error
}

// Coordinator serialises session renewal. At most one backend refresh is in
// flight at any time; concurrent callers share its result.
type Coordinator struct {
	mu       sync.Mutex
	inflight *refreshCall
	epoch    uint64

	backend     Backend
	store       *Store
	clock       clock.Clock
	maxAttempts int

	onRefreshed func(*Session)
	onEscalate  func()
	logger      Logger
}

// NewCoordinator wires a coordinator to the store and backend. onRefreshed
// runs after every successful renewal that was not already delivered by a
// backend notification; onEscalate runs when the session can not be renewed
// anymore.
func NewCoordinator(backend Backend, store *Store, clk clock.Clock, maxAttempts int, onRefreshed func(*Session), onEscalate func(), logger Logger) *Coordinator {
	if logger == nil {
		logger = defaultLogger()
	}
	if clk == nil {
		clk = clock.Real()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRefreshAttempts
	}
	return &Coordinator{
		backend:     backend,
		store:       store,
		clock:       clk,
		maxAttempts: maxAttempts,
		onRefreshed: onRefreshed,
		onEscalate:  onEscalate,
		logger:      logger,
	}
}

// Refresh renews the session. Without force, a caller arriving while a
// refresh is pending gets that refresh's result. With force, it waits for
// the pending refresh to settle and then issues its own call.
func (c *Coordinator) Refresh(ctx context.Context, force bool) (*Session, error) {
	for {
		c.mu.Lock()
		call := c.inflight
		if call == nil {
			call = &refreshCall{done: make(chan struct{})}
			c.inflight = call
			epoch := c.epoch
			c.mu.Unlock()

			c.run(ctx, call, epoch)
			return call.session.Clone(), call.err
		}
		c.mu.Unlock()

		select {
		case <-call.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if !force {
			return call.session.Clone(), call.err
		}
		force = false
	}
}

// Invalidate discards the result of any refresh currently in flight.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
}

// InFlight reports whether a backend refresh is pending.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}

func (c *Coordinator) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

func (c *Coordinator) run(ctx context.Context, call *refreshCall, epoch uint64) {
	defer func() {
		c.mu.Lock()
		c.inflight = nil
		c.mu.Unlock()
		close(call.done)
	}()

	if attempts := c.store.RefreshAttempts(); attempts >= c.maxAttempts {
		c.logger.Warn("refresh attempts exhausted, expiring session", "attempts", attempts, "max", c.maxAttempts)
		call.err = ErrSessionExpired
		c.escalate()
		return
	}

	attempts := c.store.IncrementAttempts()
	before := c.store.Session()
	renewed, err := c.callBackend(ctx)

	if !c.current(epoch) {
		c.logger.Debug("discarding refresh result, session changed while in flight")
		call.err = ErrSessionAbsent
		return
	}

	switch {
	case err == nil && renewed != nil && renewed.User != nil:
		if renewed.Expires() && !c.clock.Now().Before(*renewed.ExpiresAt) {
			c.logger.Warn("refresh returned an expired session, expiring", "expires_at", renewed.ExpiresAt)
			call.err = ErrSessionExpired
			c.escalate()
			return
		}
		c.store.ResetAttempts()
		changed, _ := c.store.Apply(renewed)
		if !sameSession(c.store.Session(), renewed) {
			c.logger.Debug("refreshed session was replaced before it could be announced")
			call.err = ErrSessionAbsent
			return
		}
		call.session = renewed
		// a backend notification that already installed renewed has announced it
		echoed := !changed && !sameSession(before, renewed)
		c.logger.Debug("session refreshed", "expires_at", renewed.ExpiresAt, "changed", changed, "echoed", echoed)
		if !echoed && c.onRefreshed != nil {
			c.onRefreshed(renewed.Clone())
		}
	case err == nil:
		c.logger.Warn("refresh returned no session, expiring")
		call.err = ErrSessionAbsent
		c.escalate()
	case IsInvalidCredential(err):
		c.logger.Warn("refresh credential rejected, expiring", "error", err)
		call.err = err
		c.escalate()
	default:
		call.err = classifyRefreshError(err)
		c.logger.Warn("refresh failed", "error", err, "attempt", attempts, "max", c.maxAttempts)
		if attempts >= c.maxAttempts {
			c.escalate()
		}
	}
}

func (c *Coordinator) callBackend(ctx context.Context) (sess *Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			sess, err = nil, fmt.Errorf("backend refresh panicked: %v", r)
		}
	}()
	return c.backend.RefreshSession(ctx)
}

func (c *Coordinator) escalate() {
	if c.onEscalate != nil {
		c.onEscalate()
	}
}

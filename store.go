package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-auth-session/guard"
)

// State is a read-only snapshot of the Store.
type State struct {
	User            *Identity `json:"user,omitempty"`
	Session         *Session  `json:"session,omitempty"`
	IsAuthenticated bool      `json:"is_authenticated"`
	IsLoading       bool      `json:"is_loading"`
	IsInitialized   bool      `json:"is_initialized"`
	RefreshAttempts int       `json:"refresh_attempts"`
}

// GuardState projects the snapshot for the route policy.
func (s State) GuardState() guard.State {
	st := guard.State{
		Initialized:   s.IsInitialized,
		Authenticated: s.IsAuthenticated,
		Roles:         s.User.AllRoles(),
	}
	if s.User != nil {
		st.Email = s.User.Email
		st.EmailConfirmed = s.User.EmailConfirmedAt != nil
	}
	return st
}

// LoadFunc reads the current backend session.
type LoadFunc func(ctx context.Context) (*Session, error)

// Store owns the single session record. Only its methods write its fields;
// user, session and authenticated always change together.
type Store struct {
	mu            sync.Mutex
	session       *Session
	authenticated bool
	loading       bool
	initialized   bool
	initStarted   bool
	attempts      int
	version       uint64

	loaded   chan struct{}
	initDone chan struct{}
	onApply  func(sess *Session, changed bool, version uint64)
	logger   Logger
}

// NewStore returns an empty store in the loading state.
func NewStore(logger Logger) *Store {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Store{
		loading:  true,
		loaded:   make(chan struct{}),
		initDone: make(chan struct{}),
		logger:   logger,
	}
}

// OnApply registers the hook run after every Apply, outside the store lock.
// version increases with every write; hooks from concurrent writes may run
// out of order and should drop versions older than one already handled.
func (s *Store) OnApply(fn func(sess *Session, changed bool, version uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onApply = fn
}

// Initialize performs the first backend read. It runs load at most once for
// the lifetime of the store; later callers wait for that first load.
// Failures leave the store empty and are only logged.
func (s *Store) Initialize(ctx context.Context, load LoadFunc) error {
	s.mu.Lock()
	if s.initStarted {
		done := s.initDone
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.initStarted = true
	s.setLoadingLocked(true)
	s.mu.Unlock()

	current, err := safeLoad(ctx, load)
	if err != nil {
		s.logger.Warn("session initialize failed, continuing without session", "error", err)
		current = nil
	}
	if current != nil && current.User == nil {
		s.logger.Warn("session initialize discarded session without identity")
		current = nil
	}

	// the hook sees an initialized store, so handlers reacting to an
	// already expired session can evaluate routes
	s.write(current, s.finishInitLocked)
	return nil
}

func (s *Store) finishInitLocked() {
	s.initialized = true
	close(s.initDone)
	s.setLoadingLocked(false)
}

func safeLoad(ctx context.Context, load LoadFunc) (sess *Session, err error) {
	if load == nil {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			sess, err = nil, fmt.Errorf("session load panicked: %v", r)
		}
	}()
	return load(ctx)
}

// Apply replaces the session. A nil session clears the store. A session
// without a user is rejected and leaves the store untouched. It reports
// whether the visible state changed.
func (s *Store) Apply(next *Session) (bool, error) {
	if next != nil && next.User == nil {
		return false, ErrSessionAbsent
	}
	return s.write(next, nil), nil
}

// write installs next and runs the hook once the lock is released. settle,
// if set, runs under the same lock as the write.
func (s *Store) write(next *Session, settle func()) bool {
	next = next.Clone()

	s.mu.Lock()
	changed := !sameSession(s.session, next)
	s.session = next
	s.authenticated = next != nil
	s.version++
	version := s.version
	if settle != nil {
		settle()
	}
	hook := s.onApply
	s.mu.Unlock()

	if hook != nil {
		hook(next.Clone(), changed, version)
	}
	return changed
}

// Clear removes the session. It reports whether one was present.
func (s *Store) Clear() bool {
	changed, _ := s.Apply(nil)
	return changed
}

// State returns a snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session.Clone()
	var user *Identity
	if sess != nil {
		user = sess.User
	}
	return State{
		User:            user,
		Session:         sess,
		IsAuthenticated: s.authenticated,
		IsLoading:       s.loading,
		IsInitialized:   s.initialized,
		RefreshAttempts: s.attempts,
	}
}

// Session returns a copy of the current session or nil.
func (s *Store) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

// versioned returns a copy of the session with the number of the write that
// installed it.
func (s *Store) versioned() (*Session, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone(), s.version
}

// SetLoading flips the loading flag. Transitions to false release
// WaitLoaded callers.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLoadingLocked(loading)
}

func (s *Store) setLoadingLocked(loading bool) {
	switch {
	case loading && !s.loading:
		s.loading = true
		s.loaded = make(chan struct{})
	case !loading && s.loading:
		s.loading = false
		close(s.loaded)
	}
}

// WaitLoaded blocks until the store is not loading.
func (s *Store) WaitLoaded(ctx context.Context) error {
	s.mu.Lock()
	ch := s.loaded
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitInitialized blocks until the first load finished.
func (s *Store) WaitInitialized(ctx context.Context) error {
	select {
	case <-s.initDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IncrementAttempts records a refresh attempt and returns the new count.
func (s *Store) IncrementAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.attempts
}

// ResetAttempts zeroes the refresh attempt counter.
func (s *Store) ResetAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = 0
}

// RefreshAttempts returns the current attempt count.
func (s *Store) RefreshAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

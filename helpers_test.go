package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var testEpoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func testIdentity(id string) *Identity {
	return &Identity{ID: id, Email: id + "@example.com", Role: "member"}
}

func testSession(token string, expiresAt time.Time) *Session {
	at := expiresAt
	return &Session{
		AccessToken:  token,
		RefreshToken: "refresh-" + token,
		TokenType:    "bearer",
		ExpiresAt:    &at,
		User:         testIdentity("user-1"),
	}
}

// fakeBackend is a scripted Backend. Hooks left nil fall back to the stored
// session.
type fakeBackend struct {
	mu         sync.Mutex
	session    *Session
	getErr     error
	signOutErr error

	refreshFn func(ctx context.Context) (*Session, error)
	signInFn  func(email, password string) (*Session, error)
	signUpFn  func(email, password string) (*Identity, *Session, error)

	// notify echoes operations to subscribers like a real provider does.
	notify bool

	listeners map[int]ChangeFunc
	nextID    int

	getCalls       int
	refreshCalls   int
	signOutCalls   int
	refreshActive  int
	refreshMaxSeen int
}

func newFakeBackend(sess *Session) *fakeBackend {
	return &fakeBackend{session: sess, listeners: map[int]ChangeFunc{}}
}

func (f *fakeBackend) GetSession(context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.session.Clone(), nil
}

func (f *fakeBackend) RefreshSession(ctx context.Context) (*Session, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.refreshActive++
	if f.refreshActive > f.refreshMaxSeen {
		f.refreshMaxSeen = f.refreshActive
	}
	fn := f.refreshFn
	current := f.session.Clone()
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.refreshActive--
		f.mu.Unlock()
	}()

	if fn == nil {
		return current, nil
	}
	sess, err := fn(ctx)
	if err == nil && sess != nil {
		f.mu.Lock()
		f.session = sess.Clone()
		f.mu.Unlock()
		f.emit("TOKEN_REFRESHED", sess)
	}
	return sess, err
}

func (f *fakeBackend) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOutCalls++
	err := f.signOutErr
	if err == nil {
		f.session = nil
	}
	f.mu.Unlock()

	if err == nil {
		f.emit("SIGNED_OUT", nil)
	}
	return err
}

func (f *fakeBackend) Subscribe(fn ChangeFunc) Disposer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeBackend) SignUp(_ context.Context, email, password string) (*Identity, *Session, error) {
	f.mu.Lock()
	fn := f.signUpFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil, fmt.Errorf("sign up not scripted")
	}
	user, sess, err := fn(email, password)
	if err == nil && sess != nil {
		f.mu.Lock()
		f.session = sess.Clone()
		f.mu.Unlock()
		f.emit("SIGNED_IN", sess)
	}
	return user, sess, err
}

func (f *fakeBackend) SignInWithPassword(_ context.Context, email, password string) (*Session, error) {
	f.mu.Lock()
	fn := f.signInFn
	f.mu.Unlock()
	if fn == nil {
		return nil, ErrInvalidCredential
	}
	sess, err := fn(email, password)
	if err == nil && sess != nil {
		f.mu.Lock()
		f.session = sess.Clone()
		f.mu.Unlock()
		f.emit("SIGNED_IN", sess)
	}
	return sess, err
}

func (f *fakeBackend) emit(name string, sess *Session) {
	f.mu.Lock()
	if !f.notify {
		f.mu.Unlock()
		return
	}
	listeners := make([]ChangeFunc, 0, len(f.listeners))
	for _, fn := range f.listeners {
		listeners = append(listeners, fn)
	}
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(name, sess.Clone())
	}
}

func (f *fakeBackend) counts() (get, refresh, signOut int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls, f.refreshCalls, f.signOutCalls
}

func (f *fakeBackend) maxConcurrentRefresh() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshMaxSeen
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: msg, args: args})
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger { return l }

func (l *captureLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, c := range l.calls {
		if c.level == level {
			out = append(out, c.message)
		}
	}
	return out
}

type loggerProviderSpy struct {
	mu     sync.Mutex
	logger Logger
	names  []string
}

func (p *loggerProviderSpy) GetLogger(name string) Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, name)
	return p.logger
}

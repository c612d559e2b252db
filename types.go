package session

import (
	"context"
	"reflect"
	"time"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the engine.
type Logger = glog.Logger

// LoggerProvider resolves named loggers.
type LoggerProvider = glog.LoggerProvider

// Identity is the authenticated principal attached to a session.
type Identity struct {
	ID               string         `json:"id"`
	Email            string         `json:"email,omitempty"`
	Role             string         `json:"role,omitempty"`
	Roles            []string       `json:"roles,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
}

// HasAnyRole reports whether the identity holds at least one of roles.
// An empty list is always satisfied.
func (i *Identity) HasAnyRole(roles ...string) bool {
	if len(roles) == 0 {
		return true
	}
	if i == nil {
		return false
	}
	for _, want := range roles {
		if want == i.Role && want != "" {
			return true
		}
		for _, have := range i.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// AllRoles returns the primary role followed by the extra roles.
func (i *Identity) AllRoles() []string {
	if i == nil {
		return nil
	}
	out := make([]string, 0, len(i.Roles)+1)
	if i.Role != "" {
		out = append(out, i.Role)
	}
	return append(out, i.Roles...)
}

// Clone returns a deep copy of the identity.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	if i.Roles != nil {
		c.Roles = append([]string(nil), i.Roles...)
	}
	if i.Metadata != nil {
		c.Metadata = make(map[string]any, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	if i.EmailConfirmedAt != nil {
		t := *i.EmailConfirmedAt
		c.EmailConfirmedAt = &t
	}
	return &c
}

// Session is a backend issued credential snapshot. It is replaced wholesale
// on every renewal and never mutated in place.
type Session struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	User         *Identity  `json:"user,omitempty"`
}

// Expires reports whether the session carries an expiry.
func (s *Session) Expires() bool {
	return s != nil && s.ExpiresAt != nil
}

// Remaining returns the time left before expiry relative to now. The second
// value is false for non-expiring sessions.
func (s *Session) Remaining(now time.Time) (time.Duration, bool) {
	if !s.Expires() {
		return 0, false
	}
	return s.ExpiresAt.Sub(now), true
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		c.ExpiresAt = &t
	}
	c.User = s.User.Clone()
	return &c
}

func sameSession(a, b *Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.AccessToken != b.AccessToken || a.RefreshToken != b.RefreshToken {
		return false
	}
	if (a.ExpiresAt == nil) != (b.ExpiresAt == nil) {
		return false
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt) {
		return false
	}
	return sameIdentity(a.User, b.User)
}

func sameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.Email != b.Email || a.Role != b.Role || len(a.Roles) != len(b.Roles) {
		return false
	}
	for i := range a.Roles {
		if a.Roles[i] != b.Roles[i] {
			return false
		}
	}
	if (a.EmailConfirmedAt == nil) != (b.EmailConfirmedAt == nil) {
		return false
	}
	if a.EmailConfirmedAt != nil && !a.EmailConfirmedAt.Equal(*b.EmailConfirmedAt) {
		return false
	}
	return reflect.DeepEqual(a.Metadata, b.Metadata)
}

// Disposer removes a subscription. Calling it more than once is a no-op.
type Disposer func()

// ChangeFunc receives raw backend notifications.
type ChangeFunc func(event string, session *Session)

// Backend is the remote identity service the engine drives. Implementations
// own credential persistence.
type Backend interface {
	GetSession(ctx context.Context) (*Session, error)
	// RefreshSession renews the current session. Errors wrapping
	// ErrInvalidCredential are final; anything else is treated as transient.
	RefreshSession(ctx context.Context) (*Session, error)
	SignOut(ctx context.Context) error
	Subscribe(fn ChangeFunc) Disposer
	// SignUp returns a nil session when the account needs confirmation.
	SignUp(ctx context.Context, email, password string) (*Identity, *Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
}

// SignUpData is the registration payload.
type SignUpData struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password,omitempty"`
}

// Result is returned by every public operation. Callers render Message and
// inspect Success; expected failures never surface as panics.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Cause   error  `json:"-"`
}

func succeed(message string) Result {
	return Result{Success: true, Message: message}
}

func fail(message string, err error) Result {
	r := Result{Success: false, Message: message, Cause: err}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// AuthState is a one-shot view of the backend session.
type AuthState struct {
	User            *Identity `json:"user,omitempty"`
	Session         *Session  `json:"session,omitempty"`
	IsAuthenticated bool      `json:"is_authenticated"`
	IsLoading       bool      `json:"is_loading"`
}

// Package local is an in-process identity backend for development and tests.
// Accounts and refresh tokens live in a Bun database, access tokens are HS256
// JWTs and refresh tokens rotate on every use.
package local

import (
	"context"
	"database/sql"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/clock"
)

// Provider event names emitted to subscribers.
const (
	EventSignedIn       = "SIGNED_IN"
	EventSignedOut      = "SIGNED_OUT"
	EventTokenRefreshed = "TOKEN_REFRESHED"
)

const (
	DefaultIssuer      = "go-auth-session"
	DefaultRole        = "member"
	DefaultAccessTTL   = time.Hour
	DefaultRefreshTTL  = 30 * 24 * time.Hour
	defaultTokenType   = "bearer"
	minSigningKeyBytes = 16
)

// Option customizes a Backend.
type Option func(*Backend)

// WithClock injects the time source.
func WithClock(clk clock.Clock) Option {
	return func(b *Backend) {
		if clk != nil {
			b.clock = clk
		}
	}
}

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		if ttl > 0 {
			b.accessTTL = ttl
		}
	}
}

// WithRefreshTTL sets the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		if ttl > 0 {
			b.refreshTTL = ttl
		}
	}
}

// WithIssuer sets the access token issuer claim.
func WithIssuer(issuer string) Option {
	return func(b *Backend) {
		b.issuer = issuer
	}
}

// WithDefaultRole sets the role given to new accounts.
func WithDefaultRole(role string) Option {
	return func(b *Backend) {
		if role != "" {
			b.defaultRole = role
		}
	}
}

// WithRequireConfirmation makes SignUp return no session until the email
// is confirmed.
func WithRequireConfirmation(required bool) Option {
	return func(b *Backend) {
		b.requireConfirmation = required
	}
}

// WithLogger sets the backend logger.
func WithLogger(logger session.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// Backend implements session.Backend on top of a Repository. It holds the
// current session for a single client.
type Backend struct {
	repo                *Repository
	tokens              *TokenIssuer
	clock               clock.Clock
	issuer              string
	defaultRole         string
	accessTTL           time.Duration
	refreshTTL          time.Duration
	requireConfirmation bool
	logger              session.Logger

	mu        sync.Mutex
	current   *session.Session
	listeners map[int]session.ChangeFunc
	nextID    int
}

var _ session.Backend = (*Backend)(nil)

// OpenSQLite opens a Bun database over the sqlite shim driver.
func OpenSQLite(dsn string) (*bun.DB, error) {
	db, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}
	return bun.NewDB(db, sqlitedialect.New()), nil
}

// New creates a Backend. Call Migrate before first use on a fresh database.
func New(db *bun.DB, signingKey []byte, opts ...Option) (*Backend, error) {
	if db == nil {
		return nil, goerrors.New("database is required", goerrors.CategoryBadInput)
	}
	if len(signingKey) < minSigningKeyBytes {
		return nil, goerrors.New("signing key is too short", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"min_bytes": minSigningKeyBytes})
	}

	b := &Backend{
		repo:        NewRepository(db),
		clock:       clock.Real(),
		issuer:      DefaultIssuer,
		defaultRole: DefaultRole,
		accessTTL:   DefaultAccessTTL,
		refreshTTL:  DefaultRefreshTTL,
		listeners:   map[int]session.ChangeFunc{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	_, b.logger = session.ResolveLogger("session.local", nil, b.logger)
	b.tokens = NewTokenIssuer(signingKey, b.issuer, b.accessTTL, b.clock.Now)
	return b, nil
}

// Migrate creates the backend tables.
func (b *Backend) Migrate(ctx context.Context) error {
	return b.repo.Migrate(ctx)
}

// Tokens exposes the access token issuer so servers can verify tokens.
func (b *Backend) Tokens() *TokenIssuer {
	return b.tokens
}

// GetSession returns the current session, which may already be expired.
func (b *Backend) GetSession(ctx context.Context) (*session.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current.Clone(), nil
}

// SignUp registers an account. With confirmation required the returned
// session is nil.
func (b *Backend) SignUp(ctx context.Context, email, password string) (*session.Identity, *session.Session, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, nil, goerrors.New("email is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	if _, err := b.repo.FindUserByEmail(ctx, email); err == nil {
		return nil, nil, ErrEmailTaken
	} else if !isTextCode(err, textCodeUserNotFound) {
		return nil, nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, nil, err
	}

	now := b.clock.Now().UTC()
	user := &UserModel{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         b.defaultRole,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !b.requireConfirmation {
		user.EmailConfirmedAt = &now
	}

	if err := b.repo.InsertUser(ctx, user); err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create user")
	}

	b.logger.Info("user registered", "user_id", user.ID.String(), "confirmation_required", b.requireConfirmation)

	if b.requireConfirmation {
		return toIdentity(user), nil, nil
	}

	sess, err := b.issue(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	b.setCurrent(sess)
	b.emit(EventSignedIn, sess)
	return toIdentity(user), sess.Clone(), nil
}

// ConfirmEmail marks the account as confirmed so it can sign in.
func (b *Backend) ConfirmEmail(ctx context.Context, email string) error {
	user, err := b.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	return b.repo.ConfirmEmail(ctx, user.ID, b.clock.Now().UTC())
}

// SignInWithPassword verifies credentials and issues a session.
func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	user, err := b.repo.FindUserByEmail(ctx, email)
	if err != nil {
		if isTextCode(err, textCodeUserNotFound) {
			return nil, ErrMismatchedCredentials
		}
		return nil, err
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, err
	}

	if b.requireConfirmation && user.EmailConfirmedAt == nil {
		return nil, ErrEmailNotConfirmed
	}

	sess, err := b.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	b.setCurrent(sess)
	b.emit(EventSignedIn, sess)
	return sess.Clone(), nil
}

// RefreshSession exchanges the current refresh token for a new session.
// Rejected refresh tokens clear the current session and return an error
// tagged as an invalid credential.
func (b *Backend) RefreshSession(ctx context.Context) (*session.Session, error) {
	b.mu.Lock()
	current := b.current.Clone()
	b.mu.Unlock()

	if current == nil || current.RefreshToken == "" {
		return nil, nil
	}

	now := b.clock.Now().UTC()

	stored, err := b.repo.FindRefreshToken(ctx, current.RefreshToken)
	if err != nil {
		if isTextCode(err, textCodeRefreshTokenNotFound) {
			return nil, b.reject(current, err)
		}
		return nil, err
	}
	if stored.RevokedAt != nil {
		return nil, b.reject(current, ErrRefreshTokenRevoked)
	}
	if !stored.Active(now) {
		return nil, b.reject(current, ErrRefreshTokenExpired)
	}

	user, err := b.repo.FindUserByID(ctx, stored.UserID)
	if err != nil {
		if isTextCode(err, textCodeUserNotFound) {
			return nil, b.reject(current, err)
		}
		return nil, err
	}

	next, refresh, err := b.mint(user, now)
	if err != nil {
		return nil, err
	}
	if err := b.repo.RotateRefreshToken(ctx, stored.Token, refresh, now); err != nil {
		if isTextCode(err, textCodeRefreshTokenRevoked) {
			return nil, b.reject(current, err)
		}
		return nil, err
	}

	b.mu.Lock()
	// a sign out may have happened while rotating
	if b.current == nil || b.current.RefreshToken != current.RefreshToken {
		b.mu.Unlock()
		return nil, invalidCredential(ErrRefreshTokenRevoked)
	}
	b.current = next.Clone()
	b.mu.Unlock()

	b.logger.Debug("session refreshed", "user_id", user.ID.String())
	b.emit(EventTokenRefreshed, next)
	return next.Clone(), nil
}

// SignOut revokes the refresh token and clears the current session.
func (b *Backend) SignOut(ctx context.Context) error {
	b.mu.Lock()
	current := b.current
	b.current = nil
	b.mu.Unlock()

	if current == nil {
		return nil
	}

	b.emit(EventSignedOut, nil)

	if current.RefreshToken == "" {
		return nil
	}
	if err := b.repo.RevokeRefreshToken(ctx, current.RefreshToken, b.clock.Now().UTC()); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke refresh token")
	}
	return nil
}

// Subscribe registers fn for provider events.
func (b *Backend) Subscribe(fn session.ChangeFunc) session.Disposer {
	if fn == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *Backend) issue(ctx context.Context, user *UserModel) (*session.Session, error) {
	now := b.clock.Now().UTC()
	sess, refresh, err := b.mint(user, now)
	if err != nil {
		return nil, err
	}
	if err := b.repo.InsertRefreshToken(ctx, refresh); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store refresh token")
	}
	return sess, nil
}

func (b *Backend) mint(user *UserModel, now time.Time) (*session.Session, *RefreshTokenModel, error) {
	access, expiresAt, err := b.tokens.Issue(user)
	if err != nil {
		return nil, nil, err
	}

	refresh := &RefreshTokenModel{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: now.Add(b.refreshTTL),
		CreatedAt: now,
	}

	expiresAt = expiresAt.UTC()
	sess := &session.Session{
		AccessToken:  access,
		RefreshToken: refresh.Token,
		TokenType:    defaultTokenType,
		ExpiresAt:    &expiresAt,
		User:         toIdentity(user),
	}
	return sess, refresh, nil
}

func (b *Backend) reject(current *session.Session, err error) error {
	b.mu.Lock()
	if b.current != nil && b.current.RefreshToken == current.RefreshToken {
		b.current = nil
	}
	b.mu.Unlock()

	b.logger.Warn("refresh token rejected", "error", err)
	return invalidCredential(err)
}

func (b *Backend) setCurrent(sess *session.Session) {
	b.mu.Lock()
	b.current = sess.Clone()
	b.mu.Unlock()
}

func (b *Backend) emit(event string, sess *session.Session) {
	b.mu.Lock()
	listeners := make([]session.ChangeFunc, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(event, sess.Clone())
	}
}

func toIdentity(user *UserModel) *session.Identity {
	if user == nil {
		return nil
	}
	identity := &session.Identity{
		ID:    user.ID.String(),
		Email: user.Email,
		Role:  user.Role,
	}
	if user.EmailConfirmedAt != nil {
		t := user.EmailConfirmedAt.UTC()
		identity.EmailConfirmedAt = &t
	}
	return identity
}

func isTextCode(err error, code string) bool {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode == code
	}
	return false
}

package local

import (
	goerrors "github.com/goliatone/go-errors"

	session "github.com/goliatone/go-auth-session"
)

const (
	textCodeEmailTaken            = "LOCAL_EMAIL_TAKEN"
	textCodeUserNotFound          = "LOCAL_USER_NOT_FOUND"
	textCodeEmailNotConfirmed     = "LOCAL_EMAIL_NOT_CONFIRMED"
	textCodeRefreshTokenNotFound  = "LOCAL_REFRESH_TOKEN_NOT_FOUND"
	textCodeRefreshTokenRevoked   = "LOCAL_REFRESH_TOKEN_REVOKED"
	textCodeRefreshTokenExpired   = "LOCAL_REFRESH_TOKEN_EXPIRED"
	textCodeMismatchedCredentials = "LOCAL_MISMATCHED_CREDENTIALS"
)

// ErrEmailTaken is returned by SignUp when the email is registered.
var ErrEmailTaken = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode(textCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

// ErrUserNotFound is returned when an account does not exist.
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrEmailNotConfirmed is returned by sign in before confirmation.
var ErrEmailNotConfirmed = goerrors.New("email not confirmed", goerrors.CategoryAuth).
	WithTextCode(textCodeEmailNotConfirmed).
	WithCode(goerrors.CodeUnauthorized)

// ErrMismatchedCredentials is returned when email or password are wrong.
var ErrMismatchedCredentials = goerrors.New("invalid login credentials", goerrors.CategoryAuth).
	WithTextCode(textCodeMismatchedCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrRefreshTokenNotFound is returned for unknown refresh tokens.
var ErrRefreshTokenNotFound = goerrors.New("refresh token not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeRefreshTokenNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrRefreshTokenRevoked is returned when a refresh token was already used.
var ErrRefreshTokenRevoked = goerrors.New("refresh token revoked", goerrors.CategoryAuth).
	WithTextCode(textCodeRefreshTokenRevoked).
	WithCode(goerrors.CodeUnauthorized)

// ErrRefreshTokenExpired is returned when a refresh token outlived its TTL.
var ErrRefreshTokenExpired = goerrors.New("refresh token expired", goerrors.CategoryAuth).
	WithTextCode(textCodeRefreshTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// invalidCredential tags err so the session engine never retries it.
func invalidCredential(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryAuth, "refresh credential rejected").
		WithTextCode(session.TextCodeInvalidCredential).
		WithCode(goerrors.CodeUnauthorized)
}

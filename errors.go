package session

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-auth-session/guard"
)

const (
	TextCodeBackendUnreachable = "SESSION_BACKEND_UNREACHABLE"
	TextCodeInvalidCredential  = "SESSION_INVALID_CREDENTIAL"
	TextCodeSessionAbsent      = "SESSION_ABSENT"
	TextCodeSessionExpired     = "SESSION_EXPIRED"
	TextCodeInvalidConfig      = "SESSION_INVALID_CONFIG"
	TextCodeInvalidSignUp      = "SESSION_INVALID_SIGN_UP"
)

// ErrBackendUnreachable marks a transient backend failure (network, timeout).
var ErrBackendUnreachable = goerrors.New("identity backend unreachable", goerrors.CategoryOperation).
	WithTextCode(TextCodeBackendUnreachable).
	WithCode(http.StatusServiceUnavailable)

// ErrInvalidCredential marks a revoked or expired refresh credential. It is
// never retried.
var ErrInvalidCredential = goerrors.New("refresh credential is invalid or expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredential).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionAbsent is returned when there is no session to operate on.
var ErrSessionAbsent = goerrors.New("no active session", goerrors.CategoryNotFound).
	WithTextCode(TextCodeSessionAbsent).
	WithCode(goerrors.CodeNotFound)

// ErrSessionExpired is returned once the engine escalated to expiration.
var ErrSessionExpired = goerrors.New("session expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = goerrors.New("invalid session configuration", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidConfig).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidSignUp is returned when the sign up payload fails validation.
var ErrInvalidSignUp = goerrors.New("invalid sign up data", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidSignUp).
	WithCode(goerrors.CodeBadRequest)

// ErrRedirectPathInvalid is returned when an untrusted redirect target is rejected.
var ErrRedirectPathInvalid = guard.ErrRedirectPathInvalid

// ErrNotInitialized is returned when the route policy is consulted too early.
var ErrNotInitialized = guard.ErrNotInitialized

// IsInvalidCredential reports whether err means the refresh credential can
// not be used again.
func IsInvalidCredential(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidCredential) {
		return true
	}
	return hasTextCode(err, TextCodeInvalidCredential)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return err != nil && !IsInvalidCredential(err)
}

// IsSessionAbsent reports whether err means there was no session.
func IsSessionAbsent(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSessionAbsent) || hasTextCode(err, TextCodeSessionAbsent)
}

// IsSessionExpired reports whether err means the session ran out.
func IsSessionExpired(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSessionExpired) || hasTextCode(err, TextCodeSessionExpired)
}

func hasTextCode(err error, code string) bool {
	for err != nil {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) || rich == nil {
			return false
		}
		if rich.TextCode == code {
			return true
		}
		err = rich.Source
	}
	return false
}

// classifyRefreshError normalises backend refresh errors into the engine
// taxonomy.
func classifyRefreshError(err error) error {
	if err == nil {
		return nil
	}
	if IsInvalidCredential(err) {
		return err
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode == TextCodeBackendUnreachable {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryOperation, "session refresh failed").
		WithTextCode(TextCodeBackendUnreachable).
		WithCode(http.StatusServiceUnavailable)
}

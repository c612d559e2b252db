package session_test

import (
	"errors"
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"

	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/guard"
)

func TestIsInvalidCredential(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Sentinel",
			err:      session.ErrInvalidCredential,
			expected: true,
		},
		{
			name:     "Wrapped with fmt",
			err:      fmt.Errorf("refresh: %w", session.ErrInvalidCredential),
			expected: true,
		},
		{
			name: "Backend error carrying the text code",
			err: goerrors.Wrap(errors.New("refresh_token_not_found"), goerrors.CategoryAuth, "refresh rejected").
				WithTextCode(session.TextCodeInvalidCredential),
			expected: true,
		},
		{
			name:     "Transient structured error",
			err:      session.ErrBackendUnreachable,
			expected: false,
		},
		{
			name:     "Plain error",
			err:      errors.New("timeout"),
			expected: false,
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, session.IsInvalidCredential(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, session.IsTransient(errors.New("connection reset")))
	assert.True(t, session.IsTransient(session.ErrBackendUnreachable))
	assert.False(t, session.IsTransient(session.ErrInvalidCredential))
	assert.False(t, session.IsTransient(nil))
}

func TestIsSessionAbsent(t *testing.T) {
	assert.True(t, session.IsSessionAbsent(session.ErrSessionAbsent))
	assert.True(t, session.IsSessionAbsent(fmt.Errorf("apply: %w", session.ErrSessionAbsent)))
	assert.False(t, session.IsSessionAbsent(session.ErrSessionExpired))
	assert.False(t, session.IsSessionAbsent(nil))
}

func TestIsSessionExpired(t *testing.T) {
	assert.True(t, session.IsSessionExpired(session.ErrSessionExpired))
	assert.True(t, session.IsSessionExpired(fmt.Errorf("adopt: %w", session.ErrSessionExpired)))
	assert.False(t, session.IsSessionExpired(session.ErrSessionAbsent))
	assert.False(t, session.IsSessionExpired(nil))
}

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		err      *goerrors.Error
		category any
		textCode string
	}{
		{session.ErrBackendUnreachable, goerrors.CategoryOperation, session.TextCodeBackendUnreachable},
		{session.ErrInvalidCredential, goerrors.CategoryAuth, session.TextCodeInvalidCredential},
		{session.ErrSessionAbsent, goerrors.CategoryNotFound, session.TextCodeSessionAbsent},
		{session.ErrInvalidConfig, goerrors.CategoryValidation, session.TextCodeInvalidConfig},
		{session.ErrRedirectPathInvalid, goerrors.CategoryBadInput, guard.TextCodeRedirectPathInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.textCode, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.textCode, tt.err.TextCode)
		})
	}
}

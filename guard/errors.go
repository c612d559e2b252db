package guard

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeRedirectPathInvalid = "SESSION_REDIRECT_PATH_INVALID"
	TextCodeNotInitialized      = "SESSION_NOT_INITIALIZED"
)

// ErrRedirectPathInvalid is returned when a redirect target is rejected.
var ErrRedirectPathInvalid = goerrors.New("redirect path is not allowed", goerrors.CategoryBadInput).
	WithTextCode(TextCodeRedirectPathInvalid).
	WithCode(goerrors.CodeBadRequest)

// ErrNotInitialized is returned when the policy is consulted before the
// session state finished its first load.
var ErrNotInitialized = goerrors.New("session state is not initialized", goerrors.CategoryOperation).
	WithTextCode(TextCodeNotInitialized).
	WithCode(goerrors.CodeConflict)

// IsRedirectPathInvalid reports whether err is a rejected redirect target.
func IsRedirectPathInvalid(err error) bool {
	return hasTextCode(err, TextCodeRedirectPathInvalid)
}

// IsNotInitialized reports whether err is ErrNotInitialized.
func IsNotInitialized(err error) bool {
	return hasTextCode(err, TextCodeNotInitialized)
}

func hasTextCode(err error, code string) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return false
	}
	return rich.TextCode == code
}

// Package guard decides navigation outcomes for protected, guest-only and
// public routes.
//
// The policy is a pure function of a route rule and a snapshot of the
// session state: it performs no I/O and never waits. Callers are expected to
// await session initialization before asking, Evaluate returns
// ErrNotInitialized otherwise.
//
// Redirect targets that arrive through untrusted channels (query strings,
// form fields) must go through ValidateRedirectPath or ResolveRedirect before
// they are used.
package guard

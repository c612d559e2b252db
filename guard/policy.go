package guard

import (
	"net/url"
	"sort"
	"strings"
)

// Decision reasons.
const (
	ReasonNotAuthenticated     = "not_authenticated"
	ReasonAlreadyAuthenticated = "already_authenticated"
	ReasonInsufficientRole     = "insufficient_role"
	ReasonSessionExpired       = "session_expired"
	ReasonEmailUnconfirmed     = "email_unconfirmed"
)

// State is the slice of session state the policy reads.
type State struct {
	Initialized    bool
	Authenticated  bool
	Roles          []string
	Email          string
	EmailConfirmed bool
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allow             bool   `json:"allow"`
	RedirectTo        string `json:"redirect_to,omitempty"`
	CarryIntendedPath bool   `json:"carry_intended_path,omitempty"`
	IntendedPath      string `json:"intended_path,omitempty"`
	Reason            string `json:"reason,omitempty"`
	// Query holds extra parameters rendered by Location in key order.
	Query map[string]string `json:"query,omitempty"`

	redirectParam string
	reasonParam   string
}

// Allow returns a decision that lets navigation proceed.
func Allow() Decision {
	return Decision{Allow: true}
}

// Redirect returns a decision that sends navigation to path.
func Redirect(path, reason string) Decision {
	return Decision{RedirectTo: path, Reason: reason}
}

// Location renders the redirect target. The intended path is appended when
// the decision carries it, then the reason for sign-in redirects, then Query.
func (d Decision) Location() string {
	if d.Allow || d.RedirectTo == "" {
		return ""
	}

	target := d.RedirectTo
	if d.CarryIntendedPath && d.IntendedPath != "" {
		param := d.redirectParam
		if param == "" {
			param = DefaultRedirectParam
		}
		target = appendQuery(target, param, d.IntendedPath)
	}
	if d.reasonParam != "" && d.Reason != "" {
		target = appendQuery(target, d.reasonParam, d.Reason)
	}

	keys := make([]string, 0, len(d.Query))
	for k := range d.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		target = appendQuery(target, k, d.Query[k])
	}
	return target
}

func appendQuery(target, key, value string) string {
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}

const (
	DefaultSignInPath        = "/signin"
	DefaultAuthenticatedPath = "/dashboard"
	DefaultUnauthorizedPath  = "/unauthorized"
	DefaultRedirectParam     = "redirect"
	DefaultReasonParam       = "reason"
	DefaultVerifyEmailPath   = "/auth/verify-email"
)

// Policy holds the redirect targets used by Evaluate.
type Policy struct {
	SignInPath               string
	DefaultAuthenticatedPath string
	UnauthorizedPath         string
	RedirectParam            string
	ReasonParam              string
	// VerifyEmailPath enables the confirmation gate: authenticated
	// identities without a confirmed email are sent there from protected
	// routes. Empty disables the gate.
	VerifyEmailPath string
	// Denylist is applied to requested redirect targets. Nil uses
	// DefaultDenylist.
	Denylist []string
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		SignInPath:               DefaultSignInPath,
		DefaultAuthenticatedPath: DefaultAuthenticatedPath,
		UnauthorizedPath:         DefaultUnauthorizedPath,
		RedirectParam:            DefaultRedirectParam,
		ReasonParam:              DefaultReasonParam,
	}
}

// Evaluate applies the access rules for a bare classification.
func (p Policy) Evaluate(class Classification, st State, intendedPath, requestedRedirect string) (Decision, error) {
	return p.EvaluateRule(Rule{Classification: class}, st, intendedPath, requestedRedirect)
}

// EvaluateRule applies the access rules in order:
//
//  1. public routes are always allowed
//  2. uninitialized state is an error, the caller must await it
//  3. protected routes send anonymous users to sign in with the intended path
//  4. guest-only routes send authenticated users to the validated requested
//     target or the default authenticated path
//  5. protected routes send unconfirmed identities to the verify email path
//     when the gate is enabled
//  6. protected routes with role requirements send other identities to the
//     unauthorized path
//  7. everything else is allowed
func (p Policy) EvaluateRule(rule Rule, st State, intendedPath, requestedRedirect string) (Decision, error) {
	p = p.withDefaults()

	if rule.Classification == Public {
		return Allow(), nil
	}

	if !st.Initialized {
		return Decision{}, ErrNotInitialized
	}

	switch rule.Classification {
	case Protected:
		if !st.Authenticated {
			return p.SignIn(intendedPath, ReasonNotAuthenticated), nil
		}
		if p.VerifyEmailPath != "" && !st.EmailConfirmed {
			return p.VerifyEmail(st.Email), nil
		}
		if !hasAnyRole(st.Roles, rule.Roles) {
			return Redirect(p.UnauthorizedPath, ReasonInsufficientRole), nil
		}
	case GuestOnly:
		if st.Authenticated {
			target := ResolveRedirect(requestedRedirect, p.DefaultAuthenticatedPath, p.Denylist)
			return Redirect(target, ReasonAlreadyAuthenticated), nil
		}
	}

	return Allow(), nil
}

// SignIn builds the redirect to the sign-in entry point carrying intendedPath.
func (p Policy) SignIn(intendedPath, reason string) Decision {
	p = p.withDefaults()
	return Decision{
		RedirectTo:        p.SignInPath,
		CarryIntendedPath: intendedPath != "",
		IntendedPath:      intendedPath,
		Reason:            reason,
		redirectParam:     p.RedirectParam,
		reasonParam:       p.ReasonParam,
	}
}

// VerifyEmail builds the redirect to the email confirmation page.
func (p Policy) VerifyEmail(email string) Decision {
	d := Redirect(p.VerifyEmailPath, ReasonEmailUnconfirmed)
	if email != "" {
		d.Query = map[string]string{"email": email}
	}
	return d
}

// ValidateRedirect validates path against the policy denylist.
func (p Policy) ValidateRedirect(path string) error {
	return ValidateRedirectPath(path, p.Denylist)
}

// ResolveRedirect returns candidate when valid, fallback otherwise.
func (p Policy) ResolveRedirect(candidate, fallback string) string {
	return ResolveRedirect(candidate, fallback, p.Denylist)
}

func (p Policy) withDefaults() Policy {
	if p.SignInPath == "" {
		p.SignInPath = DefaultSignInPath
	}
	if p.DefaultAuthenticatedPath == "" {
		p.DefaultAuthenticatedPath = DefaultAuthenticatedPath
	}
	if p.UnauthorizedPath == "" {
		p.UnauthorizedPath = DefaultUnauthorizedPath
	}
	if p.RedirectParam == "" {
		p.RedirectParam = DefaultRedirectParam
	}
	if p.ReasonParam == "" {
		p.ReasonParam = DefaultReasonParam
	}
	return p
}

func hasAnyRole(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

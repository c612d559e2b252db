// Package routeguard applies the session route access policy to go-router
// handlers.
package routeguard

import (
	"context"
	"net/http"

	"github.com/goliatone/go-router"

	"github.com/goliatone/go-auth-session/guard"
)

// Evaluator answers whether a request path may be visited. *session.Manager
// implements it.
type Evaluator interface {
	EvaluatePath(ctx context.Context, fullPath string) guard.Decision
}

// Config configures the middleware.
type Config struct {
	// Skip bypasses the guard when it returns true.
	Skip func(router.Context) bool
	// RedirectStatus is the status used for redirects. Defaults to 302.
	RedirectStatus int
	// DeniedHandler replaces the default redirect response.
	DeniedHandler func(ctx router.Context, decision guard.Decision) error
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.RedirectStatus == 0 {
		cfg.RedirectStatus = http.StatusFound
	}
	if cfg.DeniedHandler == nil {
		status := cfg.RedirectStatus
		cfg.DeniedHandler = func(ctx router.Context, decision guard.Decision) error {
			return ctx.Redirect(decision.Location(), status)
		}
	}
	return cfg
}

// New returns middleware that evaluates the original request URL and either
// continues the chain or redirects.
func New(evaluator Evaluator, config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := configDefault(config...)

		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return ctx.Next()
			}

			decision := evaluator.EvaluatePath(ctx.Context(), ctx.OriginalURL())
			if decision.Allow {
				return ctx.Next()
			}
			return cfg.DeniedHandler(ctx, decision)
		}
	}
}

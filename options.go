package session

import (
	"github.com/goliatone/go-auth-session/clock"
)

// Option customizes Manager construction.
type Option func(*Manager)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithClock injects the time source (useful for tests).
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		if clk != nil {
			m.clock = clk
		}
	}
}

// WithLogger sets the fallback logger for every component.
func WithLogger(logger Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithLoggerProvider resolves scoped loggers per component.
func WithLoggerProvider(provider LoggerProvider) Option {
	return func(m *Manager) {
		m.loggerProvider = provider
	}
}

// WithActivitySink wires an audit sink for session activity.
func WithActivitySink(sink ActivitySink) Option {
	return func(m *Manager) {
		m.activity = normalizeActivitySink(sink)
	}
}

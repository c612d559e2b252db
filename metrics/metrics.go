// Package metrics exports session lifecycle events as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	session "github.com/goliatone/go-auth-session"
)

const defaultNamespace = "session"

// Source is anything that publishes lifecycle events, usually a
// *session.Manager or *session.Bus.
type Source interface {
	Subscribe(handler session.Handler) session.Disposer
}

// Collector turns lifecycle events into counters and gauges.
type Collector struct {
	events        *prometheus.CounterVec
	authenticated prometheus.Gauge
	remaining     prometheus.Gauge
	redirects     *prometheus.CounterVec
}

// Option customizes the collector.
type Option func(*options)

type options struct {
	namespace   string
	constLabels prometheus.Labels
}

// WithNamespace overrides the metric namespace.
func WithNamespace(ns string) Option {
	return func(o *options) {
		if ns != "" {
			o.namespace = ns
		}
	}
}

// WithConstLabels attaches labels to every metric.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(o *options) {
		o.constLabels = labels
	}
}

// New creates a collector and registers it with reg. A nil registerer
// skips registration.
func New(reg prometheus.Registerer, opts ...Option) (*Collector, error) {
	o := options{namespace: defaultNamespace}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "events_total",
			Help:        "Lifecycle events published by the session engine.",
			ConstLabels: o.constLabels,
		}, []string{"type"}),
		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   o.namespace,
			Name:        "authenticated",
			Help:        "1 while a session is active, 0 otherwise.",
			ConstLabels: o.constLabels,
		}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   o.namespace,
			Name:        "warning_remaining_seconds",
			Help:        "Time remaining reported by the last expiry warning.",
			ConstLabels: o.constLabels,
		}),
		redirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "expiry_redirects_total",
			Help:        "Expirations by redirect reason.",
			ConstLabels: o.constLabels,
		}, []string{"reason"}),
	}

	if reg != nil {
		for _, col := range []prometheus.Collector{c.events, c.authenticated, c.remaining, c.redirects} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// Attach subscribes the collector to src.
func (c *Collector) Attach(src Source) session.Disposer {
	return src.Subscribe(c.Observe)
}

// Observe records a single event.
func (c *Collector) Observe(event session.Event) {
	c.events.WithLabelValues(string(event.Type)).Inc()

	switch event.Type {
	case session.EventSignedIn, session.EventTokenRefreshed, session.EventUserUpdated:
		c.authenticated.Set(1)
	case session.EventSignedOut:
		c.authenticated.Set(0)
	case session.EventSessionWarning:
		c.remaining.Set(event.TimeRemaining.Seconds())
	case session.EventSessionExpired:
		c.authenticated.Set(0)
		c.remaining.Set(0)
		reason := "unknown"
		if event.Redirect != nil && event.Redirect.Reason != "" {
			reason = event.Redirect.Reason
		}
		c.redirects.WithLabelValues(reason).Inc()
	}
}

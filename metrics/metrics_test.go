package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/guard"
	"github.com/goliatone/go-auth-session/metrics"
)

func TestCollectorObservesBusEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	require.NoError(t, err)

	bus := session.NewBus(nil)
	dispose := collector.Attach(bus)
	defer dispose()

	redirect := guard.DefaultPolicy().SignIn("/lessons", guard.ReasonSessionExpired)

	bus.Publish(session.Event{Type: session.EventSignedIn})
	bus.Publish(session.Event{Type: session.EventTokenRefreshed})
	bus.Publish(session.Event{Type: session.EventTokenRefreshed})
	bus.Publish(session.Event{Type: session.EventSessionWarning, TimeRemaining: 5 * time.Minute})

	count, err := testutil.GatherAndCount(reg, "session_events_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	assert.Equal(t, 300.0, gaugeValue(t, reg, "session_warning_remaining_seconds"))
	assert.Equal(t, 1.0, gaugeValue(t, reg, "session_authenticated"))

	bus.Publish(session.Event{Type: session.EventSessionExpired, Redirect: &redirect})
	assert.Equal(t, 0.0, gaugeValue(t, reg, "session_authenticated"))
	assert.Equal(t, 0.0, gaugeValue(t, reg, "session_warning_remaining_seconds"))
}

func TestCollectorRegistrationConflicts(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.New(reg)
	require.NoError(t, err)

	_, err = metrics.New(reg)
	require.Error(t, err)

	_, err = metrics.New(reg, metrics.WithNamespace("other"))
	require.NoError(t, err)
}

func TestCollectorWithoutRegistry(t *testing.T) {
	collector, err := metrics.New(nil, metrics.WithConstLabels(prometheus.Labels{"app": "test"}))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		collector.Observe(session.Event{Type: session.EventSessionExpired})
	})
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		require.NotEmpty(t, family.GetMetric())
		return family.GetMetric()[0].GetGauge().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

package session

import (
	"context"
	"time"
)

// ActivityEventType enumerates the audited session activities.
type ActivityEventType string

const (
	ActivitySignUp         ActivityEventType = "session.sign_up"
	ActivitySignInSuccess  ActivityEventType = "session.sign_in.success"
	ActivitySignInFailure  ActivityEventType = "session.sign_in.failure"
	ActivitySignOut        ActivityEventType = "session.sign_out"
	ActivityRefreshSuccess ActivityEventType = "session.refresh.success"
	ActivityRefreshFailure ActivityEventType = "session.refresh.failure"
	ActivityExpired        ActivityEventType = "session.expired"
)

// ActivityEvent captures audit-friendly information about a session action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Email      string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sink errors never change the outcome of the recorded operation.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

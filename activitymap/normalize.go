// Package activitymap turns session activity into flat audit records.
package activitymap

import (
	"context"
	"strings"
	"time"

	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/clock"
)

const (
	// MetadataKeyEmail holds the identity email when the event carries one.
	MetadataKeyEmail = "email"

	ObjectTypeSession = "session"
	DefaultChannel    = "session"
	AnonymousActor    = "anonymous"
)

// Outcome tells audit consumers whether the recorded action went through.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Record is the normalised audit shape of a session.ActivityEvent.
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type"`
	Outcome    Outcome        `json:"outcome"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization.
type Option func(*mapper)

type mapper struct {
	channel string
	clock   clock.Clock
}

// WithChannel tags records with channel instead of DefaultChannel.
func WithChannel(channel string) Option {
	return func(m *mapper) {
		m.channel = strings.TrimSpace(channel)
	}
}

// WithClock stamps events that carry no OccurredAt.
func WithClock(clk clock.Clock) Option {
	return func(m *mapper) {
		if clk != nil {
			m.clock = clk
		}
	}
}

func newMapper(opts []Option) mapper {
	m := mapper{channel: DefaultChannel, clock: clock.Real()}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	return m
}

// Normalize converts event into a Record. Failed sign ins have no user, so
// the attempted email stands in as the actor.
func Normalize(event session.ActivityEvent, opts ...Option) Record {
	return newMapper(opts).record(event)
}

// Sink returns a session.ActivitySink that normalizes each event and hands
// the record to emit.
func Sink(emit func(Record) error, opts ...Option) session.ActivitySink {
	m := newMapper(opts)
	return session.ActivitySinkFunc(func(_ context.Context, event session.ActivityEvent) error {
		if emit == nil {
			return nil
		}
		return emit(m.record(event))
	})
}

func (m mapper) record(event session.ActivityEvent) Record {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = m.clock.Now().UTC()
	}

	return Record{
		ActorID:    actor(event),
		Verb:       string(event.EventType),
		ObjectType: ObjectTypeSession,
		Outcome:    outcome(event.EventType),
		Channel:    m.channel,
		Metadata:   metadata(event),
		OccurredAt: occurredAt,
	}
}

func actor(event session.ActivityEvent) string {
	if id := strings.TrimSpace(event.UserID); id != "" {
		return id
	}
	if email := strings.TrimSpace(event.Email); email != "" {
		return strings.ToLower(email)
	}
	return AnonymousActor
}

func outcome(t session.ActivityEventType) Outcome {
	switch t {
	case session.ActivitySignInFailure, session.ActivityRefreshFailure, session.ActivityExpired:
		return OutcomeFailure
	default:
		return OutcomeSuccess
	}
}

func metadata(event session.ActivityEvent) map[string]any {
	email := strings.TrimSpace(event.Email)
	if len(event.Metadata) == 0 && email == "" {
		return nil
	}

	out := make(map[string]any, len(event.Metadata)+1)
	for key, value := range event.Metadata {
		out[key] = value
	}
	if _, ok := out[MetadataKeyEmail]; !ok && email != "" {
		out[MetadataKeyEmail] = email
	}
	return out
}

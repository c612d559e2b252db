package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-auth-session/guard"
)

// EventType is the closed set of lifecycle events.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
	EventSessionWarning EventType = "SESSION_WARNING"
	EventSessionExpired EventType = "SESSION_EXPIRED"
)

// Event is delivered to bus subscribers.
type Event struct {
	Type    EventType
	Session *Session
	// TimeRemaining is set for SESSION_WARNING.
	TimeRemaining time.Duration
	// Redirect is set for SESSION_EXPIRED and points at the sign-in entry.
	Redirect   *guard.Decision
	OccurredAt time.Time
}

// Handler consumes lifecycle events.
type Handler func(Event)

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus fans events out to subscribers in registration order.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber
	logger Logger
}

// NewBus returns an empty bus.
func NewBus(logger Logger) *Bus {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Bus{logger: logger}
}

// Subscribe registers handler and returns its disposer.
func (b *Bus) Subscribe(handler Handler) Disposer {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// Len returns the number of live subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers event synchronously. Subscribers added or removed during
// delivery take effect on the next Publish.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("session event subscriber panicked",
				"event", string(event.Type),
				"subscriber", sub.id,
				"error", fmt.Sprint(r),
			)
		}
	}()
	sub.handler(event)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// ProviderAction is what the engine does with a raw backend notification.
type ProviderAction int

const (
	// ActionResync re-applies the carried session snapshot without emitting.
	ActionResync ProviderAction = iota
	ActionSignedIn
	ActionSignedOut
	ActionTokenRefreshed
	ActionUserUpdated
)

// NormalizeProviderEvent maps provider specific event names to an action.
// Unknown names resync from the snapshot.
func NormalizeProviderEvent(name string) ProviderAction {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "SIGNED_IN":
		return ActionSignedIn
	case "SIGNED_OUT", "USER_DELETED":
		return ActionSignedOut
	case "TOKEN_REFRESHED":
		return ActionTokenRefreshed
	case "USER_UPDATED":
		return ActionUserUpdated
	default:
		return ActionResync
	}
}

// EventType returns the lifecycle event for the action, if any.
func (a ProviderAction) EventType() (EventType, bool) {
	switch a {
	case ActionSignedIn:
		return EventSignedIn, true
	case ActionSignedOut:
		return EventSignedOut, true
	case ActionTokenRefreshed:
		return EventTokenRefreshed, true
	case ActionUserUpdated:
		return EventUserUpdated, true
	default:
		return "", false
	}
}

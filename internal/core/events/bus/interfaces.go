package bus

import "time"

// EventBus is an in-process pub/sub bus. Delivery is synchronous in the
// publisher's goroutine, handlers run in subscription order, and handler
// errors are joined into the Publish result. Safe for concurrent use.
type EventBus interface {
	Publish(event Event) error
	// PublishAsync delivers on a new goroutine; the channel yields the joined
	// error and is then closed.
	PublishAsync(event Event) <-chan error

	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	Unsubscribe(Subscription) error

	// Subscribers reports active subscriptions for eventType.
	Subscribers(eventType string) int
}

// Event is an immutable message. Treat Data as read-only.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

type EventHandler func(event Event) error

type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	// Cancel is safe to call more than once.
	Cancel() error
}

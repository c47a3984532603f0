package mirror

import (
	"context"
	"time"
)

// BackpressurePolicy defines how queues behave when subscriber buffers are full.
type BackpressurePolicy string

const (
	// BackpressureBlock blocks the publisher until queue space is available.
	BackpressureBlock BackpressurePolicy = "block"
	// BackpressureDropNewest drops the incoming event when full.
	BackpressureDropNewest BackpressurePolicy = "drop_newest"
	// BackpressureDropOldest evicts the oldest queued event before enqueue.
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
)

// EventHandler consumes one update event.
type EventHandler func(ctx context.Context, event *UpdateEvent) error

// MessageHandler consumes one incoming message.
type MessageHandler func(ctx context.Context, message Message) error

// ActionHandler consumes one interactive action.
type ActionHandler func(ctx context.Context, action Action) error

// ErrorHandler consumes one error notification from the broadcast point.
type ErrorHandler func(ctx context.Context, err error)

// SubscriptionSpec configures a single consumer subscription.
//
// Workers above one trade per-subscription ordering for throughput.
type SubscriptionSpec struct {
	Name           string
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	Backpressure   BackpressurePolicy
	// OnError receives per-event processing failures published on the bus.
	OnError ErrorHandler
}

// NewDefaultSubscriptionSpec returns a named spec that relies on bus defaults.
func NewDefaultSubscriptionSpec(name string) SubscriptionSpec {
	return SubscriptionSpec{Name: name}
}

// Subscription controls an active event stream registration.
type Subscription interface {
	// Name returns the subscription identifier.
	Name() string
	// Close stops delivery for this subscription.
	Close(ctx context.Context) error
}

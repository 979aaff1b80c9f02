package broker

import (
	"context"
	"time"
)

// Delivery is one message handed to a subscription handler.
type Delivery struct {
	Body        []byte
	RoutingKey  string
	MessageID   string
	Redelivered bool
	Headers     map[string]interface{}
}

// HandlerFunc processes one delivery. A nil return acknowledges the message;
// an error negatively acknowledges it with the subscription's requeue policy.
type HandlerFunc func(ctx context.Context, d Delivery) error

// Subscription describes one durable queue bound to the shared exchange.
type Subscription struct {
	Queue          string
	Binding        string
	TTL            time.Duration
	Expiry         time.Duration
	RequeueOnError bool
	Handler        HandlerFunc
}

// Bus is the topic-exchange broker used by every worker. Implementations
// reconnect on connection loss and deterministically replay the desired
// subscription set.
type Bus interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, routingKey string, v interface{}) error
	Subscribe(ctx context.Context, sub Subscription) error
	Cancel(queue string) error
	Connected() bool
	Close() error
}

// Package brokertest provides an in-process Bus for worker tests.
package brokertest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/antirek/chatapp-sub000/internal/broker"
	"github.com/antirek/chatapp-sub000/pkg/errors"
)

type Published struct {
	RoutingKey string
	Body       []byte
}

// Bus is an in-memory broker.Bus. Messages published while a queue has no
// consumer are retained and flushed on the next Subscribe, mimicking the
// retention window of a durable auto-expiring queue.
type Bus struct {
	mu        sync.Mutex
	connected bool
	subs      map[string]broker.Subscription
	retained  map[string][][]byte
	cancelled []string
	published []Published
}

func New() *Bus {
	return &Bus{
		connected: true,
		subs:      make(map[string]broker.Subscription),
		retained:  make(map[string][][]byte),
	}
}

func (b *Bus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *Bus) SetConnected(connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = connected
}

func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Bus) Publish(ctx context.Context, routingKey string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return errors.Transient("bus not connected", nil)
	}
	b.published = append(b.published, Published{RoutingKey: routingKey, Body: body})
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, sub broker.Subscription) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return errors.Transient("bus not connected", nil)
	}
	if _, ok := b.subs[sub.Queue]; ok {
		b.mu.Unlock()
		return nil
	}
	b.subs[sub.Queue] = sub
	backlog := b.retained[sub.Queue]
	delete(b.retained, sub.Queue)
	b.mu.Unlock()

	for _, body := range backlog {
		_ = sub.Handler(ctx, broker.Delivery{Body: body})
	}
	return nil
}

func (b *Bus) Cancel(queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, queue)
	b.cancelled = append(b.cancelled, queue)
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

// Deliver pushes one message into a queue: straight to the consumer when one
// is attached, otherwise into the retained backlog.
func (b *Bus) Deliver(queue string, d broker.Delivery) error {
	b.mu.Lock()
	sub, ok := b.subs[queue]
	if !ok {
		b.retained[queue] = append(b.retained[queue], d.Body)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	return sub.Handler(context.Background(), d)
}

// DeliverJSON marshals v and delivers it to the queue.
func (b *Bus) DeliverJSON(queue string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Deliver(queue, broker.Delivery{Body: body})
}

func (b *Bus) Subscription(queue string) (broker.Subscription, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[queue]
	return sub, ok
}

func (b *Bus) Cancelled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

func (b *Bus) PublishedMessages() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/internal/logger"
)

// fakeConn records the declarations made through its channels, so a test
// can assert what a fresh connection was asked to set up.
type fakeConn struct {
	mu         sync.Mutex
	notify     chan *amqp.Error
	declared   []string
	bindings   map[string]string
	consumed   []string
	closed     bool
	failQueues map[string]bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		bindings:   make(map[string]string),
		failQueues: make(map[string]bool),
	}
}

func (c *fakeConn) Channel() (amqpChannel, error) {
	return &fakeChannel{conn: c}, nil
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = receiver
	return receiver
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) ConsumedQueues() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.consumed...)
}

// Drop simulates the broker dropping the connection.
func (c *fakeConn) Drop() {
	c.mu.Lock()
	notify := c.notify
	c.mu.Unlock()
	notify <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "connection reset"}
}

type fakeChannel struct {
	conn *fakeConn
}

func (ch *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return nil
}

func (ch *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return nil
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ch.conn.mu.Lock()
	defer ch.conn.mu.Unlock()
	if ch.conn.failQueues[name] {
		return amqp.Queue{}, fmt.Errorf("queue declare refused: %s", name)
	}
	ch.conn.declared = append(ch.conn.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (ch *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	ch.conn.mu.Lock()
	defer ch.conn.mu.Unlock()
	ch.conn.bindings[name] = key
	return nil
}

func (ch *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ch.conn.mu.Lock()
	defer ch.conn.mu.Unlock()
	ch.conn.consumed = append(ch.conn.consumed, queue)
	return make(chan amqp.Delivery), nil
}

func (ch *fakeChannel) Cancel(consumer string, noWait bool) error {
	return nil
}

func (ch *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return nil
}

func (ch *fakeChannel) Close() error {
	return nil
}

type connFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	next  []*fakeConn
}

// Dial hands out prepared connections in order, then fresh ones.
func (f *connFactory) Dial(url string) (amqpConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var conn *fakeConn
	if len(f.next) > 0 {
		conn = f.next[0]
		f.next = f.next[1:]
	} else {
		conn = newFakeConn()
	}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *connFactory) Conn(i int) (*fakeConn, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.conns) {
		return nil, false
	}
	return f.conns[i], true
}

func newTestBus(t *testing.T, factory *connFactory) *AMQPBus {
	t.Helper()
	bus := NewAMQPBus(config.RabbitMQConfig{
		URL:      "amqp://test",
		Exchange: "chatapp.updates",
		Prefetch: 1,
		Reconnect: config.ReconnectConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
	}, logger.NopLogger())
	bus.dial = factory.Dial
	t.Cleanup(func() { bus.Close() })
	return bus
}

func subscribeOwners(t *testing.T, bus *AMQPBus, queues ...string) {
	t.Helper()
	for _, queue := range queues {
		require.NoError(t, bus.Subscribe(context.Background(), Subscription{
			Queue:          queue,
			Binding:        "user.usr." + queue + ".#",
			TTL:            time.Hour,
			RequeueOnError: true,
			Handler: func(ctx context.Context, d Delivery) error {
				return nil
			},
		}))
	}
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	factory := &connFactory{}
	bus := newTestBus(t, factory)
	require.NoError(t, bus.Connect(context.Background()))

	subscribeOwners(t, bus, "chatapp.updates.usr_aaa", "chatapp.updates.usr_bbb")

	first, ok := factory.Conn(0)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"chatapp.updates.usr_aaa", "chatapp.updates.usr_bbb"}, first.ConsumedQueues())

	first.Drop()

	// The replacement connection must carry the full desired subscription set.
	assert.Eventually(t, func() bool {
		second, ok := factory.Conn(1)
		if !ok {
			return false
		}
		return len(second.ConsumedQueues()) == 2 && bus.Connected()
	}, time.Second, time.Millisecond)

	second, _ := factory.Conn(1)
	assert.ElementsMatch(t, []string{"chatapp.updates.usr_aaa", "chatapp.updates.usr_bbb"}, second.ConsumedQueues())
}

func TestReconnectRetriesAfterPartialRestore(t *testing.T) {
	factory := &connFactory{}

	// The first replacement connection refuses one of the queues: the bus
	// must tear it down wholesale and try again, not run half-subscribed.
	broken := newFakeConn()
	broken.failQueues["chatapp.updates.usr_bbb"] = true
	factory.next = []*fakeConn{newFakeConn(), broken}

	bus := newTestBus(t, factory)
	require.NoError(t, bus.Connect(context.Background()))
	subscribeOwners(t, bus, "chatapp.updates.usr_aaa", "chatapp.updates.usr_bbb")

	first, _ := factory.Conn(0)
	first.Drop()

	assert.Eventually(t, func() bool {
		third, ok := factory.Conn(2)
		if !ok {
			return false
		}
		return len(third.ConsumedQueues()) == 2 && bus.Connected()
	}, time.Second, time.Millisecond)

	assert.True(t, broken.Closed(), "partially restored connection must be torn down")
}

func TestDisconnectedAfterDrop(t *testing.T) {
	factory := &connFactory{}
	// Every redial after the drop fails until released.
	release := make(chan struct{})
	var dialled atomic.Bool
	bus := newTestBus(t, factory)
	bus.dial = func(url string) (amqpConnection, error) {
		if dialled.Swap(true) {
			select {
			case <-release:
			default:
				return nil, fmt.Errorf("broker unreachable")
			}
		}
		return factory.Dial(url)
	}

	require.NoError(t, bus.Connect(context.Background()))
	subscribeOwners(t, bus, "chatapp.updates.usr_aaa")

	first, _ := factory.Conn(0)
	first.Drop()

	assert.Eventually(t, func() bool { return !bus.Connected() }, time.Second, time.Millisecond)

	close(release)
	assert.Eventually(t, func() bool { return bus.Connected() }, time.Second, time.Millisecond)
}

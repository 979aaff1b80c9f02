package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/internal/logger"
	"github.com/antirek/chatapp-sub000/pkg/errors"
	"github.com/antirek/chatapp-sub000/pkg/logging"
	"github.com/antirek/chatapp-sub000/pkg/metrics"
	"github.com/antirek/chatapp-sub000/pkg/retry"
	"github.com/antirek/chatapp-sub000/pkg/tracing"

	backoffpkg "github.com/cenkalti/backoff/v4"
)

// amqpConnection and amqpChannel cover the slice of the client library the
// bus touches, so the reconnect machinery can run against a test double.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (amqpConnection, error)

type realConnection struct {
	*amqp.Connection
}

func (c realConnection) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func defaultDial(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return realConnection{conn}, nil
}

// AMQPBus is the topic-exchange bus over a single broker connection. The
// connection is recovered wholesale: a connection-level close tears down all
// channels, and the reconnect loop replays every desired subscription.
type AMQPBus struct {
	cfg  config.RabbitMQConfig
	log  logger.Logger
	dial dialFunc

	mu        sync.Mutex
	conn      amqpConnection
	pubCh     amqpChannel
	subs      map[string]*activeSub
	connected bool
	closed    bool

	rootCtx context.Context
	cancel  context.CancelFunc
}

type activeSub struct {
	sub Subscription
	ch  amqpChannel
	tag string
}

func NewAMQPBus(cfg config.RabbitMQConfig, log logger.Logger) *AMQPBus {
	return &AMQPBus{
		cfg:  cfg,
		log:  log,
		dial: defaultDial,
		subs: make(map[string]*activeSub),
	}
}

func (b *AMQPBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	if b.connected {
		return nil
	}

	b.rootCtx, b.cancel = context.WithCancel(ctx)

	if err := b.dialLocked(); err != nil {
		return errors.Transient("bus connect failed", err)
	}
	return nil
}

// dialLocked establishes the connection, the publish channel and the shared
// exchange, and arms the close watcher. Caller holds b.mu.
func (b *AMQPBus) dialLocked() error {
	conn, err := b.dial(b.cfg.URL)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	if err := ch.ExchangeDeclare(b.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return err
	}

	b.conn = conn
	b.pubCh = ch
	b.connected = true

	go b.watchClose(conn.NotifyClose(make(chan *amqp.Error, 1)))

	b.log.Infow("Bus connected", "exchange", b.cfg.Exchange)
	return nil
}

// watchClose marks the bus disconnected on an unexpected connection close
// and drives the reconnect loop.
func (b *AMQPBus) watchClose(notify chan *amqp.Error) {
	amqpErr, ok := <-notify
	if !ok {
		// Clean shutdown.
		return
	}

	b.mu.Lock()
	b.connected = false
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return
	}

	b.log.Warnw("Bus connection lost, reconnecting", "error", amqpErr)
	b.reconnectLoop()
}

func (b *AMQPBus) reconnectLoop() {
	bo := retry.ExponentialBackoff(
		b.cfg.Reconnect.InitialInterval,
		b.cfg.Reconnect.MaxInterval,
		b.cfg.Reconnect.Multiplier,
	)

	op := func() error {
		metrics.BusReconnectsTotal.Inc()

		b.mu.Lock()
		defer b.mu.Unlock()

		if b.closed {
			return nil
		}
		if err := b.dialLocked(); err != nil {
			b.log.Warnw("Bus reconnect attempt failed", "error", err)
			return err
		}
		// Replay the desired subscription set. Re-declaring an existing
		// queue and binding is a no-op on the broker side.
		for queue, as := range b.subs {
			if err := b.startConsumerLocked(as.sub); err != nil {
				b.log.Errorw("Failed to restore subscription", "queue", queue, "error", err)
				b.teardownLocked()
				return err
			}
		}
		b.log.Infow("Bus reconnected", "subscriptions", len(b.subs))
		return nil
	}

	if err := backoffpkg.Retry(op, backoffpkg.WithContext(bo, b.rootCtx)); err != nil {
		b.log.Errorw("Bus reconnect abandoned", "error", err)
	}
}

func (b *AMQPBus) teardownLocked() {
	if b.conn != nil {
		b.conn.Close()
	}
	b.connected = false
}

func (b *AMQPBus) Publish(ctx context.Context, routingKey string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := tracing.InjectTraceContext(ctx, nil)

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		metrics.UpdatesPublishedTotal.WithLabelValues("error").Inc()
		return errors.Transient("bus not connected", nil)
	}

	err = b.pubCh.PublishWithContext(ctx, b.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table(headers),
		Body:         body,
	})
	if err != nil {
		metrics.UpdatesPublishedTotal.WithLabelValues("error").Inc()
		return errors.Transient("bus publish failed", err)
	}

	metrics.UpdatesPublishedTotal.WithLabelValues("ok").Inc()
	return nil
}

func (b *AMQPBus) Subscribe(ctx context.Context, sub Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	if !b.connected {
		return errors.Transient("bus not connected", nil)
	}
	if _, ok := b.subs[sub.Queue]; ok {
		return nil
	}

	return b.startConsumerLocked(sub)
}

func (b *AMQPBus) startConsumerLocked(sub Subscription) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return errors.Transient("failed to open channel", err)
	}

	if b.cfg.Prefetch > 0 {
		if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			return errors.Transient("failed to set prefetch", err)
		}
	}

	args := amqp.Table{}
	if sub.TTL > 0 {
		args["x-message-ttl"] = sub.TTL.Milliseconds()
	}
	if sub.Expiry > 0 {
		args["x-expires"] = sub.Expiry.Milliseconds()
	}

	if _, err := ch.QueueDeclare(sub.Queue, true, false, false, false, args); err != nil {
		ch.Close()
		return errors.Transient("failed to declare queue", err)
	}

	if err := ch.QueueBind(sub.Queue, sub.Binding, b.cfg.Exchange, false, nil); err != nil {
		ch.Close()
		return errors.Transient("failed to bind queue", err)
	}

	tag := "chatapp-" + sub.Queue
	deliveries, err := ch.Consume(sub.Queue, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return errors.Transient("failed to start consumer", err)
	}

	b.subs[sub.Queue] = &activeSub{sub: sub, ch: ch, tag: tag}
	go b.consumeLoop(sub, deliveries)

	b.log.Infow("Consumer started", "queue", sub.Queue, "binding", sub.Binding)
	return nil
}

func (b *AMQPBus) consumeLoop(sub Subscription, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		b.handleDelivery(sub, d)
	}
}

// handleDelivery runs the subscription handler with panic recovery and
// converts the outcome into an ack/nack decision. Handler errors never
// propagate past here.
func (b *AMQPBus) handleDelivery(sub Subscription, d amqp.Delivery) {
	ctx, span := tracing.StartSpanFromDelivery(b.rootCtx, "bus.consume", map[string]interface{}(d.Headers))
	defer span.End()

	_, _, eventType := SplitRoutingKey(d.RoutingKey)
	if eventType != "" {
		ctx = logging.WithEventType(ctx, eventType)
	}

	err := b.safeHandle(ctx, sub.Handler, Delivery{
		Body:        d.Body,
		RoutingKey:  d.RoutingKey,
		MessageID:   d.MessageId,
		Redelivered: d.Redelivered,
		Headers:     map[string]interface{}(d.Headers),
	})

	if err != nil {
		metrics.UpdatesConsumedTotal.WithLabelValues(sub.Queue, "error").Inc()
		b.log.ErrorwCtx(ctx, "Delivery handler failed",
			"queue", sub.Queue,
			"routing_key", d.RoutingKey,
			"requeue", sub.RequeueOnError,
			"error", err,
		)
		if nackErr := d.Nack(false, sub.RequeueOnError); nackErr != nil {
			b.log.ErrorwCtx(ctx, "Failed to nack delivery", "error", nackErr)
		}
		return
	}

	metrics.UpdatesConsumedTotal.WithLabelValues(sub.Queue, "ok").Inc()
	if ackErr := d.Ack(false); ackErr != nil {
		b.log.ErrorwCtx(ctx, "Failed to ack delivery", "error", ackErr)
	}
}

func (b *AMQPBus) safeHandle(ctx context.Context, handler HandlerFunc, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	return handler(ctx, d)
}

// Cancel stops the consumer for a queue. The queue itself is preserved so
// events keep accumulating within the retention window.
func (b *AMQPBus) Cancel(queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	as, ok := b.subs[queue]
	if !ok {
		return nil
	}
	delete(b.subs, queue)

	if !b.connected {
		return nil
	}
	if err := as.ch.Cancel(as.tag, false); err != nil {
		as.ch.Close()
		return errors.Transient("failed to cancel consumer", err)
	}
	return as.ch.Close()
}

func (b *AMQPBus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.connected = false

	if b.cancel != nil {
		b.cancel()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Package broker owns the AMQP connection and channel to the message fabric.
//
// A Conn provides the publish/subscribe primitives the bridge needs on top of
// fanout exchanges: an exclusive auto-named queue bound with an empty routing
// key, fire-and-forget consumption, and best-effort publishing. The single
// retained subscription is replayed automatically whenever the channel is
// recreated after a failure, so callers subscribe once and forget about it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tinyland-inc/phasebridge/pkg/config"
	"github.com/tinyland-inc/phasebridge/pkg/logger"
)

// reconnectDelay is the fixed pause between channel recovery attempts.
const reconnectDelay = 5 * time.Second

var (
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("broker connection closed")
	// ErrNotConnected is returned when publishing before a connection exists.
	ErrNotConnected = errors.New("broker not connected")
)

// Channel is the slice of the AMQP channel API the bridge uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Connection is the slice of the AMQP connection API the bridge uses.
type Connection interface {
	Channel() (Channel, error)
	Close() error
}

// Dialer opens a broker connection from a URI. Injectable for tests.
type Dialer func(uri string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// AMQPDial is the production Dialer backed by amqp091.
func AMQPDial(uri string) (Connection, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn}, nil
}

type subscription struct {
	exchange string
	handler  func(body []byte)
}

// Option configures a Conn.
type Option func(*Conn)

// WithDialer overrides the AMQP dialer. Intended for tests.
func WithDialer(d Dialer) Option {
	return func(c *Conn) { c.dial = d }
}

// Conn manages the broker connection, channel, and the retained subscription.
// All state is guarded by one mutex, which also keeps connection attempts
// strictly sequential: a reconnect never races another.
type Conn struct {
	cfg  *config.BrokerConfig
	dial Dialer

	mu        sync.Mutex
	conn      Connection
	ch        Channel
	sub       *subscription
	consuming bool
	connected bool
	closed    bool
}

// New returns an unconnected Conn for the given broker config.
func New(cfg *config.BrokerConfig, opts ...Option) *Conn {
	c := &Conn{cfg: cfg, dial: AMQPDial}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the broker, opens a channel, declares both fanout exchanges,
// and replays the retained subscription if one exists. Returning nil is the
// "connected" signal: the channel is ready for publishes and consumption.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.connectLocked(ctx)
}

// connectLocked tears down any previous handles and establishes fresh ones.
// Callers hold c.mu.
func (c *Conn) connectLocked(ctx context.Context) error {
	c.teardownLocked()

	conn, err := c.dial(c.cfg.AMQPURI())
	if err != nil {
		return fmt.Errorf("dialing broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening channel: %w", err)
	}

	exchanges := []string{c.cfg.SubExchange}
	if c.cfg.PubExchange != c.cfg.SubExchange {
		exchanges = append(exchanges, c.cfg.PubExchange)
	}
	for _, name := range exchanges {
		if err := ch.ExchangeDeclare(name, "fanout", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("declaring exchange %s: %w", name, err)
		}
	}

	c.conn = conn
	c.ch = ch
	c.connected = true
	c.consuming = false

	if c.sub != nil {
		if err := c.consumeLocked(ctx); err != nil {
			logger.ErrorCF("broker", "Replaying subscription failed", map[string]any{
				"exchange": c.sub.exchange,
				"error":    err.Error(),
			})
		}
	}

	go c.monitor(ch.NotifyClose(make(chan *amqp.Error, 1)))
	return nil
}

// teardownLocked discards the previous connection and channel, each close
// independently best-effort. Callers hold c.mu.
func (c *Conn) teardownLocked() {
	c.connected = false
	c.consuming = false
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			logger.DebugCF("broker", "Closing stale channel", map[string]any{"error": err.Error()})
		}
		c.ch = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			logger.DebugCF("broker", "Closing stale connection", map[string]any{"error": err.Error()})
		}
		c.conn = nil
	}
}

// monitor watches for asynchronous channel failure and recovers with a fixed
// delay between attempts until the Conn is closed. A deliberate Close ends
// the notification channel without an error, which is not a failure.
func (c *Conn) monitor(closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed
	if !ok || amqpErr == nil {
		return
	}
	logger.WarnCF("broker", "Channel closed by broker", map[string]any{"error": amqpErr.Error()})

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		err := c.connectLocked(context.Background())
		c.mu.Unlock()

		if err == nil {
			logger.InfoC("broker", "Channel recovered")
			return
		}
		logger.ErrorCF("broker", "Channel recovery failed", map[string]any{"error": err.Error()})
		time.Sleep(reconnectDelay)
	}
}

// Subscribe retains the (exchange, handler) pair and starts consuming if a
// channel is live. The pair survives reconnects: every recreated channel
// replays the binding without caller involvement. Repeated calls replace the
// retained pair but never stack consumers on a live channel.
func (c *Conn) Subscribe(exchange string, handler func(body []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sub = &subscription{exchange: exchange, handler: handler}
	if c.closed || !c.connected || c.consuming {
		return
	}
	if err := c.consumeLocked(context.Background()); err != nil {
		logger.ErrorCF("broker", "Subscribe failed", map[string]any{
			"exchange": exchange,
			"error":    err.Error(),
		})
	}
}

// consumeLocked declares the private queue, binds it to the fanout exchange
// with an empty routing key, and starts the consumer loop. Callers hold c.mu.
func (c *Conn) consumeLocked(_ context.Context) error {
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declaring queue: %w", err)
	}
	if err := c.ch.QueueBind(q.Name, "", c.sub.exchange, false, nil); err != nil {
		return fmt.Errorf("binding queue %s to %s: %w", q.Name, c.sub.exchange, err)
	}
	deliveries, err := c.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting consumer on %s: %w", q.Name, err)
	}

	c.consuming = true
	go consumeLoop(deliveries, c.sub.handler)
	return nil
}

// consumeLoop runs until the delivery channel closes with its AMQP channel.
// Deliveries are acknowledged up front (autoAck), so a handler failure never
// causes redelivery; a handler panic is contained per message.
func consumeLoop(deliveries <-chan amqp.Delivery, handler func([]byte)) {
	for d := range deliveries {
		dispatch(d.Body, handler)
	}
}

func dispatch(body []byte, handler func([]byte)) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("broker", "Message handler panicked", map[string]any{"panic": r})
		}
	}()
	handler(body)
}

// Publish sends one message body to the named exchange with no routing key.
// On a dead channel it recreates the channel, replays the retained
// subscription, and retries the publish once. Failure after the retry is
// returned for the caller to log and drop; this is a best-effort fanout
// signal, not a durable log.
func (c *Conn) Publish(ctx context.Context, exchange, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.ch == nil {
		return ErrNotConnected
	}

	err := c.publishLocked(ctx, exchange, body)
	if err == nil {
		return nil
	}
	logger.WarnCF("broker", "Publish failed, recreating channel", map[string]any{
		"exchange": exchange,
		"error":    err.Error(),
	})

	if err := c.connectLocked(ctx); err != nil {
		return fmt.Errorf("recreating channel: %w", err)
	}
	return c.publishLocked(ctx, exchange, body)
}

func (c *Conn) publishLocked(ctx context.Context, exchange, body string) error {
	return c.ch.PublishWithContext(ctx, exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        []byte(body),
	})
}

// Connected reports whether a channel is currently live.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

// Close shuts the channel and connection down, each independently
// fault-tolerant. Safe to call before Connect and safe to call twice.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.teardownLocked()
}

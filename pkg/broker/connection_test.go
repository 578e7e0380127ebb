package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tinyland-inc/phasebridge/pkg/config"
)

type fakeChannel struct {
	mu            sync.Mutex
	exchanges     []string
	binds         []string
	consumers     int
	deliveries    chan amqp.Delivery
	notify        chan *amqp.Error
	published     []string
	failPublishes int
	closed        bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind != "fanout" {
		return errors.New("expected fanout exchange")
	}
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeChannel) QueueDeclare(_ string, _, _, exclusive, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if !exclusive {
		return amqp.Queue{}, errors.New("expected exclusive queue")
	}
	return amqp.Queue{Name: "amq.gen-fake"}, nil
}

func (f *fakeChannel) QueueBind(_, key, exchange string, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key != "" {
		return errors.New("expected empty routing key")
	}
	f.binds = append(f.binds, exchange)
	return nil
}

func (f *fakeChannel) Consume(_, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !autoAck {
		return nil, errors.New("expected autoAck consumer")
	}
	f.consumers++
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPublishes > 0 {
		f.failPublishes--
		return errors.New("channel dead")
	}
	f.published = append(f.published, string(msg.Body))
	return nil
}

func (f *fakeChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notify = c
	return c
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	if f.notify != nil {
		close(f.notify)
		f.notify = nil
	}
	close(f.deliveries)
	return nil
}

func (f *fakeChannel) consumerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumers
}

func (f *fakeChannel) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// fail fires an asynchronous channel-level error, as the broker would.
func (f *fakeChannel) fail() {
	f.mu.Lock()
	notify := f.notify
	f.notify = nil
	f.closed = true
	close(f.deliveries)
	f.mu.Unlock()
	if notify != nil {
		notify <- &amqp.Error{Code: 504, Reason: "connection forced"}
		close(notify)
	}
}

type fakeConn struct {
	ch     *fakeChannel
	closed bool
}

func (f *fakeConn) Channel() (Channel, error) { return f.ch, nil }
func (f *fakeConn) Close() error {
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
	dials    int
	err      error
}

func (d *fakeDialer) dial(string) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	ch := newFakeChannel()
	d.channels = append(d.channels, ch)
	d.dials++
	return &fakeConn{ch: ch}, nil
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.channels) {
		return nil
	}
	return d.channels[i]
}

func testBrokerConfig() *config.BrokerConfig {
	return &config.BrokerConfig{
		Username:    "phase",
		Host:        "localhost",
		Port:        5672,
		VHost:       "/",
		SubExchange: "phase_out",
		PubExchange: "phase_in",
		Token:       "secret",
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnect_DeclaresExchanges(t *testing.T) {
	d := &fakeDialer{}
	c := New(testBrokerConfig(), WithDialer(d.dial))
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch := d.channel(0)
	if len(ch.exchanges) != 2 {
		t.Fatalf("expected 2 exchange declarations, got %v", ch.exchanges)
	}
	if !c.Connected() {
		t.Error("expected connected after Connect")
	}
}

func TestSubscribe_BeforeConnectReplays(t *testing.T) {
	d := &fakeDialer{}
	c := New(testBrokerConfig(), WithDialer(d.dial))
	defer c.Close()

	var mu sync.Mutex
	var got []string
	c.Subscribe("phase_out", func(body []byte) {
		mu.Lock()
		got = append(got, string(body))
		mu.Unlock()
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch := d.channel(0)
	if ch.consumerCount() != 1 {
		t.Fatalf("expected subscription replay on connect, consumers=%d", ch.consumerCount())
	}

	ch.deliveries <- amqp.Delivery{Body: []byte(`{"type":"chat"}`)}
	waitFor(t, "delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
}

func TestSubscribe_IdempotentAcrossRecreation(t *testing.T) {
	d := &fakeDialer{}
	c := New(testBrokerConfig(), WithDialer(d.dial))
	defer c.Close()

	handler := func([]byte) {}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Subscribe("phase_out", handler)
	c.Subscribe("phase_out", handler)

	if got := d.channel(0).consumerCount(); got != 1 {
		t.Fatalf("expected 1 consumer on live channel, got %d", got)
	}

	// Simulated mid-session channel failure: recovery must land exactly one
	// consumer on the fresh channel.
	d.channel(0).fail()
	waitFor(t, "recovery", func() bool { return d.channel(1) != nil && d.channel(1).consumerCount() > 0 })

	if got := d.channel(1).consumerCount(); got != 1 {
		t.Fatalf("expected 1 consumer after recreation, got %d", got)
	}

	c.Subscribe("phase_out", handler)
	if got := d.channel(1).consumerCount(); got != 1 {
		t.Fatalf("re-subscribe stacked a consumer: %d", got)
	}
}

func TestPublish_RetriesOnceAfterRecreation(t *testing.T) {
	d := &fakeDialer{}
	c := New(testBrokerConfig(), WithDialer(d.dial))
	defer c.Close()

	c.Subscribe("phase_out", func([]byte) {})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d.channel(0).mu.Lock()
	d.channel(0).failPublishes = 1
	d.channel(0).mu.Unlock()

	if err := c.Publish(context.Background(), "phase_in", `{"type":"started"}`); err != nil {
		t.Fatalf("publish: %v", err)
	}

	fresh := d.channel(1)
	if fresh == nil {
		t.Fatal("expected channel recreation")
	}
	if fresh.publishedCount() != 1 {
		t.Fatalf("expected retried publish on fresh channel, got %d", fresh.publishedCount())
	}
	if fresh.consumerCount() != 1 {
		t.Fatalf("expected subscription replay on fresh channel, got %d consumers", fresh.consumerCount())
	}
}

func TestPublish_NotConnected(t *testing.T) {
	c := New(testBrokerConfig(), WithDialer((&fakeDialer{}).dial))
	defer c.Close()

	err := c.Publish(context.Background(), "phase_in", "{}")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	d := &fakeDialer{}
	c := New(testBrokerConfig(), WithDialer(d.dial))
	defer c.Close()

	var mu sync.Mutex
	handled := 0
	c.Subscribe("phase_out", func(body []byte) {
		if string(body) == "boom" {
			panic("bad message")
		}
		mu.Lock()
		handled++
		mu.Unlock()
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ch := d.channel(0)
	ch.deliveries <- amqp.Delivery{Body: []byte("boom")}
	ch.deliveries <- amqp.Delivery{Body: []byte("fine")}

	waitFor(t, "post-panic delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled == 1
	})
}

func TestClose_SafeWithoutConnect(t *testing.T) {
	c := New(testBrokerConfig(), WithDialer((&fakeDialer{}).dial))
	c.Close()
	c.Close()

	if err := c.Publish(context.Background(), "phase_in", "{}"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Connect, got %v", err)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	c := New(testBrokerConfig(), WithDialer(d.dial))
	defer c.Close()

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if c.Connected() {
		t.Error("must not report connected after dial failure")
	}
}

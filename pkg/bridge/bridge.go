// Package bridge relays events between a live session server and the shared
// broker fabric.
//
// A Bridge owns one broker connection, translates game-server events into
// outbound envelopes, dispatches inbound envelopes to handlers, and runs the
// moderation command state machine. Every failure degrades: connections are
// retried forever, bad messages are dropped, and command errors become
// structured failure responses. Nothing in this package crashes the host.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/phasebridge/pkg/broker"
	"github.com/tinyland-inc/phasebridge/pkg/config"
	"github.com/tinyland-inc/phasebridge/pkg/host"
	"github.com/tinyland-inc/phasebridge/pkg/logger"
	"github.com/tinyland-inc/phasebridge/pkg/wire"
)

const (
	// connectRetryDelay is the fixed pause between broker connect attempts.
	// No backoff growth and no attempt cap: the bridge must come back
	// online without operator intervention.
	connectRetryDelay = 5 * time.Second
	// presenceInterval is how often the full roster snapshot is republished.
	presenceInterval = 5 * time.Second
)

// connection is the broker surface the bridge drives. *broker.Conn satisfies
// it; tests substitute fakes.
type connection interface {
	Connect(ctx context.Context) error
	Subscribe(exchange string, handler func(body []byte))
	Publish(ctx context.Context, exchange, body string) error
	Connected() bool
	Close()
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithConnection overrides the broker connection. Intended for tests.
func WithConnection(c connection) Option {
	return func(b *Bridge) { b.conn = c }
}

// WithRetryDelay overrides the connect retry delay. Intended for tests.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Bridge) { b.retryDelay = d }
}

// WithPresenceInterval overrides the presence snapshot cadence. Intended for
// tests.
func WithPresenceInterval(d time.Duration) Option {
	return func(b *Bridge) { b.presenceEvery = d }
}

// Bridge is the event bridge between the session server and the broker.
type Bridge struct {
	cfg        *config.Config
	srv        host.Server
	encode     host.PacketEncoder
	codec      *wire.Codec
	conn       connection
	instanceID string

	retryDelay    time.Duration
	presenceEvery time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	runCtx  context.Context
	wg      sync.WaitGroup
}

// New builds a Bridge for the given session server. The instance identity is
// generated here, once, and tags every outbound envelope for the lifetime of
// the process.
func New(cfg *config.Config, srv host.Server, encode host.PacketEncoder, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:           cfg,
		srv:           srv,
		encode:        encode,
		codec:         wire.NewCodec(cfg.Broker.Token),
		instanceID:    uuid.NewString(),
		retryDelay:    connectRetryDelay,
		presenceEvery: presenceInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.conn == nil {
		b.conn = broker.New(&cfg.Broker)
	}
	return b
}

// InstanceID returns the process-unique identity of this bridge.
func (b *Bridge) InstanceID() string {
	return b.instanceID
}

// Connected reports whether the broker channel is live. Used for readiness.
func (b *Bridge) Connected() bool {
	return b.conn.Connected()
}

// Start launches the supervised connect loop and the presence ticker. It
// returns immediately; connection establishment is asynchronous.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return errors.New("bridge already started")
	}
	b.running = true
	b.runCtx, b.cancel = context.WithCancel(ctx)

	logger.InfoCF("bridge", "Bridge starting", map[string]any{
		"instance_id":  b.instanceID,
		"origin":       b.cfg.OriginServer,
		"sub_exchange": b.cfg.Broker.SubExchange,
		"pub_exchange": b.cfg.Broker.PubExchange,
	})

	b.wg.Add(2)
	go b.connectLoop(b.runCtx)
	go b.presenceLoop(b.runCtx)
	return nil
}

// Stop cancels the presence ticker and the connect loop, then closes the
// broker connection. Safe to call twice and safe to call even if the
// connection never succeeded.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()
	b.wg.Wait()
	b.conn.Close()
	logger.InfoC("bridge", "Bridge stopped")
}

// connectLoop retries Connect with a fixed delay until it succeeds or the
// bridge stops. Attempts are sequential; one completes before the next is
// scheduled.
func (b *Bridge) connectLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		err := b.conn.Connect(ctx)
		if err == nil {
			b.onConnected(ctx)
			return
		}
		logger.ErrorCF("bridge", "Broker connection failed, retrying", map[string]any{
			"error":    err.Error(),
			"retry_in": b.retryDelay.String(),
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.retryDelay):
		}
	}
}

// onConnected subscribes the dispatch handler and announces this instance.
func (b *Bridge) onConnected(ctx context.Context) {
	b.conn.Subscribe(b.cfg.Broker.SubExchange, b.handleDelivery)
	b.publish(ctx, &wire.Started{Envelope: b.envelope(wire.TypeStarted)})
	logger.InfoCF("bridge", "Connected to broker", b.cfg.Broker.Redacted())
}

func (b *Bridge) envelope(msgType string) wire.Envelope {
	return wire.Envelope{
		Token:      b.cfg.Broker.Token,
		Type:       msgType,
		InstanceID: b.instanceID,
	}
}

// publish encodes and sends one outbound message, logging and dropping on
// failure. Message loss during broker outages is accepted.
func (b *Bridge) publish(ctx context.Context, msg any) {
	text, err := b.codec.Encode(msg)
	if err != nil {
		logger.ErrorCF("bridge", "Encoding outbound message failed", map[string]any{"error": err.Error()})
		return
	}
	if err := b.conn.Publish(ctx, b.cfg.Broker.PubExchange, text); err != nil {
		if errors.Is(err, broker.ErrNotConnected) || errors.Is(err, broker.ErrClosed) {
			logger.DebugCF("bridge", "Dropping message, broker unavailable", map[string]any{"type": fmt.Sprintf("%T", msg)})
			return
		}
		logger.ErrorCF("bridge", "Publish failed, message dropped", map[string]any{"error": err.Error()})
	}
}

// handleDelivery is the subscription callback for every inbound body.
func (b *Bridge) handleDelivery(body []byte) {
	env, err := b.codec.DecodeHeader(body)
	if errors.Is(err, wire.ErrUnauthorized) {
		// expected noise from other tenants sharing the exchange
		return
	}
	if err != nil {
		logger.WarnCF("bridge", "Discarding malformed message", map[string]any{"error": err.Error()})
		return
	}
	if env.Excludes(b.instanceID) {
		return
	}

	switch env.Type {
	case wire.TypeChat:
		b.relayChat(body)
	case wire.TypeCommand:
		b.mu.Lock()
		ctx := b.runCtx
		b.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		// command resolutions interleave; they act on disjoint sessions
		go b.handleCommand(ctx, body)
	default:
		// producer-side types this instance does not consume
	}
}

// relayChat formats an inbound chat line and delivers it to every connected
// session. One bad line never interrupts delivery of the rest.
func (b *Bridge) relayChat(body []byte) {
	m, err := b.codec.DecodeChat(body)
	if err != nil {
		logger.WarnCF("bridge", "Discarding malformed chat message", map[string]any{"error": err.Error()})
		return
	}

	var text string
	if m.Prefix == nil {
		text = fmt.Sprintf("%s> <%s> %s: %s", m.OriginServer, m.Name, m.Suffix, m.Content)
	} else {
		text = fmt.Sprintf("%s> [%s] <%s> %s: %s", m.OriginServer, *m.Prefix, m.Name, m.Suffix, m.Content)
	}

	packet, err := b.encode(text, m.Color)
	if err != nil {
		logger.ErrorCF("bridge", "Chat packet encoding failed", map[string]any{
			"text":  text,
			"error": err.Error(),
		})
		return
	}

	for _, s := range b.srv.Sessions() {
		s.SendPacket(packet)
	}
}

// HandleSessionConnect publishes a player_join for a named session. Sessions
// that have not introduced themselves yet are skipped.
func (b *Bridge) HandleSessionConnect(s host.Session) {
	if s.Name() == "" {
		return
	}
	b.publish(context.Background(), &wire.PlayerEvent{
		Envelope: b.envelope(wire.TypePlayerJoin),
		Name:     s.Name(),
		IP:       s.IP(),
		UUID:     s.UUID(),
	})
}

// HandleSessionDisconnect publishes a player_leave for a named session.
func (b *Bridge) HandleSessionDisconnect(s host.Session) {
	if s.Name() == "" {
		return
	}
	b.publish(context.Background(), &wire.PlayerEvent{
		Envelope: b.envelope(wire.TypePlayerLeave),
		Name:     s.Name(),
		IP:       s.IP(),
		UUID:     s.UUID(),
	})
}

// HandleSessionRename models a name change as a leave under the old name
// followed by a join under the current one; there is no rename wire type.
func (b *Bridge) HandleSessionRename(s host.Session, oldName string) {
	if oldName != "" {
		b.publish(context.Background(), &wire.PlayerEvent{
			Envelope: b.envelope(wire.TypePlayerLeave),
			Name:     oldName,
			IP:       s.IP(),
			UUID:     s.UUID(),
		})
	}
	b.HandleSessionConnect(s)
}

// HandleChat publishes a player_chat event for a local chat line. Ungrouped
// sessions are suppressed entirely; sessions without an account publish with
// id -1 and an empty account name.
func (b *Bridge) HandleChat(s host.Session, content string) {
	if content == "" {
		return
	}
	group := b.srv.UserGroup(s)
	if group == nil {
		return
	}

	id := -1
	accountName := ""
	if acct := b.srv.User(s); acct != nil {
		id = acct.ID
		accountName = acct.Name
	}

	b.publish(context.Background(), &wire.PlayerChat{
		Envelope:    b.envelope(wire.TypePlayerChat),
		Name:        s.Name(),
		Prefix:      group.Prefix,
		Suffix:      group.Suffix,
		Message:     content,
		Color:       group.Color,
		IP:          s.IP(),
		ID:          id,
		AccountName: accountName,
		UUID:        s.UUID(),
	})
}

// presenceLoop republishes the full roster on a fixed cadence regardless of
// delta, so peers self-correct if discrete join/leave events were lost.
func (b *Bridge) presenceLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.presenceEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publishPresence(ctx)
		}
	}
}

// publishPresence snapshots every currently connected session, with no
// deduplication or filtering.
func (b *Bridge) publishPresence(ctx context.Context) {
	sessions := b.srv.Sessions()
	players := make([]wire.PlayerInfo, 0, len(sessions))
	for _, s := range sessions {
		players = append(players, wire.PlayerInfo{Name: s.Name(), UUID: s.UUID(), IP: s.IP()})
	}
	b.publish(ctx, &wire.OnlinePlayers{
		Envelope: b.envelope(wire.TypeOnlinePlayers),
		Players:  players,
	})
}

package bunny

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelEventLogout tells every other instance the user signed out.
const ChannelEventLogout = "LOGOUT"

// DefaultChannelName is the NATS subject and Redis channel used when none
// is given.
const DefaultChannelName = "bunny.tabs"

// ChannelMessage is a broadcast between client instances of one user.
type ChannelMessage struct {
	Origin  string          `json:"_tabId"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TabChannel broadcasts events to the other instances of the client. An
// instance never receives its own messages.
type TabChannel interface {
	Publish(ctx context.Context, event string, payload any) error
	Subscribe(fn func(ChannelMessage)) (cancel func())
	Close() error
}

// ============================================================================
// Shared subscriber bookkeeping
// ============================================================================

type channelBase struct {
	id     string
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[uint64]func(ChannelMessage)
	nextID uint64
	closed bool
}

func (b *channelBase) init(logger *zap.Logger) {
	b.id = uuid.NewString()
	b.logger = orNop(logger)
	b.subs = make(map[uint64]func(ChannelMessage))
}

// ID returns the instance id stamped on published messages.
func (b *channelBase) ID() string { return b.id }

func (b *channelBase) Subscribe(fn func(ChannelMessage)) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *channelBase) encode(event string, payload any) (ChannelMessage, error) {
	msg := ChannelMessage{Origin: b.id, Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return msg, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

func (b *channelBase) deliver(msg ChannelMessage) {
	if msg.Origin == b.id {
		return
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]func(ChannelMessage), 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (b *channelBase) deliverRaw(data []byte) {
	var msg ChannelMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Warn("drop malformed channel message", zap.Error(err))
		return
	}
	b.deliver(msg)
}

// markClosed reports whether the channel was open.
func (b *channelBase) markClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	return true
}

func (b *channelBase) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// ============================================================================
// In-process hub
// ============================================================================

// MemoryHub connects channels living in the same process.
type MemoryHub struct {
	mu      sync.RWMutex
	members map[string]*MemoryChannel
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{members: make(map[string]*MemoryChannel)}
}

// Join returns a new channel attached to the hub.
func (h *MemoryHub) Join() *MemoryChannel {
	c := &MemoryChannel{hub: h}
	c.init(nil)
	h.mu.Lock()
	h.members[c.id] = c
	h.mu.Unlock()
	return c
}

// MemoryChannel is a TabChannel member of a MemoryHub. Publish delivers
// synchronously.
type MemoryChannel struct {
	channelBase
	hub *MemoryHub
}

var _ TabChannel = (*MemoryChannel)(nil)

func (c *MemoryChannel) Publish(_ context.Context, event string, payload any) error {
	if c.isClosed() {
		return ErrClosed
	}
	msg, err := c.encode(event, payload)
	if err != nil {
		return err
	}
	c.hub.mu.RLock()
	members := make([]*MemoryChannel, 0, len(c.hub.members))
	for _, m := range c.hub.members {
		members = append(members, m)
	}
	c.hub.mu.RUnlock()
	for _, m := range members {
		m.deliver(msg)
	}
	return nil
}

func (c *MemoryChannel) Close() error {
	if !c.markClosed() {
		return nil
	}
	c.hub.mu.Lock()
	delete(c.hub.members, c.id)
	c.hub.mu.Unlock()
	return nil
}

// ============================================================================
// NATS
// ============================================================================

// NATSChannel is a TabChannel over a core NATS subject.
type NATSChannel struct {
	channelBase
	nc      *nats.Conn
	subject string
	sub     *nats.Subscription
}

var _ TabChannel = (*NATSChannel)(nil)

// NewNATSChannel subscribes to subject on nc. An empty subject uses
// DefaultChannelName.
func NewNATSChannel(nc *nats.Conn, subject string, logger *zap.Logger) (*NATSChannel, error) {
	if subject == "" {
		subject = DefaultChannelName
	}
	c := &NATSChannel{nc: nc, subject: subject}
	c.init(orNop(logger).Named("channel"))
	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		c.deliverRaw(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.sub = sub
	return c, nil
}

func (c *NATSChannel) Publish(_ context.Context, event string, payload any) error {
	if c.isClosed() {
		return ErrClosed
	}
	msg, err := c.encode(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal channel message: %w", err)
	}
	if err := c.nc.Publish(c.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", c.subject, err)
	}
	return nil
}

// Close unsubscribes. The NATS connection stays open.
func (c *NATSChannel) Close() error {
	if !c.markClosed() {
		return nil
	}
	return c.sub.Unsubscribe()
}

// ============================================================================
// Redis
// ============================================================================

// RedisChannel is a TabChannel over Redis pub/sub.
type RedisChannel struct {
	channelBase
	rdb     redis.UniversalClient
	channel string
	ps      *redis.PubSub
	done    chan struct{}
}

var _ TabChannel = (*RedisChannel)(nil)

// NewRedisChannel subscribes to channel on rdb and waits for the
// subscription to be confirmed. An empty channel uses DefaultChannelName.
func NewRedisChannel(ctx context.Context, rdb redis.UniversalClient, channel string, logger *zap.Logger) (*RedisChannel, error) {
	if channel == "" {
		channel = DefaultChannelName
	}
	ps := rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	c := &RedisChannel{
		rdb:     rdb,
		channel: channel,
		ps:      ps,
		done:    make(chan struct{}),
	}
	c.init(orNop(logger).Named("channel"))
	go c.receive()
	return c, nil
}

func (c *RedisChannel) receive() {
	defer close(c.done)
	for m := range c.ps.Channel() {
		c.deliverRaw([]byte(m.Payload))
	}
}

func (c *RedisChannel) Publish(ctx context.Context, event string, payload any) error {
	if c.isClosed() {
		return ErrClosed
	}
	msg, err := c.encode(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal channel message: %w", err)
	}
	if err := c.rdb.Publish(ctx, c.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", c.channel, err)
	}
	return nil
}

// Close unsubscribes and waits for the receive loop to exit. The Redis
// client stays open.
func (c *RedisChannel) Close() error {
	if !c.markClosed() {
		return nil
	}
	err := c.ps.Close()
	<-c.done
	return err
}

// ============================================================================
// Logout
// ============================================================================

// Resetter is state that is cleared on logout.
type Resetter interface {
	Reset()
}

// Logout disconnects the transport, resets every store and tells the other
// instances to do the same.
func Logout(ctx context.Context, transport Transport, channel TabChannel, stores ...Resetter) error {
	var errs []error
	if err := transport.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("disconnect: %w", err))
	}
	for _, s := range stores {
		s.Reset()
	}
	if channel != nil {
		if err := channel.Publish(ctx, ChannelEventLogout, nil); err != nil {
			errs = append(errs, fmt.Errorf("broadcast logout: %w", err))
		}
	}
	return errors.Join(errs...)
}

// BindChannel applies logout broadcasts received on channel to stores.
func BindChannel(channel TabChannel, stores ...Resetter) (cancel func()) {
	return channel.Subscribe(func(msg ChannelMessage) {
		if msg.Event != ChannelEventLogout {
			return
		}
		for _, s := range stores {
			s.Reset()
		}
	})
}

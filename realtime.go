package bunny

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

// Inbound event names.
const (
	EventPrivateChats             = "private_chats"
	EventAddFriend                = "add_friend"
	EventRemoveFriend             = "remove_friend"
	EventIsTyping                 = "is_typing"
	EventOnlineFriends            = "online_friends"
	EventUnreadConversationsIDs   = "unread_conversations_ids"
	EventChatMessage              = "chat_message"
	EventUnreadNotificationsCount = "unread_notifications_count"
	EventNewUnreadNotification    = "new_unread_notification"
)

// Outbound command names.
const (
	CommandChatMessage    = "chat_message"
	CommandIsTyping       = "is_typing"
	CommandMarkChatAsRead = "mark_chat_as_read"
	CommandPing           = "ping"
)

const eventAck = "ack"

// RealtimeEnvelope is the wire format of every frame in both directions.
type RealtimeEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

type realtimeCommand struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

type ackPayload struct {
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventHandler receives the raw payload of an inbound event.
type EventHandler func(payload json.RawMessage)

// AckFunc receives the server acknowledgement of an outbound command.
type AckFunc func(data json.RawMessage)

// Transport is a persistent connection delivering named events in order.
type Transport interface {
	Connect(ctx context.Context, token string) error
	Disconnect() error
	Reconnect(ctx context.Context, token string) error
	Send(ctx context.Context, event string, payload any, ack AckFunc) error
	// On registers h for event. Handlers of one event run synchronously,
	// in arrival order.
	On(event string, h EventHandler)
	OnDisconnected(h func(code int, reason string))
}

// onEvent registers fn for event, decoding the payload into T. Malformed
// payloads are logged and dropped.
func onEvent[T any](t Transport, logger *zap.Logger, event string, fn func(T)) {
	t.On(event, func(raw json.RawMessage) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			logger.Warn("drop malformed event", zap.String("event", event), zap.Error(err))
			return
		}
		fn(v)
	})
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures a WSTransport.
type RealtimeConfig struct {
	AutoReconnect bool
	// MaxReconnectAttempts below zero retries forever.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	DialTimeout          time.Duration
	HTTPClient           *http.Client
	Clock                clockwork.Clock
	Logger               *zap.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 15 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	c.Logger = orNop(c.Logger)
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

type eventDispatcher struct {
	mu             sync.RWMutex
	handlers       map[string][]EventHandler
	onConnected    []func()
	onDisconnected []func(int, string)
	onReconnecting []func(int, time.Duration)
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{
		handlers: make(map[string][]EventHandler),
	}
}

// dispatch runs the handlers of env.Type on the calling goroutine.
func (d *eventDispatcher) dispatch(env RealtimeEnvelope) {
	d.mu.RLock()
	handlers := append([]EventHandler(nil), d.handlers[env.Type]...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(env.Payload)
	}
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *eventDispatcher) emitDisconnected(code int, reason string) {
	d.mu.RLock()
	handlers := append([]func(int, string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(code, reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	mu          sync.Mutex
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected(now time.Time) {
	r.mu.Lock()
	r.connectedAt = now
	r.mu.Unlock()
}

// nextDelay returns the backoff before the next attempt. A connection that
// stayed up for a minute resets the attempt counter.
func (r *reconnector) nextDelay(now time.Time) (int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connectedAt.IsZero() && now.Sub(r.connectedAt) > 60*time.Second {
		r.attempt = 0
		r.connectedAt = time.Time{}
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return r.attempt, delay
}

func (r *reconnector) reset() {
	r.mu.Lock()
	r.attempt = 0
	r.connectedAt = time.Time{}
	r.mu.Unlock()
}

// ============================================================================
// WSTransport
// ============================================================================

// WSTransport is a websocket Transport with acknowledgements, heartbeat and
// optional auto-reconnect.
type WSTransport struct {
	urlFor func(token string) string
	config *RealtimeConfig
	clock  clockwork.Clock
	logger *zap.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	state       RealtimeState
	token       string
	intentional bool
	cancelLoops context.CancelFunc

	dispatcher *eventDispatcher
	recon      *reconnector

	pendingMu sync.Mutex
	pending   map[string]AckFunc
}

var _ Transport = (*WSTransport)(nil)

// NewWSTransport creates a transport dialing urlFor(token).
func NewWSTransport(urlFor func(token string) string, config *RealtimeConfig) *WSTransport {
	var cfg RealtimeConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &WSTransport{
		urlFor:     urlFor,
		config:     &cfg,
		clock:      cfg.Clock,
		logger:     cfg.Logger.Named("realtime"),
		state:      StateDisconnected,
		dispatcher: newEventDispatcher(),
		recon:      newReconnector(&cfg),
		pending:    make(map[string]AckFunc),
	}
}

// On registers a handler for an inbound event.
func (ws *WSTransport) On(event string, h EventHandler) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.handlers[event] = append(ws.dispatcher.handlers[event], h)
	ws.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (ws *WSTransport) OnConnected(h func()) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onConnected = append(ws.dispatcher.onConnected, h)
	ws.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (ws *WSTransport) OnDisconnected(h func(code int, reason string)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onDisconnected = append(ws.dispatcher.onDisconnected, h)
	ws.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (ws *WSTransport) OnReconnecting(h func(attempt int, delay time.Duration)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onReconnecting = append(ws.dispatcher.onReconnecting, h)
	ws.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (ws *WSTransport) State() RealtimeState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// Connect opens the websocket. It is a no-op while connected or connecting.
func (ws *WSTransport) Connect(ctx context.Context, token string) error {
	ws.mu.Lock()
	if ws.state == StateConnected || ws.state == StateConnecting {
		ws.mu.Unlock()
		return nil
	}
	ws.state = StateConnecting
	ws.intentional = false
	ws.token = token
	ws.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, ws.urlFor(token), &websocket.DialOptions{
		HTTPClient: ws.config.HTTPClient,
	})
	if err != nil {
		ws.mu.Lock()
		ws.state = StateDisconnected
		ws.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	// The read and heartbeat loops outlive ctx.
	loopCtx, cancel := context.WithCancel(context.Background())

	ws.mu.Lock()
	if ws.intentional {
		ws.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return ErrClosed
	}
	ws.conn = conn
	ws.state = StateConnected
	ws.cancelLoops = cancel
	ws.mu.Unlock()
	ws.recon.markConnected(ws.clock.Now())
	ws.logger.Info("connected")

	go ws.readLoop(loopCtx, conn)
	go ws.heartbeatLoop(loopCtx, conn)

	ws.dispatcher.emitConnected()
	return nil
}

// Disconnect closes the connection and stops auto-reconnect.
func (ws *WSTransport) Disconnect() error {
	ws.mu.Lock()
	ws.intentional = true
	if ws.cancelLoops != nil {
		ws.cancelLoops()
		ws.cancelLoops = nil
	}
	conn := ws.conn
	ws.conn = nil
	ws.state = StateDisconnected
	ws.mu.Unlock()

	ws.clearPending()
	ws.recon.reset()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		ws.logger.Info("disconnected")
	}
	ws.dispatcher.emitDisconnected(int(websocket.StatusNormalClosure), "client disconnect")
	return err
}

// Reconnect drops the current connection and opens a new one.
func (ws *WSTransport) Reconnect(ctx context.Context, token string) error {
	if err := ws.Disconnect(); err != nil {
		ws.logger.Debug("close before reconnect", zap.Error(err))
	}
	return ws.Connect(ctx, token)
}

// Send writes an outbound command. When ack is non-nil it is called with
// the server acknowledgement.
func (ws *WSTransport) Send(ctx context.Context, event string, payload any, ack AckFunc) error {
	_, err := ws.send(ctx, event, payload, ack)
	return err
}

func (ws *WSTransport) send(ctx context.Context, event string, payload any, ack AckFunc) (string, error) {
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()
	if conn == nil {
		return "", ErrNotConnected
	}

	cmd := realtimeCommand{Type: event, Payload: payload}
	if ack != nil {
		cmd.RequestID = uuid.NewString()
		ws.pendingMu.Lock()
		ws.pending[cmd.RequestID] = ack
		ws.pendingMu.Unlock()
	}

	data, err := json.Marshal(cmd)
	if err == nil {
		err = conn.Write(ctx, websocket.MessageText, data)
	}
	if err != nil {
		if cmd.RequestID != "" {
			ws.dropPending(cmd.RequestID)
		}
		return "", fmt.Errorf("send %s: %w", event, err)
	}
	return cmd.RequestID, nil
}

// Ping sends a ping and waits for its acknowledgement.
func (ws *WSTransport) Ping(ctx context.Context) error {
	done := make(chan struct{}, 1)
	id, err := ws.send(ctx, CommandPing, nil, func(json.RawMessage) {
		done <- struct{}{}
	})
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ws.clock.After(ws.config.HeartbeatTimeout):
		ws.dropPending(id)
		return errors.New("ping timeout")
	case <-ctx.Done():
		ws.dropPending(id)
		return ctx.Err()
	}
}

func (ws *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			ws.handleDrop(conn, err)
			return
		}

		var env RealtimeEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			ws.logger.Debug("drop malformed frame", zap.Error(err))
			continue
		}
		if env.Type == eventAck {
			ws.resolveAck(env.Payload)
			continue
		}
		ws.dispatcher.dispatch(env)
	}
}

func (ws *WSTransport) resolveAck(raw json.RawMessage) {
	var p ackPayload
	if json.Unmarshal(raw, &p) != nil || p.RequestID == "" {
		return
	}
	ws.pendingMu.Lock()
	ack, ok := ws.pending[p.RequestID]
	delete(ws.pending, p.RequestID)
	ws.pendingMu.Unlock()
	if ok {
		ack(p.Data)
	}
}

// handleDrop tears down a connection that failed on its own. Connections
// already replaced or closed on purpose are ignored.
func (ws *WSTransport) handleDrop(conn *websocket.Conn, cause error) {
	ws.mu.Lock()
	if ws.conn != conn || ws.intentional {
		ws.mu.Unlock()
		return
	}
	ws.conn = nil
	ws.state = StateDisconnected
	if ws.cancelLoops != nil {
		ws.cancelLoops()
		ws.cancelLoops = nil
	}
	ws.mu.Unlock()

	ws.clearPending()
	code := int(websocket.CloseStatus(cause))
	ws.logger.Warn("connection lost", zap.Int("code", code), zap.Error(cause))
	ws.dispatcher.emitDisconnected(code, cause.Error())

	if ws.config.AutoReconnect {
		ws.reconnectLoop()
	}
}

func (ws *WSTransport) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := ws.clock.NewTicker(ws.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := ws.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				ws.logger.Warn("heartbeat failed", zap.Error(err))
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (ws *WSTransport) reconnectLoop() {
	for {
		ws.mu.Lock()
		if ws.intentional || ws.state != StateDisconnected {
			ws.mu.Unlock()
			return
		}
		if !ws.recon.shouldReconnect() {
			ws.mu.Unlock()
			ws.logger.Warn("giving up reconnecting")
			return
		}
		ws.state = StateReconnecting
		token := ws.token
		ws.mu.Unlock()

		attempt, delay := ws.recon.nextDelay(ws.clock.Now())
		ws.dispatcher.emitReconnecting(attempt, delay)
		ws.logger.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		ws.clock.Sleep(delay)

		ws.mu.Lock()
		if ws.intentional || ws.state != StateReconnecting {
			ws.mu.Unlock()
			return
		}
		ws.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), ws.config.DialTimeout)
		err := ws.Connect(ctx, token)
		cancel()
		if err == nil || errors.Is(err, ErrClosed) {
			return
		}
		ws.logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (ws *WSTransport) dropPending(id string) {
	ws.pendingMu.Lock()
	delete(ws.pending, id)
	ws.pendingMu.Unlock()
}

func (ws *WSTransport) clearPending() {
	ws.pendingMu.Lock()
	for k := range ws.pending {
		delete(ws.pending, k)
	}
	ws.pendingMu.Unlock()
}

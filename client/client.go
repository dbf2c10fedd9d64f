// Package client is the Go client for the realtime service: one logical
// connection with automatic reconnection, an application-level heartbeat,
// and local typing-indicator expiry.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yourorg/chat-app/services/realtime-service/internal/apperr"
	"github.com/yourorg/chat-app/services/realtime-service/internal/events"
)

// State names the reconnection state machine's positions. The contract is
// the transition table, not the mechanism driving it.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateWaitingRetry State = "waiting-to-retry"
	StateExhausted    State = "exhausted"
)

type Config struct {
	URL   string // e.g. ws://host:8080/v1/ws
	Token string

	MaxRetries   int           // attempts before exhausted (default 5)
	BackoffBase  time.Duration // default 1s
	BackoffCap   time.Duration // default 30s
	PingInterval time.Duration // default 30s
	TypingExpiry time.Duration // quiet period before hiding an indicator (default 3s)
}

func (c *Config) defaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.TypingExpiry == 0 {
		c.TypingExpiry = 3 * time.Second
	}
}

// Handlers are the application callbacks. All are optional and invoked from
// client goroutines; they must not block for long.
type Handlers struct {
	OnMessage      func(events.MessageEvent)
	OnStatusUpdate func(events.StatusUpdateEvent)
	OnUserStatus   func(events.UserStatusEvent)
	OnTypingStart  func(senderID string)
	OnTypingStop   func(senderID string)
	OnStateChange  func(State)

	// OnExhausted fires once when the retry budget is spent. The session is
	// over; the user must take manual action.
	OnExhausted func()

	// Resync runs after every successful (re)connection: refetch history,
	// re-poll presence.
	Resync func()
}

// wireConn is the minimal surface of a websocket connection the client
// needs. gorilla's *websocket.Conn satisfies it; tests substitute fakes.
type wireConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type dialFunc func(ctx context.Context) (wireConn, error)

type Client struct {
	cfg      Config
	handlers Handlers
	dial     dialFunc
	typing   *typingTracker

	mu         sync.Mutex
	state      State
	conn       wireConn
	deliberate bool
	retryTimer *time.Timer
	bo         backoff
	gen        int // connection generation; stale loops are ignored
	lastPong   time.Time

	writeMu sync.Mutex
}

func New(cfg Config, handlers Handlers) *Client {
	cfg.defaults()
	c := &Client{
		cfg:      cfg,
		handlers: handlers,
		state:    StateIdle,
		bo:       backoff{base: cfg.BackoffBase, cap: cfg.BackoffCap},
	}
	c.typing = newTypingTracker(cfg.TypingExpiry, handlers.OnTypingStart, handlers.OnTypingStop)
	c.dial = c.dialWebsocket
	return c
}

func (c *Client) dialWebsocket(ctx context.Context) (wireConn, error) {
	url := c.cfg.URL + "?token=" + c.cfg.Token
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the connection. A failed attempt enters the same
// recovery path as an unexpected disconnect: backoff-wait, retry, and
// eventually exhausted.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateExhausted {
		c.mu.Unlock()
		return apperr.ErrReconnectExhausted
	}
	c.deliberate = false
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		if c.deliberate {
			c.setStateLocked(StateIdle)
			c.mu.Unlock()
			return err
		}
		c.setStateLocked(StateDisconnected)
		c.scheduleRetryLocked()
		c.mu.Unlock()
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.lastPong = time.Now()
	c.bo.reset()
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	go c.pingLoop(gen)
	if c.handlers.Resync != nil {
		go c.handlers.Resync()
	}
	return nil
}

// Close is a deliberate shutdown: cancels any pending retry, closes the
// transport and parks the machine in idle. No reconnection follows.
func (c *Client) Close() {
	c.mu.Lock()
	c.deliberate = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	c.typing.stopAll()
	if conn != nil {
		_ = conn.Close()
	}
}

// Send submits a text message to receiverID.
func (c *Client) Send(receiverID, content string) error {
	return c.write(events.Inbound{Type: events.TypeSend, ReceiverID: receiverID, Content: content})
}

// SendMedia submits a message carrying a media reference.
func (c *Client) SendMedia(receiverID, content, mediaURL, mediaType string) error {
	return c.write(events.Inbound{Type: events.TypeSend, ReceiverID: receiverID, Content: content, MediaURL: mediaURL, MediaType: mediaType})
}

// Typing sends one typing pulse toward receiverID. The server debounces.
func (c *Client) Typing(receiverID string) error {
	return c.write(events.Inbound{Type: events.TypeTyping, ReceiverID: receiverID})
}

// MarkDelivered acknowledges receipt of a message.
func (c *Client) MarkDelivered(messageID, senderID string) error {
	return c.write(events.Inbound{Type: events.TypeDeliveredReceipt, MessageID: messageID, SenderID: senderID})
}

// MarkRead signals the message was shown to the user.
func (c *Client) MarkRead(messageID, senderID string) error {
	return c.write(events.Inbound{Type: events.TypeReadReceipt, MessageID: messageID, SenderID: senderID})
}

func (c *Client) write(in events.Inbound) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(conn wireConn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.connLost(gen)
			return
		}
		c.route(data)
	}
}

func (c *Client) route(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(data, &head) != nil {
		return
	}
	switch head.Type {
	case events.TypeMessage:
		var ev events.MessageEvent
		if json.Unmarshal(data, &ev) == nil && c.handlers.OnMessage != nil {
			c.handlers.OnMessage(ev)
		}
	case events.TypeStatusUpdate:
		var ev events.StatusUpdateEvent
		if json.Unmarshal(data, &ev) == nil && c.handlers.OnStatusUpdate != nil {
			c.handlers.OnStatusUpdate(ev)
		}
	case events.TypeUserStatus:
		var ev events.UserStatusEvent
		if json.Unmarshal(data, &ev) == nil && c.handlers.OnUserStatus != nil {
			c.handlers.OnUserStatus(ev)
		}
	case events.TypeTyping:
		var ev events.TypingEvent
		if json.Unmarshal(data, &ev) == nil && ev.SenderID != "" {
			c.typing.pulse(ev.SenderID)
		}
	case events.TypePong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
	}
}

func (c *Client) pingLoop(gen int) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		if c.gen != gen || c.state != StateConnected {
			c.mu.Unlock()
			return
		}
		stale := time.Since(c.lastPong) > 2*c.cfg.PingInterval
		conn := c.conn
		c.mu.Unlock()

		if stale {
			// no pong for two intervals: consider the link dead and let the
			// read loop drive recovery
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err := c.write(events.Inbound{Type: events.TypePing}); err != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
	}
}

// connLost handles the end of a connection's read loop. Deliberate closes
// land in idle; anything else enters the retry schedule.
func (c *Client) connLost(gen int) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.deliberate {
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		c.typing.stopAll()
		return
	}
	c.setStateLocked(StateDisconnected)
	c.scheduleRetryLocked()
	c.mu.Unlock()
	c.typing.stopAll()
}

func (c *Client) scheduleRetryLocked() {
	if c.bo.attempts >= c.cfg.MaxRetries {
		c.setStateLocked(StateExhausted)
		if c.handlers.OnExhausted != nil {
			go c.handlers.OnExhausted()
		}
		return
	}
	delay := c.bo.next()
	c.setStateLocked(StateWaitingRetry)
	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.deliberate || c.state != StateWaitingRetry {
			c.mu.Unlock()
			return
		}
		c.state = StateDisconnected // Connect requires a resumable state
		c.mu.Unlock()
		_ = c.Connect(context.Background())
	})
}

// setStateLocked mutates state and notifies. Called with mu held; the
// callback runs on its own goroutine to keep lock scope tight.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.handlers.OnStateChange != nil {
		go c.handlers.OnStateChange(s)
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

var (
	// ErrConnectInProgress means another Connect call is already dialing.
	// Retryable: callers should back off and try again, not give up.
	ErrConnectInProgress = errors.New("realtime: connection attempt already in progress")
	// ErrNotConnected means the operation needs an open connection. Sends
	// are never queued while disconnected.
	ErrNotConnected = errors.New("realtime: not connected")
)

const (
	readLimit = 1024 * 1024
	pongWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

type Options struct {
	URL   string
	Token string

	// MaxReconnectAttempts caps consecutive reconnect attempts after an
	// unexpected close. Defaults to 5.
	MaxReconnectAttempts int
	// BaseReconnectDelay is multiplied by the attempt number, capped at
	// MaxReconnectDelay. Defaults: 1s base, 5s cap.
	BaseReconnectDelay time.Duration
	MaxReconnectDelay  time.Duration

	Logger zerolog.Logger
}

// Client owns at most one live connection to the messaging endpoint. It is
// meant to be constructed once at the composition root and shared.
type Client struct {
	opts     Options
	registry *Registry

	mu             sync.Mutex
	conn           *websocket.Conn
	state          State
	connecting     bool
	attempts       int
	reconnectTimer *time.Timer
	gen            int
	onState        func(State)

	writeMu sync.Mutex
}

func NewClient(opts Options, registry *Registry) *Client {
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.BaseReconnectDelay <= 0 {
		opts.BaseReconnectDelay = time.Second
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = 5 * time.Second
	}
	return &Client{
		opts:     opts,
		registry: registry,
		state:    StateDisconnected,
	}
}

// OnStateChange registers a hook observing connection state transitions. The
// hook is invoked on its own goroutine; a terminal StateDisconnected after
// reconnect exhaustion is observable here so callers can surface a banner and
// retry manually.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// Registry exposes the subscription registry for handler registration.
func (c *Client) Registry() *Registry { return c.registry }

func (c *Client) dialURL() string {
	return c.opts.URL + "?token=" + url.QueryEscape(c.opts.Token)
}

// Connect opens the connection if needed. It is idempotent while connected
// and returns ErrConnectInProgress if a dial is already in flight. On open it
// resets the reconnect counter and replays every channel in the replay set
// from CursorNow before returning.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.connecting = true
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.dialURL(), nil)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		if resp != nil {
			return fmt.Errorf("realtime: dial: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("realtime: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connecting = false
	c.attempts = 0
	c.setStateLocked(StateConnected)
	channels := c.registry.Channels()
	c.mu.Unlock()

	for _, ch := range channels {
		frame := outboundFrame{Action: actionSubscribe, Channel: ch, LastMessageID: CursorNow}
		if err := c.writeFrame(frame); err != nil {
			c.opts.Logger.Warn().Err(err).Str("channel", ch).Msg("subscription replay failed")
		}
	}

	go c.readLoop(conn)
	return nil
}

// IsConnected reports whether the connection is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// ReconnectAttempts reports the consecutive reconnect attempts made since the
// last successful open.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Subscribe sends a subscribe frame and records the channel for replay.
// Duplicate subscribes re-send the frame; the server tolerates them.
func (c *Client) Subscribe(channel, cursor string) error {
	if cursor == "" {
		cursor = CursorNow
	}
	frame := outboundFrame{Action: actionSubscribe, Channel: channel, LastMessageID: cursor}
	if err := c.writeFrame(frame); err != nil {
		return err
	}
	c.registry.MarkSubscribed(channel)
	return nil
}

// Publish sends a data payload to a channel with a locally generated message
// id. Fails immediately when disconnected; nothing is queued.
func (c *Client) Publish(channel string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("realtime: encode publish data: %w", err)
	}
	frame := outboundFrame{
		Action:    actionPublish,
		Channel:   channel,
		Data:      payload,
		MessageID: newMessageID(),
	}
	return c.writeFrame(frame)
}

// OnMessage registers a handler for a channel and returns its disposer.
func (c *Client) OnMessage(channel string, fn Handler) func() {
	return c.registry.Add(channel, fn)
}

// Disconnect tears the connection down: cancels any pending reconnect timer,
// closes the socket, and clears all handlers and the replay set. Safe to call
// multiple times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.connecting = false
	c.attempts = 0
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.registry.Reset()
}

func (c *Client) writeFrame(frame outboundFrame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("realtime: write %s frame: %w", frame.Action, err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}

		frame, err := parseInboundFrame(raw)
		if err != nil {
			// One bad frame must not take the connection down.
			c.opts.Logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if frame.Event != eventMessage {
			continue
		}
		c.registry.Dispatch(frame.Channel, frame.Data)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A stale read loop from a superseded or explicitly closed connection
	// must not trigger reconnection.
	if c.conn != conn {
		return
	}
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.opts.Logger.Warn().Err(err).Msg("connection closed unexpectedly")
	c.scheduleReconnectLocked()
}

func (c *Client) scheduleReconnectLocked() {
	if c.reconnectTimer != nil {
		return
	}
	if c.attempts >= c.opts.MaxReconnectAttempts {
		c.opts.Logger.Error().Int("attempts", c.attempts).Msg("reconnect attempts exhausted, staying disconnected")
		return
	}
	c.attempts++
	attempt := c.attempts

	delay := time.Duration(attempt) * c.opts.BaseReconnectDelay
	if delay > c.opts.MaxReconnectDelay {
		delay = c.opts.MaxReconnectDelay
	}
	c.opts.Logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")

	gen := c.gen
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		if c.gen != gen {
			// Disconnect was called while the timer was pending.
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if err := c.Connect(context.Background()); err != nil {
			c.opts.Logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			c.mu.Lock()
			if c.gen == gen {
				c.scheduleReconnectLocked()
			}
			c.mu.Unlock()
		}
	})
}

func (c *Client) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.state = state
	if c.onState != nil {
		go c.onState(state)
	}
}

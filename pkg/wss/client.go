// Package wss provides a reconnecting WebSocket client used as the depth
// feed transport: single stream, automatic backoff reconnect, ping
// heartbeat.
package wss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State represents the connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handlers contains callback functions for connection events. OnMessage
// receives every raw frame; routing is the consumer's job.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func(err error)
	OnMessage    func(data []byte)
	OnError      func(err error)
}

// Config holds client configuration.
type Config struct {
	URL     string
	Headers map[string]string

	ReconnectEnabled     bool
	ReconnectMinDelay    time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int // 0 = unlimited

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultConfig returns a config with sensible defaults for a market-data
// stream.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		ReconnectEnabled:  true,
		ReconnectMinDelay: 1 * time.Second,
		ReconnectMaxDelay: 30 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		ReadBufferSize:    8192,
		WriteBufferSize:   4096,
	}
}

// Client is a WebSocket client with reconnection support.
type Client struct {
	config   Config
	handlers Handlers

	conn   *websocket.Conn
	connMu sync.RWMutex
	state  int32 // atomic State

	writeCh   chan writeRequest
	closeCh   chan struct{}
	closeOnce sync.Once

	reconnectAttempts int
	lastError         error
	lastErrorMu       sync.RWMutex
}

type writeRequest struct {
	data   []byte
	result chan error
}

// NewClient creates a new client. Connect must be called before sending.
func NewClient(config Config, handlers Handlers) *Client {
	return &Client{
		config:   config,
		handlers: handlers,
		writeCh:  make(chan writeRequest, 64),
		closeCh:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read, write
// and heartbeat loops.
func (c *Client) Connect(ctx context.Context) error {
	if c.getState() == StateClosed {
		return errors.New("client is closed")
	}

	c.setState(StateConnecting)

	dialer := websocket.Dialer{
		ReadBufferSize:  c.config.ReadBufferSize,
		WriteBufferSize: c.config.WriteBufferSize,
	}

	headers := make(map[string][]string, len(c.config.Headers))
	for k, v := range c.config.Headers {
		headers[k] = []string{v}
	}

	conn, _, err := dialer.DialContext(ctx, c.config.URL, headers)
	if err != nil {
		c.setState(StateDisconnected)
		c.setLastError(err)
		return fmt.Errorf("dial failed: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.setState(StateConnected)
	c.reconnectAttempts = 0

	if c.handlers.OnConnect != nil {
		c.handlers.OnConnect()
	}

	go c.readLoop()
	go c.writeLoop()
	if c.config.HeartbeatInterval > 0 {
		go c.heartbeatLoop()
	}

	return nil
}

// Close closes the connection permanently.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.closeCh)

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
	})
	return nil
}

// Send writes a text message over the connection.
func (c *Client) Send(data []byte) error {
	if c.getState() != StateConnected {
		return errors.New("not connected")
	}

	result := make(chan error, 1)
	select {
	case c.writeCh <- writeRequest{data: data, result: result}:
		return <-result
	case <-c.closeCh:
		return errors.New("client closed")
	}
}

// SendJSON marshals v and sends it.
func (c *Client) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal failed: %w", err)
	}
	return c.Send(data)
}

// State returns the current connection state.
func (c *Client) State() State {
	return c.getState()
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.getState() == StateConnected
}

// LastError returns the last transport error observed.
func (c *Client) LastError() error {
	c.lastErrorMu.RLock()
	defer c.lastErrorMu.RUnlock()
	return c.lastError
}

// --- Internal methods ---

func (c *Client) getState() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Client) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

func (c *Client) setLastError(err error) {
	c.lastErrorMu.Lock()
	c.lastError = err
	c.lastErrorMu.Unlock()
}

func (c *Client) readLoop() {
	defer func() {
		if c.getState() != StateClosed {
			c.handleDisconnect(c.LastError())
		}
	}()

	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		if conn == nil {
			return
		}

		if c.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.setLastError(err)
			if c.handlers.OnError != nil {
				c.handlers.OnError(err)
			}
			return
		}

		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(data)
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case req := <-c.writeCh:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()

			if conn == nil {
				req.result <- errors.New("not connected")
				continue
			}

			if c.config.WriteTimeout > 0 {
				conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			}

			err := conn.WriteMessage(websocket.TextMessage, req.data)
			req.result <- err

			if err != nil {
				c.setLastError(err)
				if c.handlers.OnError != nil {
					c.handlers.OnError(err)
				}
			}
		}
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			if c.getState() != StateConnected {
				continue
			}

			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()

			if conn == nil {
				continue
			}

			deadline := time.Now().Add(c.config.HeartbeatTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.setLastError(err)
				if c.handlers.OnError != nil {
					c.handlers.OnError(fmt.Errorf("heartbeat failed: %w", err))
				}
			}
		}
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setState(StateDisconnected)

	if c.handlers.OnDisconnect != nil {
		c.handlers.OnDisconnect(err)
	}

	if c.config.ReconnectEnabled {
		go c.reconnect()
	}
}

func (c *Client) reconnect() {
	c.setState(StateReconnecting)

	for {
		if c.getState() == StateClosed {
			return
		}

		c.reconnectAttempts++

		if c.config.ReconnectMaxAttempts > 0 && c.reconnectAttempts > c.config.ReconnectMaxAttempts {
			c.setState(StateDisconnected)
			if c.handlers.OnError != nil {
				c.handlers.OnError(fmt.Errorf("max reconnect attempts (%d) exceeded", c.config.ReconnectMaxAttempts))
			}
			return
		}

		delay := c.config.ReconnectMinDelay * time.Duration(1<<uint(c.reconnectAttempts-1))
		if delay > c.config.ReconnectMaxDelay || delay <= 0 {
			delay = c.config.ReconnectMaxDelay
		}

		select {
		case <-c.closeCh:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		if c.handlers.OnError != nil {
			c.handlers.OnError(fmt.Errorf("reconnect attempt %d failed: %w", c.reconnectAttempts, err))
		}
	}
}

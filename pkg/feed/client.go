package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/phenomenon0/tickbook/pkg/book"
	"github.com/phenomenon0/tickbook/pkg/wss"
)

// Handlers contains callback functions for feed events.
type Handlers struct {
	OnUpdate func(*book.TickUpdate)

	OnConnect     func()
	OnDisconnect  func(err error)
	OnDecodeError func(err error)
	OnError       func(err error)
}

// Config holds feed client configuration.
type Config struct {
	URL      string
	Symbol   string
	Decimals book.Decimals
	Handlers Handlers

	ReconnectEnabled  bool
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration

	// SnapshotRPS bounds snapshot re-requests after reconnects.
	SnapshotRPS   float64
	SnapshotBurst int
}

// DefaultConfig returns default configuration for one symbol.
func DefaultConfig(url, symbol string, decimals book.Decimals) Config {
	return Config{
		URL:               url,
		Symbol:            symbol,
		Decimals:          decimals,
		ReconnectEnabled:  true,
		ReconnectMinDelay: 1 * time.Second,
		ReconnectMaxDelay: 30 * time.Second,
		SnapshotRPS:       1,
		SnapshotBurst:     2,
	}
}

// Client subscribes to one instrument's depth stream and emits decoded tick
// updates. Decoding errors skip the event and are counted; they never reach
// the book.
type Client struct {
	client  *wss.Client
	decoder *Decoder
	symbol  string

	handlers Handlers
	limiter  *rate.Limiter

	decodeErrors atomic.Uint64
}

// NewClient creates a feed client for the configured symbol.
func NewClient(config Config) *Client {
	wsConfig := wss.DefaultConfig(config.URL)
	wsConfig.ReconnectEnabled = config.ReconnectEnabled
	if config.ReconnectMinDelay > 0 {
		wsConfig.ReconnectMinDelay = config.ReconnectMinDelay
	}
	if config.ReconnectMaxDelay > 0 {
		wsConfig.ReconnectMaxDelay = config.ReconnectMaxDelay
	}

	fc := &Client{
		decoder:  NewDecoder(config.Decimals),
		symbol:   config.Symbol,
		handlers: config.Handlers,
		limiter:  rate.NewLimiter(rate.Limit(config.SnapshotRPS), config.SnapshotBurst),
	}

	fc.client = wss.NewClient(wsConfig, wss.Handlers{
		OnConnect: func() {
			fc.onConnect()
			if fc.handlers.OnConnect != nil {
				fc.handlers.OnConnect()
			}
		},
		OnDisconnect: func(err error) {
			if fc.handlers.OnDisconnect != nil {
				fc.handlers.OnDisconnect(err)
			}
		},
		OnMessage: fc.handleMessage,
		OnError: func(err error) {
			if fc.handlers.OnError != nil {
				fc.handlers.OnError(err)
			}
		},
	})

	return fc
}

// Connect connects to the feed.
func (c *Client) Connect(ctx context.Context) error {
	return c.client.Connect(ctx)
}

// Close closes the feed connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// IsConnected returns true if the transport is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// DecodeErrors returns the number of malformed events skipped so far.
func (c *Client) DecodeErrors() uint64 {
	return c.decodeErrors.Load()
}

// RequestSnapshot asks the feed for a full depth snapshot, paced so a
// reconnect storm cannot hammer the venue.
func (c *Client) RequestSnapshot(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("snapshot pacing: %w", err)
	}
	msg := snapshotMsg{Type: "snapshot", Symbol: c.symbol}
	if err := c.client.SendJSON(msg); err != nil {
		return fmt.Errorf("snapshot request failed: %w", err)
	}
	return nil
}

// --- Internal methods ---

// onConnect (re)subscribes and queues a snapshot request. The snapshot
// arrives as an ordinary update: its levels are applied on top of the
// current book, and levels it does not name are not cleared.
func (c *Client) onConnect() {
	msg := subscribeMsg{Type: "subscribe", Symbols: []string{c.symbol}}
	if err := c.client.SendJSON(msg); err != nil && c.handlers.OnError != nil {
		c.handlers.OnError(fmt.Errorf("subscribe failed: %w", err))
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.RequestSnapshot(ctx); err != nil && c.handlers.OnError != nil {
			c.handlers.OnError(err)
		}
	}()
}

func (c *Client) handleMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.recordDecodeError(fmt.Errorf("envelope unmarshal failed: %w", err))
		return
	}

	switch EventType(strings.ToLower(env.Type)) {
	case EventTypeDepth, EventTypeSnapshot:
		if env.Symbol != "" && env.Symbol != c.symbol {
			return
		}
		update, err := c.decoder.DecodeUpdate(data)
		if err != nil {
			c.recordDecodeError(err)
			return
		}
		if c.handlers.OnUpdate != nil {
			c.handlers.OnUpdate(update)
		}

	case EventTypeHeartbeat:
		// keepalive only
	}
}

func (c *Client) recordDecodeError(err error) {
	c.decodeErrors.Add(1)
	if c.handlers.OnDecodeError != nil {
		c.handlers.OnDecodeError(err)
	}
}

// --- Streaming API (channel-based) ---

// StreamConfig configures a streaming subscription.
type StreamConfig struct {
	// BufferSize for the update channel (default 256)
	BufferSize int
}

// Streams holds channels for streaming feed data. Updates are dropped, and
// counted, when the consumer falls behind.
type Streams struct {
	Updates <-chan *book.TickUpdate

	dropped atomic.Uint64
	closeCh chan struct{}
	client  *Client
}

// Dropped returns the number of updates dropped on buffer overflow.
func (s *Streams) Dropped() uint64 {
	return s.dropped.Load()
}

// Close closes the stream and the underlying connection.
func (s *Streams) Close() {
	close(s.closeCh)
	s.client.Close()
}

// StartStreaming connects and returns a channel-based view of the feed.
// This is an alternative to callback-based handling.
func StartStreaming(ctx context.Context, config Config, streamConfig StreamConfig) (*Streams, error) {
	bufSize := streamConfig.BufferSize
	if bufSize <= 0 {
		bufSize = 256
	}

	updateCh := make(chan *book.TickUpdate, bufSize)
	streams := &Streams{
		Updates: updateCh,
		closeCh: make(chan struct{}),
	}

	var sendMu sync.Mutex
	userOnUpdate := config.Handlers.OnUpdate
	config.Handlers.OnUpdate = func(update *book.TickUpdate) {
		if userOnUpdate != nil {
			userOnUpdate(update)
		}
		sendMu.Lock()
		defer sendMu.Unlock()
		select {
		case <-streams.closeCh:
		case updateCh <- update:
		default:
			streams.dropped.Add(1)
		}
	}

	client := NewClient(config)
	streams.client = client

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect failed: %w", err)
	}

	return streams, nil
}

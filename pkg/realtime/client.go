// Package realtime is a single-call client for the OpenAI Realtime API over WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview-2024-10-01"

	readTimeout  = 120 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var (
	// ErrAlreadyConfigured is returned when the session configuration is sent twice
	ErrAlreadyConfigured = errors.New("realtime: session already configured")
	// ErrNotConnected is returned by commands that need an open transport
	ErrNotConnected = errors.New("realtime: not connected")
)

// Client owns one outbound connection to the Realtime API
type Client struct {
	url              string
	model            string
	apiKey           string
	handshakeTimeout time.Duration
	conn             *websocket.Conn
	mu               sync.Mutex // guards conn, connected, configured and all writes
	logger           *slog.Logger
	events           chan Event
	ctx              context.Context
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	connected        bool
	configured       bool
	opened           bool
	closeOnce        sync.Once
}

// Config holds Realtime client configuration
type Config struct {
	URL              string        // WebSocket endpoint, DefaultURL if empty
	Model            string        // model query parameter, DefaultModel if empty
	APIKey           string        // passed through as a bearer token
	HandshakeTimeout time.Duration // WebSocket dial handshake timeout
	Logger           *slog.Logger
}

// NewClient creates a new Realtime client. Nothing is dialed until Open.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		url:              cfg.URL,
		model:            cfg.Model,
		apiKey:           cfg.APIKey,
		handshakeTimeout: cfg.HandshakeTimeout,
		logger:           cfg.Logger,
		events:           make(chan Event, 64),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Events returns the channel of classified inbound events. Events are
// delivered in arrival order; the channel is never closed.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Open dials the service in the background. The outcome is reported on
// Events as EventOpen or EventTransportError. Only the first call dials.
func (c *Client) Open(ctx context.Context) {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		c.logger.Warn("realtime client already opened")
		return
	}
	c.opened = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if err := c.connect(ctx); err != nil {
			c.emit(Event{Kind: EventTransportError, Err: err})
			return
		}
		if !c.emit(Event{Kind: EventOpen}) {
			return
		}

		c.wg.Add(1)
		go c.keepAlive()

		c.readLoop()
	}()
}

// connect dials the endpoint. Close aborts a dial in progress.
func (c *Client) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid realtime URL: %w", err)
	}
	q := u.Query()
	q.Set("model", c.model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(dialCtx, u.String(), headers)
	if err != nil {
		c.logger.Error("failed to connect to realtime API", "url", c.url, "error", err)
		return fmt.Errorf("realtime dial: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		conn.Close()
		return fmt.Errorf("realtime dial: %w", c.ctx.Err())
	}
	c.conn = conn
	c.connected = true
	c.logger.Info("connected to realtime API", "model", c.model)

	return nil
}

// emit delivers an event unless the client is closed. It blocks while the
// consumer is busy so that audio deltas keep their order.
func (c *Client) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// readLoop classifies inbound messages until the transport fails or Close is called
func (c *Client) readLoop() {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()

			if c.ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("realtime connection closed by peer", "error", err)
				c.emit(Event{Kind: EventClosed, Err: err})
				return
			}
			c.logger.Error("realtime read error", "error", err)
			c.emit(Event{Kind: EventTransportError, Err: err})
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if messageType != websocket.TextMessage {
			continue
		}

		ev, err := ParseEvent(data)
		if err != nil {
			c.logger.Error("failed to parse realtime message", "error", err, "data", string(data))
			continue
		}
		if !c.emit(ev) {
			return
		}
	}
}

// keepAlive pings the service so idle stretches do not trip the read deadline
func (c *Client) keepAlive() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn == nil || !c.connected {
				c.mu.Unlock()
				return
			}
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug("realtime ping failed", "error", err)
				return
			}
		}
	}
}

// SendConfiguration sends the session.update command. It may be sent once
// per connection.
func (c *Client) SendConfiguration(cfg SessionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.configured {
		return ErrAlreadyConfigured
	}
	if err := c.writeJSONLocked(sessionUpdate{Type: TypeSessionUpdate, Session: cfg}); err != nil {
		return err
	}
	c.configured = true
	return nil
}

// SendAudio appends an opaque base64 audio payload to the input buffer.
// It is a no-op when the transport is not open.
func (c *Client) SendAudio(payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	return c.writeJSONLocked(audioAppend{Type: TypeInputAudioAppend, Audio: payload})
}

// CreateResponse asks the model to respond without waiting for caller input
func (c *Client) CreateResponse(opts ResponseOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.writeJSONLocked(responseCreate{Type: TypeResponseCreate, Response: opts})
}

func (c *Client) writeJSONLocked(v interface{}) error {
	if c.conn == nil || !c.connected {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// IsConnected returns whether the transport is open
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close closes the connection and waits for the client goroutines. It is
// safe to call more than once and before Open.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		if c.conn != nil {
			if c.connected {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
			}
			c.conn.Close()
			c.connected = false
		}
		c.mu.Unlock()

		c.wg.Wait()
		c.logger.Debug("realtime client closed")
	})
	return nil
}

// IsNormalClose checks if the error is a WebSocket close with code 1000
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure)
}

// Package mediastream handles one inbound Twilio Media Streams WebSocket connection.
package mediastream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventClosed is delivered once when the transport goes away. It never
// appears on the wire.
const EventClosed = "closed"

const (
	writeTimeout = 10 * time.Second
	pingInterval = 25 * time.Second
	readTimeout  = 60 * time.Second
)

// Event is a parsed inbound frame or the transport close notification
type Event struct {
	Type    string   // Media Streams event name, or EventClosed
	Message *Message // nil for EventClosed
	Err     error    // EventClosed: nil on a clean close
}

// Conn owns one Media Streams connection
type Conn struct {
	conn      *websocket.Conn
	mu        sync.Mutex // guards closed and all writes
	logger    *slog.Logger
	events    chan Event
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    bool
	closeOnce sync.Once
	startOnce sync.Once
}

// Config holds connection options
type Config struct {
	Logger *slog.Logger
}

// NewConn wraps an upgraded WebSocket. Call Start to begin reading.
func NewConn(ws *websocket.Conn, cfg Config) *Conn {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Conn{
		conn:   ws,
		logger: cfg.Logger,
		events: make(chan Event, 64),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the read and keepalive goroutines
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		})

		c.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
	})
}

// Events returns parsed inbound frames in arrival order. The channel is never closed.
func (c *Conn) Events() <-chan Event {
	return c.events
}

func (c *Conn) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// readLoop handles incoming frames from Twilio
func (c *Conn) readLoop() {
	defer c.wg.Done()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()

			if c.ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("media stream closed by peer")
				c.emit(Event{Type: EventClosed})
				return
			}
			c.logger.Error("media stream read error", "error", err)
			c.emit(Event{Type: EventClosed, Err: err})
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		msg, err := c.handleMessage(data)
		if err != nil {
			c.logger.Warn("dropping malformed media stream frame", "error", err, "data", truncate(data, 256))
			continue
		}
		if !c.emit(Event{Type: msg.Event, Message: msg}) {
			return
		}
	}
}

// handleMessage parses one frame. Frames whose body does not match their
// event name are rejected.
func (c *Conn) handleMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	switch msg.Event {
	case "":
		return nil, fmt.Errorf("frame has no event field")
	case EventStart:
		if msg.Start == nil {
			return nil, fmt.Errorf("start frame without start body")
		}
	case EventMedia:
		if msg.Media == nil {
			return nil, fmt.Errorf("media frame without media body")
		}
	case EventDTMF:
		if msg.DTMF == nil {
			return nil, fmt.Errorf("dtmf frame without dtmf body")
		}
	}

	return &msg, nil
}

// writeLoop keeps the connection alive with WebSocket pings
func (c *Conn) writeLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.sendPing(); err != nil {
				c.logger.Debug("media stream ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Conn) sendPing() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection closed")
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// SendAudio plays an opaque base64 payload to the caller on the given stream.
// It is a no-op once the connection is closed.
func (c *Conn) SendAudio(streamSID, payload string) error {
	return c.send(outboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     MediaPayload{Payload: payload},
	})
}

// SendMark asks Twilio to report back when playback reaches this point
func (c *Conn) SendMark(streamSID, name string) error {
	return c.send(outboundMark{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      MarkMessage{Name: name},
	})
}

// SendClear drops any audio Twilio has buffered for playback
func (c *Conn) SendClear(streamSID string) error {
	return c.send(outboundClear{Event: EventClear, StreamSID: streamSID})
}

func (c *Conn) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// IsOpen returns whether frames can still be sent
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close closes the connection and waits for the goroutines. Safe to call
// more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		if !c.closed {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		}
		c.closed = true
		c.conn.Close()
		c.mu.Unlock()

		c.wg.Wait()
	})
	return nil
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}

// Package trackerclient is the participant side of the tracker
// connection: dial, send/receive envelope channels, and reconnect with
// backoff (spec.md §4.5).
//
// Grounded on the teacher's client/main.go (gorilla/websocket dial plus
// a goroutine reading messages into a channel) and internal/node/tracker.go
// (channel-based dispatch of tracker events, heartbeat ticker pattern),
// generalized into a reconnecting client speaking the wire.Envelope
// protocol instead of the teacher's protobuf NetworkMessage frames.
package trackerclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/swarmcast/swarmcast/internal/wire"
)

// Config carries the trackerclient's explicit tunables (spec.md §6).
type Config struct {
	URL string

	// ReconnectDelay is how long to wait before redialing after a lost
	// connection (default 3s).
	ReconnectDelay time.Duration

	Logger *logrus.Logger
}

// DefaultConfig returns the spec.md §6 default: a 3s reconnect delay.
func DefaultConfig(url string) Config {
	return Config{URL: url, ReconnectDelay: 3 * time.Second}
}

// Client maintains a reconnecting websocket connection to the tracker
// and exposes inbound envelopes on a channel. On every successful
// (re)connect it invokes OnReconnect so the caller can re-announce its
// active swarms (spec.md §4.5's reconnect policy).
type Client struct {
	config Config
	logger *logrus.Logger

	// OnReconnect is called after every successful dial, including the
	// first. Set before calling Run.
	OnReconnect func()

	Inbound chan wire.Envelope

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// sendMu serializes writes to conn. gorilla/websocket allows only one
	// concurrent writer; Send is called both from the coordinator's event
	// loop and from pion's ICE candidate callbacks, which fire on their
	// own goroutines.
	sendMu sync.Mutex
}

// New builds a trackerclient bound to config.URL.
func New(config Config) *Client {
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 3 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		config:  config,
		logger:  logger,
		Inbound: make(chan wire.Envelope, 64),
	}
}

// Run dials the tracker and services the connection until ctx is
// cancelled, reconnecting after config.ReconnectDelay on any read/dial
// failure. It blocks until ctx is done or Close is called.
func (c *Client) Run(ctx context.Context) {
	for {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.URL, nil)
		if err != nil {
			c.logger.WithError(err).Warn("tracker dial failed, retrying")
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.WithField("url", c.config.URL).Info("connected to tracker")
		if c.OnReconnect != nil {
			c.OnReconnect()
		}

		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		if !c.sleep(ctx) {
			return
		}
	}
}

func (c *Client) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.config.ReconnectDelay):
		return true
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.WithError(err).Warn("tracker connection lost")
			return
		}
		e, err := wire.Decode(data)
		if err != nil {
			c.logger.WithError(err).Warn("dropping malformed tracker envelope")
			continue
		}
		select {
		case c.Inbound <- e:
		case <-ctx.Done():
			return
		}
	}
}

// Send writes an envelope to the tracker over the current connection.
// Returns an error if not currently connected.
func (c *Client) Send(e wire.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("trackerclient: not connected")
	}
	data, err := wire.Encode(e)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close marks the client closed and drops the active connection, if any.
// Run will observe this and return rather than reconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

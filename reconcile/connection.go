package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/xiaoyuanzhu-com/sync-alarm/log"
	"github.com/xiaoyuanzhu-com/sync-alarm/models"
	"github.com/xiaoyuanzhu-com/sync-alarm/protocol"
)

const (
	// DefaultReconnectDelay is the fixed wait between push channel attempts
	DefaultReconnectDelay = 3 * time.Second

	// PushPath is where the server accepts push channel connections
	PushPath = "/ws"

	writeTimeout = 10 * time.Second
)

// ErrNoRole is returned when the device has no role to identify with
var ErrNoRole = errors.New("device has no role")

// ErrNotConnected is returned by Kick while the push channel is down
var ErrNotConnected = errors.New("push channel not connected")

// Connection keeps one push channel open for an Engine. After every close it
// waits a fixed delay and dials again, until its context ends or the server
// removes the device.
type Connection struct {
	url    string
	engine *Engine
	dialer *websocket.Dialer
	delay  time.Duration
	logger zerolog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// NewConnection creates a connection to the server at serverURL
// (http or https). delay <= 0 uses DefaultReconnectDelay.
func NewConnection(serverURL string, engine *Engine, delay time.Duration) (*Connection, error) {
	u, err := pushURL(serverURL, PushPath)
	if err != nil {
		return nil, err
	}
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Connection{
		url:    u,
		engine: engine,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		delay:  delay,
		logger: log.GetLogger("Connection"),
	}, nil
}

// URL is the websocket endpoint being dialed
func (c *Connection) URL() string { return c.url }

// Run dials and serves the push channel until ctx ends (nil) or the device
// is kicked (ErrKicked) or has no role (ErrNoRole).
func (c *Connection) Run(ctx context.Context) error {
	for {
		err := c.runOnce(ctx)
		if errors.Is(err, ErrKicked) || errors.Is(err, ErrNoRole) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Info().Err(err).Dur("retryIn", c.delay).Msg("push channel closed, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.delay):
		}
	}
}

func (c *Connection) runOnce(ctx context.Context) error {
	role := c.engine.Role()
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrNoRole, role)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()

	// unblock ReadMessage when the caller gives up
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.setConn(conn)
	defer c.setConn(nil)

	if err := c.write(protocol.Identify(role)); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	c.engine.SetConnected(true)
	defer c.engine.SetConnected(false)
	c.logger.Info().Str("url", c.url).Str("role", string(role)).Msg("push channel connected")

	// replay the queue while frames keep being read, so the server does not
	// evict us for falling behind on our own echoes
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.engine.Resync(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("resync failed")
		}
	}()
	defer wg.Wait()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return fmt.Errorf("read: %w", err)
			}
			c.logger.Debug().Err(err).Msg("push channel closed")
			return nil
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("dropping malformed push message")
			continue
		}

		if err := c.engine.HandleMessage(msg); errors.Is(err, ErrKicked) {
			c.logger.Warn().Msg("removed by the main device")
			c.closeGracefully(conn, "kicked")
			return err
		}
	}
}

// Kick asks the server to tell targetID to leave. Only a main device may
// kick; the server ignores anyone else.
func (c *Connection) Kick(targetID string) error {
	if c.engine.Role() != models.RoleMain {
		return fmt.Errorf("only the main device can remove devices")
	}
	return c.write(protocol.KickDevice(targetID))
}

func (c *Connection) setConn(conn *websocket.Conn) {
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
}

func (c *Connection) write(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) closeGracefully(conn *websocket.Conn, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
}

package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
	"github.com/m4xw311/agentwire/transport"
)

// ClientConfig carries the dial settings for a WebSocket client.
type ClientConfig struct {
	// URL is the server endpoint, e.g. "ws://localhost:8137/ws".
	URL string

	// AuthToken, when non-empty, is presented as a bearer token.
	AuthToken string

	// RequestTimeout bounds one generation round trip. Zero selects the
	// transport default.
	RequestTimeout time.Duration
}

// Client is the WebSocket binding of the protocol client.
type Client struct {
	*transport.Core
	cfg ClientConfig
	log *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

var _ transport.Client = (*Client)(nil)

// NewClient creates a WebSocket client. Connect must be called before use.
func NewClient(cfg ClientConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		Core: transport.NewCore(log.Named("ws-client"), cfg.RequestTimeout),
		cfg:  cfg,
		log:  log,
	}
}

// Connect dials the server and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(errors.ErrConnection, "failed to connect to %s (status %d): %v", c.cfg.URL, resp.StatusCode, err)
		}
		return errors.Wrapf(errors.ErrConnection, "failed to connect to %s: %v", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.Bind(c.writeMessage)
	go c.readLoop(conn)

	c.log.Info("connected", zap.String("url", c.cfg.URL))
	return nil
}

// Disconnect closes the connection and rejects in-flight requests. Safe to
// call more than once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()

	c.Bind(nil)
	c.FailPending(errors.ErrConnectionClosed)
	return nil
}

// SendMessage sends one raw message to the server.
func (c *Client) SendMessage(msg *protocol.Message) error {
	return c.Send(msg)
}

func (c *Client) writeMessage(msg *protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.Wrapf(errors.ErrSend, "client is not connected")
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrapf(errors.ErrSend, "failed to send %s: %v", msg.Type, err)
	}
	return nil
}

// readLoop pumps inbound frames into the dispatch core until the connection
// dies, then tears the client down exactly once.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.teardown(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("connection read failed", zap.Error(err))
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		c.Dispatch(msg)
	}
}

// teardown handles a server-initiated close. If Disconnect already ran, the
// conn pointer is gone and this is a no-op.
func (c *Client) teardown(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	conn.Close()
	c.Bind(nil)
	c.FailPending(errors.ErrConnectionClosed)
	c.log.Info("disconnected")
}

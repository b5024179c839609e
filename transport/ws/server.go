// Package ws binds the protocol layer to WebSocket connections using
// gorilla/websocket. Each accepted connection becomes one protocol client
// with a server-assigned id; message frames are the protocol's JSON wire
// form, one message per text frame.
package ws

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
	"github.com/m4xw311/agentwire/transport"
)

const writeTimeout = 10 * time.Second

// ServerConfig carries the listener settings for a WebSocket server.
type ServerConfig struct {
	// Addr is the TCP listen address, e.g. ":8137". Port 0 picks a free port;
	// Addr() reports the resolved one.
	Addr string

	// Path is the HTTP path serving the WebSocket upgrade. Defaults to "/ws".
	Path string

	// AuthToken, when non-empty, requires clients to present it as a bearer
	// token in the Authorization header.
	AuthToken string

	// AllowedOrigins are doublestar patterns matched against the Origin
	// header's host, e.g. "*.example.com". Empty means browser origins are
	// rejected; requests without an Origin header (non-browser clients) are
	// always allowed.
	AllowedOrigins []string
}

// Server accepts WebSocket clients and feeds their messages to a router.
type Server struct {
	cfg    ServerConfig
	router *transport.Router
	log    *zap.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	listener net.Listener

	mu    sync.Mutex
	conns map[string]*serverConn
}

var _ transport.Server = (*Server)(nil)

// serverConn is one accepted client. gorilla allows a single concurrent
// writer, so every write goes through writeMu.
type serverConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *serverConn) writeMessage(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewServer creates a WebSocket server over the given router.
func NewServer(cfg ServerConfig, router *transport.Router, log *zap.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		router: router,
		log:    log,
		conns:  make(map[string]*serverConn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Start opens the listener and begins accepting clients. It returns once
// the listener is live; accepting runs in the background until Stop.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.cfg.Addr)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	s.httpSrv = &http.Server{Handler: mux}

	s.router.Bind(s)

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("websocket server stopped", zap.Error(err))
		}
	}()

	s.log.Info("websocket server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", s.cfg.Path),
	)
	return nil
}

// Addr reports the resolved listen address. Only valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes every client connection and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// SendMessage delivers a message to one connected client.
func (s *Server) SendMessage(clientID string, msg *protocol.Message) error {
	s.mu.Lock()
	c, ok := s.conns[clientID]
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(errors.ErrUnknownClient, "no such client: %s", clientID)
	}
	if err := c.writeMessage(msg); err != nil {
		return errors.Wrapf(errors.ErrSend, "failed to send %s to client %s: %v", msg.Type, clientID, err)
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken != "" {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token != s.cfg.AuthToken {
			s.log.Warn("rejecting client with bad token", zap.String("remote", r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	c := &serverConn{id: uuid.New().String(), conn: conn}
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	s.log.Info("client connected",
		zap.String("client_id", c.id),
		zap.String("remote", r.RemoteAddr),
	)

	s.readLoop(c)
}

// readLoop pumps frames from one client into the router until the
// connection dies, then purges the client's state.
func (s *Server) readLoop(c *serverConn) {
	defer func() {
		c.conn.Close()
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		s.router.ClientDisconnected(c.id)
		s.log.Info("client disconnected", zap.String("client_id", c.id))
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("client read failed", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			s.log.Warn("dropping undecodable frame",
				zap.String("client_id", c.id),
				zap.Error(err),
			)
			continue
		}
		s.router.HandleMessage(c.id, msg)
	}
}

// checkOrigin implements the browser origin policy. Non-browser clients send
// no Origin header and pass; browser origins must match one of the
// configured patterns.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, pattern := range s.cfg.AllowedOrigins {
		if ok, err := doublestar.Match(pattern, u.Host); err == nil && ok {
			return true
		}
	}
	return false
}

package transport

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
)

// LoopbackClientID identifies the single client of an in-process binding.
const LoopbackClientID = "loopback"

// NewLoopback wires a client and a server together inside one process: no
// sockets, no serialization, just direct handoff of messages. The server
// side drives the given router.
func NewLoopback(router *Router, log *zap.Logger) (*LoopbackClient, *LoopbackServer) {
	if log == nil {
		log = zap.NewNop()
	}
	client := &LoopbackClient{
		Core:   NewCore(log.Named("loopback-client"), 0),
		router: router,
	}
	server := &LoopbackServer{client: client, router: router}
	return client, server
}

// LoopbackClient is the client half of the in-process binding.
type LoopbackClient struct {
	*Core
	router    *Router
	connected atomic.Bool
}

var _ Client = (*LoopbackClient)(nil)

// Connect binds the client to the router. Reconnecting a disconnected
// loopback client is not supported.
func (c *LoopbackClient) Connect(ctx context.Context) error {
	if !c.connected.CompareAndSwap(false, true) {
		return errors.Wrapf(errors.ErrConnection, "loopback client already connected")
	}
	c.Bind(func(msg *protocol.Message) error {
		c.router.HandleMessage(LoopbackClientID, msg)
		return nil
	})
	return nil
}

// Disconnect detaches from the router, rejects in-flight requests and purges
// the client's tools on the server side. Safe to call more than once.
func (c *LoopbackClient) Disconnect() error {
	if !c.connected.CompareAndSwap(true, false) {
		return nil
	}
	c.Bind(nil)
	c.FailPending(errors.ErrConnectionClosed)
	c.router.ClientDisconnected(LoopbackClientID)
	return nil
}

// SendMessage sends one raw message to the server side.
func (c *LoopbackClient) SendMessage(msg *protocol.Message) error {
	return c.Send(msg)
}

// LoopbackServer is the server half of the in-process binding. It satisfies
// Server so deployments can swap it for a network binding without touching
// the router.
type LoopbackServer struct {
	client *LoopbackClient
	router *Router
}

var _ Server = (*LoopbackServer)(nil)

func (s *LoopbackServer) Start(ctx context.Context) error {
	s.router.Bind(s)
	return nil
}

func (s *LoopbackServer) Stop(ctx context.Context) error {
	return s.client.Disconnect()
}

// SendMessage delivers a server-originated message to the loopback client.
func (s *LoopbackServer) SendMessage(clientID string, msg *protocol.Message) error {
	if clientID != LoopbackClientID {
		return errors.Wrapf(errors.ErrUnknownClient, "no such client: %s", clientID)
	}
	if !s.client.connected.Load() {
		return errors.Wrapf(errors.ErrConnectionClosed, "loopback client is disconnected")
	}
	s.client.Dispatch(msg)
	return nil
}

package transport

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/m4xw311/agentwire/engine"
	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
	"github.com/m4xw311/agentwire/proxy"
)

// Router is the binding-independent half of Server: it routes inbound client
// messages to the generation engine and the tool proxy, and pushes results
// back through the bound sender. One Router serves every connected client.
type Router struct {
	log   *zap.Logger
	gen   engine.Generator
	proxy *proxy.ToolProxy

	mu        sync.Mutex
	sender    proxy.Sender
	onMessage func(clientID string, msg *protocol.Message)
}

// NewRouter creates a router over a generation engine and a tool proxy. Both
// are required.
func NewRouter(gen engine.Generator, tp *proxy.ToolProxy, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{log: log, gen: gen, proxy: tp}
}

// Bind installs the binding's sender on the router and its proxy.
func (r *Router) Bind(sender proxy.Sender) {
	r.mu.Lock()
	r.sender = sender
	r.mu.Unlock()
	r.proxy.Bind(sender)
}

// OnMessage installs an observer called for every valid inbound message
// before it is routed.
func (r *Router) OnMessage(fn func(clientID string, msg *protocol.Message)) {
	r.mu.Lock()
	r.onMessage = fn
	r.mu.Unlock()
}

// HandleMessage routes one inbound message from clientID. Generation
// requests are served in their own goroutine so one slow generation never
// blocks tool responses arriving on the same connection.
func (r *Router) HandleMessage(clientID string, msg *protocol.Message) {
	if !protocol.Validate(msg) {
		r.log.Warn("dropping invalid message", zap.String("client_id", clientID))
		return
	}

	r.mu.Lock()
	observer := r.onMessage
	r.mu.Unlock()
	if observer != nil {
		observer(clientID, msg)
	}

	switch msg.Type {
	case protocol.TypeToolDiscovery:
		r.proxy.HandleToolDiscovery(clientID, msg)
	case protocol.TypeToolExecutionResponse:
		r.proxy.HandleToolResponse(msg)
	case protocol.TypeGenerateContentRequest:
		go r.handleGenerate(clientID, msg)
	default:
		r.log.Warn("ignoring message of unexpected type",
			zap.String("client_id", clientID),
			zap.String("type", msg.Type),
			zap.String("id", msg.ID),
		)
	}
}

// ClientDisconnected purges everything the router tracks for clientID.
func (r *Router) ClientDisconnected(clientID string) {
	r.proxy.RemoveClient(clientID)
}

// RequestToolExecution asks clientID to run a tool and waits for the result.
// Exposed for callers outside the generation path.
func (r *Router) RequestToolExecution(ctx context.Context, clientID, name string, params map[string]interface{}) (json.RawMessage, error) {
	return r.proxy.ExecuteTool(ctx, clientID, name, params)
}

func (r *Router) handleGenerate(clientID string, msg *protocol.Message) {
	ctx := context.Background()
	tools := &clientTools{proxy: r.proxy, clientID: clientID}

	if streamer, ok := r.gen.(engine.Streamer); ok {
		err := streamer.GenerateStream(ctx, msg.Contents, msg.Config, tools, func(chunk json.RawMessage, complete bool) error {
			return r.sendTo(clientID, protocol.NewStreamingResponse(msg.ID, chunk, complete))
		})
		if err != nil {
			r.log.Error("streamed generation failed",
				zap.String("client_id", clientID),
				zap.String("request_id", msg.ID),
				zap.Error(err),
			)
			r.reply(clientID, protocol.NewGenerateContentError(msg.ID, err.Error()))
		}
		return
	}

	result, err := r.gen.Generate(ctx, msg.Contents, msg.Config, tools)
	if err != nil {
		r.log.Error("generation failed",
			zap.String("client_id", clientID),
			zap.String("request_id", msg.ID),
			zap.Error(err),
		)
		r.reply(clientID, protocol.NewGenerateContentError(msg.ID, err.Error()))
		return
	}
	r.reply(clientID, protocol.NewGenerateContentResponse(msg.ID, result))
}

func (r *Router) reply(clientID string, msg *protocol.Message) {
	if err := r.sendTo(clientID, msg); err != nil {
		r.log.Error("failed to deliver response",
			zap.String("client_id", clientID),
			zap.String("request_id", msg.RequestID),
			zap.Error(err),
		)
	}
}

func (r *Router) sendTo(clientID string, msg *protocol.Message) error {
	r.mu.Lock()
	sender := r.sender
	r.mu.Unlock()
	if sender == nil {
		return errors.Wrapf(errors.ErrNotConfigured, "router has no transport bound")
	}
	return sender.SendMessage(clientID, msg)
}

// clientTools adapts the proxy's view of one client into the engine's tool
// capability.
type clientTools struct {
	proxy    *proxy.ToolProxy
	clientID string
}

func (t *clientTools) Declarations() []engine.Declaration {
	return t.proxy.FunctionDeclarations(t.clientID)
}

func (t *clientTools) Execute(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	return t.proxy.ExecuteTool(ctx, t.clientID, name, args)
}

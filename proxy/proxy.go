// Package proxy is the server-side bridge between "what tools can this
// client run" and "ask this client to run tool X with args Y". It keeps the
// most recent tool set advertised by each connected client and correlates
// tool execution requests with their responses, independent of any specific
// transport binding.
package proxy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/m4xw311/agentwire/engine"
	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
)

// DefaultTimeout bounds one tool execution round trip.
const DefaultTimeout = 30 * time.Second

// Sender delivers a message to one specific connected client. The transport
// binding provides it.
type Sender interface {
	SendMessage(clientID string, msg *protocol.Message) error
}

type outcome struct {
	result json.RawMessage
	err    error
}

type pendingExecution struct {
	tool  string
	ch    chan outcome
	timer *time.Timer
}

// ToolProxy owns the per-client tool sets and the in-flight execution map.
// All mutation goes through one mutex, so racing discovery announcements and
// responses for the same client resolve deterministically.
type ToolProxy struct {
	log     *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	sender  Sender
	tools   map[string][]protocol.ToolDefinition
	pending map[string]*pendingExecution
}

// New creates a proxy. timeout <= 0 selects DefaultTimeout; a nil logger is
// replaced with a no-op one.
func New(timeout time.Duration, log *zap.Logger) *ToolProxy {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ToolProxy{
		log:     log,
		timeout: timeout,
		tools:   make(map[string][]protocol.ToolDefinition),
		pending: make(map[string]*pendingExecution),
	}
}

// Bind attaches the transport used to reach clients. Must be called before
// ExecuteTool.
func (p *ToolProxy) Bind(sender Sender) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sender = sender
}

// HandleToolDiscovery replaces the stored tool set for clientID wholesale. A
// client that stops advertising a tool loses it.
func (p *ToolProxy) HandleToolDiscovery(clientID string, msg *protocol.Message) {
	p.mu.Lock()
	p.tools[clientID] = append([]protocol.ToolDefinition(nil), msg.Tools...)
	p.mu.Unlock()

	p.log.Info("client tools updated",
		zap.String("client_id", clientID),
		zap.Int("tool_count", len(msg.Tools)),
	)
}

// RemoveClient purges the tool set for a disconnected client.
func (p *ToolProxy) RemoveClient(clientID string) {
	p.mu.Lock()
	delete(p.tools, clientID)
	p.mu.Unlock()

	p.log.Debug("client tools purged", zap.String("client_id", clientID))
}

// GetClientTools returns the stored set, or an empty slice for an unknown
// client. Never errors.
func (p *ToolProxy) GetClientTools(clientID string) []protocol.ToolDefinition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.ToolDefinition(nil), p.tools[clientID]...)
}

// ClientIDs lists the clients that have announced tools, in no particular
// order.
func (p *ToolProxy) ClientIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.tools))
	for id := range p.tools {
		ids = append(ids, id)
	}
	return ids
}

// HasClientTool reports whether clientID currently advertises name.
func (p *ToolProxy) HasClientTool(clientID, name string) bool {
	_, ok := p.GetClientToolDefinition(clientID, name)
	return ok
}

// GetClientToolDefinition looks up one advertised tool by name.
func (p *ToolProxy) GetClientToolDefinition(clientID, name string) (protocol.ToolDefinition, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, def := range p.tools[clientID] {
		if def.Name == name {
			return def, true
		}
	}
	return protocol.ToolDefinition{}, false
}

// FunctionDeclarations projects the client's tool set into the generation
// engine's function-calling shape. Unrecognized parameter type tags default
// to string.
func (p *ToolProxy) FunctionDeclarations(clientID string) []engine.Declaration {
	defs := p.GetClientTools(clientID)
	decls := make([]engine.Declaration, 0, len(defs))
	for _, def := range defs {
		decls = append(decls, engine.Declaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  projectSchema(def.Parameters),
		})
	}
	return decls
}

// ExecuteTool sends a tool execution request to clientID and blocks until
// the correlated response arrives, the proxy timeout fires, or ctx is
// cancelled. Timeout removes the pending entry; a late response is then
// ignored by HandleToolResponse.
func (p *ToolProxy) ExecuteTool(ctx context.Context, clientID, name string, parameters map[string]interface{}) (json.RawMessage, error) {
	req := protocol.NewToolExecutionRequest(name, parameters)

	p.mu.Lock()
	sender := p.sender
	if sender == nil {
		p.mu.Unlock()
		return nil, errors.Wrapf(errors.ErrNotConfigured, "tool proxy has no transport bound")
	}
	pe := &pendingExecution{tool: name, ch: make(chan outcome, 1)}
	pe.timer = time.AfterFunc(p.timeout, func() { p.expire(req.ID, name) })
	p.pending[req.ID] = pe
	p.mu.Unlock()

	if err := sender.SendMessage(clientID, req); err != nil {
		p.drop(req.ID)
		return nil, errors.Wrapf(err, "failed to send tool execution request for '%s' to client %s", name, clientID)
	}

	p.log.Debug("tool execution requested",
		zap.String("client_id", clientID),
		zap.String("tool", name),
		zap.String("request_id", req.ID),
	)

	select {
	case <-ctx.Done():
		p.drop(req.ID)
		return nil, ctx.Err()
	case out := <-pe.ch:
		return out.result, out.err
	}
}

// HandleToolResponse resolves the pending execution matching the response's
// requestId. Unknown ids are logged and ignored; they are expected after a
// timeout.
func (p *ToolProxy) HandleToolResponse(msg *protocol.Message) {
	p.mu.Lock()
	pe, ok := p.pending[msg.RequestID]
	if ok {
		delete(p.pending, msg.RequestID)
		pe.timer.Stop()
	}
	p.mu.Unlock()

	if !ok {
		p.log.Warn("tool response for unknown request id",
			zap.String("request_id", msg.RequestID),
		)
		return
	}

	if msg.Error != "" {
		pe.ch <- outcome{err: errors.Wrapf(errors.ErrToolExecution, "%s", msg.Error)}
		return
	}
	pe.ch <- outcome{result: msg.Result}
}

// expire fires on the per-call timer: remove the entry and reject the
// caller. Racing against HandleToolResponse is settled by whoever deletes
// the entry first.
func (p *ToolProxy) expire(requestID, tool string) {
	p.mu.Lock()
	pe, ok := p.pending[requestID]
	if ok {
		delete(p.pending, requestID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	p.log.Warn("tool execution timed out",
		zap.String("tool", tool),
		zap.String("request_id", requestID),
	)
	pe.ch <- outcome{err: errors.Wrapf(errors.ErrTimeout, "Tool execution timeout: %s", tool)}
}

// drop removes a pending entry without resolving it (send failure, caller
// cancellation).
func (p *ToolProxy) drop(requestID string) {
	p.mu.Lock()
	if pe, ok := p.pending[requestID]; ok {
		pe.timer.Stop()
		delete(p.pending, requestID)
	}
	p.mu.Unlock()
}

func projectSchema(s *protocol.Schema) *engine.Schema {
	if s == nil {
		return nil
	}
	out := &engine.Schema{
		Type:        projectType(s.Type),
		Description: s.Description,
		Enum:        s.Enum,
		Required:    s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*engine.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = projectSchema(prop)
		}
	}
	if s.Items != nil {
		out.Items = projectSchema(s.Items)
	}
	return out
}

func projectType(tag string) engine.ParamType {
	switch tag {
	case "number", "integer":
		return engine.TypeNumber
	case "boolean":
		return engine.TypeBoolean
	case "array":
		return engine.TypeArray
	case "object":
		return engine.TypeObject
	default:
		return engine.TypeString
	}
}

// Package toolexec defines the client-side tool capability boundary: what
// tools this client can run, and how an inbound execution request becomes a
// response. Executors never return Go errors to the transport: every failure
// travels in the response's error field, so one broken tool can't take down
// the dispatch loop.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/m4xw311/agentwire/protocol"
)

// Executor is the capability a client registers to answer tool execution
// requests and to build its discovery announcement.
type Executor interface {
	// ToolDefinitions returns the tools this executor can run, in
	// announcement order.
	ToolDefinitions() []protocol.ToolDefinition

	// Execute runs the tool named in req and returns exactly one
	// tool_execution_response correlated to req.ID, carrying either a result
	// or an error. It must not panic and must not return nil.
	Execute(ctx context.Context, req *protocol.Message) *protocol.Message
}

// HandlerFunc is the legacy single-callback form of tool handling. A client
// configured with both an Executor and a HandlerFunc prefers the Executor.
type HandlerFunc func(ctx context.Context, req *protocol.Message) *protocol.Message

// Tool is one locally executable action. Registry adapts a set of these into
// an Executor.
type Tool interface {
	Name() string
	Description() string
	Parameters() *protocol.Schema
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Registry holds registered tools and implements Executor over them.
type Registry struct {
	mu    sync.Mutex
	order []string
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the previous tool but
// keeps its announcement position.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) ToolDefinitions() []protocol.ToolDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	defs := make([]protocol.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, protocol.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

func (r *Registry) Execute(ctx context.Context, req *protocol.Message) (resp *protocol.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = protocol.NewToolExecutionError(req.ID, fmt.Sprintf("tool '%s' panicked: %v", req.Tool, rec))
		}
	}()

	r.mu.Lock()
	t, ok := r.tools[req.Tool]
	r.mu.Unlock()
	if !ok {
		return protocol.NewToolExecutionError(req.ID, fmt.Sprintf("Unknown tool: %s", req.Tool))
	}

	result, err := t.Execute(ctx, req.Parameters)
	if err != nil {
		return protocol.NewToolExecutionError(req.ID, err.Error())
	}

	data, err := json.Marshal(result)
	if err != nil {
		return protocol.NewToolExecutionError(req.ID, fmt.Sprintf("tool '%s' produced an unserializable result: %v", req.Tool, err))
	}
	return protocol.NewToolExecutionResponse(req.ID, data)
}

// Combine merges several executors into one. Definitions are concatenated in
// argument order; execution requests go to the first executor advertising the
// requested tool name.
func Combine(execs ...Executor) Executor {
	return &combined{execs: execs}
}

type combined struct {
	execs []Executor
}

func (c *combined) ToolDefinitions() []protocol.ToolDefinition {
	var defs []protocol.ToolDefinition
	for _, e := range c.execs {
		defs = append(defs, e.ToolDefinitions()...)
	}
	return defs
}

func (c *combined) Execute(ctx context.Context, req *protocol.Message) *protocol.Message {
	for _, e := range c.execs {
		for _, def := range e.ToolDefinitions() {
			if def.Name == req.Tool {
				return e.Execute(ctx, req)
			}
		}
	}
	return protocol.NewToolExecutionError(req.ID, fmt.Sprintf("Unknown tool: %s", req.Tool))
}

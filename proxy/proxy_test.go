package proxy

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m4xw311/agentwire/engine"
	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
)

// captureSender records outbound messages and can be wired to answer them.
type captureSender struct {
	mu      sync.Mutex
	sent    []*protocol.Message
	onSend  func(clientID string, msg *protocol.Message)
	sendErr error
}

func (s *captureSender) SendMessage(clientID string, msg *protocol.Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	onSend := s.onSend
	err := s.sendErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if onSend != nil {
		onSend(clientID, msg)
	}
	return nil
}

func (s *captureSender) last() *protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1]
}

func discoveryFor(names ...string) *protocol.Message {
	defs := make([]protocol.ToolDefinition, 0, len(names))
	for _, n := range names {
		defs = append(defs, protocol.ToolDefinition{Name: n, Description: n + " tool"})
	}
	return protocol.NewToolDiscovery(defs)
}

func TestDiscoveryReplacesToolSetWholesale(t *testing.T) {
	p := New(0, nil)

	p.HandleToolDiscovery("c1", discoveryFor("alpha", "beta"))
	if got := len(p.GetClientTools("c1")); got != 2 {
		t.Fatalf("expected 2 tools after first discovery, got %d", got)
	}

	p.HandleToolDiscovery("c1", discoveryFor("alpha"))
	tools := p.GetClientTools("c1")
	if len(tools) != 1 || tools[0].Name != "alpha" {
		t.Errorf("expected second discovery to replace set, got %+v", tools)
	}
	if p.HasClientTool("c1", "beta") {
		t.Error("beta should have been retracted by the second discovery")
	}
}

func TestUnknownClientHasNoTools(t *testing.T) {
	p := New(0, nil)
	if got := p.GetClientTools("nobody"); len(got) != 0 {
		t.Errorf("expected empty set for unknown client, got %+v", got)
	}
	if p.HasClientTool("nobody", "anything") {
		t.Error("unknown client should advertise nothing")
	}
}

func TestRemoveClientPurgesTools(t *testing.T) {
	p := New(0, nil)
	p.HandleToolDiscovery("c1", discoveryFor("alpha"))
	p.RemoveClient("c1")
	if len(p.GetClientTools("c1")) != 0 {
		t.Error("expected no tools after RemoveClient")
	}
}

func TestExecuteToolResolvesWithResult(t *testing.T) {
	p := New(time.Second, nil)
	sender := &captureSender{}
	sender.onSend = func(clientID string, msg *protocol.Message) {
		go p.HandleToolResponse(protocol.NewToolExecutionResponse(msg.ID, json.RawMessage(`{"ok":true}`)))
	}
	p.Bind(sender)

	result, err := p.ExecuteTool(context.Background(), "c1", "echo", map[string]interface{}{"msg": "hi"})
	if err != nil {
		t.Fatalf("ExecuteTool failed: %v", err)
	}
	if string(result) != `{"ok":true}` {
		t.Errorf("unexpected result: %s", result)
	}

	req := sender.last()
	if req.Type != protocol.TypeToolExecutionRequest || req.Tool != "echo" {
		t.Errorf("unexpected outbound request: %+v", req)
	}
}

func TestExecuteToolPropagatesClientError(t *testing.T) {
	p := New(time.Second, nil)
	sender := &captureSender{}
	sender.onSend = func(clientID string, msg *protocol.Message) {
		go p.HandleToolResponse(protocol.NewToolExecutionError(msg.ID, "Unknown tool: bogus"))
	}
	p.Bind(sender)

	_, err := p.ExecuteTool(context.Background(), "c1", "bogus", nil)
	if err == nil {
		t.Fatal("expected error from client-side failure")
	}
	if !errors.Is(err, errors.ErrToolExecution) {
		t.Errorf("expected ErrToolExecution, got %v", err)
	}
	if !strings.Contains(err.Error(), "Unknown tool: bogus") {
		t.Errorf("client error text lost: %v", err)
	}
}

func TestExecuteToolTimesOut(t *testing.T) {
	p := New(50*time.Millisecond, nil)
	p.Bind(&captureSender{}) // never answers

	start := time.Now()
	_, err := p.ExecuteTool(context.Background(), "c1", "echo", nil)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, errors.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "Tool execution timeout: echo") {
		t.Errorf("timeout error missing tool name: %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestLateResponseAfterTimeoutIsIgnored(t *testing.T) {
	p := New(20*time.Millisecond, nil)
	sender := &captureSender{}
	p.Bind(sender)

	_, err := p.ExecuteTool(context.Background(), "c1", "slow", nil)
	if !errors.Is(err, errors.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	// The response arrives after the caller already gave up. Must not panic
	// or block.
	req := sender.last()
	p.HandleToolResponse(protocol.NewToolExecutionResponse(req.ID, json.RawMessage(`"late"`)))
}

func TestResponseForUnknownRequestIsIgnored(t *testing.T) {
	p := New(0, nil)
	p.HandleToolResponse(protocol.NewToolExecutionResponse("never-sent", nil))
}

func TestExecuteToolWithoutSenderFails(t *testing.T) {
	p := New(0, nil)
	_, err := p.ExecuteTool(context.Background(), "c1", "echo", nil)
	if !errors.Is(err, errors.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestExecuteToolSendFailureCleansUp(t *testing.T) {
	p := New(time.Second, nil)
	sender := &captureSender{sendErr: errors.New("wire down")}
	p.Bind(sender)

	_, err := p.ExecuteTool(context.Background(), "c1", "echo", nil)
	if err == nil {
		t.Fatal("expected send failure to surface")
	}
	p.mu.Lock()
	n := len(p.pending)
	p.mu.Unlock()
	if n != 0 {
		t.Errorf("pending map not cleaned up after send failure: %d entries", n)
	}
}

func TestFunctionDeclarationsProjection(t *testing.T) {
	p := New(0, nil)
	boolFalse := false
	p.HandleToolDiscovery("c1", protocol.NewToolDiscovery([]protocol.ToolDefinition{{
		Name:        "read_file",
		Description: "Reads a file",
		Parameters: &protocol.Schema{
			Type: "object",
			Properties: map[string]*protocol.Schema{
				"path":  {Type: "string", Description: "File path"},
				"limit": {Type: "integer"},
				"tags":  {Type: "array", Items: &protocol.Schema{Type: "string"}},
				"weird": {Type: "something-else"},
			},
			Required:             []string{"path"},
			AdditionalProperties: &boolFalse,
		},
	}}))

	decls := p.FunctionDeclarations("c1")
	if len(decls) != 1 {
		t.Fatalf("expected 1 declaration, got %d", len(decls))
	}
	d := decls[0]
	if d.Name != "read_file" || d.Parameters == nil {
		t.Fatalf("unexpected declaration: %+v", d)
	}
	if d.Parameters.Type != engine.TypeObject {
		t.Errorf("expected object schema, got %v", d.Parameters.Type)
	}
	if d.Parameters.Properties["limit"].Type != engine.TypeNumber {
		t.Error("integer tag should project to number")
	}
	if d.Parameters.Properties["tags"].Items.Type != engine.TypeString {
		t.Error("array item schema lost in projection")
	}
	if d.Parameters.Properties["weird"].Type != engine.TypeString {
		t.Error("unknown type tag should default to string")
	}
	if len(d.Parameters.Required) != 1 || d.Parameters.Required[0] != "path" {
		t.Errorf("required list lost: %+v", d.Parameters.Required)
	}
}

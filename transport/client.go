package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
	"github.com/m4xw311/agentwire/toolexec"
)

// DefaultRequestTimeout bounds one generation round trip. Streamed
// generations apply it per chunk, not to the whole stream.
const DefaultRequestTimeout = 30 * time.Second

// Core implements the binding-independent half of Client: correlation of
// generation requests, dispatch of inbound messages, and tool execution
// handling. Bindings embed it and supply the raw send function.
type Core struct {
	log     *zap.Logger
	timeout time.Duration
	pending *pendingMap

	mu        sync.Mutex
	send      func(msg *protocol.Message) error
	executor  toolexec.Executor
	onTool    toolexec.HandlerFunc
	onMessage func(msg *protocol.Message)
}

// NewCore creates the shared client core. timeout <= 0 selects
// DefaultRequestTimeout; a nil logger is replaced with a no-op one.
func NewCore(log *zap.Logger, timeout time.Duration) *Core {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Core{
		log:     log,
		timeout: timeout,
		pending: newPendingMap(),
	}
}

// Bind installs the binding's send function. Passing nil unbinds, after
// which Send fails until rebound.
func (c *Core) Bind(send func(msg *protocol.Message) error) {
	c.mu.Lock()
	c.send = send
	c.mu.Unlock()
}

// OnMessage installs an observer called for every valid inbound message
// before it is dispatched.
func (c *Core) OnMessage(fn func(msg *protocol.Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// SetToolExecutor installs the executor answering tool execution requests.
func (c *Core) SetToolExecutor(exec toolexec.Executor) {
	c.mu.Lock()
	c.executor = exec
	c.mu.Unlock()
}

// OnToolRequest installs the legacy tool callback, used only when no
// executor is configured.
func (c *Core) OnToolRequest(fn toolexec.HandlerFunc) {
	c.mu.Lock()
	c.onTool = fn
	c.mu.Unlock()
}

// Send delivers one raw message through the binding.
func (c *Core) Send(msg *protocol.Message) error {
	c.mu.Lock()
	send := c.send
	c.mu.Unlock()
	if send == nil {
		return errors.Wrapf(errors.ErrSend, "client is not connected")
	}
	return send(msg)
}

// AnnounceTools sends a tool_discovery message built from the configured
// executor's definitions. The server replaces its stored set wholesale, so
// this also serves to retract tools.
func (c *Core) AnnounceTools() error {
	c.mu.Lock()
	exec := c.executor
	c.mu.Unlock()
	if exec == nil {
		return errors.Wrapf(errors.ErrNotConfigured, "no tool executor configured")
	}
	return c.Send(protocol.NewToolDiscovery(exec.ToolDefinitions()))
}

// Dispatch routes one inbound message: tool execution requests go to the
// executor in their own goroutine, responses and chunks resolve pending
// generation requests, everything else is logged and dropped.
func (c *Core) Dispatch(msg *protocol.Message) {
	if !protocol.Validate(msg) {
		c.log.Warn("dropping invalid inbound message")
		return
	}

	c.mu.Lock()
	observer := c.onMessage
	c.mu.Unlock()
	if observer != nil {
		observer(msg)
	}

	switch msg.Type {
	case protocol.TypeToolExecutionRequest:
		// Off the dispatch loop so a slow tool never stalls inbound traffic.
		go c.handleToolRequest(msg)
	case protocol.TypeGenerateContentResponse, protocol.TypeStreamingResponse:
		if !c.pending.deliver(msg) {
			c.log.Warn("response for unknown request id",
				zap.String("type", msg.Type),
				zap.String("request_id", msg.RequestID),
			)
		}
	default:
		c.log.Warn("ignoring message of unexpected type",
			zap.String("type", msg.Type),
			zap.String("id", msg.ID),
		)
	}
}

func (c *Core) handleToolRequest(req *protocol.Message) {
	c.mu.Lock()
	exec := c.executor
	onTool := c.onTool
	c.mu.Unlock()

	var resp *protocol.Message
	switch {
	case exec != nil:
		resp = exec.Execute(context.Background(), req)
	case onTool != nil:
		resp = onTool(context.Background(), req)
	default:
		resp = protocol.NewToolExecutionError(req.ID, "no tool executor configured")
	}
	if resp == nil {
		resp = protocol.NewToolExecutionError(req.ID, "tool executor returned no response")
	}

	if err := c.Send(resp); err != nil {
		c.log.Error("failed to send tool execution response",
			zap.String("tool", req.Tool),
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}
}

// FailPending rejects every in-flight generation request with err. Bindings
// call it when the connection drops.
func (c *Core) FailPending(err error) {
	c.pending.failAll(err)
}

// GenerateContent sends a generation request and blocks for the correlated
// answer. A server that streams anyway is tolerated: chunks are accumulated
// into a JSON array and returned on the terminal chunk.
func (c *Core) GenerateContent(ctx context.Context, contents []protocol.Content, config json.RawMessage) (json.RawMessage, error) {
	req := protocol.NewGenerateContentRequest(contents, config)
	entry := c.pending.add(req.ID)
	defer c.pending.remove(req.ID, entry)

	if err := c.Send(req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	var chunks []json.RawMessage
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, errors.Wrapf(errors.ErrTimeout, "generation request %s timed out", req.ID)
		case d := <-entry.ch:
			if d.err != nil {
				return nil, errors.Wrapf(d.err, "generation request %s aborted", req.ID)
			}
			msg := d.msg
			if msg.Error != "" {
				return nil, errors.New("generation failed: %s", msg.Error)
			}
			if msg.Type == protocol.TypeGenerateContentResponse {
				return msg.Response, nil
			}
			if len(msg.Chunk) > 0 {
				chunks = append(chunks, msg.Chunk)
			}
			if msg.IsComplete {
				return json.Marshal(chunks)
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(c.timeout)
		}
	}
}

// GenerateContentStream sends a generation request and returns a channel of
// chunks. A unary response is adapted into a single terminal chunk. The
// timeout applies between consecutive chunks.
func (c *Core) GenerateContentStream(ctx context.Context, contents []protocol.Content, config json.RawMessage) (<-chan Chunk, error) {
	req := protocol.NewGenerateContentRequest(contents, config)
	entry := c.pending.add(req.ID)

	if err := c.Send(req); err != nil {
		c.pending.remove(req.ID, entry)
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer c.pending.remove(req.ID, entry)

		timer := time.NewTimer(c.timeout)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				out <- Chunk{Err: ctx.Err()}
				return
			case <-timer.C:
				out <- Chunk{Err: errors.Wrapf(errors.ErrTimeout, "generation request %s timed out", req.ID)}
				return
			case d := <-entry.ch:
				if d.err != nil {
					out <- Chunk{Err: errors.Wrapf(d.err, "generation request %s aborted", req.ID)}
					return
				}
				msg := d.msg
				if msg.Error != "" {
					out <- Chunk{Err: errors.New("generation failed: %s", msg.Error)}
					return
				}
				if msg.Type == protocol.TypeGenerateContentResponse {
					out <- Chunk{Data: msg.Response, Complete: true}
					return
				}
				out <- Chunk{Data: msg.Chunk, Complete: msg.IsComplete}
				if msg.IsComplete {
					return
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(c.timeout)
			}
		}
	}()
	return out, nil
}

// Package transport defines the client and server faces of the protocol
// layer and an in-process loopback binding of both. Network bindings live in
// subpackages; everything here is binding-agnostic.
package transport

import (
	"context"
	"encoding/json"

	"github.com/m4xw311/agentwire/protocol"
	"github.com/m4xw311/agentwire/toolexec"
)

// Client is the front-end face of the protocol layer. A Client belongs to
// exactly one connection; after Disconnect it is done and a new Client must
// be created to reconnect.
type Client interface {
	// Connect establishes the underlying binding. Calling any other method
	// before Connect returns an error.
	Connect(ctx context.Context) error

	// Disconnect tears the binding down and rejects all in-flight requests.
	// It is safe to call more than once.
	Disconnect() error

	// SendMessage sends one raw protocol message without correlation
	// tracking.
	SendMessage(msg *protocol.Message) error

	// GenerateContent sends a generation request and blocks until the
	// correlated response, an error response, a timeout or ctx cancellation.
	GenerateContent(ctx context.Context, contents []protocol.Content, config json.RawMessage) (json.RawMessage, error)

	// GenerateContentStream sends a generation request and returns a channel
	// of chunks. The channel is closed after the terminal chunk or error.
	GenerateContentStream(ctx context.Context, contents []protocol.Content, config json.RawMessage) (<-chan Chunk, error)

	// SetToolExecutor installs the executor answering inbound tool execution
	// requests and backing AnnounceTools.
	SetToolExecutor(exec toolexec.Executor)

	// OnToolRequest installs a legacy callback used when no executor is set.
	OnToolRequest(fn toolexec.HandlerFunc)

	// AnnounceTools sends a tool_discovery message built from the configured
	// executor's definitions.
	AnnounceTools() error

	// OnMessage installs an observer for every inbound message, called before
	// dispatch.
	OnMessage(fn func(msg *protocol.Message))
}

// Server is the back-end face of the protocol layer.
type Server interface {
	// Start begins accepting clients. It returns once the binding is live.
	Start(ctx context.Context) error

	// Stop shuts the binding down and disconnects every client.
	Stop(ctx context.Context) error

	// SendMessage delivers a message to one connected client.
	SendMessage(clientID string, msg *protocol.Message) error
}

// Chunk is one element of a streamed generation. Err is set on the final
// chunk when the stream terminates abnormally; Complete marks a normal end.
type Chunk struct {
	Data     json.RawMessage
	Complete bool
	Err      error
}

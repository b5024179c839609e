package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/m4xw311/agentwire/errors"
)

// Message type discriminators. These are wire literals; changing one breaks
// compatibility with every deployed peer.
const (
	TypeGenerateContentRequest  = "generate_content_request"
	TypeGenerateContentResponse = "generate_content_response"
	TypeToolExecutionRequest    = "tool_execution_request"
	TypeToolExecutionResponse   = "tool_execution_response"
	TypeStreamingResponse       = "streaming_response"
	TypeToolDiscovery           = "tool_discovery"
)

// Message is the protocol envelope. ID is unique per in-flight request and is
// what responses correlate against. Timestamp is advisory (creation time in
// Unix milliseconds) and carries no ordering guarantee. The remaining fields
// belong to individual variants and are empty elsewhere.
type Message struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`

	// generate_content_request
	Contents []Content       `json:"contents,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`

	// generate_content_response / tool_execution_response / streaming_response
	RequestID string          `json:"requestId,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`

	// tool_execution_request
	Tool       string                 `json:"tool,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	// streaming_response
	Chunk      json.RawMessage `json:"chunk,omitempty"`
	IsComplete bool            `json:"isComplete,omitempty"`

	// tool_discovery
	Tools []ToolDefinition `json:"tools,omitempty"`
}

// Content is one conversation turn. The protocol does not interpret it; the
// generation engine does.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is one piece of a conversation turn.
type Part struct {
	Text string `json:"text,omitempty"`
}

// ToolDefinition describes one tool a client can execute. Name is unique
// within a single client's advertised set only.
type ToolDefinition struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// Schema is a JSON-Schema-like description of tool parameters.
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []string           `json:"enum,omitempty"`
	Required             []string           `json:"required,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
}

func newEnvelope(msgType string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewGenerateContentRequest builds a request for the generation engine.
// Contents and config are passed through exactly as given.
func NewGenerateContentRequest(contents []Content, config json.RawMessage) *Message {
	m := newEnvelope(TypeGenerateContentRequest)
	m.Contents = contents
	m.Config = config
	return m
}

// NewGenerateContentResponse builds a successful generation response
// correlated to requestID.
func NewGenerateContentResponse(requestID string, response json.RawMessage) *Message {
	m := newEnvelope(TypeGenerateContentResponse)
	m.RequestID = requestID
	m.Response = response
	return m
}

// NewGenerateContentError builds a failed generation response. Error and
// Response are mutually exclusive by construction.
func NewGenerateContentError(requestID, errMsg string) *Message {
	m := newEnvelope(TypeGenerateContentResponse)
	m.RequestID = requestID
	m.Error = errMsg
	return m
}

// NewToolExecutionRequest asks a client to run the named tool. Parameters are
// not validated here; validation is the tool's responsibility.
func NewToolExecutionRequest(tool string, parameters map[string]interface{}) *Message {
	m := newEnvelope(TypeToolExecutionRequest)
	m.Tool = tool
	m.Parameters = parameters
	return m
}

// NewToolExecutionResponse builds a successful tool result correlated to
// requestID.
func NewToolExecutionResponse(requestID string, result json.RawMessage) *Message {
	m := newEnvelope(TypeToolExecutionResponse)
	m.RequestID = requestID
	m.Result = result
	return m
}

// NewToolExecutionError builds a failed tool result. Error and Result are
// mutually exclusive by construction.
func NewToolExecutionError(requestID, errMsg string) *Message {
	m := newEnvelope(TypeToolExecutionResponse)
	m.RequestID = requestID
	m.Error = errMsg
	return m
}

// NewStreamingResponse builds one chunk of a streamed generation. A chunk
// with complete=true is terminal; no further chunks for that requestID are
// valid after it.
func NewStreamingResponse(requestID string, chunk json.RawMessage, complete bool) *Message {
	m := newEnvelope(TypeStreamingResponse)
	m.RequestID = requestID
	m.Chunk = chunk
	m.IsComplete = complete
	return m
}

// NewToolDiscovery advertises the client's current tool set. A later
// discovery message replaces the prior set wholesale.
func NewToolDiscovery(tools []ToolDefinition) *Message {
	m := newEnvelope(TypeToolDiscovery)
	m.Tools = tools
	return m
}

// Validate is a structural sanity check: id and type are non-empty and the
// timestamp is set. It does NOT verify variant-specific fields; dispatchers
// must check those before use.
func Validate(m *Message) bool {
	return m != nil && m.ID != "" && m.Type != "" && m.Timestamp != 0
}

// Encode serializes a message to its JSON wire form.
func Encode(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s message", m.Type)
	}
	return data, nil
}

// Decode parses a wire frame into a message. The returned message has only
// been through Validate; callers still own variant-specific checks.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(errors.ErrProtocol, "malformed message frame: %v", err)
	}
	if !Validate(&m) {
		return nil, errors.Wrapf(errors.ErrProtocol, "message missing id, type or timestamp")
	}
	return &m, nil
}

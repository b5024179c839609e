package protocol

import (
	"encoding/json"
	"testing"
)

func TestFactoriesProduceValidMessages(t *testing.T) {
	msgs := []*Message{
		NewGenerateContentRequest([]Content{{Role: "user", Parts: []Part{{Text: "hi"}}}}, nil),
		NewGenerateContentResponse("req-1", json.RawMessage(`{"ok":true}`)),
		NewGenerateContentError("req-1", "boom"),
		NewToolExecutionRequest("read_file", map[string]interface{}{"path": "a.txt"}),
		NewToolExecutionResponse("req-2", json.RawMessage(`"data"`)),
		NewToolExecutionError("req-2", "no such file"),
		NewStreamingResponse("req-3", json.RawMessage(`"chunk"`), false),
		NewToolDiscovery([]ToolDefinition{{Name: "read_file"}}),
	}
	for _, m := range msgs {
		if !Validate(m) {
			t.Errorf("factory produced invalid %s message: %+v", m.Type, m)
		}
		if m.ID == "" {
			t.Errorf("%s message has empty id", m.Type)
		}
	}
}

func TestFactoryIDsAreUnique(t *testing.T) {
	a := NewGenerateContentRequest(nil, nil)
	b := NewGenerateContentRequest(nil, nil)
	if a.ID == b.ID {
		t.Errorf("two requests share id %s", a.ID)
	}
}

func TestValidateRejectsIncompleteMessages(t *testing.T) {
	cases := []struct {
		name string
		msg  *Message
	}{
		{"nil", nil},
		{"missing id", &Message{Type: TypeToolDiscovery, Timestamp: 1}},
		{"missing type", &Message{ID: "x", Timestamp: 1}},
		{"missing timestamp", &Message{ID: "x", Type: TypeToolDiscovery}},
	}
	for _, tc := range cases {
		if Validate(tc.msg) {
			t.Errorf("%s: expected validation failure", tc.name)
		}
	}
}

func TestWireShape(t *testing.T) {
	req := NewToolExecutionRequest("echo", map[string]interface{}{"msg": "hi"})
	data, err := Encode(req)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("wire form is not a JSON object: %v", err)
	}
	if raw["type"] != "tool_execution_request" {
		t.Errorf("expected type tag 'tool_execution_request', got %v", raw["type"])
	}
	if raw["tool"] != "echo" {
		t.Errorf("expected tool 'echo', got %v", raw["tool"])
	}
	// Variant fields of other message kinds must not leak into the frame.
	for _, absent := range []string{"contents", "tools", "chunk", "response", "result"} {
		if _, ok := raw[absent]; ok {
			t.Errorf("unexpected field %q in tool_execution_request frame", absent)
		}
	}
}

func TestDecodeRoundTripKeepsCorrelation(t *testing.T) {
	resp := NewToolExecutionResponse("req-42", json.RawMessage(`{"n":1}`))
	data, err := Encode(resp)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.RequestID != "req-42" {
		t.Errorf("expected requestId 'req-42', got %q", decoded.RequestID)
	}
	if string(decoded.Result) != `{"n":1}` {
		t.Errorf("result did not survive round trip: %s", decoded.Result)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Error("expected error for malformed frame")
	}
	if _, err := Decode([]byte(`{"type":"tool_discovery"}`)); err == nil {
		t.Error("expected error for frame missing id and timestamp")
	}
}

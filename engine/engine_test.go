package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/m4xw311/agentwire/protocol"
)

func TestEchoReturnsFirstTurn(t *testing.T) {
	contents := []protocol.Content{
		{Role: "user", Parts: []protocol.Part{{Text: "hello"}}},
		{Role: "model", Parts: []protocol.Part{{Text: "ignored"}}},
	}
	result, err := Echo{}.Generate(context.Background(), contents, nil, nil)
	if err != nil {
		t.Fatalf("echo failed: %v", err)
	}

	var turn protocol.Content
	if err := json.Unmarshal(result, &turn); err != nil {
		t.Fatalf("echo result is not a content turn: %v", err)
	}
	if turn.Parts[0].Text != "hello" {
		t.Errorf("expected first turn back, got %+v", turn)
	}
}

func TestEchoEmptyContents(t *testing.T) {
	if _, err := (Echo{}).Generate(context.Background(), nil, nil, nil); err == nil {
		t.Error("expected error for empty contents")
	}
}

func TestParseOptions(t *testing.T) {
	opts := ParseOptions(json.RawMessage(`{"model":"x-large","maxTokens":128}`))
	if opts.Model != "x-large" || opts.MaxTokens != 128 {
		t.Errorf("unexpected options: %+v", opts)
	}

	// Absent, empty and malformed configs all yield zero options.
	for _, raw := range []json.RawMessage{nil, json.RawMessage(`{}`), json.RawMessage(`garbage`)} {
		opts := ParseOptions(raw)
		if opts.Model != "" || opts.MaxTokens != 0 {
			t.Errorf("expected zero options for %q, got %+v", raw, opts)
		}
	}
}

func TestFromContentsNormalizesRoles(t *testing.T) {
	msgs := fromContents([]protocol.Content{
		{Role: "user", Parts: []protocol.Part{{Text: "a"}, {Text: "b"}}},
		{Role: "model", Parts: []protocol.Part{{Text: "c"}}},
	})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "a\nb" {
		t.Errorf("parts not joined: %q", msgs[0].Content)
	}
	if msgs[1].Role != "assistant" {
		t.Errorf("model role not normalized: %q", msgs[1].Role)
	}
}

func TestSchemaToMap(t *testing.T) {
	m := schemaToMap(&Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"count": {Type: TypeNumber, Description: "how many"},
			"names": {Type: TypeArray, Items: &Schema{Type: TypeString}},
		},
		Required: []string{"count"},
	})

	if m["type"] != "object" {
		t.Errorf("expected object type, got %v", m["type"])
	}
	props := m["properties"].(map[string]interface{})
	count := props["count"].(map[string]interface{})
	if count["type"] != "number" || count["description"] != "how many" {
		t.Errorf("number property rendered wrong: %+v", count)
	}
	names := props["names"].(map[string]interface{})
	if names["items"].(map[string]interface{})["type"] != "string" {
		t.Errorf("array items rendered wrong: %+v", names)
	}

	// Nil schema still renders an empty object schema.
	empty := schemaToMap(nil)
	if empty["type"] != "object" {
		t.Errorf("nil schema should render as object, got %+v", empty)
	}
}

type scriptedTools struct {
	decls    []Declaration
	executed []string
	result   json.RawMessage
	err      error
}

func (s *scriptedTools) Declarations() []Declaration { return s.decls }

func (s *scriptedTools) Execute(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	s.executed = append(s.executed, name)
	return s.result, s.err
}

func TestRunToolLoopExecutesRequestedTools(t *testing.T) {
	tools := &scriptedTools{
		decls:  []Declaration{{Name: "lookup"}},
		result: json.RawMessage(`"42"`),
	}

	round := 0
	result, err := runToolLoop(context.Background(),
		[]protocol.Content{{Role: "user", Parts: []protocol.Part{{Text: "q"}}}},
		tools,
		func(ctx context.Context, msgs []message, decls []Declaration) (*message, error) {
			round++
			if round == 1 {
				return &message{Role: "assistant", ToolCalls: []toolCall{{ID: "c1", Name: "lookup"}}}, nil
			}
			// Second round sees the tool result in the conversation.
			last := msgs[len(msgs)-1]
			if last.Role != "tool" || last.Content != `"42"` {
				t.Errorf("tool result not fed back: %+v", last)
			}
			return &message{Role: "assistant", Content: "the answer is 42"}, nil
		})
	if err != nil {
		t.Fatalf("tool loop failed: %v", err)
	}
	if len(tools.executed) != 1 || tools.executed[0] != "lookup" {
		t.Errorf("expected one lookup execution, got %+v", tools.executed)
	}

	var turn protocol.Content
	if err := json.Unmarshal(result, &turn); err != nil || turn.Parts[0].Text != "the answer is 42" {
		t.Errorf("unexpected final result: %s", result)
	}
}

func TestRunToolLoopFailsGenerationOnToolError(t *testing.T) {
	tools := &scriptedTools{
		decls: []Declaration{{Name: "lookup"}},
		err:   context.DeadlineExceeded,
	}

	_, err := runToolLoop(context.Background(),
		[]protocol.Content{{Role: "user", Parts: []protocol.Part{{Text: "q"}}}},
		tools,
		func(ctx context.Context, msgs []message, decls []Declaration) (*message, error) {
			return &message{Role: "assistant", ToolCalls: []toolCall{{ID: "c1", Name: "lookup"}}}, nil
		})
	if err == nil {
		t.Fatal("expected tool failure to fail the generation")
	}
	if !strings.Contains(err.Error(), "tool 'lookup' failed during generation") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunToolLoopWithoutToolsRejectsCalls(t *testing.T) {
	_, err := runToolLoop(context.Background(),
		[]protocol.Content{{Role: "user", Parts: []protocol.Part{{Text: "q"}}}},
		nil,
		func(ctx context.Context, msgs []message, decls []Declaration) (*message, error) {
			return &message{Role: "assistant", ToolCalls: []toolCall{{Name: "lookup"}}}, nil
		})
	if err == nil {
		t.Error("expected error when model calls tools with none available")
	}
}

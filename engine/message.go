package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
)

// message is the provider-neutral conversation unit the adapters convert
// from. Role is "user", "assistant", "system" or "tool".
type message struct {
	Role      string
	Content   string
	ToolCalls []toolCall
}

// toolCall is one function call the model requested, or (on a "tool" role
// message) the call a result belongs to.
type toolCall struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// fromContents flattens protocol conversation turns into messages. Part texts
// of one turn are joined with newlines; the "model" role is normalized to
// "assistant".
func fromContents(contents []protocol.Content) []message {
	msgs := make([]message, 0, len(contents))
	for _, c := range contents {
		var parts []string
		for _, p := range c.Parts {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		role := c.Role
		if role == "model" {
			role = "assistant"
		}
		msgs = append(msgs, message{Role: role, Content: strings.Join(parts, "\n")})
	}
	return msgs
}

// finalResult wraps the model's closing text in the protocol content shape.
func finalResult(text string) (json.RawMessage, error) {
	return json.Marshal(protocol.Content{
		Role:  "model",
		Parts: []protocol.Part{{Text: text}},
	})
}

// chatFunc is one provider round trip: conversation in, assistant reply out.
type chatFunc func(ctx context.Context, msgs []message, decls []Declaration) (*message, error)

// runToolLoop drives the generate -> tool -> generate cycle until the model
// stops requesting calls. A tool failure (including a tool timeout) fails the
// whole generation rather than continuing without the result.
func runToolLoop(ctx context.Context, contents []protocol.Content, tools Tools, chat chatFunc) (json.RawMessage, error) {
	msgs := fromContents(contents)
	var decls []Declaration
	if tools != nil {
		decls = tools.Declarations()
	}

	for {
		reply, err := chat(ctx, msgs, decls)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *reply)

		if len(reply.ToolCalls) == 0 {
			return finalResult(reply.Content)
		}

		for _, tc := range reply.ToolCalls {
			if tools == nil {
				return nil, errors.New("model requested tool '%s' but no tools are available", tc.Name)
			}
			result, err := tools.Execute(ctx, tc.Name, tc.Args)
			if err != nil {
				return nil, errors.Wrapf(err, "tool '%s' failed during generation", tc.Name)
			}
			msgs = append(msgs, message{
				Role:      "tool",
				Content:   string(result),
				ToolCalls: []toolCall{{ID: tc.ID, Name: tc.Name}},
			})
		}
	}
}

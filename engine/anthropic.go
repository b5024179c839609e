package engine

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
)

// Anthropic generates content through the Anthropic API.
type Anthropic struct {
	client *anthropic.Client
	model  string
}

// NewAnthropic creates an Anthropic generator. It requires the
// ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropic(ctx context.Context, modelName string) (*Anthropic, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &Anthropic{client: &client, model: modelName}, nil
}

func (a *Anthropic) Generate(ctx context.Context, contents []protocol.Content, config json.RawMessage, tools Tools) (json.RawMessage, error) {
	opts := ParseOptions(config)
	model := a.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return runToolLoop(ctx, contents, tools, func(ctx context.Context, msgs []message, decls []Declaration) (*message, error) {
		anthropicMessages, systemPrompt := convertMessagesToAnthropicMessages(msgs)

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: maxTokens,
			Messages:  anthropicMessages,
		}
		if systemPrompt != "" {
			params.System = []anthropic.TextBlockParam{
				{Text: systemPrompt},
			}
		}
		anthropicTools := convertDeclarationsToAnthropicTools(decls)
		params.Tools = make([]anthropic.ToolUnionParam, len(anthropicTools))
		for i, toolParam := range anthropicTools {
			params.Tools[i] = anthropic.ToolUnionParam{OfTool: &toolParam}
		}

		resp, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to send message to Anthropic")
		}
		return processAnthropicResponse(resp)
	})
}

// convertMessagesToAnthropicMessages converts the internal message format to
// Anthropic's. The last system message becomes the system prompt.
func convertMessagesToAnthropicMessages(msgs []message) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var systemPrompt string

	for _, msg := range msgs {
		switch msg.Role {
		case "user":
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				var contentItems []anthropic.ContentBlockParamUnion
				for _, tc := range msg.ToolCalls {
					argsBytes, err := json.Marshal(tc.Args)
					if err != nil {
						continue
					}
					contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{
							Type:  "tool_use",
							ID:    tc.ID,
							Name:  tc.Name,
							Input: argsBytes,
						}})
				}
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: contentItems,
				})
			} else if msg.Content != "" {
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role: anthropic.MessageParamRoleAssistant,
					Content: []anthropic.ContentBlockParamUnion{{
						OfText: &anthropic.TextBlockParam{
							Text: msg.Content,
						},
					}},
				})
			}
		case "tool":
			if len(msg.ToolCalls) > 0 {
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role: anthropic.MessageParamRoleUser,
					Content: []anthropic.ContentBlockParamUnion{{
						OfToolResult: &anthropic.ToolResultBlockParam{
							ToolUseID: msg.ToolCalls[0].ID,
							Content: []anthropic.ToolResultBlockParamContentUnion{{
								OfText: &anthropic.TextBlockParam{
									Text: msg.Content,
								},
							}},
						},
					},
					}})
			}
		case "system":
			systemPrompt = msg.Content
		}
	}

	return anthropicMessages, systemPrompt
}

// convertDeclarationsToAnthropicTools converts engine declarations to
// Anthropic's tool format.
func convertDeclarationsToAnthropicTools(decls []Declaration) []anthropic.ToolParam {
	if len(decls) == 0 {
		return nil
	}
	var anthropicTools []anthropic.ToolParam
	for _, d := range decls {
		schema := schemaToMap(d.Parameters)
		props, _ := schema["properties"].(map[string]interface{})
		if props == nil {
			props = map[string]interface{}{}
		}
		anthropicTools = append(anthropicTools, anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: props,
			},
		})
	}
	return anthropicTools
}

// processAnthropicResponse converts an Anthropic API response into the
// internal message format.
func processAnthropicResponse(resp *anthropic.Message) (*message, error) {
	if len(resp.Content) == 0 {
		return &message{Role: "assistant"}, nil
	}

	reply := &message{Role: "assistant"}
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			reply.Content += c.Text
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if err := json.Unmarshal(c.Input, &args); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal tool call input")
			}
			reply.ToolCalls = append(reply.ToolCalls, toolCall{
				ID:   c.ID,
				Name: c.Name,
				Args: args,
			})
		}
	}
	return reply, nil
}

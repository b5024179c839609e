package engine

import (
	"context"
	"encoding/json"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
)

// OpenAI generates content through the OpenAI Chat Completion API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI generator. It requires the OPENAI_API_KEY
// environment variable to be set; OPENAI_BASE_URL selects a custom endpoint.
func NewOpenAI(ctx context.Context, modelName string) (*OpenAI, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The v2 SDK returns a value; the struct stores a pointer to it.
	c := openai.NewClient(options...)
	return &OpenAI{client: &c, model: modelName}, nil
}

func (o *OpenAI) Generate(ctx context.Context, contents []protocol.Content, config json.RawMessage, tools Tools) (json.RawMessage, error) {
	opts := ParseOptions(config)
	model := o.model
	if opts.Model != "" {
		model = opts.Model
	}

	return runToolLoop(ctx, contents, tools, func(ctx context.Context, msgs []message, decls []Declaration) (*message, error) {
		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(model),
			Messages: convertMessagesToOpenAIContent(msgs),
			Tools:    convertDeclarationsToOpenAITools(decls),
		}

		resp, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to send message to OpenAI")
		}
		return processOpenAIResponse(resp)
	})
}

// processOpenAIResponse converts an OpenAI API response into the internal
// message format.
func processOpenAIResponse(resp *openai.ChatCompletion) (*message, error) {
	if len(resp.Choices) == 0 {
		return &message{Role: "assistant"}, nil
	}

	choice := resp.Choices[0].Message
	reply := &message{Role: "assistant", Content: choice.Content}

	for _, tc := range choice.ToolCalls {
		var args map[string]interface{}
		// Arguments arrive as a JSON string holding a flat argument map.
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal function call arguments from OpenAI")
		}
		reply.ToolCalls = append(reply.ToolCalls, toolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return reply, nil
}

// convertMessagesToOpenAIContent converts the internal message format to
// OpenAI's.
func convertMessagesToOpenAIContent(msgs []message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range msgs {
		switch msg.Role {
		case "assistant":
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				var toolCalls []openai.ChatCompletionMessageToolCallUnion
				for _, tc := range msg.ToolCalls {
					argsBytes, err := json.Marshal(tc.Args)
					if err != nil {
						continue
					}
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnion{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageFunctionToolCallFunction{
							Name:      tc.Name,
							Arguments: string(argsBytes),
						},
					})
				}
				assistantMessage.ToolCalls = toolCalls
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case "tool":
			if len(msg.ToolCalls) != 1 {
				continue
			}
			chatMessages = append(chatMessages, openai.ToolMessage(msg.Content, msg.ToolCalls[0].ID))
		case "system":
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		case "user":
			fallthrough
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages
}

// convertDeclarationsToOpenAITools converts engine declarations to the
// OpenAI tool format.
func convertDeclarationsToOpenAITools(decls []Declaration) []openai.ChatCompletionToolUnionParam {
	if len(decls) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, d := range decls {
		params := openai.FunctionParameters(schemaToMap(d.Parameters))
		toolParam := openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  params,
		})
		openAITools = append(openAITools, toolParam)
	}
	return openAITools
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
)

// Bedrock generates content through Anthropic models hosted on AWS Bedrock.
type Bedrock struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrock creates a Bedrock generator. AWS credentials must be configured
// in the environment.
func NewBedrock(ctx context.Context, modelID string) (*Bedrock, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		if region := os.Getenv("AWS_DEFAULT_REGION"); region != "" {
			cfg.Region = region
		} else {
			cfg.Region = "us-east-1"
		}
	}

	return &Bedrock{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

func (b *Bedrock) Generate(ctx context.Context, contents []protocol.Content, config json.RawMessage, tools Tools) (json.RawMessage, error) {
	opts := ParseOptions(config)
	modelID := b.modelID
	if opts.Model != "" {
		modelID = opts.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return runToolLoop(ctx, contents, tools, func(ctx context.Context, msgs []message, decls []Declaration) (*message, error) {
		bedrockMessages, systemPrompt := convertMessagesToBedrockFormat(msgs)

		body, err := createBedrockRequest(bedrockMessages, systemPrompt, decls, maxTokens)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create Bedrock request")
		}

		resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(modelID),
			ContentType: aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
		}
		return processBedrockResponse(resp.Body)
	})
}

// convertMessagesToBedrockFormat converts the internal message format to the
// Anthropic-on-Bedrock shape.
func convertMessagesToBedrockFormat(msgs []message) ([]map[string]interface{}, string) {
	var bedrockMessages []map[string]interface{}
	var systemPrompt string

	for _, msg := range msgs {
		switch msg.Role {
		case "user":
			bedrockMessages = append(bedrockMessages, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": msg.Content},
				},
			})
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				var toolUses []map[string]interface{}
				for _, tc := range msg.ToolCalls {
					toolUses = append(toolUses, map[string]interface{}{
						"type":  "tool_use",
						"id":    tc.ID,
						"name":  tc.Name,
						"input": tc.Args,
					})
				}
				bedrockMessages = append(bedrockMessages, map[string]interface{}{
					"role":    "assistant",
					"content": toolUses,
				})
			} else if msg.Content != "" {
				bedrockMessages = append(bedrockMessages, map[string]interface{}{
					"role": "assistant",
					"content": []map[string]interface{}{
						{"type": "text", "text": msg.Content},
					},
				})
			}
		case "tool":
			if len(msg.ToolCalls) > 0 {
				bedrockMessages = append(bedrockMessages, map[string]interface{}{
					"role": "user",
					"content": []map[string]interface{}{
						{
							"type":        "tool_result",
							"tool_use_id": msg.ToolCalls[0].ID,
							"content":     msg.Content,
						},
					},
				})
			}
		case "system":
			systemPrompt = msg.Content
		}
	}

	return bedrockMessages, systemPrompt
}

// createBedrockRequest builds the request body for Anthropic models on
// Bedrock.
func createBedrockRequest(messages []map[string]interface{}, systemPrompt string, decls []Declaration, maxTokens int64) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens,
		"messages":          messages,
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}
	if len(decls) > 0 {
		var toolDefs []map[string]interface{}
		for _, d := range decls {
			toolDefs = append(toolDefs, map[string]interface{}{
				"name":         d.Name,
				"description":  d.Description,
				"input_schema": schemaToMap(d.Parameters),
			})
		}
		request["tools"] = toolDefs
	}
	return json.Marshal(request)
}

// processBedrockResponse converts a Bedrock API response into the internal
// message format.
func processBedrockResponse(body []byte) (*message, error) {
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if errMsg, ok := response["error"]; ok {
		return nil, errors.New("Bedrock API error: %v", errMsg)
	}

	content, ok := response["content"]
	if !ok {
		return &message{Role: "assistant"}, nil
	}
	contentArray, ok := content.([]interface{})
	if !ok {
		return nil, errors.New("unexpected content format in Bedrock response")
	}

	reply := &message{Role: "assistant"}
	callCounter := 0
	for _, item := range contentArray {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		switch itemMap["type"] {
		case "text":
			if text, ok := itemMap["text"].(string); ok {
				reply.Content += text
			}
		case "tool_use":
			name, ok := itemMap["name"].(string)
			if !ok {
				continue
			}
			input, ok := itemMap["input"].(map[string]interface{})
			if !ok {
				continue
			}
			id := fmt.Sprintf("call_%d_%s", callCounter, name)
			if toolID, ok := itemMap["id"].(string); ok {
				id = toolID
			}
			reply.ToolCalls = append(reply.ToolCalls, toolCall{ID: id, Name: name, Args: input})
			callCounter++
		}
	}
	return reply, nil
}

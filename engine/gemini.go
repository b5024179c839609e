package engine

import (
	"context"
	"encoding/json"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
)

// Gemini generates content through the Google Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini generator. It requires the GEMINI_API_KEY
// environment variable to be set.
func NewGemini(ctx context.Context, modelName string) (*Gemini, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &Gemini{client: client, model: modelName}, nil
}

func (g *Gemini) Generate(ctx context.Context, contents []protocol.Content, config json.RawMessage, tools Tools) (json.RawMessage, error) {
	opts := ParseOptions(config)
	modelName := g.model
	if opts.Model != "" {
		modelName = opts.Model
	}

	return runToolLoop(ctx, contents, tools, func(ctx context.Context, msgs []message, decls []Declaration) (*message, error) {
		model := g.client.GenerativeModel(modelName)
		model.Tools = convertDeclarationsToGeminiTools(decls)

		history := convertMessagesToGeminiContent(msgs)
		if len(history) == 0 {
			return nil, errors.New("empty conversation")
		}
		last := history[len(history)-1]

		chat := model.StartChat()
		chat.History = history[:len(history)-1]
		resp, err := chat.SendMessage(ctx, last.Parts...)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to send message to Gemini")
		}

		return processGeminiResponse(resp)
	})
}

// convertMessagesToGeminiContent converts the internal message format to
// Gemini's. Tool results become function-response parts.
func convertMessagesToGeminiContent(msgs []message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range msgs {
		switch msg.Role {
		case "assistant":
			parts := []genai.Part{}
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: tc.Args})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case "tool":
			if len(msg.ToolCalls) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{
				Role: "function",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     msg.ToolCalls[0].Name,
					Response: map[string]interface{}{"result": msg.Content},
				}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		}
	}
	return contents
}

// convertDeclarationsToGeminiTools converts engine declarations into Gemini's
// FunctionDeclaration format, schemas included.
func convertDeclarationsToGeminiTools(decls []Declaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, d := range decls {
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  schemaToGenai(d.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

func schemaToGenai(s *Schema) *genai.Schema {
	if s == nil {
		return &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	}
	out := &genai.Schema{
		Type:        paramTypeToGenai(s.Type),
		Description: s.Description,
		Enum:        s.Enum,
		Required:    s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = schemaToGenai(p)
		}
	}
	if s.Items != nil {
		out.Items = schemaToGenai(s.Items)
	}
	return out
}

func paramTypeToGenai(t ParamType) genai.Type {
	switch t {
	case TypeNumber:
		return genai.TypeNumber
	case TypeBoolean:
		return genai.TypeBoolean
	case TypeArray:
		return genai.TypeArray
	case TypeObject:
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// processGeminiResponse converts a Gemini API response into the internal
// message format. Function calls are returned for the tool loop to execute,
// not run inline.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*message, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}

	reply := &message{Role: "assistant"}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			reply.Content += string(v)
		case genai.FunctionCall:
			reply.ToolCalls = append(reply.ToolCalls, toolCall{
				ID:   v.Name,
				Name: v.Name,
				Args: v.Args,
			})
		default:
			return nil, errors.New("unsupported part type in Gemini response: %T", v)
		}
	}
	return reply, nil
}

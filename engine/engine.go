// Package engine defines the content-generation boundary the server core
// depends on, plus adapters for several hosted model providers. The protocol
// layer only ever sees the Generator interface; everything else here is an
// implementation of it.
package engine

import (
	"context"
	"encoding/json"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
)

// ParamType is the engine-side enumeration of parameter types. Protocol
// schemas are projected onto it before reaching a provider.
type ParamType int

const (
	TypeString ParamType = iota
	TypeNumber
	TypeBoolean
	TypeArray
	TypeObject
)

// Schema describes one parameter (or parameter object) in engine terms.
type Schema struct {
	Type        ParamType
	Description string
	Properties  map[string]*Schema
	Items       *Schema
	Enum        []string
	Required    []string
}

// Declaration is one callable function offered to the model.
type Declaration struct {
	Name        string
	Description string
	Parameters  *Schema
}

// Tools is the per-request capability a Generator uses for function calling:
// what the originating client can run, and how to run it. Execute blocks
// until the client answers or the call times out.
type Tools interface {
	Declarations() []Declaration
	Execute(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error)
}

// Generator produces one result for a conversation. config is the opaque
// generation options payload from the request; tools may be nil when the
// client advertised nothing.
type Generator interface {
	Generate(ctx context.Context, contents []protocol.Content, config json.RawMessage, tools Tools) (json.RawMessage, error)
}

// Streamer is an optional extension: engines that can produce partial output
// emit chunks through emit, finishing with complete=true.
type Streamer interface {
	GenerateStream(ctx context.Context, contents []protocol.Content, config json.RawMessage, tools Tools, emit func(chunk json.RawMessage, complete bool) error) error
}

// Echo is a stub generator that answers with the first conversation turn.
// It exists for loopback deployments and tests that need no model behind the
// server.
type Echo struct{}

func (Echo) Generate(ctx context.Context, contents []protocol.Content, config json.RawMessage, tools Tools) (json.RawMessage, error) {
	if len(contents) == 0 {
		return nil, errors.New("echo engine: empty contents")
	}
	return json.Marshal(contents[0])
}

// typeName maps the engine enumeration back to JSON-schema type tags, used by
// providers that take schemas as plain maps.
func typeName(t ParamType) string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	default:
		return "string"
	}
}

// schemaToMap renders a Schema as a JSON-schema-shaped map.
func schemaToMap(s *Schema) map[string]interface{} {
	if s == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	out := map[string]interface{}{"type": typeName(s.Type)}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]interface{}, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = schemaToMap(p)
		}
		out["properties"] = props
	} else if s.Type == TypeObject {
		out["properties"] = map[string]interface{}{}
	}
	if s.Items != nil {
		out["items"] = schemaToMap(s.Items)
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

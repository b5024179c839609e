// Package mcp bridges an external MCP server subprocess into the toolexec
// Executor capability, so a client can advertise and run MCP tools through
// the agentwire discovery/execution protocol.
package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
)

// Bridge manages the connection to a single MCP server subprocess and
// exposes its tools as an Executor.
type Bridge struct {
	name string
	cmd  *exec.Cmd
	conn *mcpsdk.ClientSession
	defs []protocol.ToolDefinition
}

// Connect starts the MCP server subprocess and discovers its tools.
func Connect(ctx context.Context, name, command string, args []string) (*Bridge, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "agentwire", Version: "v1.0.0"}, nil)
	conn, err := client.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		cmd.Process.Kill()
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}

	b := &Bridge{name: name, cmd: cmd, conn: conn}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			cmd.Process.Kill()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range list.Tools {
			b.defs = append(b.defs, protocol.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  convertSchema(t.InputSchema),
			})
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	return b, nil
}

func (b *Bridge) ToolDefinitions() []protocol.ToolDefinition {
	return b.defs
}

// Execute forwards the request to the MCP server. Text content blocks are
// concatenated into a single string result.
func (b *Bridge) Execute(ctx context.Context, req *protocol.Message) *protocol.Message {
	result, err := b.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      req.Tool,
		Arguments: req.Parameters,
	})
	if err != nil {
		return protocol.NewToolExecutionError(req.ID, err.Error())
	}

	text := ""
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			text += tc.Text
		}
	}
	data, err := json.Marshal(text)
	if err != nil {
		return protocol.NewToolExecutionError(req.ID, err.Error())
	}
	return protocol.NewToolExecutionResponse(req.ID, data)
}

// Close terminates the MCP server subprocess.
func (b *Bridge) Close() error {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.cmd != nil && b.cmd.Process != nil {
		return b.cmd.Process.Kill()
	}
	return nil
}

// convertSchema maps the SDK's schema representation onto the protocol's by
// JSON round-trip; the two are structurally compatible.
func convertSchema(in any) *protocol.Schema {
	if in == nil {
		return &protocol.Schema{Type: "object"}
	}
	data, err := json.Marshal(in)
	if err != nil {
		return &protocol.Schema{Type: "object"}
	}
	var s protocol.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return &protocol.Schema{Type: "object"}
	}
	if s.Type == "" {
		s.Type = "object"
	}
	return &s
}

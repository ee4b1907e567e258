package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/HCPTangHY/Lim-Code/internal/tool"
)

// remoteTool adapts an MCP server tool to the internal tool interface.
// The ID is prefixed with the server name so tools from different
// servers cannot collide.
type remoteTool struct {
	client      *Client
	server      string
	name        string
	id          string
	description string
	schema      json.RawMessage
}

// Tools returns wrappers for every tool on every connected server.
func (c *Client) Tools() []tool.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []tool.Tool
	for name, srv := range c.servers {
		if srv.status != StatusConnected {
			continue
		}
		for _, t := range srv.tools {
			all = append(all, newRemoteTool(c, name, t))
		}
	}
	return all
}

// RegisterTools registers all connected servers' tools into a registry.
func (c *Client) RegisterTools(registry *tool.Registry) {
	for _, t := range c.Tools() {
		registry.Register(t)
	}
}

func newRemoteTool(c *Client, serverName string, t mcpgo.Tool) *remoteTool {
	schema, err := json.Marshal(t.InputSchema)
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	desc := t.Description
	if desc == "" {
		desc = fmt.Sprintf("Tool %q from MCP server %q", t.Name, serverName)
	}
	return &remoteTool{
		client:      c,
		server:      serverName,
		name:        t.Name,
		id:          sanitizeToolName(serverName) + "_" + sanitizeToolName(t.Name),
		description: desc,
		schema:      schema,
	}
}

func (t *remoteTool) ID() string {
	return t.id
}

func (t *remoteTool) Description() string {
	return t.description
}

func (t *remoteTool) Parameters() json.RawMessage {
	return t.schema
}

// NeedsConfirmation is always true for remote tools. The server side
// effects are unknown, so every call goes through user approval.
func (t *remoteTool) NeedsConfirmation() bool {
	return true
}

func (t *remoteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
	output, err := t.client.call(ctx, t.server, t.name, input)
	if err != nil {
		return nil, err
	}
	return &tool.Result{
		Title:  t.id,
		Output: output,
		Metadata: map[string]any{
			"server": t.server,
			"tool":   t.name,
		},
	}, nil
}

func (t *remoteTool) EinoTool() einotool.InvokableTool {
	return tool.NewEinoTool(t)
}

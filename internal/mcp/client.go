// Package mcp manages connections to Model Context Protocol servers
// and exposes their tools to the conversation loop.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/HCPTangHY/Lim-Code/internal/event"
	"github.com/HCPTangHY/Lim-Code/internal/logging"
	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

// Server connection status values.
const (
	StatusConnected = "connected"
	StatusFailed    = "failed"
	StatusDisabled  = "disabled"
)

const defaultConnectTimeout = 5 * time.Second

// session is the subset of the mcp-go client used here. Tests
// substitute a fake.
type session interface {
	Initialize(ctx context.Context, request mcpgo.InitializeRequest) (*mcpgo.InitializeResult, error)
	ListTools(ctx context.Context, request mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error)
	CallTool(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
	Close() error
}

// Client manages MCP server connections.
type Client struct {
	mu      sync.RWMutex
	servers map[string]*server
	bus     *event.Bus
	log     zerolog.Logger
}

type server struct {
	name    string
	config  types.MCPServerConfig
	session session
	tools   []mcpgo.Tool
	status  string
	err     string
}

// ServerStatus describes one configured server.
type ServerStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	ToolCount int    `json:"toolCount"`
	Error     string `json:"error,omitempty"`
}

// NewClient creates a new MCP client.
func NewClient(bus *event.Bus) *Client {
	return &Client{
		servers: make(map[string]*server),
		bus:     bus,
		log:     logging.Component("mcp"),
	}
}

// ConnectAll connects every enabled server from the config. Connection
// failures are recorded per server and do not abort the rest.
func (c *Client) ConnectAll(ctx context.Context, configs map[string]types.MCPServerConfig) {
	for name, cfg := range configs {
		if err := c.AddServer(ctx, name, cfg); err != nil {
			c.log.Warn().Err(err).Str("server", name).Msg("mcp server connection failed")
		}
	}
}

// AddServer adds and connects to an MCP server.
func (c *Client) AddServer(ctx context.Context, name string, cfg types.MCPServerConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.servers[name]; ok {
		return fmt.Errorf("server already exists: %s", name)
	}

	if !cfg.Enabled {
		c.servers[name] = &server{name: name, config: cfg, status: StatusDisabled}
		c.publishStatus(name, StatusDisabled, "")
		return nil
	}

	srv, err := c.connect(ctx, name, cfg)
	if err != nil {
		c.servers[name] = &server{name: name, config: cfg, status: StatusFailed, err: err.Error()}
		c.publishStatus(name, StatusFailed, err.Error())
		return err
	}

	c.servers[name] = srv
	c.publishStatus(name, StatusConnected, "")
	c.log.Info().Str("server", name).Int("tools", len(srv.tools)).Msg("mcp server connected")
	return nil
}

func (c *Client) connect(ctx context.Context, name string, cfg types.MCPServerConfig) (*server, error) {
	timeout := defaultConnectTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Millisecond
	}

	sess, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "limcode", Version: "1.0.0"}
	if _, err := sess.Initialize(connectCtx, initReq); err != nil {
		sess.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	toolsResult, err := sess.ListTools(connectCtx, mcpgo.ListToolsRequest{})
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("list tools: %w", err)
	}

	return &server{
		name:    name,
		config:  cfg,
		session: sess,
		tools:   toolsResult.Tools,
		status:  StatusConnected,
	}, nil
}

// dial creates the transport-level client for a server config.
func dial(ctx context.Context, cfg types.MCPServerConfig) (session, error) {
	switch cfg.Type {
	case "sse":
		if cfg.URL == "" {
			return nil, fmt.Errorf("sse server requires url")
		}
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(cfg.Headers))
		}
		sess, err := client.NewSSEMCPClient(cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		if err := sess.Start(ctx); err != nil {
			return nil, err
		}
		return sess, nil

	case "stdio", "":
		if len(cfg.Command) == 0 {
			return nil, fmt.Errorf("stdio server requires command")
		}
		env := make([]string, 0, len(cfg.Environment))
		for k, v := range cfg.Environment {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		return client.NewStdioMCPClient(cfg.Command[0], env, cfg.Command[1:]...)

	default:
		return nil, fmt.Errorf("unknown transport type: %s", cfg.Type)
	}
}

// call executes a tool on a connected server.
func (c *Client) call(ctx context.Context, serverName, toolName string, args json.RawMessage) (string, error) {
	c.mu.RLock()
	srv, ok := c.servers[serverName]
	c.mu.RUnlock()

	if !ok || srv.status != StatusConnected || srv.session == nil {
		return "", fmt.Errorf("server not connected: %s", serverName)
	}

	var argsMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return "", fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = argsMap

	result, err := srv.session.CallTool(ctx, req)
	if err != nil {
		return "", err
	}

	text := textContent(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool execution failed"
		}
		return "", fmt.Errorf("tool error: %s", text)
	}
	return text, nil
}

func textContent(content []mcpgo.Content) string {
	var out strings.Builder
	for _, item := range content {
		if tc, ok := mcpgo.AsTextContent(item); ok {
			out.WriteString(tc.Text)
		}
	}
	return out.String()
}

// Status returns the status of all configured servers, sorted by name.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(c.servers))
	for name, srv := range c.servers {
		statuses = append(statuses, ServerStatus{
			Name:      name,
			Status:    srv.status,
			ToolCount: len(srv.tools),
			Error:     srv.err,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// RemoveServer disconnects and removes a server.
func (c *Client) RemoveServer(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	srv, ok := c.servers[name]
	if !ok {
		return fmt.Errorf("server not found: %s", name)
	}
	if srv.session != nil {
		srv.session.Close()
	}
	delete(c.servers, name)
	c.publishStatus(name, "removed", "")
	return nil
}

// Close disconnects all servers.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, srv := range c.servers {
		if srv.session != nil {
			srv.session.Close()
		}
	}
	c.servers = make(map[string]*server)
	return nil
}

func (c *Client) publishStatus(name, status, errMsg string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(event.Event{
		Type: event.MCPStatusChanged,
		Data: event.MCPStatusData{Server: name, Status: status, Error: errMsg},
	})
}

// sanitizeToolName replaces non-alphanumeric characters with
// underscores so prefixed names stay valid model tool identifiers.
func sanitizeToolName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}
	return result.String()
}

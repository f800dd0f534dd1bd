package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	engerrors "github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/errors"
)

// MCPBridge implements Bridge over stdio MCP clients, one per configured
// server, started lazily on first use.
type MCPBridge struct {
	servers map[string]ServerCommand
	timeout time.Duration
	version string

	mu      sync.Mutex
	clients map[string]*client.Client
}

// NewMCPBridge creates a bridge over the given server registry. timeout is
// the engine-imposed per-call deadline.
func NewMCPBridge(servers map[string]ServerCommand, timeout time.Duration, version string) *MCPBridge {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MCPBridge{
		servers: servers,
		timeout: timeout,
		version: version,
		clients: make(map[string]*client.Client),
	}
}

// clientFor returns a connected client for the server, starting and
// initializing it on first use.
func (b *MCPBridge) clientFor(ctx context.Context, server string) (*client.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[server]; ok {
		return c, nil
	}

	cmd, ok := b.servers[server]
	if !ok {
		return nil, engerrors.NewBridgeUnavailable(server, fmt.Errorf("server not configured"))
	}

	c, err := client.NewStdioMCPClient(cmd.Command, cmd.Env, cmd.Args...)
	if err != nil {
		return nil, engerrors.NewBridgeUnavailable(server, err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "webmcp",
		Version: b.version,
	}
	if _, err := c.Initialize(ctx, initRequest); err != nil {
		_ = c.Close()
		return nil, engerrors.NewBridgeUnavailable(server, err)
	}

	slog.Info("bridge server started", "server", server, "command", cmd.Command)
	b.clients[server] = c
	return c, nil
}

// Execute implements Bridge.
func (b *MCPBridge) Execute(ctx context.Context, server, tool string, params map[string]any) (string, error) {
	c, err := b.clientFor(ctx, server)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = params

	result, err := c.CallTool(callCtx, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", engerrors.NewExecutionTimeout(server, tool, int(b.timeout/time.Second))
		}
		return "", engerrors.NewExecution(server, tool, err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		msg := text
		if msg == "" {
			msg = "tool reported an error"
		}
		return "", engerrors.NewExecution(server, tool, fmt.Errorf("%s", msg))
	}
	return text, nil
}

// ListTools implements Bridge.
func (b *MCPBridge) ListTools(ctx context.Context, server string) ([]ToolDescriptor, error) {
	c, err := b.clientFor(ctx, server)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	result, err := c.ListTools(callCtx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, engerrors.NewBridgeUnavailable(server, err)
	}

	descriptors := make([]ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, _ := json.Marshal(t.InputSchema)
		descriptors = append(descriptors, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return descriptors, nil
}

// Close shuts down all started servers.
func (b *MCPBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []string
	for server, c := range b.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", server, err))
		}
		delete(b.clients, server)
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing bridge clients: %s", strings.Join(errs, "; "))
	}
	return nil
}

// flattenContent concatenates the text portions of a tool result.
func flattenContent(content []mcp.Content) string {
	var b strings.Builder
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

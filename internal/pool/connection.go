package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"tether/internal/api"
	"tether/internal/config"
	"tether/pkg/logging"
)

// DefaultInitTimeout covers subprocess startup plus the MCP handshake.
const DefaultInitTimeout = 10 * time.Second

// mcpProtocolVersion is the protocol revision negotiated during the
// handshake.
const mcpProtocolVersion = "2024-11-05"

// accessTokenEnvVar is the environment variable through which a launched
// stdio server receives the user's delegated access token.
const accessTokenEnvVar = "TETHER_ACCESS_TOKEN"

// StdioConnection is one live stdio-transport link to a downstream MCP tool
// server on behalf of one user. It wraps an mcp-go client around a local
// subprocess.
type StdioConnection struct {
	id         string
	serverName string
	userID     string

	mu        sync.RWMutex
	client    client.MCPClient
	connected bool
}

var _ api.Connection = (*StdioConnection)(nil)

// dialStdio launches the server subprocess described by cfg and completes
// the MCP handshake. The user's delegated token, when present, is handed to
// the subprocess through its environment.
func dialStdio(ctx context.Context, cfg *config.ServiceConfig, userID string, token *api.Token) (*StdioConnection, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("server %s has no launch command", cfg.Name)
	}

	var envStrings []string
	for k, v := range cfg.Env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}
	if token != nil && token.AccessToken != "" {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", accessTokenEnvVar, token.AccessToken))
	}

	mcpClient, err := client.NewStdioMCPClient(cfg.Command, envStrings, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdio client: %w", err)
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, DefaultInitTimeout)
		defer cancel()
	}

	_, err = mcpClient.Initialize(initCtx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: mcpProtocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "tether",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		if closeErr := mcpClient.Close(); closeErr != nil {
			logging.Debug("Pool", "Error closing failed client for %s: %v", cfg.Name, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	logging.Debug("Pool", "MCP protocol initialized for server %s (user %s)", cfg.Name, userID)
	return &StdioConnection{
		id:         uuid.New().String(),
		serverName: cfg.Name,
		userID:     userID,
		client:     mcpClient,
		connected:  true,
	}, nil
}

// ID returns the unique identifier of this connection instance.
func (c *StdioConnection) ID() string { return c.id }

// ServerName returns the downstream server this connection targets.
func (c *StdioConnection) ServerName() string { return c.serverName }

// UserID returns the user the connection acts on behalf of.
func (c *StdioConnection) UserID() string { return c.userID }

// Connected reports whether the transport is established.
func (c *StdioConnection) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client != nil
}

// Ping probes the downstream server and drops the connected flag on failure
// so the pool stops handing this connection out.
func (c *StdioConnection) Ping(ctx context.Context) error {
	c.mu.RLock()
	mcpClient := c.client
	connected := c.connected
	c.mu.RUnlock()

	if !connected || mcpClient == nil {
		return fmt.Errorf("client not connected")
	}

	if err := mcpClient.Ping(ctx); err != nil {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// CallTool executes a tool on the downstream server, flattening the MCP
// result into a plain map for transport-agnostic callers.
func (c *StdioConnection) CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected || c.client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	result, err := c.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}

	return resultToMap(result), nil
}

// Close cleanly shuts down the client connection.
func (c *StdioConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.connected = false
	c.client = nil
	return err
}

func resultToMap(result *mcp.CallToolResult) map[string]interface{} {
	out := map[string]interface{}{
		"isError": result.IsError,
	}

	var contents []interface{}
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			contents = append(contents, textContent.Text)
		} else {
			contents = append(contents, content)
		}
	}
	out["content"] = contents
	return out
}

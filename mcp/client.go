// Package mcp wraps the MCP stdio client behind the narrow surface the
// connection pool needs: connect, list tools, call tool, close. The protocol
// itself is an external collaborator.
package mcp

import (
	"context"
	"fmt"
	"time"

	gomcpclient "github.com/mark3labs/mcp-go/client"
	gomcp "github.com/mark3labs/mcp-go/mcp"
)

// ServerConfig describes how to launch and identify one MCP server.
type ServerConfig struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Tool is one tool advertised by a connected server.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Connection is a live session with one MCP server.
type Connection interface {
	// Tools returns the tools advertised at connect time.
	Tools() []Tool
	// CallTool invokes a named tool and returns its text output.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	// Close terminates the session.
	Close() error
}

// Connector establishes connections to MCP servers. The pool depends on this
// interface so tests can substitute a fake.
type Connector interface {
	Connect(ctx context.Context, cfg ServerConfig) (Connection, error)
}

// StdioConnector launches MCP servers as child processes speaking the stdio
// transport.
type StdioConnector struct {
	// ClientName is reported to servers during the initialize handshake.
	ClientName string
	// ClientVersion accompanies ClientName.
	ClientVersion string
}

// NewStdioConnector creates a connector with the application identity.
func NewStdioConnector() *StdioConnector {
	return &StdioConnector{ClientName: "holdesk", ClientVersion: "0.1.0"}
}

// Connect launches the server process, performs the initialize handshake and
// lists the server's tools.
func (s *StdioConnector) Connect(ctx context.Context, cfg ServerConfig) (Connection, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("server %s has no command configured", cfg.ID)
	}

	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := gomcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to launch server %s: %w", cfg.ID, err)
	}

	initReq := gomcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = gomcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = gomcp.Implementation{
		Name:    s.ClientName,
		Version: s.ClientVersion,
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize server %s: %w", cfg.ID, err)
	}

	listed, err := c.ListTools(ctx, gomcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to list tools for server %s: %w", cfg.ID, err)
	}

	tools := make([]Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		tools = append(tools, Tool{Name: t.Name, Description: t.Description})
	}

	return &stdioConnection{client: c, tools: tools, serverID: cfg.ID}, nil
}

type stdioConnection struct {
	client   *gomcpclient.Client
	tools    []Tool
	serverID string
}

func (c *stdioConnection) Tools() []Tool {
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

func (c *stdioConnection) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := gomcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	// Tool calls can hang on a broken server; keep an upper bound.
	callCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	res, err := c.client.CallTool(callCtx, req)
	if err != nil {
		return "", fmt.Errorf("tool %s on server %s: %w", name, c.serverID, err)
	}

	var text string
	for _, content := range res.Content {
		if tc, ok := gomcp.AsTextContent(content); ok {
			text += tc.Text
		}
	}
	if res.IsError {
		return "", fmt.Errorf("tool %s on server %s reported an error: %s", name, c.serverID, text)
	}
	return text, nil
}

func (c *stdioConnection) Close() error {
	return c.client.Close()
}

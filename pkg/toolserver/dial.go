package toolserver

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/harun/mcpagent/internal/config"
)

// ClientName and ClientVersion identify this process to MCP servers
var (
	ClientName    = "mcpagent"
	ClientVersion = "1.0.0"
)

// Session is the subset of an MCP client session the registry uses
type Session interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer opens an initialized session to one tool server
type Dialer func(ctx context.Context, server config.ToolServerConfig) (Session, error)

// DialMCP connects with mcp-go over the server's configured transport.
// The transport lives on a context detached from ctx so that a stdio subprocess or an
// SSE stream outlives the call that opened it; ctx still bounds the handshake.
func DialMCP(ctx context.Context, server config.ToolServerConfig) (Session, error) {
	var (
		c   *client.Client
		err error
	)

	switch server.Transport {
	case config.TransportStdio:
		c = client.NewClient(transport.NewStdio(server.Command, mergeEnv(os.Environ(), server.Env), server.Args...))
	case config.TransportSSE:
		c, err = client.NewSSEMCPClient(server.URL, transport.WithHeaders(server.Headers))
	case config.TransportStreamableHTTP:
		c, err = client.NewStreamableHttpClient(server.URL, transport.WithHTTPHeaders(server.Headers))
	default:
		return nil, fmt.Errorf("unsupported transport %q", server.Transport)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := c.Start(context.WithoutCancel(ctx)); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	if err := initialize(ctx, c); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

func initialize(ctx context.Context, c *client.Client) error {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    ClientName,
		Version: ClientVersion,
	}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION

	if _, err := c.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}
	return nil
}

// mergeEnv overlays extra onto base in KEY=VALUE form; later keys win
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

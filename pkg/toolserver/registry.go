package toolserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/harun/mcpagent/internal/config"
	"github.com/harun/mcpagent/internal/observability"
	"github.com/harun/mcpagent/internal/tracing"
)

const tracerName = "github.com/harun/mcpagent/pkg/toolserver"

// DefaultCallTimeout bounds a tool call when the server sets no timeout
const DefaultCallTimeout = 2 * time.Minute

// ErrToolNotFound is returned by Call for a name no server exposes
var ErrToolNotFound = errors.New("tool not found")

// ToolError is an MCP result flagged isError
type ToolError struct {
	Server  string
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s on %s failed: %s", e.Tool, e.Server, e.Message)
}

// Tool is a tool exposed to the model
type Tool struct {
	Name        string         // unique across servers
	Server      string         // owning server
	RemoteName  string         // name on the server
	Description string
	InputSchema map[string]any // JSON Schema object
}

type boundTool struct {
	Tool
	schema  *gojsonschema.Schema
	timeout time.Duration
}

// Option configures a Registry
type Option func(*Registry)

// WithDialer replaces the mcp-go dialer, mostly for tests
func WithDialer(d Dialer) Option {
	return func(r *Registry) { r.dial = d }
}

// WithLogger sets the registry logger
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// Registry owns the sessions to every configured tool server and the merged tool list.
// Connections are opened lazily on first use.
type Registry struct {
	servers []config.ToolServerConfig
	dial    Dialer
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]Session
	tools    []Tool
	index    map[string]*boundTool
}

// NewRegistry creates a registry over resolved tool-server configs
func NewRegistry(servers []config.ToolServerConfig, opts ...Option) *Registry {
	r := &Registry{
		servers: servers,
		dial:    DialMCP,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "toolserver").Logger()
	return r
}

// Servers returns the configured server names in order
func (r *Registry) Servers() []string {
	names := make([]string, len(r.servers))
	for i, s := range r.servers {
		names[i] = s.Name
	}
	return names
}

// Connect opens every session and lists tools. It is a no-op once connected.
// On failure every session opened by this attempt is closed and the next call retries.
func (r *Registry) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectLocked(ctx)
}

func (r *Registry) connectLocked(ctx context.Context) error {
	if r.index != nil {
		return nil
	}

	type listing struct {
		session Session
		tools   []mcp.Tool
	}
	listings := make([]listing, len(r.servers))

	g, gctx := errgroup.WithContext(ctx)
	for i, server := range r.servers {
		g.Go(func() error {
			session, err := r.dial(gctx, server)
			if err != nil {
				return fmt.Errorf("tool server %q: %w", server.Name, err)
			}
			listings[i].session = session

			res, err := session.ListTools(gctx, mcp.ListToolsRequest{})
			if err != nil {
				return fmt.Errorf("tool server %q: failed to list tools: %w", server.Name, err)
			}
			listings[i].tools = res.Tools
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, l := range listings {
			if l.session != nil {
				l.session.Close()
			}
		}
		return err
	}

	sessions := make(map[string]Session, len(r.servers))
	index := make(map[string]*boundTool)
	tools := make([]Tool, 0)

	for i, server := range r.servers {
		sessions[server.Name] = listings[i].session

		timeout := time.Duration(server.Timeout)
		if timeout <= 0 {
			timeout = DefaultCallTimeout
		}

		for _, mt := range listings[i].tools {
			if mt.Name == "" {
				continue
			}
			schema, err := inputSchema(mt)
			if err != nil {
				r.logger.Warn().Err(err).Str("server", server.Name).Str("tool", mt.Name).Msg("Skipping tool with unreadable schema")
				continue
			}

			name := mt.Name
			if _, taken := index[name]; taken {
				name = fmt.Sprintf("%s_%s", server.Name, mt.Name)
			}
			if _, taken := index[name]; taken {
				r.logger.Warn().Str("server", server.Name).Str("tool", mt.Name).Msg("Skipping duplicate tool")
				continue
			}

			t := Tool{
				Name:        name,
				Server:      server.Name,
				RemoteName:  mt.Name,
				Description: mt.Description,
				InputSchema: schema,
			}
			index[name] = &boundTool{Tool: t, schema: compileSchema(schema), timeout: timeout}
			tools = append(tools, t)
		}

		r.logger.Info().
			Str("server", server.Name).
			Str("transport", server.Transport).
			Int("tools", len(listings[i].tools)).
			Msg("Connected to tool server")
	}

	r.sessions = sessions
	r.index = index
	r.tools = tools
	observability.SetToolServersConnected(len(sessions))

	return nil
}

// Tools returns the merged tool list, connecting first if needed
func (r *Registry) Tools(ctx context.Context) ([]Tool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.connectLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out, nil
}

// Call validates args and invokes the named tool, returning its text content
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.Lock()
	if err := r.connectLocked(ctx); err != nil {
		r.mu.Unlock()
		return "", err
	}
	bt, ok := r.index[name]
	var session Session
	if ok {
		session = r.sessions[bt.Server]
	}
	r.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if err := validateArguments(bt.schema, args); err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "toolserver.Call",
		attribute.String("tool.name", name),
		attribute.String("tool.server", bt.Server),
	)
	start := time.Now()

	text, err := r.invoke(ctx, session, bt, args)

	observability.RecordToolCall(bt.Server, bt.RemoteName, time.Since(start), err == nil)
	tracing.EndSpan(span, err)

	logger := tracing.LoggerFromContext(ctx, r.logger)
	if err != nil {
		logger.Warn().Err(err).Str("tool", name).Dur("duration", time.Since(start)).Msg("Tool call failed")
		return "", err
	}
	logger.Debug().Str("tool", name).Dur("duration", time.Since(start)).Int("result_len", len(text)).Msg("Tool call succeeded")

	return text, nil
}

func (r *Registry) invoke(ctx context.Context, session Session, bt *boundTool, args map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, bt.timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = bt.RemoteName
	req.Params.Arguments = args

	res, err := session.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tool %s on %s: %w", bt.RemoteName, bt.Server, err)
	}

	text := flattenContent(res.Content)
	if res.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", &ToolError{Server: bt.Server, Tool: bt.RemoteName, Message: text}
	}
	return text, nil
}

// Close closes every open session. The registry can reconnect afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, session := range r.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tool server %q: %w", name, err))
		}
	}
	r.sessions = nil
	r.index = nil
	r.tools = nil
	observability.SetToolServersConnected(0)

	return errors.Join(errs...)
}

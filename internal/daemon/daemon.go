package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/harun/mcpagent/internal/config"
	"github.com/harun/mcpagent/internal/logger"
	"github.com/harun/mcpagent/internal/observability"
	"github.com/harun/mcpagent/internal/tracing"
	"github.com/harun/mcpagent/pkg/agent"
	"github.com/harun/mcpagent/pkg/moderation"
	"github.com/harun/mcpagent/pkg/relay"
	"github.com/harun/mcpagent/pkg/toolserver"
)

// Daemon wires the tool-server registry, the agent and the HTTP relay into one service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	servers  []config.ToolServerConfig
	registry *toolserver.Registry
	runner   *agent.Runner
	handle   *relay.Handle
	relay    *relay.Server

	addr     string
	listener net.Listener
	errs     chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status reports what the daemon is doing
type Status struct {
	Running     bool
	StartTime   time.Time
	Uptime      time.Duration
	AgentReady  bool
	Provider    string
	ToolServers []string
	Addr        string
}

// Option customizes construction, mostly for tests
type Option func(*options)

type options struct {
	provider     agent.LLMProvider
	registryOpts []toolserver.Option
	addr         string
}

// WithProvider uses p instead of building one from the llm config
func WithProvider(p agent.LLMProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithRegistryOptions passes extra options to the tool-server registry
func WithRegistryOptions(opts ...toolserver.Option) Option {
	return func(o *options) { o.registryOpts = append(o.registryOpts, opts...) }
}

// WithAddr overrides the listen address from the config
func WithAddr(addr string) Option {
	return func(o *options) { o.addr = addr }
}

var newProvider = func(cfg config.LLMConfig) (agent.LLMProvider, error) {
	factory := &agent.ProviderFactory{}
	return factory.NewProvider(cfg)
}

// New validates cfg and builds every component. The agent is installed into the relay
// handle before New returns, so a started daemon never answers "not initialized".
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{addr: cfg.Server.Addr()}
	for _, opt := range opts {
		opt(&o)
	}

	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config: cfg,
		logger: log,
		addr:   o.addr,
		errs:   make(chan error, 1),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, relay.APIVersion); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
		}
	}

	if err := d.initialize(o); err != nil {
		cancel()
		d.shutdownTracing()
		return nil, err
	}

	return d, nil
}

func (d *Daemon) initialize(o options) error {
	log := d.logger.Zerolog()

	servers, err := config.ResolveToolServers(d.config, nil)
	if err != nil {
		return fmt.Errorf("failed to resolve tool servers: %w", err)
	}
	d.servers = servers
	d.protectSecrets()

	registryOpts := append([]toolserver.Option{toolserver.WithLogger(log)}, o.registryOpts...)
	d.registry = toolserver.NewRegistry(servers, registryOpts...)
	log.Info().Strs("servers", d.registry.Servers()).Msg("Tool-server registry initialized")

	provider := o.provider
	if provider == nil {
		provider, err = newProvider(d.config.LLM)
		if err != nil {
			return fmt.Errorf("failed to create LLM provider: %w", err)
		}
	}

	d.runner, err = agent.NewRunner(agent.Config{
		Provider:     provider,
		Tools:        d.registry,
		Logger:       log,
		Model:        d.config.LLM.Model,
		Temperature:  d.config.LLM.Temperature,
		MaxTokens:    d.config.LLM.MaxTokens,
		SystemPrompt: d.config.Agent.SystemPrompt,
		MaxSteps:     d.config.Agent.MaxSteps,
		MaxRetries:   d.config.LLM.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}

	filter, err := moderation.New(d.config.Moderation)
	if err != nil {
		return fmt.Errorf("failed to create query filter: %w", err)
	}

	relayOpts := relay.OptionsFromConfig(d.config, log)
	relayOpts.Addr = d.addr
	relayOpts.Filter = filter

	d.handle = relay.NewHandle()
	d.relay, err = relay.NewServer(relayOpts, d.handle)
	if err != nil {
		return fmt.Errorf("failed to create HTTP relay: %w", err)
	}
	if err := d.handle.Set(d.runner); err != nil {
		return fmt.Errorf("failed to install agent: %w", err)
	}

	log.Info().
		Str("provider", provider.Provider()).
		Str("model", d.config.LLM.Model).
		Msg("MCP Agent initialized")

	return nil
}

// protectSecrets teaches the log redactor every configured secret
func (d *Daemon) protectSecrets() {
	redactor := d.logger.Redactor()
	if redactor == nil {
		return
	}
	redactor.AddLiteral(d.config.Server.BearerToken)
	redactor.AddLiteral(d.config.LLM.APIKey)
	for _, s := range d.servers {
		for _, v := range s.Env {
			redactor.AddLiteral(v)
		}
		for _, v := range s.Headers {
			redactor.AddLiteral(v)
		}
	}
}

// Start binds the listen address and serves in the background
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}

	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.addr, err)
	}
	d.listener = ln
	d.running = true
	d.startTime = time.Now()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.relay.Serve(d.ctx, ln); err != nil {
			select {
			case d.errs <- err:
			default:
			}
		}
	}()

	d.logger.Info().
		Str("trace_id", tracing.NewTraceID()).
		Str("addr", ln.Addr().String()).
		Int("tool_servers", len(d.servers)).
		Msg("Daemon started")

	return nil
}

// Errors delivers a fatal serve error, if one happens
func (d *Daemon) Errors() <-chan error {
	return d.errs
}

// Stop drains the relay, closes tool servers and flushes traces
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	log := d.logger.Zerolog()
	log.Info().Msg("Stopping daemon")

	var errs []error
	if err := d.relay.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	d.cancel()
	d.wg.Wait()

	if err := d.registry.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close tool servers")
		errs = append(errs, err)
	}

	d.shutdownTracing()

	log.Info().Msg("Daemon stopped")
	return errors.Join(errs...)
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

// Status returns a snapshot of the daemon state
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:     d.running,
		AgentReady:  d.handle.Ready(),
		Provider:    d.runner.Provider(),
		ToolServers: d.registry.Servers(),
		Addr:        d.addr,
	}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
		status.Addr = d.listener.Addr().String()
	}
	return status
}

// Registry returns the tool-server registry
func (d *Daemon) Registry() *toolserver.Registry {
	return d.registry
}

package relay

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/harun/mcpagent/internal/config"
	"github.com/harun/mcpagent/internal/observability"
)

const tracerName = "github.com/harun/mcpagent/pkg/relay"

// API metadata served by GET /
const (
	APITitle   = "MCP Agent API"
	APIVersion = "1.0.0"
)

// QueryFilter screens a query before delegation. *moderation.Filter satisfies it.
type QueryFilter interface {
	CheckQuery(query string) error
}

// Options configures the relay
type Options struct {
	Addr        string
	BearerToken string

	// LanguageDirective is appended to every query before delegation
	LanguageDirective string

	// MaxSteps is passed to the runner; <= 0 lets the runner pick its default
	MaxSteps int

	// RateLimitPerMinute bounds authenticated /query calls per client IP; 0 disables
	RateLimitPerMinute int

	// TrustProxyHeaders keys clients on X-Forwarded-For / X-Real-IP instead of the
	// connection address. Only set it behind a proxy that overwrites those headers.
	TrustProxyHeaders bool

	// MaxConcurrentQueries bounds simultaneous agent runs. Left unset, the relay
	// falls back to 1; the service config sets 4.
	MaxConcurrentQueries int

	// ShutdownTimeout bounds the drain in Shutdown when ctx has no deadline
	ShutdownTimeout time.Duration

	// Filter rejects queries with 400 before they reach the agent; nil accepts all
	Filter QueryFilter

	Logger zerolog.Logger
}

// OptionsFromConfig maps the service config onto relay options
func OptionsFromConfig(cfg *config.Config, logger zerolog.Logger) Options {
	return Options{
		Addr:                 cfg.Server.Addr(),
		BearerToken:          cfg.Server.BearerToken,
		LanguageDirective:    cfg.Agent.LanguageDirective,
		MaxSteps:             cfg.Agent.MaxSteps,
		RateLimitPerMinute:   cfg.Server.RateLimitPerMinute,
		TrustProxyHeaders:    cfg.Server.TrustProxyHeaders,
		MaxConcurrentQueries: cfg.Server.MaxConcurrentQueries,
		ShutdownTimeout:      cfg.Server.ShutdownTimeout,
		Logger:               logger,
	}
}

// Server is the HTTP relay in front of the agent
type Server struct {
	opts    Options
	handle  *Handle
	token   []byte
	logger  zerolog.Logger
	limiter *RateLimiter
	slots   *semaphore.Weighted
	router  chi.Router

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener

	// runsMu orders runs.Add against the shutdown flag so Wait never races an Add
	runsMu       sync.Mutex
	shuttingDown atomic.Bool
	runs         sync.WaitGroup
}

// NewServer builds the relay. The handle may be empty; /query answers 500 until it is set.
func NewServer(opts Options, handle *Handle) (*Server, error) {
	observability.EnsureRegistered()

	if handle == nil {
		return nil, errors.New("agent handle is required")
	}
	if opts.BearerToken == "" {
		return nil, errors.New("bearer token is required")
	}
	if opts.RateLimitPerMinute < 0 {
		return nil, fmt.Errorf("rate limit cannot be negative")
	}
	if opts.MaxConcurrentQueries <= 0 {
		opts.MaxConcurrentQueries = 1
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.Addr == "" {
		opts.Addr = "0.0.0.0:8000"
	}

	s := &Server{
		opts:   opts,
		handle: handle,
		token:  []byte(opts.BearerToken),
		logger: opts.Logger.With().Str("component", "relay").Logger(),
		slots:  semaphore.NewWeighted(int64(opts.MaxConcurrentQueries)),
	}
	if opts.RateLimitPerMinute > 0 {
		s.limiter = NewRateLimiter(opts.RateLimitPerMinute, time.Minute, 5*time.Minute)
	}
	s.router = s.routes()

	return s, nil
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.observe)
	r.Use(s.recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, KindNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, KindMethodNotAllowed, "method not allowed")
	})

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/openapi.json", s.handleOpenAPI)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	r.With(s.bearerAuth, s.rateLimit).Post("/query", s.handleQuery)

	return r
}

// Start listens on the configured address and serves until Shutdown.
// It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		ErrorLog:          stdLogger(s.logger),
	}

	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("relay already started")
	}
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Bool("agent_ready", s.handle.Ready()).
		Int("max_concurrent_queries", s.opts.MaxConcurrentQueries).
		Int("rate_limit_per_minute", s.opts.RateLimitPerMinute).
		Msg("Starting HTTP relay")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay server failed: %w", err)
	}
	return nil
}

// Addr returns the bound address once serving, else the configured one
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Shutdown stops accepting requests and waits for in-flight requests and agent runs,
// bounded by ctx or the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.markShuttingDown()
	if s.limiter != nil {
		s.limiter.Stop()
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ShutdownTimeout)
		defer cancel()
	}

	s.logger.Info().Msg("Shutting down HTTP relay")

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown relay server: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All agent runs completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached with agent runs still in flight")
		errs = append(errs, fmt.Errorf("agent runs still in flight: %w", ctx.Err()))
	}

	return errors.Join(errs...)
}

func (s *Server) markShuttingDown() {
	s.runsMu.Lock()
	s.shuttingDown.Store(true)
	s.runsMu.Unlock()
}

// beginRun registers an agent run unless shutdown has begun
func (s *Server) beginRun() bool {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	if s.shuttingDown.Load() {
		return false
	}
	s.runs.Add(1)
	return true
}

// stdLogger routes net/http server errors into zerolog
func stdLogger(logger zerolog.Logger) *stdlog.Logger {
	return stdlog.New(logger.With().Str("source", "net/http").Logger(), "", 0)
}

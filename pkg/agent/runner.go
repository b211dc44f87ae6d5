package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/mcpagent/internal/observability"
	"github.com/harun/mcpagent/internal/tracing"
	"github.com/harun/mcpagent/pkg/toolserver"
)

const tracerName = "github.com/harun/mcpagent/pkg/agent"

// DefaultMaxSteps bounds a run when neither the caller nor the config sets a budget
const DefaultMaxSteps = 50

// Toolbox is the set of tools a run may use
type Toolbox interface {
	Tools(ctx context.Context) ([]toolserver.Tool, error)
	Call(ctx context.Context, name string, args map[string]any) (string, error)
}

// Runner drives the tool-calling loop for one query at a time per call. It keeps no
// per-run state, so concurrent Runs are safe when the provider and toolbox are.
type Runner struct {
	provider       LLMProvider
	tools          Toolbox
	logger         zerolog.Logger
	model          string
	temperature    float64
	maxTokens      int
	systemPrompt   string
	maxSteps       int
	maxRetries     int
	retryBaseDelay time.Duration
}

// Config holds runner configuration
type Config struct {
	Provider     LLMProvider
	Tools        Toolbox // nil runs without tools
	Logger       zerolog.Logger
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	MaxSteps     int // default budget when Run gets maxSteps <= 0
	MaxRetries   int // retries after the first attempt of each LLM call

	// RetryBaseDelay is the first backoff delay, doubled per retry. Defaults to 1s.
	RetryBaseDelay time.Duration
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, fmt.Errorf("LLM provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative")
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}

	return &Runner{
		provider:       cfg.Provider,
		tools:          cfg.Tools,
		logger:         cfg.Logger.With().Str("component", "agent").Logger(),
		model:          cfg.Model,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		systemPrompt:   cfg.SystemPrompt,
		maxSteps:       cfg.MaxSteps,
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}, nil
}

// Provider returns the name of the LLM provider
func (r *Runner) Provider() string {
	return r.provider.Provider()
}

// Run answers query, calling tools as the model requests, within maxSteps LLM calls.
// maxSteps <= 0 uses the configured default.
func (r *Runner) Run(ctx context.Context, query string, maxSteps int) (Answer, error) {
	if maxSteps <= 0 {
		maxSteps = r.maxSteps
	}

	ctx = tracing.NewRunContext(ctx)
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.run",
		attribute.String("provider", r.provider.Provider()),
		attribute.String("model", r.model),
		attribute.Int("max_steps", maxSteps),
	)
	logger := tracing.LoggerFromContext(ctx, r.logger)
	start := time.Now()

	answer, steps, usage, err := r.loop(ctx, logger, query, maxSteps)

	span.SetAttributes(attribute.Int("steps", steps))
	tracing.EndSpan(span, err)
	observability.RecordAgentRun(r.provider.Provider(), time.Since(start), steps, err == nil)

	if err != nil {
		logger.Error().Err(err).Int("steps", steps).Dur("duration", time.Since(start)).Msg("Agent run failed")
		return Answer{}, err
	}

	logger.Info().
		Int("steps", steps).
		Str("result_type", string(answer.Kind)).
		Int("input_tokens", usage.InputTokens).
		Int("output_tokens", usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("Agent run completed")

	return answer, nil
}

func (r *Runner) loop(ctx context.Context, logger zerolog.Logger, query string, maxSteps int) (Answer, int, TokenUsage, error) {
	var usage TokenUsage

	specs, err := r.toolSpecs(ctx)
	if err != nil {
		return Answer{}, 0, usage, fmt.Errorf("failed to discover tools: %w", err)
	}

	messages := []AgentMessage{{Role: RoleUser, Content: query}}

	for step := 1; step <= maxSteps; step++ {
		response, err := r.callLLMWithRetry(ctx, logger, messages, specs)
		if err != nil {
			return Answer{}, step, usage, err
		}
		usage.Add(response.Usage)

		if len(response.ToolCalls) == 0 {
			return ParseAnswer(response.Content), step, usage, nil
		}

		messages = append(messages, AgentMessage{
			Role:      RoleAssistant,
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, call := range response.ToolCalls {
			messages = append(messages, r.executeTool(ctx, logger, step, call))
		}
	}

	return Answer{}, maxSteps, usage, fmt.Errorf("%w (%d)", ErrMaxStepsExceeded, maxSteps)
}

func (r *Runner) toolSpecs(ctx context.Context) ([]ToolSpec, error) {
	if r.tools == nil {
		return nil, nil
	}
	tools, err := r.tools.Tools(ctx)
	if err != nil {
		return nil, err
	}
	specs := make([]ToolSpec, len(tools))
	for i, t := range tools {
		specs[i] = ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
	}
	return specs, nil
}

// executeTool runs one tool call. Failures become error results for the model to read.
func (r *Runner) executeTool(ctx context.Context, logger zerolog.Logger, step int, call ToolCall) AgentMessage {
	msg := AgentMessage{Role: RoleTool, ToolCallID: call.ID}

	if r.tools == nil {
		msg.Content = fmt.Sprintf("tool %s is not available", call.Name)
		msg.IsError = true
		return msg
	}

	logger.Debug().Int("step", step).Str("tool", call.Name).Msg("Calling tool")

	out, err := r.tools.Call(ctx, call.Name, call.Parameters)
	if err != nil {
		logger.Warn().Err(err).Int("step", step).Str("tool", call.Name).Msg("Tool call failed")
		msg.Content = err.Error()
		msg.IsError = true
		return msg
	}
	msg.Content = out
	return msg
}

// callLLMWithRetry calls the LLM with exponential backoff: base, 2*base, 4*base...
func (r *Runner) callLLMWithRetry(ctx context.Context, logger zerolog.Logger, messages []AgentMessage, tools []ToolSpec) (*LLMResponse, error) {
	request := LLMRequest{
		Model:        r.model,
		Messages:     messages,
		Tools:        tools,
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
		SystemPrompt: r.systemPrompt,
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		response, err := r.provider.Call(ctx, request)
		observability.RecordLLMCall(r.provider.Provider(), err == nil)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			return nil, fmt.Errorf("LLM call failed: %w", err)
		}
		if attempt == r.maxRetries {
			break
		}

		delay := r.retryBaseDelay * time.Duration(1<<attempt)
		logger.Info().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), lastErr)
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.maxRetries, lastErr)
}

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/mcpagent/internal/observability"
	"github.com/harun/mcpagent/internal/tracing"
	"github.com/harun/mcpagent/pkg/agent"
)

// maxBodyBytes caps the /query request body
const maxBodyBytes = 1 << 20

// QueryRequest is the body of POST /query
type QueryRequest struct {
	Query string `json:"query" jsonschema:"description=Natural-language request for the agent,minLength=1"`
}

// QueryResponse is the body of a successful POST /query. Result is a string for text
// answers and an array of objects for records answers.
type QueryResponse struct {
	Result     any    `json:"result" jsonschema:"description=Answer text or array of records"`
	ResultType string `json:"result_type" jsonschema:"enum=text,enum=records"`
	Status     string `json:"status" jsonschema:"enum=success"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status     string `json:"status"`
	AgentReady bool   `json:"agent_ready"`
}

// RootResponse is the body of GET /
type RootResponse struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

var rootResponse = RootResponse{
	Message: APITitle,
	Version: APIVersion,
	Endpoints: map[string]string{
		"POST /query":       "Process queries with MCP Agent",
		"GET /health":       "Health check",
		"GET /metrics":      "Prometheus metrics",
		"GET /openapi.json": "API documentation",
	},
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "healthy",
		AgentReady: s.handle.Ready(),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if s.shuttingDown.Load() {
		writeError(w, http.StatusServiceUnavailable, KindUnavailable, "server is shutting down")
		return
	}

	runner, err := s.handle.Get()
	if err != nil {
		logger.Error().Err(err).Msg("Query received before the agent was ready")
		writeErr(w, err)
		return
	}

	req, err := decodeQuery(w, r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if s.opts.Filter != nil {
		if err := s.opts.Filter.CheckQuery(req.Query); err != nil {
			logger.Warn().Err(err).Msg("Query rejected by moderation")
			writeErr(w, fmt.Errorf("%w: %s", ErrBadRequest, err))
			return
		}
	}

	if err := s.slots.Acquire(ctx, 1); err != nil {
		logger.Warn().Err(err).Msg("Client left while waiting for an agent slot")
		writeError(w, http.StatusServiceUnavailable, KindUnavailable, "request cancelled while waiting for the agent")
		return
	}
	if !s.beginRun() {
		s.slots.Release(1)
		writeError(w, http.StatusServiceUnavailable, KindUnavailable, "server is shutting down")
		return
	}

	answer, err := s.delegate(ctx, runner, req.Query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, KindDelegationFailed, fmt.Sprintf("Error processing query: %s", err))
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Result:     answer.Value(),
		ResultType: string(answer.Kind),
		Status:     "success",
	})
}

// delegate runs the agent on a context that survives client disconnects. It ends the
// run registered by beginRun and releases the slot acquired by the caller.
func (s *Server) delegate(ctx context.Context, runner Runner, query string) (agent.Answer, error) {
	done := observability.QueryStarted()
	defer func() {
		done()
		s.runs.Done()
		s.slots.Release(1)
	}()

	logger := tracing.LoggerFromContext(ctx, s.logger)

	ctx, span := tracing.StartSpan(context.WithoutCancel(ctx), tracerName, "relay.delegate",
		attribute.Int("query.length", len(query)),
		attribute.Int("max_steps", s.opts.MaxSteps),
	)
	start := time.Now()

	answer, err := runner.Run(ctx, query+s.opts.LanguageDirective, s.opts.MaxSteps)
	tracing.EndSpan(span, err)

	if err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Agent run failed")
		return agent.Answer{}, err
	}

	logger.Info().
		Str("result_type", string(answer.Kind)).
		Dur("duration", time.Since(start)).
		Msg("Query answered")
	return answer, nil
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (QueryRequest, error) {
	var req QueryRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return req, fmt.Errorf("%w: body exceeds %d bytes", ErrBadRequest, maxErr.Limit)
		case errors.Is(err, io.EOF):
			return req, fmt.Errorf("%w: empty body", ErrBadRequest)
		default:
			return req, fmt.Errorf("%w: invalid JSON: %s", ErrBadRequest, err)
		}
	}
	if strings.TrimSpace(req.Query) == "" {
		return req, fmt.Errorf("%w: query is required", ErrBadRequest)
	}
	return req, nil
}

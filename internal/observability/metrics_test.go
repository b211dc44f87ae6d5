package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHTTPRequest(t *testing.T) {
	m := getMetrics()
	counter := m.httpRequestsTotal.WithLabelValues("/query", "POST", "401")
	before := testutil.ToFloat64(counter)

	RecordHTTPRequest("/query", "POST", 401, 5*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestQueryStarted(t *testing.T) {
	m := getMetrics()
	before := testutil.ToFloat64(m.queriesInFlight)

	done := QueryStarted()
	assert.Equal(t, before+1, testutil.ToFloat64(m.queriesInFlight))

	done()
	done()
	assert.Equal(t, before, testutil.ToFloat64(m.queriesInFlight))
}

func TestRecordAgentAndToolCalls(t *testing.T) {
	m := getMetrics()

	runs := m.agentRunTotal.WithLabelValues("anthropic", "error")
	runsBefore := testutil.ToFloat64(runs)
	RecordAgentRun("anthropic", time.Second, 3, false)
	assert.Equal(t, runsBefore+1, testutil.ToFloat64(runs))

	calls := m.toolCallTotal.WithLabelValues("browser", "navigate", "success")
	callsBefore := testutil.ToFloat64(calls)
	RecordToolCall("browser", "navigate", 10*time.Millisecond, true)
	assert.Equal(t, callsBefore+1, testutil.ToFloat64(calls))

	SetToolServersConnected(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.toolServersConnected))
}

func TestMetricsHandler(t *testing.T) {
	RecordRateLimited()
	RecordLLMCall("openai", true)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mcpagent_rate_limited_total")
	assert.Contains(t, string(body), `mcpagent_llm_call_total{provider="openai",status="success"}`)
}

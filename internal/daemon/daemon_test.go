package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mcpagent/internal/config"
	"github.com/harun/mcpagent/internal/logger"
	"github.com/harun/mcpagent/pkg/agent"
)

// replyProvider always answers with a fixed text
type replyProvider struct {
	reply string
}

func (p replyProvider) Call(ctx context.Context, request agent.LLMRequest) (*agent.LLMResponse, error) {
	return &agent.LLMResponse{Content: p.reply}, nil
}

func (p replyProvider) Provider() string { return "fake" }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())

	cfg := config.DefaultConfig()
	cfg.Server.BearerToken = "daemon-token"
	cfg.LLM.APIKey = "sk-ant-test"
	cfg.Tracing.Enabled = false
	return cfg
}

func createTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "info", Redaction: true})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	d, err := New(cfg, log, WithProvider(replyProvider{reply: "pong"}), WithAddr("127.0.0.1:0"))
	require.NoError(t, err)
	return d
}

func TestNew(t *testing.T) {
	t.Run("should install the agent before serving", func(t *testing.T) {
		d := createTestDaemon(t, testConfig(t))

		status := d.Status()
		assert.False(t, status.Running)
		assert.True(t, status.AgentReady)
		assert.Equal(t, "fake", status.Provider)
		assert.Empty(t, status.ToolServers)
	})

	t.Run("should reject an invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Server.BearerToken = ""

		log, err := logger.New(logger.Config{Level: "info"})
		require.NoError(t, err)

		_, err = New(cfg, log)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bearer_token")
	})

	t.Run("should fail on a missing topology file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.ToolServers.ConfigFile = filepath.Join(t.TempDir(), "absent.json")

		log, err := logger.New(logger.Config{Level: "info"})
		require.NoError(t, err)

		_, err = New(cfg, log, WithProvider(replyProvider{}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to resolve tool servers")
	})

	t.Run("should load tool servers from the topology", func(t *testing.T) {
		cfg := testConfig(t)
		path := filepath.Join(t.TempDir(), "servers.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"local":{"command":"echo"}}}`), 0o600))
		cfg.ToolServers.ConfigFile = path

		d := createTestDaemon(t, cfg)
		assert.Equal(t, []string{"local"}, d.Status().ToolServers)
		assert.Equal(t, []string{"local"}, d.Registry().Servers())
	})
}

func TestDaemonStartStop(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))

	require.NoError(t, d.Start())
	assert.Error(t, d.Start())

	status := d.Status()
	require.True(t, status.Running)
	base := "http://" + status.Addr

	req, err := http.NewRequest(http.MethodPost, base+"/query", strings.NewReader(`{"query":"ping"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer daemon-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "pong", body["result"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
	assert.False(t, d.Status().Running)
	assert.Error(t, d.Stop(ctx))

	select {
	case err := <-d.Errors():
		t.Fatalf("unexpected serve error: %v", err)
	default:
	}
}

func TestProtectSecrets(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))

	redactor := d.logger.Redactor()
	require.NotNil(t, redactor)
	assert.NotContains(t, redactor.Redact("token daemon-token"), "daemon-token")
}

func TestDaemonModeration(t *testing.T) {
	cfg := testConfig(t)
	cfg.Moderation.Enabled = true
	cfg.Moderation.BlockedKeywords = []string{"rm -rf"}

	d := createTestDaemon(t, cfg)
	require.NoError(t, d.Start())
	defer d.Stop(context.Background())

	req, err := http.NewRequest(http.MethodPost, "http://"+d.Status().Addr+"/query", strings.NewReader(`{"query":"please rm -rf /"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer daemon-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults and well-known env vars without a file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("API_BEARER_TOKEN", "env-token")
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")

		cfg, err := NewLoader("").Load()
		require.NoError(t, err)

		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Equal(t, "env-token", cfg.Server.BearerToken)
		assert.Equal(t, "sk-ant-env", cfg.LLM.APIKey)
	})

	t.Run("load config from yaml file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "mcpagent.yaml")

		testConfig := `
server:
  port: 9090
  bearer_token: file-token
llm:
  provider: openai
  model: gpt-4o
  timeout: 45s
agent:
  max_steps: 12
tool_servers:
  config_file: servers.json
  presets: [github]
`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))
		t.Setenv("OPENAI_API_KEY", "sk-openai")
		t.Setenv("API_BEARER_TOKEN", "")

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "file-token", cfg.Server.BearerToken)
		assert.Equal(t, "openai", cfg.LLM.Provider)
		assert.Equal(t, "gpt-4o", cfg.LLM.Model)
		assert.Equal(t, "sk-openai", cfg.LLM.APIKey)
		assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
		assert.Equal(t, 12, cfg.Agent.MaxSteps)
		assert.Equal(t, []string{"github"}, cfg.ToolServers.Presets)
		assert.Equal(t, filepath.Join(tmpDir, "servers.json"), cfg.ToolServers.ConfigFile)
	})

	t.Run("prefixed env overrides file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"server": {"port": 9090}}`), 0644))

		t.Setenv("MCPAGENT_SERVER_PORT", "7070")
		t.Setenv("MCPAGENT_AGENT_MAX_STEPS", "3")
		t.Setenv("MCPAGENT_LLM_API_KEY", "sk-ant-explicit")
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-ignored")

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, 7070, cfg.Server.Port)
		assert.Equal(t, 3, cfg.Agent.MaxSteps)
		assert.Equal(t, "sk-ant-explicit", cfg.LLM.APIKey)
	})

	t.Run("explicit path that does not exist", func(t *testing.T) {
		_, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load()
		assert.Error(t, err)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestGetConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	assert.Equal(t, "", NewLoader("").GetConfigPath())

	require.NoError(t, os.WriteFile("mcpagent.json", []byte(`{}`), 0644))
	assert.Equal(t, "mcpagent.json", NewLoader("").GetConfigPath())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("MCPAGENT_DOTENV_A=from-file\nMCPAGENT_DOTENV_B=from-file\n"), 0644))

	t.Setenv("MCPAGENT_DOTENV_B", "from-process")
	t.Cleanup(func() { os.Unsetenv("MCPAGENT_DOTENV_A") })

	loaded, err := LoadDotEnv(envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, []string{envFile}, loaded)
	assert.Equal(t, "from-file", os.Getenv("MCPAGENT_DOTENV_A"))
	assert.Equal(t, "from-process", os.Getenv("MCPAGENT_DOTENV_B"))
}

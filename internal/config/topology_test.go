package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestExpandEnvVars(t *testing.T) {
	lookup := mapLookup(map[string]string{"TOKEN": "abc", "EMPTY": ""})

	t.Run("no references", func(t *testing.T) {
		out, err := expandEnvVars("plain", lookup)
		require.NoError(t, err)
		assert.Equal(t, "plain", out)
	})

	t.Run("braced", func(t *testing.T) {
		out, err := expandEnvVars("Bearer ${TOKEN}", lookup)
		require.NoError(t, err)
		assert.Equal(t, "Bearer abc", out)
	})

	t.Run("default used when unset or empty", func(t *testing.T) {
		out, err := expandEnvVars("${MISSING:-x}-${EMPTY:-y}-${TOKEN:-z}", lookup)
		require.NoError(t, err)
		assert.Equal(t, "x-y-abc", out)
	})

	t.Run("missing variables are reported", func(t *testing.T) {
		_, err := expandEnvVars("${B_MISSING} ${A_MISSING} ${EMPTY}", lookup)
		var missing *MissingEnvError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, []string{"A_MISSING", "B_MISSING", "EMPTY"}, missing.Vars)
	})
}

func TestLoadTopologyFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "browser_mcp.json")
		content := `{
  "mcpServers": {
    "playwright": {"command": "npx", "args": ["@playwright/mcp@latest"], "timeout": 20},
    "remote": {"type": "sse", "url": "https://example.com/sse", "headers": {"Authorization": "Bearer ${REMOTE_TOKEN}"}}
  }
}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		topo, err := LoadTopologyFile(path)
		require.NoError(t, err)
		require.Len(t, topo.MCPServers, 2)
		assert.Equal(t, "npx", topo.MCPServers["playwright"].Command)
		assert.Equal(t, Duration(20*time.Second), topo.MCPServers["playwright"].Timeout)
		assert.Equal(t, "sse", topo.MCPServers["remote"].Transport)
	})

	t.Run("yaml keeps env var case", func(t *testing.T) {
		path := filepath.Join(dir, "servers.yaml")
		content := `
mcpServers:
  fs:
    command: npx
    args: ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
    env:
      NODE_ENV: production
    timeout: 1m
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		topo, err := LoadTopologyFile(path)
		require.NoError(t, err)
		assert.Equal(t, "production", topo.MCPServers["fs"].Env["NODE_ENV"])
		assert.Equal(t, Duration(time.Minute), topo.MCPServers["fs"].Timeout)
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": [`), 0644))

		_, err := LoadTopologyFile(path)
		assert.Error(t, err)
	})
}

func TestResolveToolServers(t *testing.T) {
	writeTopology := func(t *testing.T, content string) string {
		path := filepath.Join(t.TempDir(), "servers.json")
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	t.Run("file and presets with interpolated secrets", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ToolServers.ConfigFile = writeTopology(t, `{"mcpServers": {
			"browser": {"command": "npx", "args": ["@playwright/mcp@latest"]},
			"remote": {"url": "https://mcp.example.com/mcp", "headers": {"Authorization": "Bearer ${REMOTE_TOKEN}"}},
			"off": {"command": "true", "disabled": true}
		}}`)
		cfg.ToolServers.Presets = []string{"notion"}

		servers, err := ResolveToolServers(cfg, mapLookup(map[string]string{
			"REMOTE_TOKEN":   "remote-secret",
			"NOTION_API_KEY": "ntn_secret",
		}))
		require.NoError(t, err)
		require.Len(t, servers, 3)

		assert.Equal(t, "browser", servers[0].Name)
		assert.Equal(t, TransportStdio, servers[0].Transport)

		assert.Equal(t, "notion", servers[1].Name)
		assert.Contains(t, servers[1].Env["OPENAPI_MCP_HEADERS"], `"Authorization": "Bearer ntn_secret"`)

		assert.Equal(t, "remote", servers[2].Name)
		assert.Equal(t, TransportStreamableHTTP, servers[2].Transport)
		assert.Equal(t, "Bearer remote-secret", servers[2].Headers["Authorization"])
	})

	t.Run("preset without credentials fails fast", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ToolServers.ConfigFile = writeTopology(t, `{"mcpServers": {}}`)
		cfg.ToolServers.Presets = []string{"slack"}

		_, err := ResolveToolServers(cfg, mapLookup(map[string]string{"SLACK_TEAM_ID": "T1"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"slack"`)
		assert.Contains(t, err.Error(), "SLACK_BOT_TOKEN")
	})

	t.Run("duplicate name across file and preset", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ToolServers.ConfigFile = writeTopology(t, `{"mcpServers": {"github": {"command": "gh-mcp"}}}`)
		cfg.ToolServers.Presets = []string{"github"}

		_, err := ResolveToolServers(cfg, mapLookup(map[string]string{"GITHUB_PERSONAL_ACCESS_TOKEN": "x"}))
		assert.Error(t, err)
	})

	t.Run("explicit file must exist", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ToolServers.ConfigFile = filepath.Join(t.TempDir(), "missing.json")

		_, err := ResolveToolServers(cfg, mapLookup(nil))
		assert.Error(t, err)
	})

	t.Run("default file is optional", func(t *testing.T) {
		t.Chdir(t.TempDir())

		servers, err := ResolveToolServers(DefaultConfig(), mapLookup(nil))
		require.NoError(t, err)
		assert.Empty(t, servers)
	})

	t.Run("transport requirements", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ToolServers.ConfigFile = writeTopology(t, `{"mcpServers": {"bad": {"type": "sse"}}}`)

		_, err := ResolveToolServers(cfg, mapLookup(nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "url is required")
	})
}

func TestPresetNames(t *testing.T) {
	assert.Equal(t, []string{"github", "notion", "slack"}, PresetNames())
	assert.NotEmpty(t, PresetDescription("github"))
}

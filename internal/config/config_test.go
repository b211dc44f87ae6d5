package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Server.BearerToken = "test-bearer-token-123"
	cfg.LLM.APIKey = "sk-ant-test"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, "claude-3-5-sonnet-20240620", cfg.LLM.Model)
	assert.Equal(t, 50, cfg.Agent.MaxSteps)
	assert.Equal(t, DefaultLanguageDirective, cfg.Agent.LanguageDirective)
	assert.Equal(t, 4, cfg.Server.MaxConcurrentQueries)
	assert.Zero(t, cfg.Server.RateLimitPerMinute)
	assert.False(t, cfg.Server.TrustProxyHeaders)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing bearer token", func(c *Config) { c.Server.BearerToken = "  " }, "API_BEARER_TOKEN"},
		{"missing api key", func(c *Config) { c.LLM.APIKey = "" }, "ANTHROPIC_API_KEY"},
		{"missing openai key", func(c *Config) { c.LLM.Provider = ProviderOpenAI; c.LLM.APIKey = "" }, "OPENAI_API_KEY"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "gemini" }, "invalid provider"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"zero max steps", func(c *Config) { c.Agent.MaxSteps = 0 }, "agent.max_steps"},
		{"temperature out of range", func(c *Config) { c.LLM.Temperature = 1.5 }, "temperature"},
		{"zero concurrency", func(c *Config) { c.Server.MaxConcurrentQueries = 0 }, "max_concurrent_queries"},
		{"unknown preset", func(c *Config) { c.ToolServers.Presets = []string{"jira"} }, "unknown preset"},
		{"bad moderation pattern", func(c *Config) { c.Moderation.BlockedPatterns = []string{"("} }, "moderation.blocked_patterns"},
		{"negative query limit", func(c *Config) { c.Moderation.MaxQueryChars = -1 }, "max_query_chars"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigString(t *testing.T) {
	cfg := validConfig()

	out := cfg.String()
	assert.NotContains(t, out, "test-bearer-token-123")
	assert.NotContains(t, out, "sk-ant-test")
	assert.True(t, strings.Contains(out, "[REDACTED]"))

	// Redaction must not touch the original
	assert.Equal(t, "test-bearer-token-123", cfg.Server.BearerToken)
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 9000}
	assert.Equal(t, "127.0.0.1:9000", s.Addr())
}

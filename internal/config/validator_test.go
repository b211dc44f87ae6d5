package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	t.Run("valid anthropic key", func(t *testing.T) {
		err := v.ValidateAPIKey("sk-ant-test123", "anthropic")
		assert.NoError(t, err)
	})

	t.Run("invalid anthropic key", func(t *testing.T) {
		err := v.ValidateAPIKey("invalid-key", "anthropic")
		assert.Error(t, err)
	})

	t.Run("valid openai key", func(t *testing.T) {
		err := v.ValidateAPIKey("sk-test123", "openai")
		assert.NoError(t, err)
	})

	t.Run("invalid openai key", func(t *testing.T) {
		err := v.ValidateAPIKey("invalid-key", "openai")
		assert.Error(t, err)
	})

	t.Run("empty key", func(t *testing.T) {
		err := v.ValidateAPIKey("", "anthropic")
		assert.Error(t, err)
	})
}

func TestValidateBearerToken(t *testing.T) {
	v := NewValidator()

	assert.Error(t, v.ValidateBearerToken("short"))
	assert.NoError(t, v.ValidateBearerToken("a-long-enough-bearer-token"))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level), level)
	}
	assert.Error(t, v.ValidateLogLevel("verbose"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("clean config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.Host = "127.0.0.1"
		cfg.Server.BearerToken = "0123456789abcdef0123"
		cfg.LLM.APIKey = "sk-ant-abcdef"

		assert.Empty(t, v.ValidateConfig(cfg))
	})

	t.Run("collects every warning", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.BearerToken = "short"
		cfg.LLM.APIKey = "not-a-key"
		cfg.Agent.MaxSteps = 500
		cfg.Logging.Level = "loud"

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 5)
	})
}

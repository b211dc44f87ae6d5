package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Provider names accepted in llm.provider
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// DefaultLanguageDirective is appended to every query before it reaches the agent.
const DefaultLanguageDirective = "\n\nPlease reason and answer in Japanese."

// Config represents the service configuration
type Config struct {
	// HTTP relay
	Server ServerConfig `json:"server" mapstructure:"server"`

	// LLM client
	LLM LLMConfig `json:"llm" mapstructure:"llm"`

	// Agent loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Tool-server topology sources
	ToolServers ToolServersConfig `json:"tool_servers" mapstructure:"tool_servers"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Query moderation
	Moderation ModerationConfig `json:"moderation" mapstructure:"moderation"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP relay configuration
type ServerConfig struct {
	Host                 string        `json:"host" mapstructure:"host"`
	Port                 int           `json:"port" mapstructure:"port"`
	BearerToken          string        `json:"bearer_token" mapstructure:"bearer_token"`
	RateLimitPerMinute   int           `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"` // 0 disables
	TrustProxyHeaders    bool          `json:"trust_proxy_headers" mapstructure:"trust_proxy_headers"`     // key clients on X-Forwarded-For
	MaxConcurrentQueries int           `json:"max_concurrent_queries" mapstructure:"max_concurrent_queries"`
	ShutdownTimeout      time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider    string        `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model       string        `json:"model" mapstructure:"model"`
	APIKey      string        `json:"api_key" mapstructure:"api_key"`
	BaseURL     string        `json:"base_url,omitempty" mapstructure:"base_url"`
	Temperature float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int           `json:"max_tokens" mapstructure:"max_tokens"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries  int           `json:"max_retries" mapstructure:"max_retries"`
}

// AgentConfig holds agent loop configuration
type AgentConfig struct {
	MaxSteps          int    `json:"max_steps" mapstructure:"max_steps"`
	SystemPrompt      string `json:"system_prompt" mapstructure:"system_prompt"`
	LanguageDirective string `json:"language_directive" mapstructure:"language_directive"`
}

// ToolServersConfig points at the tool-server topology sources
type ToolServersConfig struct {
	// ConfigFile is an mcpServers file (JSON or YAML). Empty means DefaultTopologyFile if present.
	ConfigFile string `json:"config_file" mapstructure:"config_file"`

	// Presets enables built-in tool servers by name (notion, github, slack).
	Presets []string `json:"presets" mapstructure:"presets"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// ModerationConfig screens queries before they reach the agent
type ModerationConfig struct {
	Enabled         bool     `json:"enabled" mapstructure:"enabled"`
	BlockedKeywords []string `json:"blocked_keywords" mapstructure:"blocked_keywords"`
	BlockedPatterns []string `json:"blocked_patterns" mapstructure:"blocked_patterns"`
	MaxQueryChars   int      `json:"max_query_chars" mapstructure:"max_query_chars"` // 0 means no limit
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                 "0.0.0.0",
			Port:                 8000,
			RateLimitPerMinute:   0,
			MaxConcurrentQueries: 4,
			ShutdownTimeout:      30 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    ProviderAnthropic,
			Model:       "claude-3-5-sonnet-20240620",
			Temperature: 0,
			MaxTokens:   4096,
			Timeout:     2 * time.Minute,
			MaxRetries:  3,
		},
		Agent: AgentConfig{
			MaxSteps:          50,
			SystemPrompt:      "You are a helpful assistant with access to external tools. Use them when they help answer the user's request.",
			LanguageDirective: DefaultLanguageDirective,
		},
		ToolServers: ToolServersConfig{
			Presets: []string{},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Moderation: ModerationConfig{
			BlockedKeywords: []string{},
			BlockedPatterns: []string{},
		},
		Tracing: TracingConfig{
			Enabled:     true,
			ServiceName: "mcpagent",
		},
	}
}

// Redacted returns a copy of the config with secrets masked
func (c *Config) Redacted() *Config {
	out := *c
	out.Server.BearerToken = mask(c.Server.BearerToken)
	out.LLM.APIKey = mask(c.LLM.APIKey)
	out.ToolServers.Presets = append([]string(nil), c.ToolServers.Presets...)
	out.Moderation.BlockedKeywords = append([]string(nil), c.Moderation.BlockedKeywords...)
	out.Moderation.BlockedPatterns = append([]string(nil), c.Moderation.BlockedPatterns...)
	return &out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "[REDACTED]"
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid. The service refuses to start otherwise.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.BearerToken) == "" {
		return fmt.Errorf("server.bearer_token is required (set API_BEARER_TOKEN)")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server.rate_limit_per_minute must be >= 0")
	}
	if c.Server.MaxConcurrentQueries < 1 {
		return fmt.Errorf("server.max_concurrent_queries must be >= 1")
	}

	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("llm.provider: invalid provider %q (must be: anthropic, openai)", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set %s)", APIKeyEnv(c.LLM.Provider))
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be between 0 and 1, got %v", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries cannot be negative")
	}

	if c.Agent.MaxSteps < 1 {
		return fmt.Errorf("agent.max_steps must be >= 1, got %d", c.Agent.MaxSteps)
	}

	for _, name := range c.ToolServers.Presets {
		if _, ok := presets[name]; !ok {
			return fmt.Errorf("tool_servers.presets: unknown preset %q (known: %s)", name, strings.Join(PresetNames(), ", "))
		}
	}

	if c.Moderation.MaxQueryChars < 0 {
		return fmt.Errorf("moderation.max_query_chars cannot be negative")
	}
	for _, p := range c.Moderation.BlockedPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("moderation.blocked_patterns: invalid pattern %q: %w", p, err)
		}
	}

	return nil
}

// APIKeyEnv returns the well-known environment variable holding the provider's API key
func APIKeyEnv(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}

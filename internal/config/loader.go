package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (MCPAGENT_SERVER_PORT, ...)
const EnvPrefix = "MCPAGENT"

// BearerTokenEnv is the well-known variable holding the relay's bearer token
const BearerTokenEnv = "API_BEARER_TOKEN"

// defaultConfigFiles are probed in the working directory when no path is given
var defaultConfigFiles = []string{"mcpagent.yaml", "mcpagent.yml", "mcpagent.json"}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from defaults, the optional config file and the environment
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	// Read environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.bearer_token", EnvPrefix+"_SERVER_BEARER_TOKEN", BearerTokenEnv); err != nil {
		return nil, fmt.Errorf("failed to bind bearer token env: %w", err)
	}

	configPath, err := l.resolvePath()
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Unmarshal into config struct
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Provider keys come from their conventional variables unless set explicitly
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv(APIKeyEnv(cfg.LLM.Provider))
	}

	// Resolve topology file relative to the config file
	if cfg.ToolServers.ConfigFile != "" && configPath != "" && !filepath.IsAbs(cfg.ToolServers.ConfigFile) {
		cfg.ToolServers.ConfigFile = filepath.Join(filepath.Dir(configPath), cfg.ToolServers.ConfigFile)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path that Load would read, or "" for none
func (l *Loader) GetConfigPath() string {
	path, err := l.resolvePath()
	if err != nil {
		return ""
	}
	return path
}

func (l *Loader) resolvePath() (string, error) {
	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err != nil {
			return "", fmt.Errorf("config file %s: %w", l.configPath, err)
		}
		return l.configPath, nil
	}

	for _, name := range defaultConfigFiles {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", nil
}

// setDefaults registers every key so AutomaticEnv overrides reach Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.bearer_token", d.Server.BearerToken)
	v.SetDefault("server.rate_limit_per_minute", d.Server.RateLimitPerMinute)
	v.SetDefault("server.trust_proxy_headers", d.Server.TrustProxyHeaders)
	v.SetDefault("server.max_concurrent_queries", d.Server.MaxConcurrentQueries)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.max_retries", d.LLM.MaxRetries)

	v.SetDefault("agent.max_steps", d.Agent.MaxSteps)
	v.SetDefault("agent.system_prompt", d.Agent.SystemPrompt)
	v.SetDefault("agent.language_directive", d.Agent.LanguageDirective)

	v.SetDefault("tool_servers.config_file", d.ToolServers.ConfigFile)
	v.SetDefault("tool_servers.presets", d.ToolServers.Presets)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.console", d.Logging.Console)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.redaction", d.Logging.Redaction)

	v.SetDefault("moderation.enabled", d.Moderation.Enabled)
	v.SetDefault("moderation.blocked_keywords", d.Moderation.BlockedKeywords)
	v.SetDefault("moderation.blocked_patterns", d.Moderation.BlockedPatterns)
	v.SetDefault("moderation.max_query_chars", d.Moderation.MaxQueryChars)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

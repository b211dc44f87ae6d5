package config

import (
	"fmt"
	"strings"
)

// Validator produces non-fatal warnings about suspicious configuration values.
// Hard errors live in Config.Validate.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case ProviderOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateBearerToken flags tokens too short to resist guessing
func (v *Validator) ValidateBearerToken(token string) error {
	if len(token) < 16 {
		return fmt.Errorf("bearer token is shorter than 16 characters")
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateMaxSteps flags step budgets that are likely to run away
func (v *Validator) ValidateMaxSteps(steps int) error {
	if steps > 200 {
		return fmt.Errorf("agent.max_steps of %d is unusually high", steps)
	}
	return nil
}

// ValidateBindHost warns when the relay listens on every interface
func (v *Validator) ValidateBindHost(host string) error {
	if host == "0.0.0.0" || host == "" || host == "::" {
		return fmt.Errorf("server listens on all interfaces (%q); make sure it sits behind TLS", host)
	}
	return nil
}

// ValidateConfig performs comprehensive validation and returns every warning found
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if cfg.LLM.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.LLM.APIKey, cfg.LLM.Provider); err != nil {
			errors = append(errors, fmt.Errorf("llm: %w", err))
		}
	}
	if cfg.Server.BearerToken != "" {
		if err := v.ValidateBearerToken(cfg.Server.BearerToken); err != nil {
			errors = append(errors, fmt.Errorf("server: %w", err))
		}
	}
	if err := v.ValidateBindHost(cfg.Server.Host); err != nil {
		errors = append(errors, fmt.Errorf("server: %w", err))
	}
	if err := v.ValidateMaxSteps(cfg.Agent.MaxSteps); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}

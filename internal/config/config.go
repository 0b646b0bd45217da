// Package config defines the Batak configuration and its loading and
// validation rules.
package config

import (
	"fmt"
	"os"

	"github.com/tgokhale/batak/pkg/provider"
)

// Config represents the main Batak configuration.
type Config struct {
	// Reasoning step
	Reasoning ReasoningConfig `json:"reasoning" mapstructure:"reasoning"`

	// Tool providers, in acquisition order
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`

	// System instruction
	Prompt PromptConfig `json:"prompt" mapstructure:"prompt"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Transcript archive
	Transcript TranscriptConfig `json:"transcript" mapstructure:"transcript"`

	// Provider keepalive
	Keepalive KeepaliveConfig `json:"keepalive" mapstructure:"keepalive"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ReasoningConfig selects and tunes the reasoning provider.
type ReasoningConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxTurns    int     `json:"max_turns" mapstructure:"max_turns"`
	MaxRetries  int     `json:"max_retries" mapstructure:"max_retries"`
}

// ProviderConfig describes one tool provider subprocess.
type ProviderConfig struct {
	ID          string            `json:"id" mapstructure:"id"`
	Command     string            `json:"command" mapstructure:"command"`
	Args        []string          `json:"args" mapstructure:"args"`
	Env         map[string]string `json:"env" mapstructure:"env"`
	RequiredEnv []string          `json:"required_env" mapstructure:"required_env"`
	Disabled    bool              `json:"disabled" mapstructure:"disabled"`
}

// PromptConfig points at an optional system-instruction override file.
type PromptConfig struct {
	File string `json:"file" mapstructure:"file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// TranscriptConfig controls the write-only session transcript.
type TranscriptConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// KeepaliveConfig controls periodic provider pings.
type KeepaliveConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"` // cron expression
}

// ConfigurationError reports a missing required credential. Fatal before
// any provider is started.
type ConfigurationError struct {
	Variable string
	Hint     string
}

func (e *ConfigurationError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("required environment variable %s is not set", e.Variable)
	}
	return fmt.Sprintf("required environment variable %s is not set (%s)", e.Variable, e.Hint)
}

// DefaultConfig returns the default configuration: the four stock
// providers from the original assistant, disabled until their runtimes
// are pointed at real server scripts via the config file.
func DefaultConfig() *Config {
	return &Config{
		Reasoning: ReasoningConfig{
			Provider:    "anthropic",
			Model:       "claude-3-5-sonnet-20241022",
			Temperature: 0.7,
			MaxTokens:   4096,
			MaxTurns:    10,
			MaxRetries:  3,
		},
		Providers: []ProviderConfig{
			{
				ID:      "pdf",
				Command: "python",
				Args:    []string{"${BATAK_SERVERS_DIR}/mcp-pdf-reader/pdf_server.py"},
			},
			{
				ID:      "email",
				Command: "node",
				Args:    []string{"${BATAK_SERVERS_DIR}/email-mcp/dist/index.js"},
			},
			{
				ID:      "calendar",
				Command: "node",
				Args:    []string{"${BATAK_SERVERS_DIR}/google-calendar-mcp/build/index.js"},
				Env: map[string]string{
					"GOOGLE_OAUTH_CREDENTIALS": "${GOOGLE_OAUTH_CREDENTIALS}",
				},
			},
			{
				ID:      "websearch",
				Command: "npx",
				Args:    []string{"-y", "@brightdata/mcp"},
				Env: map[string]string{
					"API_TOKEN": "${BRIGHT_DATA_API_KEY}",
					"PRO_MODE":  "true",
				},
				RequiredEnv: []string{"BRIGHT_DATA_API_KEY"},
			},
			{
				// Pizza ordering; off by default, enable once the server
				// is installed.
				ID:       "pizza",
				Command:  "node",
				Args:     []string{"${BATAK_SERVERS_DIR}/mcpizza/dist/index.js"},
				Disabled: true,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
		Transcript: TranscriptConfig{
			Enabled: true,
		},
		Keepalive: KeepaliveConfig{
			Enabled:  true,
			Schedule: "@every 1m",
		},
	}
}

// credentialVars maps a reasoning provider to the env var holding its key.
var credentialVars = map[string]struct {
	variable string
	hint     string
}{
	"anthropic": {"ANTHROPIC_API_KEY", "get one from https://console.anthropic.com"},
	"openai":    {"OPENAI_API_KEY", "get one from https://platform.openai.com"},
}

// Validate checks every required credential before anything is launched.
func (c *Config) Validate() error {
	cred, ok := credentialVars[c.Reasoning.Provider]
	if !ok {
		return fmt.Errorf("unknown reasoning provider: %s", c.Reasoning.Provider)
	}
	if os.Getenv(cred.variable) == "" {
		return &ConfigurationError{Variable: cred.variable, Hint: cred.hint}
	}

	return c.ValidateProviders()
}

// ValidateProviders checks the required environment of every enabled
// provider, without touching the reasoning credential. Commands that
// launch providers but never reason use this directly.
func (c *Config) ValidateProviders() error {
	for _, p := range c.Providers {
		if p.Disabled {
			continue
		}
		for _, name := range p.RequiredEnv {
			if os.Getenv(name) == "" {
				return &ConfigurationError{
					Variable: name,
					Hint:     fmt.Sprintf("required by the %s provider", p.ID),
				}
			}
		}
	}
	return nil
}

// ReasoningAPIKey returns the credential for the configured reasoning
// provider. Call Validate first.
func (c *Config) ReasoningAPIKey() string {
	cred, ok := credentialVars[c.Reasoning.Provider]
	if !ok {
		return ""
	}
	return os.Getenv(cred.variable)
}

// ProviderSpecs converts the enabled provider entries into launch specs,
// expanding ${VAR} references in commands, arguments, and env values.
func (c *Config) ProviderSpecs() []provider.Spec {
	specs := make([]provider.Spec, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.Disabled {
			continue
		}

		spec := provider.Spec{
			ID:      p.ID,
			Command: os.ExpandEnv(p.Command),
		}
		for _, arg := range p.Args {
			spec.Args = append(spec.Args, os.ExpandEnv(arg))
		}
		if len(p.Env) > 0 {
			spec.Env = make(map[string]string, len(p.Env))
			for k, v := range p.Env {
				spec.Env[k] = os.ExpandEnv(v)
			}
		}
		specs = append(specs, spec)
	}
	return specs
}

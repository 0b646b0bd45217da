package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Run("should use anthropic reasoning by default", func(t *testing.T) {
		cfg := DefaultConfig()

		assert.Equal(t, "anthropic", cfg.Reasoning.Provider)
		assert.NotEmpty(t, cfg.Reasoning.Model)
		assert.Equal(t, 10, cfg.Reasoning.MaxTurns)
	})

	t.Run("should include the stock providers in order", func(t *testing.T) {
		cfg := DefaultConfig()

		require.Len(t, cfg.Providers, 5)
		ids := make([]string, 0, len(cfg.Providers))
		for _, p := range cfg.Providers {
			ids = append(ids, p.ID)
		}
		assert.Equal(t, []string{"pdf", "email", "calendar", "websearch", "pizza"}, ids)
	})

	t.Run("should ship the pizza provider disabled", func(t *testing.T) {
		cfg := DefaultConfig()

		last := cfg.Providers[len(cfg.Providers)-1]
		assert.Equal(t, "pizza", last.ID)
		assert.True(t, last.Disabled)
	})
}

func TestValidate(t *testing.T) {
	t.Run("should fail when reasoning credential is missing", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		cfg := DefaultConfig()
		cfg.Providers = nil

		err := cfg.Validate()
		require.Error(t, err)

		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "ANTHROPIC_API_KEY", cfgErr.Variable)
		assert.Contains(t, cfgErr.Error(), "ANTHROPIC_API_KEY")
	})

	t.Run("should fail when an enabled provider credential is missing", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
		t.Setenv("BRIGHT_DATA_API_KEY", "")

		cfg := DefaultConfig()

		err := cfg.Validate()
		require.Error(t, err)

		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "BRIGHT_DATA_API_KEY", cfgErr.Variable)
		assert.Contains(t, cfgErr.Hint, "websearch")
	})

	t.Run("should skip credentials of disabled providers", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
		t.Setenv("BRIGHT_DATA_API_KEY", "")

		cfg := DefaultConfig()
		for i := range cfg.Providers {
			if cfg.Providers[i].ID == "websearch" {
				cfg.Providers[i].Disabled = true
			}
		}

		assert.NoError(t, cfg.Validate())
	})

	t.Run("should reject an unknown reasoning provider", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Reasoning.Provider = "gemini"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown reasoning provider")
	})

	t.Run("should check provider credentials without the reasoning key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("BRIGHT_DATA_API_KEY", "")

		cfg := DefaultConfig()

		err := cfg.ValidateProviders()
		require.Error(t, err)

		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "BRIGHT_DATA_API_KEY", cfgErr.Variable)
	})

	t.Run("should pass with every credential present", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
		t.Setenv("BRIGHT_DATA_API_KEY", "bd-test")

		cfg := DefaultConfig()
		assert.NoError(t, cfg.Validate())
	})
}

func TestReasoningAPIKey(t *testing.T) {
	t.Run("should return the provider credential", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")

		cfg := DefaultConfig()
		cfg.Reasoning.Provider = "openai"

		assert.Equal(t, "sk-test", cfg.ReasoningAPIKey())
	})
}

func TestProviderSpecs(t *testing.T) {
	t.Run("should expand environment references", func(t *testing.T) {
		t.Setenv("BATAK_SERVERS_DIR", "/opt/servers")
		t.Setenv("BRIGHT_DATA_API_KEY", "bd-secret")

		cfg := DefaultConfig()
		specs := cfg.ProviderSpecs()
		require.Len(t, specs, 4)

		assert.Equal(t, "/opt/servers/mcp-pdf-reader/pdf_server.py", specs[0].Args[0])
		assert.Equal(t, "bd-secret", specs[3].Env["API_TOKEN"])
	})

	t.Run("should omit disabled providers", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Providers[1].Disabled = true

		specs := cfg.ProviderSpecs()
		require.Len(t, specs, 3)
		assert.Equal(t, "pdf", specs[0].ID)
		assert.Equal(t, "calendar", specs[1].ID)
	})
}

func TestLoader(t *testing.T) {
	t.Run("should return defaults when config file is missing", func(t *testing.T) {
		dir, err := os.MkdirTemp("", "batak-config-test")
		require.NoError(t, err)
		t.Cleanup(func() { os.RemoveAll(dir) })

		loader := NewLoader(filepath.Join(dir, "nope.json"))
		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.Reasoning.Provider)
		assert.NotEmpty(t, cfg.DataDir)
		assert.NotEmpty(t, cfg.Logging.File)
	})

	t.Run("should overlay file values on defaults", func(t *testing.T) {
		dir, err := os.MkdirTemp("", "batak-config-test")
		require.NoError(t, err)
		t.Cleanup(func() { os.RemoveAll(dir) })

		configPath := filepath.Join(dir, "batak.json")
		content := `{
			"reasoning": {"provider": "openai", "model": "gpt-4o", "max_turns": 5},
			"data_dir": "` + dir + `",
			"providers": [
				{"id": "notes", "command": "python", "args": ["notes.py"]}
			]
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, "openai", cfg.Reasoning.Provider)
		assert.Equal(t, "gpt-4o", cfg.Reasoning.Model)
		assert.Equal(t, 5, cfg.Reasoning.MaxTurns)
		require.Len(t, cfg.Providers, 1)
		assert.Equal(t, "notes", cfg.Providers[0].ID)
		assert.Equal(t, filepath.Join(dir, "transcripts.db"), cfg.Transcript.Path)
	})

	t.Run("should reject malformed json", func(t *testing.T) {
		dir, err := os.MkdirTemp("", "batak-config-test")
		require.NoError(t, err)
		t.Cleanup(func() { os.RemoveAll(dir) })

		configPath := filepath.Join(dir, "batak.json")
		require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0o644))

		_, err = NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

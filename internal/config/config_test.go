package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("RELAY_CONFIG", "")
	for _, key := range []string{"PORT", "LLM_MODEL", "LLM_BASE_URL", "LLM_TEMPERATURE", "LLM_STREAM", "ROUTER_MODE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ProviderGroq, cfg.AI.Provider)
	assert.Equal(t, "llama3-8b-8192", cfg.AI.Model)
	assert.Equal(t, "gsk_test", cfg.AI.APIKey)
	require.NotNil(t, cfg.AI.Temperature)
	assert.InDelta(t, 0.7, *cfg.AI.Temperature, 1e-9)
	assert.True(t, cfg.AI.StreamResponse)
	assert.Equal(t, RouterKeyword, cfg.Router.Mode)
	assert.True(t, cfg.AI.Enabled())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "bedrock")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("LLM_PROVIDER", "groq")
	t.Setenv("LLM_TEMPERATURE", "warm")
	_, err = Load()
	require.Error(t, err)
}

func TestProviderKeyPrefix(t *testing.T) {
	assert.Equal(t, "gsk_", ProviderGroq.KeyPrefix())
	assert.Equal(t, "sk-", ProviderOpenAI.KeyPrefix())
	assert.Empty(t, ProviderOllama.KeyPrefix())
	assert.False(t, ProviderOllama.RequiresKey())
}

func TestResolveModel(t *testing.T) {
	cfg := AIConfig{Model: "llama3-8b-8192", Models: ProviderGroq.DefaultModels()}

	got, err := cfg.ResolveModel("")
	require.NoError(t, err)
	assert.Equal(t, "llama3-8b-8192", got)

	got, err = cfg.ResolveModel("gemma2-9b-it")
	require.NoError(t, err)
	assert.Equal(t, "gemma2-9b-it", got)

	_, err = cfg.ResolveModel("gpt-9")
	assert.ErrorIs(t, err, ErrModelNotAllowed)
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	content := `
models = ["llama-3.3-70b-versatile", "gemma2-9b-it"]
default_model = "gemma2-9b-it"

[rate_limit]
rps = 10
burst = 20

[roles.Writer]
instruction = "Write tersely."
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := &Config{AI: AIConfig{Model: "llama3-8b-8192", Models: ProviderGroq.DefaultModels()}}
	require.NoError(t, cfg.ApplyFile(path))

	assert.Equal(t, []string{"llama-3.3-70b-versatile", "gemma2-9b-it"}, cfg.AI.Models)
	assert.Equal(t, "gemma2-9b-it", cfg.AI.Model)
	assert.InDelta(t, 10.0, cfg.Limit.RPS, 1e-9)
	assert.Equal(t, 20, cfg.Limit.Burst)
	assert.Equal(t, "Write tersely.", cfg.Roles["writer"])
}

func TestApplyFileUnknownDefaultModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte(`default_model = "nope"`), 0o600))

	cfg := &Config{AI: AIConfig{Model: "llama3-8b-8192", Models: ProviderGroq.DefaultModels()}}
	assert.ErrorIs(t, cfg.ApplyFile(path), ErrModelNotAllowed)
}

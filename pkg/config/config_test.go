package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entrhq/webrunner/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Executor.PoolSize)
	assert.Equal(t, "drain", cfg.Executor.Mode)
	assert.Equal(t, 3, cfg.Executor.MaxAttempts)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser.Timeout)
	assert.Equal(t, 1920, cfg.Browser.Width)
	assert.Equal(t, 1080, cfg.Browser.Height)
	assert.Equal(t, "exponential", cfg.Retry.Strategy)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 4000, cfg.LLM.MaxTokens)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero pool", func(c *Config) { c.Executor.PoolSize = 0 }, "executor.pool_size"},
		{"unknown mode", func(c *Config) { c.Executor.Mode = "forever" }, "executor.mode"},
		{"zero attempts", func(c *Config) { c.Executor.MaxAttempts = 0 }, "executor.max_attempts"},
		{"negative task timeout", func(c *Config) { c.Executor.TaskTimeout = -time.Second }, "executor.task_timeout"},
		{"unknown strategy", func(c *Config) { c.Retry.Strategy = "random" }, "unknown backoff strategy"},
		{"negative delay", func(c *Config) { c.Retry.BaseDelay = -time.Second }, "cannot be negative"},
		{"jitter too large", func(c *Config) { c.Retry.Jitter = 1 }, "retry.jitter"},
		{"zero browser timeout", func(c *Config) { c.Browser.Timeout = 0 }, "browser.timeout"},
		{"bad viewport", func(c *Config) { c.Browser.Width = 0 }, "viewport"},
		{"zero content tokens", func(c *Config) { c.Browser.MaxContentTokens = 0 }, "max_content_tokens"},
		{"temperature out of range", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"unknown verbosity", func(c *Config) { c.Logging.Verbosity = "chatty" }, "logging.verbosity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("reports every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Executor.PoolSize = 0
		cfg.LLM.Temperature = -1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "executor.pool_size")
		assert.Contains(t, err.Error(), "llm.temperature")
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("overrides defaults", func(t *testing.T) {
		path := filepath.Join(dir, "config.yaml")
		content := `
executor:
  pool_size: 5
  mode: serve
  task_timeout: 90s
retry:
  strategy: linear
  base_delay: 500ms
  jitter: 0.2
browser:
  headless: false
  allowed_domains:
    - example.com
    - "*.test.org"
llm:
  model: gpt-4o-mini
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Executor.PoolSize)
		assert.Equal(t, "serve", cfg.Executor.Mode)
		assert.Equal(t, 90*time.Second, cfg.Executor.TaskTimeout)
		assert.Equal(t, "linear", cfg.Retry.Strategy)
		assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
		assert.InDelta(t, 0.2, cfg.Retry.Jitter, 1e-9)
		assert.False(t, cfg.Browser.Headless)
		assert.Equal(t, []string{"example.com", "*.test.org"}, cfg.Browser.AllowedDomains)
		assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)

		// untouched keys keep their defaults
		assert.Equal(t, 3, cfg.Executor.MaxAttempts)
		assert.Equal(t, 1920, cfg.Browser.Width)
		require.NoError(t, cfg.Validate())
	})

	t.Run("empty file yields defaults", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(path, nil, 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		path := filepath.Join(dir, "typo.yaml")
		require.NoError(t, os.WriteFile(path, []byte("executor:\n  pool_sise: 4\n"), 0600))

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "missing.yaml"))
		assert.True(t, os.IsNotExist(err))

		cfg, err := LoadOrDefault(filepath.Join(dir, "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Executor.PoolSize = 7
	cfg.Retry.MaxDelay = 45 * time.Second
	cfg.Browser.AllowedDomains = []string{"example.com"}
	require.NoError(t, Save(cfg, path))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("BROWSER_TIMEOUT", "45000")
	t.Setenv("BROWSER_WIDTH", "1280")
	t.Setenv("BROWSER_HEIGHT", "720")
	t.Setenv("MAX_CONCURRENT_SESSIONS", "6")
	t.Setenv("AGENT_RETRY_ATTEMPTS", "5")
	t.Setenv("AGENT_RETRY_DELAY", "2")
	t.Setenv("ALLOWED_DOMAINS", "example.com, *.test.org ,")
	t.Setenv("LLM_MODEL", "gpt-4o-mini")
	t.Setenv("LLM_TEMPERATURE", "0.5")
	t.Setenv("LLM_MAX_TOKENS", "2000")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:1234/v1")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 45*time.Second, cfg.Browser.Timeout)
	assert.Equal(t, 1280, cfg.Browser.Width)
	assert.Equal(t, 720, cfg.Browser.Height)
	assert.Equal(t, 6, cfg.Executor.PoolSize)
	assert.Equal(t, 5, cfg.Executor.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, []string{"example.com", "*.test.org"}, cfg.Browser.AllowedDomains)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.InDelta(t, 0.5, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "http://localhost:1234/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Verbosity)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv("BROWSER_HEADLESS", "sometimes")
	t.Setenv("MAX_CONCURRENT_SESSIONS", "many")
	t.Setenv("AGENT_RETRY_DELAY", "soon")

	cfg := DefaultConfig()
	err := cfg.ApplyEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROWSER_HEADLESS")
	assert.Contains(t, err.Error(), "MAX_CONCURRENT_SESSIONS")
	assert.Contains(t, err.Error(), "AGENT_RETRY_DELAY")

	// bad values leave the defaults in place
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, DefaultPoolSize, cfg.Executor.PoolSize)
}

func TestRetryPolicy(t *testing.T) {
	cfg := DefaultConfig().Retry
	cfg.Strategy = retry.StrategyFixed
	cfg.BaseDelay = 250 * time.Millisecond

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, policy.BackoffDelay(1))
	assert.Equal(t, 250*time.Millisecond, policy.BackoffDelay(3))

	cfg.Jitter = 0.5
	b, err := cfg.Backoff()
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		d := b.Next(1)
		assert.GreaterOrEqual(t, d, 125*time.Millisecond)
		assert.LessOrEqual(t, d, 375*time.Millisecond)
	}
}

func TestBuildProvider(t *testing.T) {
	_, err := BuildProvider(LLMConfig{Model: "gpt-4o"})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	p, err := BuildProvider(LLMConfig{APIKey: "sk-test", BaseURL: "http://localhost:1234/v1/", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, p.GetModel())
	assert.Equal(t, "http://localhost:1234/v1", p.GetBaseURL())
}

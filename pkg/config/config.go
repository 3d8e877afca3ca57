// Package config holds webrunner's settings.
//
// Settings are resolved in layers: DefaultConfig, then an optional YAML file
// (Load), then environment variables (ApplyEnv), then command line flags set
// by the caller. Validate is run once all layers are applied.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/entrhq/webrunner/pkg/executor"
	"github.com/entrhq/webrunner/pkg/logging"
	"github.com/entrhq/webrunner/pkg/retry"
)

// Config is the complete runtime configuration.
type Config struct {
	Executor ExecutorConfig `yaml:"executor" json:"executor"`
	Retry    RetryConfig    `yaml:"retry" json:"retry"`
	Browser  BrowserConfig  `yaml:"browser" json:"browser"`
	LLM      LLMConfig      `yaml:"llm" json:"llm"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Output   OutputConfig   `yaml:"output" json:"output"`
}

// ExecutorConfig sizes the session pool and sets per-task defaults.
type ExecutorConfig struct {
	PoolSize    int           `yaml:"pool_size" json:"pool_size"`
	Mode        string        `yaml:"mode" json:"mode"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	TaskTimeout time.Duration `yaml:"task_timeout" json:"task_timeout"`
}

// RetryConfig selects the backoff between attempts.
type RetryConfig struct {
	Strategy   string        `yaml:"strategy" json:"strategy"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier float64       `yaml:"multiplier" json:"multiplier"`
	// Jitter spreads each delay by up to this fraction, 0 disables it.
	Jitter float64 `yaml:"jitter" json:"jitter"`
}

// BrowserConfig controls the chromium sessions.
type BrowserConfig struct {
	Headless         bool          `yaml:"headless" json:"headless"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	Width            int           `yaml:"width" json:"width"`
	Height           int           `yaml:"height" json:"height"`
	AllowedDomains   []string      `yaml:"allowed_domains" json:"allowed_domains"`
	ScreenshotDir    string        `yaml:"screenshot_dir" json:"screenshot_dir"`
	MaxContentTokens int           `yaml:"max_content_tokens" json:"max_content_tokens"`
}

// LLMConfig configures the model used for extraction tasks.
type LLMConfig struct {
	Model       string  `yaml:"model" json:"model"`
	BaseURL     string  `yaml:"base_url" json:"base_url"`
	APIKey      string  `yaml:"api_key" json:"-"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

type LoggingConfig struct {
	Verbosity string `yaml:"verbosity" json:"verbosity"`
	// Dir overrides the log directory, empty means ~/.webrunner/logs.
	Dir string `yaml:"dir" json:"dir"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

type OutputConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

const (
	DefaultPoolSize         = 3
	DefaultMaxAttempts      = 3
	DefaultBrowserTimeout   = 30 * time.Second
	DefaultWidth            = 1920
	DefaultHeight           = 1080
	DefaultMaxContentTokens = 12000
	DefaultModel            = "gpt-4o"
	DefaultTemperature      = 0.1
	DefaultMaxTokens        = 4000
	DefaultServerAddr       = "127.0.0.1:8080"
	DefaultOutputDir        = "output"
	DefaultScreenshotDir    = "screenshots"
)

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Executor: ExecutorConfig{
			PoolSize:    DefaultPoolSize,
			Mode:        string(executor.ModeDrain),
			MaxAttempts: DefaultMaxAttempts,
		},
		Retry: RetryConfig{
			Strategy:   retry.StrategyExponential,
			BaseDelay:  retry.DefaultBaseDelay,
			MaxDelay:   retry.DefaultMaxDelay,
			Multiplier: retry.DefaultMultiplier,
		},
		Browser: BrowserConfig{
			Headless:         true,
			Timeout:          DefaultBrowserTimeout,
			Width:            DefaultWidth,
			Height:           DefaultHeight,
			ScreenshotDir:    DefaultScreenshotDir,
			MaxContentTokens: DefaultMaxContentTokens,
		},
		LLM: LLMConfig{
			Model:       DefaultModel,
			Temperature: DefaultTemperature,
			MaxTokens:   DefaultMaxTokens,
		},
		Logging: LoggingConfig{
			Verbosity: "info",
		},
		Server: ServerConfig{
			Addr: DefaultServerAddr,
		},
		Output: OutputConfig{
			Dir: DefaultOutputDir,
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Executor.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("executor.pool_size must be at least 1, got %d", c.Executor.PoolSize))
	}
	if _, err := executor.ParseMode(c.Executor.Mode); err != nil {
		errs = append(errs, fmt.Errorf("executor.mode: %w", err))
	}
	if c.Executor.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("executor.max_attempts must be at least 1, got %d", c.Executor.MaxAttempts))
	}
	if c.Executor.TaskTimeout < 0 {
		errs = append(errs, fmt.Errorf("executor.task_timeout cannot be negative"))
	}

	if _, err := c.Retry.Backoff(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("retry.jitter must be in [0, 1), got %g", c.Retry.Jitter))
	}

	if c.Browser.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("browser.timeout must be positive"))
	}
	if c.Browser.Width < 1 || c.Browser.Height < 1 {
		errs = append(errs, fmt.Errorf("browser viewport must be positive, got %dx%d", c.Browser.Width, c.Browser.Height))
	}
	if c.Browser.MaxContentTokens < 1 {
		errs = append(errs, fmt.Errorf("browser.max_content_tokens must be at least 1"))
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2, got %g", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens cannot be negative"))
	}

	if _, err := logging.ParseLevel(c.Logging.Verbosity); err != nil {
		errs = append(errs, fmt.Errorf("logging.verbosity: %w", err))
	}

	return errors.Join(errs...)
}

// Backoff builds the configured strategy, wrapped in jitter when enabled.
func (c RetryConfig) Backoff() (retry.Backoff, error) {
	b, err := retry.NewBackoff(c.Strategy, c.BaseDelay, c.MaxDelay, c.Multiplier)
	if err != nil {
		return nil, err
	}
	if c.Jitter > 0 {
		b = retry.JitterBackoff{Backoff: b, Fraction: c.Jitter}
	}
	return b, nil
}

// Policy returns a retry policy using Backoff.
func (c RetryConfig) Policy() (*retry.BackoffPolicy, error) {
	b, err := c.Backoff()
	if err != nil {
		return nil, err
	}
	return retry.NewPolicy(b), nil
}

// DefaultPath returns ~/.webrunner/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".webrunner", "config.yaml"), nil
}

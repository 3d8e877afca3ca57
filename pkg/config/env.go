package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv overrides settings from environment variables. Unset or empty
// variables leave the current value alone; malformed ones are reported
// together.
func (c *Config) ApplyEnv() error {
	e := envReader{}

	e.bool("BROWSER_HEADLESS", &c.Browser.Headless)
	e.duration("BROWSER_TIMEOUT", time.Millisecond, &c.Browser.Timeout)
	e.int("BROWSER_WIDTH", &c.Browser.Width)
	e.int("BROWSER_HEIGHT", &c.Browser.Height)
	e.list("ALLOWED_DOMAINS", &c.Browser.AllowedDomains)

	e.int("MAX_CONCURRENT_SESSIONS", &c.Executor.PoolSize)
	e.int("AGENT_RETRY_ATTEMPTS", &c.Executor.MaxAttempts)
	e.duration("AGENT_RETRY_DELAY", time.Second, &c.Retry.BaseDelay)

	e.string("LLM_MODEL", &c.LLM.Model)
	e.float("LLM_TEMPERATURE", &c.LLM.Temperature)
	e.int("LLM_MAX_TOKENS", &c.LLM.MaxTokens)
	e.string("OPENAI_API_KEY", &c.LLM.APIKey)
	e.string("OPENAI_BASE_URL", &c.LLM.BaseURL)

	e.string("LOG_LEVEL", &c.Logging.Verbosity)

	return errors.Join(e.errs...)
}

type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func (e *envReader) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("invalid %s=%q: %w", key, value, err))
}

func (e *envReader) string(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) bool(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = f
}

// duration reads a plain number in unit, or a Go duration string.
func (e *envReader) duration(key string, unit time.Duration, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(f * float64(unit))
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

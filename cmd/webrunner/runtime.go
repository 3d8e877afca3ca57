package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/webrunner/pkg/agent/browser"
	"github.com/entrhq/webrunner/pkg/config"
	"github.com/entrhq/webrunner/pkg/executor"
	"github.com/entrhq/webrunner/pkg/llm"
	"github.com/entrhq/webrunner/pkg/logging"
	"github.com/entrhq/webrunner/pkg/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
)

// stopTimeout bounds how long running attempts may finish after a stop
// request before they are cancelled.
const stopTimeout = 30 * time.Second

// runtime is everything a subcommand needs to execute tasks.
type runtime struct {
	cfg      *config.Config
	log      *logging.Logger
	browsers *browser.Manager
	pool     *pool.Pool
	exec     *executor.Executor
	registry *prometheus.Registry
}

func newRuntime(cmd *cli.Command, mode executor.Mode) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return buildRuntime(cfg, mode)
}

func buildRuntime(cfg *config.Config, mode executor.Mode) (*runtime, error) {
	level, err := logging.ParseLevel(cfg.Logging.Verbosity)
	if err != nil {
		return nil, err
	}
	logging.Configure(cfg.Logging.Dir, level)

	log, err := logging.NewLogger("webrunner")
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
	}

	opts := browser.Options{
		Headless:         cfg.Browser.Headless,
		Viewport:         browser.Viewport{Width: cfg.Browser.Width, Height: cfg.Browser.Height},
		Timeout:          cfg.Browser.Timeout,
		AllowedDomains:   cfg.Browser.AllowedDomains,
		ScreenshotDir:    cfg.Browser.ScreenshotDir,
		MaxContentTokens: cfg.Browser.MaxContentTokens,
		Logger:           log,
	}

	provider, err := config.BuildProvider(cfg.LLM)
	switch {
	case errors.Is(err, config.ErrNoAPIKey):
		log.Warnf("No LLM API key configured; extract tasks will fail")
	case err != nil:
		return nil, err
	default:
		opts.Provider = provider
		log.Infof("Using model %s at %s", provider.GetModel(), provider.GetBaseURL())
	}

	if tok, err := llm.NewTokenizer(cfg.LLM.Model); err != nil {
		log.Warnf("Tokenizer unavailable, estimating tokens from characters: %v", err)
	} else {
		opts.Tokenizer = tok
	}

	browsers, err := browser.NewManager(opts)
	if err != nil {
		return nil, err
	}
	if err := browsers.Initialize(); err != nil {
		return nil, err
	}

	p, err := pool.New(cfg.Executor.PoolSize, browsers.Factory())
	if err != nil {
		_ = browsers.Shutdown()
		return nil, err
	}

	policy, err := cfg.Retry.Policy()
	if err != nil {
		_ = browsers.Shutdown()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exec, err := executor.New(p,
		executor.WithMode(mode),
		executor.WithRetryPolicy(policy),
		executor.WithLogger(log),
		executor.WithMetrics(registry),
		executor.WithDefaultMaxAttempts(cfg.Executor.MaxAttempts),
		executor.WithDefaultTimeout(cfg.Executor.TaskTimeout),
	)
	if err != nil {
		_ = p.Close()
		_ = browsers.Shutdown()
		return nil, err
	}

	log.Infof("Executor ready: %s mode, %d browser session(s)", mode, cfg.Executor.PoolSize)
	return &runtime{
		cfg:      cfg,
		log:      log,
		browsers: browsers,
		pool:     p,
		exec:     exec,
		registry: registry,
	}, nil
}

// stop asks the executor to stop, giving running attempts stopTimeout to
// finish.
func (r *runtime) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return r.exec.Stop(ctx)
}

// Close releases the browser sessions and the playwright driver.
func (r *runtime) Close() error {
	err := errors.Join(r.pool.Close(), r.browsers.Shutdown())
	if err != nil {
		r.log.Warnf("Shutdown: %v", err)
	}
	r.log.Close()
	return err
}

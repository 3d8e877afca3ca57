package main

import (
	"context"
	"fmt"
	"os"

	"github.com/entrhq/webrunner/pkg/config"
	"github.com/urfave/cli/v3"
)

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "webrunner",
		Usage:   "Run browser automation tasks over a pool of headless sessions",
		Version: version,
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			newSingleCommand(),
			newBatchCommand(),
			newInteractiveCommand(),
			newServeCommand(),
			newConfigCommand(),
		},
	}
}

func defaultConfigPath() string {
	path, err := config.DefaultPath()
	if err != nil {
		return ""
	}
	return path
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to config file",
			Value:   defaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "verbosity",
			Aliases: []string{"v"},
			Usage:   "Log verbosity: quiet, normal, verbose or debug",
		},
		&cli.StringFlag{
			Name:  "log-dir",
			Usage: "Directory for log files (default ~/.webrunner/logs)",
		},
		&cli.IntFlag{
			Name:  "pool-size",
			Usage: "Number of concurrent browser sessions",
		},
		&cli.IntFlag{
			Name:  "max-attempts",
			Usage: "Attempts per task before it fails",
		},
		&cli.DurationFlag{
			Name:  "task-timeout",
			Usage: "Time limit for a single attempt of tasks without their own timeout",
		},
		&cli.BoolFlag{
			Name:  "headless",
			Usage: "Run browsers without a window",
		},
		&cli.DurationFlag{
			Name:  "browser-timeout",
			Usage: "Timeout for individual browser operations",
		},
		&cli.StringSliceFlag{
			Name:  "allowed-domain",
			Usage: "Restrict navigation to these domains (glob, repeatable)",
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "LLM model used for extraction",
		},
		&cli.StringFlag{
			Name:  "api-key",
			Usage: "OpenAI API key (or set OPENAI_API_KEY)",
		},
		&cli.StringFlag{
			Name:  "base-url",
			Usage: "OpenAI-compatible API base URL (or set OPENAI_BASE_URL)",
		},
		&cli.StringFlag{
			Name:  "screenshot-dir",
			Usage: "Directory for screenshots taken by navigate tasks",
		},
	}
}

// loadConfig layers the config file, the environment and the command line
// flags over the defaults.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadOrDefault(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if cmd.IsSet("verbosity") {
		cfg.Logging.Verbosity = cmd.String("verbosity")
	}
	if cmd.IsSet("log-dir") {
		cfg.Logging.Dir = cmd.String("log-dir")
	}
	if cmd.IsSet("pool-size") {
		cfg.Executor.PoolSize = cmd.Int("pool-size")
	}
	if cmd.IsSet("max-attempts") {
		cfg.Executor.MaxAttempts = cmd.Int("max-attempts")
	}
	if cmd.IsSet("task-timeout") {
		cfg.Executor.TaskTimeout = cmd.Duration("task-timeout")
	}
	if cmd.IsSet("headless") {
		cfg.Browser.Headless = cmd.Bool("headless")
	}
	if cmd.IsSet("browser-timeout") {
		cfg.Browser.Timeout = cmd.Duration("browser-timeout")
	}
	if cmd.IsSet("allowed-domain") {
		cfg.Browser.AllowedDomains = cmd.StringSlice("allowed-domain")
	}
	if cmd.IsSet("model") {
		cfg.LLM.Model = cmd.String("model")
	}
	if cmd.IsSet("api-key") {
		cfg.LLM.APIKey = cmd.String("api-key")
	}
	if cmd.IsSet("base-url") {
		cfg.LLM.BaseURL = cmd.String("base-url")
	}
	if cmd.IsSet("screenshot-dir") {
		cfg.Browser.ScreenshotDir = cmd.String("screenshot-dir")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func newConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect or create the config file",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write the default configuration to the config path",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
				Action: runConfigInit,
			},
			{
				Name:   "show",
				Usage:  "Print the resolved configuration",
				Action: runConfigShow,
			},
		},
		DefaultCommand: "show",
	}
}

func runConfigInit(_ context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if path == "" {
		return fmt.Errorf("no config path; use --config")
	}
	if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func runConfigShow(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.LLM.APIKey = redact(cfg.LLM.APIKey)
	return printYAML(os.Stdout, cfg)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}

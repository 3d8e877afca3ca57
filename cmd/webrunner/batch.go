package main

import (
	"context"
	"fmt"
	"os"

	"github.com/entrhq/webrunner/pkg/batch"
	"github.com/entrhq/webrunner/pkg/executor"
	"github.com/entrhq/webrunner/pkg/report"
	"github.com/entrhq/webrunner/pkg/ui/progress"
	"github.com/urfave/cli/v3"
)

func newBatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "Run every task in a JSON or YAML task file",
		ArgsUsage: "<tasks-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output-dir",
				Aliases: []string{"o"},
				Usage:   "Directory for results.json, summary.md and metrics.json",
			},
			&cli.BoolFlag{
				Name:  "no-progress",
				Usage: "Disable the live progress view",
			},
		},
		Action: runBatch,
	}
}

func runBatch(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: webrunner batch <tasks-file>")
	}

	tasks, err := batch.Load(path)
	if err != nil {
		return err
	}

	rt, err := newRuntime(cmd, executor.ModeDrain)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.exec.AddMany(tasks); err != nil {
		return err
	}
	rt.log.Infof("Loaded %d task(s) from %s", len(tasks), path)

	runErr := make(chan error, 1)
	go func() { runErr <- rt.exec.Run(ctx) }()

	if isTerminal(os.Stdout) && !cmd.Bool("no-progress") {
		interrupted, err := progress.Run(ctx, rt.exec, len(tasks), os.Stdout, func() {
			go func() {
				if err := rt.stop(); err != nil {
					rt.log.Warnf("Stop: %v", err)
				}
			}()
		})
		if err != nil {
			rt.log.Warnf("%v", err)
		}
		if interrupted {
			fmt.Println("Stopping: pending tasks are cancelled, running tasks finish...")
		}
	}

	if err := <-runErr; err != nil {
		return err
	}

	results := rt.exec.Results()
	dir := cmd.String("output-dir")
	if dir == "" {
		dir = rt.cfg.Output.Dir
	}
	paths, err := report.Write(dir, results)
	if err != nil {
		return err
	}

	summary := report.Summarize(results)
	fmt.Println(progress.Table(results))
	fmt.Printf("\n%d completed, %d failed, %d cancelled (%.1f%% success)\n",
		summary.Completed, summary.Failed, summary.Cancelled, summary.SuccessRate*100)
	fmt.Printf("Results: %s\nSummary: %s\nMetrics: %s\n", paths.Results, paths.Summary, paths.Metrics)

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d task(s) failed", summary.Failed, summary.Total)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/entrhq/webrunner/pkg/executor"
	"github.com/urfave/cli/v3"
)

func newSingleCommand() *cli.Command {
	return &cli.Command{
		Name:  "single",
		Usage: "Run one task described by flags and print its result",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "type",
				Aliases:  []string{"t"},
				Usage:    "Task type: scrape, extract, fill_form or navigate",
				Required: true,
			},
			&cli.StringFlag{Name: "id", Usage: "Task id (generated when empty)"},
			&cli.StringSliceFlag{Name: "url", Aliases: []string{"u"}, Usage: "Target URL (repeat for navigate)"},
			&cli.StringSliceFlag{Name: "selector", Aliases: []string{"s"}, Usage: "Scrape selector as name=css (repeatable)"},
			&cli.StringFlag{Name: "wait-for", Usage: "Selector to wait for before scraping"},
			&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "What to extract from the page"},
			&cli.StringFlag{Name: "format", Usage: "Extraction output format: json, text or markdown", Value: "json"},
			&cli.StringSliceFlag{Name: "field", Aliases: []string{"f"}, Usage: "Form field as selector=value (repeatable)"},
			&cli.StringFlag{Name: "submit", Usage: "Selector of the submit control"},
			&cli.StringSliceFlag{Name: "action", Aliases: []string{"a"}, Usage: "Navigate action: click:SEL, fill:SEL=VALUE, wait:DUR|SEL, screenshot[:FILE]"},
			&cli.StringFlag{Name: "priority", Usage: "low, medium, high, critical or a number"},
			&cli.IntFlag{Name: "attempts", Usage: "Attempts for this task (default from config)"},
			&cli.DurationFlag{Name: "timeout", Usage: "Time limit per attempt"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Also write the result JSON to this file"},
			&cli.BoolFlag{Name: "copy", Usage: "Copy the result JSON to the clipboard"},
		},
		Action: runSingle,
	}
}

func runSingle(ctx context.Context, cmd *cli.Command) error {
	flags := singleTaskFlags{
		Type:      cmd.String("type"),
		ID:        cmd.String("id"),
		URLs:      cmd.StringSlice("url"),
		Selectors: cmd.StringSlice("selector"),
		WaitFor:   cmd.String("wait-for"),
		Prompt:    cmd.String("prompt"),
		Format:    cmd.String("format"),
		Fields:    cmd.StringSlice("field"),
		Submit:    cmd.String("submit"),
		Actions:   cmd.StringSlice("action"),
		Priority:  cmd.String("priority"),
		Attempts:  cmd.Int("attempts"),
		Timeout:   cmd.Duration("timeout"),
	}
	d, err := flags.descriptor()
	if err != nil {
		return err
	}
	t, err := d.Task()
	if err != nil {
		return err
	}

	rt, err := newRuntime(cmd, executor.ModeDrain)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.exec.Add(t); err != nil {
		return err
	}
	rt.log.Infof("Running %s task %s", t.Kind(), t.ID)
	if err := rt.exec.Run(ctx); err != nil {
		return err
	}

	res, ok := rt.exec.Result(t.ID)
	if !ok {
		return fmt.Errorf("task %s was interrupted before it finished", t.ID)
	}

	out, err := marshalJSON(res)
	if err != nil {
		return err
	}
	if err := printHighlighted(os.Stdout, out, "json"); err != nil {
		return err
	}
	if path := cmd.String("output"); path != "" {
		if err := writeFile(path, out); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Result saved to %s\n", path)
	}
	if cmd.Bool("copy") {
		if err := copyToClipboard(out); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not copy result: %v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, "Result copied to clipboard")
		}
	}

	if !res.Succeeded() {
		return fmt.Errorf("task %s %s after %d attempt(s): %s", res.TaskID, res.Status, res.AttemptsUsed, res.Error)
	}
	return nil
}

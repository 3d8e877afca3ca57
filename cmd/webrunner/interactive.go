package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/entrhq/webrunner/pkg/executor"
	"github.com/entrhq/webrunner/pkg/task"
	"github.com/urfave/cli/v3"
)

func newInteractiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "interactive",
		Usage: "Prompt for pages and questions, extracting answers one at a time",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Usage: "Extraction output format: json, text or markdown", Value: "text"},
		},
		Action: runInteractive,
	}
}

func runInteractive(ctx context.Context, cmd *cli.Command) error {
	format := task.Format(cmd.String("format"))

	rt, err := newRuntime(cmd, executor.ModeServe)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- rt.exec.Run(ctx) }()

	err = promptLoop(ctx, os.Stdin, os.Stdout, func(ctx context.Context, url, prompt string) (task.Result, error) {
		t, err := task.New("", &task.Extract{URL: url, Prompt: prompt, Format: format})
		if err != nil {
			return task.Result{}, err
		}
		if err := rt.exec.Add(t); err != nil {
			return task.Result{}, err
		}
		return rt.exec.Wait(ctx, t.ID)
	})

	if stopErr := rt.stop(); stopErr != nil {
		rt.log.Warnf("Stop: %v", stopErr)
	}
	if fault := <-runErr; fault != nil {
		return fault
	}
	return err
}

type extractFunc func(ctx context.Context, url, prompt string) (task.Result, error)

func isExit(s string) bool {
	switch strings.ToLower(s) {
	case "exit", "quit", "q":
		return true
	}
	return false
}

// promptLoop reads a URL and a question per round and prints the answer.
// It returns nil when the user quits or input ends.
func promptLoop(ctx context.Context, in io.Reader, out io.Writer, extract extractFunc) error {
	scanner := bufio.NewScanner(in)
	read := func(label string) (string, bool) {
		fmt.Fprint(out, label)
		if !scanner.Scan() {
			return "", false
		}
		return strings.TrimSpace(scanner.Text()), true
	}

	fmt.Fprintln(out, "Interactive mode. Type 'exit', 'quit' or 'q' to leave.")
	for ctx.Err() == nil {
		url, ok := read("\nURL: ")
		if !ok {
			return scanner.Err()
		}
		if url == "" {
			continue
		}
		if isExit(url) {
			answer, ok := read("Do you really want to quit? [y/N] ")
			if !ok {
				return scanner.Err()
			}
			if a := strings.ToLower(answer); a == "y" || a == "yes" {
				fmt.Fprintln(out, "Exiting interactive mode")
				return nil
			}
			continue
		}

		prompt, ok := read("What to extract: ")
		if !ok {
			return scanner.Err()
		}
		if prompt == "" {
			fmt.Fprintln(out, "A question is required.")
			continue
		}

		res, err := extract(ctx, url, prompt)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		if !res.Succeeded() {
			fmt.Fprintf(out, "Task %s %s: %s\n", res.TaskID, res.Status, res.Error)
			continue
		}
		if s, ok := res.Data.(string); ok {
			if err := printHighlighted(out, s+"\n", "markdown"); err != nil {
				return err
			}
			continue
		}
		if err := printJSON(out, res.Data); err != nil {
			return err
		}
	}
	return nil
}

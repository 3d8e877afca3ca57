package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/entrhq/webrunner/pkg/executor"
	"github.com/entrhq/webrunner/pkg/server"
	"github.com/urfave/cli/v3"
)

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Keep an executor running and accept tasks over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default from config, 127.0.0.1:8080)",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	rt, err := newRuntime(cmd, executor.ModeServe)
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := rt.cfg.Server.Addr
	if cmd.IsSet("addr") {
		addr = cmd.String("addr")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- rt.exec.Run(ctx)
		cancel()
	}()

	srv := server.New(rt.exec, server.WithGatherer(rt.registry), server.WithLogger(rt.log))
	fmt.Printf("Serving on http://%s (POST /tasks, GET /results, GET /status, GET /metrics)\n", addr)
	serveErr := srv.ListenAndServe(ctx, addr)

	cancel()
	if err := rt.stop(); err != nil {
		rt.log.Warnf("Stop: %v", err)
	}
	return errors.Join(serveErr, <-runErr)
}

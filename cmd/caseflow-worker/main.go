package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/cmd"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "caseflow-worker",
		Usage:                 "Run workflows for domain events and expire stale approvals",
		EnableShellCompletion: true,
		Flags:                 append(cmd.CommonFlags(), cmd.ExpiryFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("worker")
			logger.InfoContext(ctx, "Initializing caseflow worker")

			runtime, err := cmd.NewRuntime(ctx, logger, "caseflow-worker", cmd.EngineConfigFromCommand(command))
			if err != nil {
				return err
			}

			defer func() {
				if err := runtime.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			worker := NewWorker(
				logger,
				runtime.Engine,
				runtime.EventBus,
				command.Duration("approval-ttl"),
				command.String("expiry-schedule"),
			)

			if err := worker.Start(ctx); err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan
			logger.InfoContext(ctx, "Shutting down worker...")

			cancel()
			worker.Stop()

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

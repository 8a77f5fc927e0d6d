package main

import (
	"context"
	"os"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/cmd"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "caseflow-api",
		Usage:                 "Manage workflow definitions and accept domain events",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunAPICommand(),
			NewValidateCommand(),
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func RunAPICommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the API server",
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		}, cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing caseflow API")

			runtime, err := cmd.NewRuntime(ctx, logger, "caseflow-api", cmd.EngineConfigFromCommand(command))
			if err != nil {
				return err
			}

			defer func() {
				if err := runtime.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			api := NewAPI(logger, runtime.Persistence, runtime.Engine, runtime.Registry)

			return api.Start(command.Int("port"))
		},
	}
}

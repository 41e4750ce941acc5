package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "flowwatch",
		EnableShellCompletion: true,
		Usage:                 "Track workflow executions against a backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "Base URL of the workflow execution API",
				Value:   "http://localhost:5000",
				Sources: cli.EnvVars("FLOWWATCH_API_URL"),
			},
			&cli.StringFlag{
				Name:     "token",
				Usage:    "Bearer credential for the API and update channel",
				Required: true,
				Sources:  cli.EnvVars("FLOWWATCH_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			NewListCommand(),
			NewGetCommand(),
			NewCancelCommand(),
			NewRetryCommand(),
			NewDeleteCommand(),
			NewLogsCommand(),
			NewWatchCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

package main

import (
	"context"
	"os"
	"time"

	"github.com/flowwatch/flowwatch/pkg/cmd"
	"github.com/flowwatch/flowwatch/pkg/log"
	"github.com/flowwatch/flowwatch/pkg/web"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 5000

func main() {
	logger := log.WithModule("sim")

	command := &cli.Command{
		Name:                  "flowwatch-sim",
		Usage:                 "Serve the execution API and emit lifecycle events",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "data-url",
				Usage:   "Storage URL for execution records (file://path)",
				Value:   "file://./data",
				Sources: cli.EnvVars("FLOWWATCH_DATA_URL"),
			},
			&cli.StringFlag{
				Name:    "channel",
				Usage:   "Update channel provider for lifecycle events (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("FLOWWATCH_CHANNEL"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token required on API requests (empty disables auth)",
				Sources: cli.EnvVars("FLOWWATCH_TOKEN"),
			},
			&cli.DurationFlag{
				Name:    "replay-interval",
				Usage:   "Interval between scripted execution replays (0 disables)",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("FLOWWATCH_REPLAY_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing flowwatch simulator")

			store := cmd.NewPersistence(command.String("data-url"))

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			publisher := cmd.NewUpdatePublisher(command.String("channel"), logger)

			defer func() {
				if err := publisher.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close publisher", "error", err)
				}
			}()

			if interval := command.Duration("replay-interval"); interval > 0 {
				replay := newReplayer(store, web.NewWatermillPublisher(publisher), logger)
				go replay.Run(ctx, interval)
			}

			api := NewAPI(logger, store, publisher, command.String("token"))

			return api.Start(command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

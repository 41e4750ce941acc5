package main

import (
	"context"
	"fmt"
	"time"

	"github.com/flowwatch/flowwatch/pkg/client"
	"github.com/flowwatch/flowwatch/pkg/cmd"
	"github.com/flowwatch/flowwatch/pkg/log"
	"github.com/flowwatch/flowwatch/pkg/notify"
	"github.com/flowwatch/flowwatch/pkg/store"
	"github.com/flowwatch/flowwatch/pkg/tracker"
	cli "github.com/urfave/cli/v3"
)

const watchPollInterval = 500 * time.Millisecond

func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Aliases:   []string{"w"},
		Usage:     "Follow an execution live until it finishes",
		ArgsUsage: "<execution-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "channel",
				Usage:   "Update channel provider (kafka, gochannel, or a redis:// URL)",
				Value:   "kafka",
				Sources: cli.EnvVars("FLOWWATCH_CHANNEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			id, err := requireExecutionID(command)
			if err != nil {
				return err
			}

			log.Setup(command.String("log-level"))
			logger := log.WithModule("flowwatch-watch").With("execution_id", id)

			apiClient := client.New(
				command.String("api-url"),
				command.String("token"),
				logger,
			)

			executionStore := store.NewStore(logger)

			updateChannel := cmd.NewUpdateChannel(command.String("channel"), logger)

			controller := tracker.NewTracker(
				executionStore,
				updateChannel,
				apiClient,
				notify.NewSlogNotifier(logger),
				logger,
			)

			if err := controller.Start(ctx); err != nil {
				return err
			}

			defer func() {
				controller.Untrack(id)

				if err := controller.Close(); err != nil {
					logger.Error("failed to close tracker", "error", err)
				}
			}()

			if err := updateChannel.Connect(ctx, command.String("token")); err != nil {
				return fmt.Errorf("connect update channel: %w", err)
			}

			// Seed the store so the first projection reflects reality.
			execution, err := apiClient.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("fetch execution: %w", err)
			}

			executionStore.StartLive(execution)

			if !controller.Track(id) {
				return fmt.Errorf("could not subscribe to execution %s: channel %s",
					id, updateChannel.State())
			}

			return followProjection(ctx, controller, id)
		},
	}
}

// followProjection prints the projection whenever it changes and returns
// once the execution reaches a terminal status.
func followProjection(ctx context.Context, controller *tracker.Tracker, id string) error {
	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	var last tracker.Projection

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			projection := controller.Status(id)
			if projection != last {
				printProjection(projection)

				last = projection
			}

			if projection.Status.IsTerminal() {
				return nil
			}
		}
	}
}

func printProjection(projection tracker.Projection) {
	line := fmt.Sprintf("status=%s", projection.Status)

	if projection.ProgressKnown {
		line += fmt.Sprintf(" progress=%.0f%%", projection.Progress*100)
	}

	if projection.CurrentStepLabel != "" {
		line += " step=" + projection.CurrentStepLabel
	}

	if projection.LastError != "" {
		line += " error=" + projection.LastError
	}

	fmt.Println(line)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/flowwatch/flowwatch/pkg/client"
	"github.com/flowwatch/flowwatch/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func newClient(command *cli.Command) *client.Client {
	log.Setup(command.String("log-level"))

	return client.New(
		command.String("api-url"),
		command.String("token"),
		log.WithModule("flowwatch"),
	)
}

func requireExecutionID(command *cli.Command) (string, error) {
	id := command.Args().First()
	if id == "" {
		return "", errors.New("an execution id argument is required")
	}

	return id, nil
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}

func NewListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List executions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "workflow-id", Usage: "Filter by workflow id"},
			&cli.StringFlag{Name: "status", Usage: "Filter by execution status"},
			&cli.IntFlag{Name: "page", Usage: "Page number", Value: 1},
			&cli.IntFlag{Name: "limit", Usage: "Page size", Value: 20},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			list, err := newClient(command).List(ctx, client.ListOptions{
				WorkflowID: command.String("workflow-id"),
				Status:     command.String("status"),
				Page:       int(command.Int("page")),
				Limit:      int(command.Int("limit")),
			})
			if err != nil {
				return err
			}

			return printJSON(list)
		},
	}
}

func NewGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one execution with its steps",
		ArgsUsage: "<execution-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id, err := requireExecutionID(command)
			if err != nil {
				return err
			}

			execution, err := newClient(command).Get(ctx, id)
			if err != nil {
				return err
			}

			return printJSON(execution)
		},
	}
}

func NewCancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a running execution",
		ArgsUsage: "<execution-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id, err := requireExecutionID(command)
			if err != nil {
				return err
			}

			if err := newClient(command).Cancel(ctx, id); err != nil {
				return err
			}

			fmt.Println("cancelled", id)

			return nil
		},
	}
}

func NewRetryCommand() *cli.Command {
	return &cli.Command{
		Name:      "retry",
		Usage:     "Re-run the workflow of a past execution",
		ArgsUsage: "<execution-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id, err := requireExecutionID(command)
			if err != nil {
				return err
			}

			execution, err := newClient(command).Retry(ctx, id)
			if err != nil {
				return err
			}

			return printJSON(execution)
		},
	}
}

func NewDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete an execution from the history",
		ArgsUsage: "<execution-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id, err := requireExecutionID(command)
			if err != nil {
				return err
			}

			if err := newClient(command).Delete(ctx, id); err != nil {
				return err
			}

			fmt.Println("deleted", id)

			return nil
		},
	}
}

func NewLogsCommand() *cli.Command {
	return &cli.Command{
		Name:      "logs",
		Usage:     "Show an execution's logs",
		ArgsUsage: "<execution-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id, err := requireExecutionID(command)
			if err != nil {
				return err
			}

			logs, err := newClient(command).Logs(ctx, id)
			if err != nil {
				return err
			}

			for _, entry := range logs {
				fmt.Printf("%s [%s] %s\n",
					entry.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
					entry.Level,
					entry.Message,
				)
			}

			return nil
		},
	}
}

// Package persistence provides the storage abstraction for execution
// records and their logs.
package persistence

import (
	"context"

	"github.com/flowwatch/flowwatch/pkg/models"
)

type Persistence interface {
	Executions(ctx context.Context) ([]*models.Execution, error)
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	SaveExecution(ctx context.Context, execution *models.Execution) error
	DeleteExecution(ctx context.Context, id string) error

	ExecutionLogs(ctx context.Context, id string) ([]models.LogEntry, error)
	AppendExecutionLog(ctx context.Context, id string, entry models.LogEntry) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

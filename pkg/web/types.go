// Package web provides the HTTP surface of the execution backend
// simulator: the REST endpoints the tracking client consumes.
package web

import "github.com/flowwatch/flowwatch/pkg/models"

// ListExecutionsResponse is the paginated execution list body.
type ListExecutionsResponse struct {
	Executions []*models.Execution `json:"executions"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	TotalPages int                 `json:"total_pages"`
}

// LogsResponse wraps an execution's log lines.
type LogsResponse struct {
	Logs []models.LogEntry `json:"logs"`
}

// ListExecutionsRequest carries the parsed query parameters of the list
// endpoint. Page and Limit are pre-filled with defaults before validation,
// so zero is a client error, never a passthrough: both feed pagination
// arithmetic that must not see values below one.
type ListExecutionsRequest struct {
	WorkflowID string `validate:"omitempty"`
	Status     string `validate:"omitempty,oneof=pending running completed failed cancelled"`
	Page       int    `validate:"min=1"`
	Limit      int    `validate:"min=1,max=100"`
}

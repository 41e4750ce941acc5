// Package models defines the core domain models for workflow execution tracking.
package models

import "time"

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further status transition is permitted.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// Valid reports whether the status is one of the known execution statuses.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// Execution represents one run of a workflow as reported by the backend.
type Execution struct {
	ID           string          `json:"id"            validate:"required"`
	WorkflowID   string          `json:"workflow_id"   validate:"required"`
	WorkflowName string          `json:"workflow_name"`
	Status       ExecutionStatus `json:"status"        validate:"required"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	DurationMs   int64           `json:"duration_ms,omitempty"`
	Steps        []*ExecutionStep `json:"steps"`
	Input        any             `json:"input,omitempty"`
	Output       any             `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	UserID       string          `json:"user_id"`
}

// Step returns the step with the given id, or nil if the execution has no such step.
func (e *Execution) Step(stepID string) *ExecutionStep {
	for _, step := range e.Steps {
		if step.ID == stepID {
			return step
		}
	}

	return nil
}

// RecomputeDuration derives DurationMs from StartedAt/CompletedAt when both are set.
func (e *Execution) RecomputeDuration() {
	if e.CompletedAt != nil && !e.StartedAt.IsZero() {
		e.DurationMs = e.CompletedAt.Sub(e.StartedAt).Milliseconds()
	}
}

// Clone returns a deep copy of the execution. Step slices are copied so
// callers can never reach back into shared state.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}

	clone := *e

	if e.Steps != nil {
		clone.Steps = make([]*ExecutionStep, len(e.Steps))
		for i, step := range e.Steps {
			stepCopy := *step
			clone.Steps[i] = &stepCopy
		}
	}

	return &clone
}

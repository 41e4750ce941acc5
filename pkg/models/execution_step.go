package models

import "time"

// StepStatus represents the lifecycle state of a single node's execution
// within a run. "skipped" is a step-only terminal state and never appears
// at the execution level.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// IsTerminal reports whether the step has finished in any form.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// Valid reports whether the status is one of the known step statuses.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusRunning, StepStatusCompleted,
		StepStatusFailed, StepStatusSkipped:
		return true
	default:
		return false
	}
}

// ExecutionStep represents one node's execution within an Execution. Step
// order in Execution.Steps is execution order as reported by the backend,
// not arrival order of updates.
type ExecutionStep struct {
	ID          string     `json:"id"       validate:"required"`
	NodeID      string     `json:"node_id"  validate:"required"`
	NodeName    string     `json:"node_name"`
	Status      StepStatus `json:"status"   validate:"required"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
	Input       any        `json:"input,omitempty"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
}

package models

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionStatus_IsTerminal(t *testing.T) {
	testCases := []struct {
		status   ExecutionStatus
		terminal bool
	}{
		{ExecutionStatusPending, false},
		{ExecutionStatusRunning, false},
		{ExecutionStatusCompleted, true},
		{ExecutionStatusFailed, true},
		{ExecutionStatusCancelled, true},
	}

	for _, tc := range testCases {
		t.Run(string(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.terminal, tc.status.IsTerminal())
		})
	}
}

func TestExecutionStatus_Valid(t *testing.T) {
	assert.True(t, ExecutionStatusRunning.Valid())
	assert.True(t, ExecutionStatusCancelled.Valid())
	assert.False(t, ExecutionStatus("paused").Valid())
	assert.False(t, ExecutionStatus("").Valid())
}

func TestStepStatus_SkippedIsTerminal(t *testing.T) {
	assert.True(t, StepStatusSkipped.IsTerminal())
	assert.True(t, StepStatusSkipped.Valid())

	// skipped never exists at the execution level
	assert.False(t, ExecutionStatus("skipped").Valid())
}

func TestExecution_Validation(t *testing.T) {
	validate := validator.New()

	execution := &Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
	}

	assert.NoError(t, validate.Struct(execution))

	execution.WorkflowID = ""
	assert.Error(t, validate.Struct(execution))
}

func TestExecution_Step(t *testing.T) {
	execution := &Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     ExecutionStatusRunning,
		Steps: []*ExecutionStep{
			{ID: "step-1", NodeID: "node-a", Status: StepStatusCompleted},
			{ID: "step-2", NodeID: "node-b", Status: StepStatusRunning},
		},
	}

	step := execution.Step("step-2")
	require.NotNil(t, step)
	assert.Equal(t, "node-b", step.NodeID)

	assert.Nil(t, execution.Step("step-404"))
}

func TestExecution_RecomputeDuration(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(2500 * time.Millisecond)

	execution := &Execution{
		ID:          "exec-1",
		WorkflowID:  "wf-1",
		Status:      ExecutionStatusCompleted,
		StartedAt:   started,
		CompletedAt: &completed,
	}

	execution.RecomputeDuration()
	assert.Equal(t, int64(2500), execution.DurationMs)
}

func TestExecution_RecomputeDuration_NoCompletion(t *testing.T) {
	execution := &Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
	}

	execution.RecomputeDuration()
	assert.Zero(t, execution.DurationMs)
}

func TestExecution_Clone_IsDeep(t *testing.T) {
	execution := &Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     ExecutionStatusRunning,
		Steps: []*ExecutionStep{
			{ID: "step-1", NodeID: "node-a", Status: StepStatusRunning},
		},
	}

	clone := execution.Clone()
	require.NotNil(t, clone)

	clone.Status = ExecutionStatusCompleted
	clone.Steps[0].Status = StepStatusCompleted

	assert.Equal(t, ExecutionStatusRunning, execution.Status)
	assert.Equal(t, StepStatusRunning, execution.Steps[0].Status)
}

func TestExecution_Clone_Nil(t *testing.T) {
	var execution *Execution

	assert.Nil(t, execution.Clone())
}

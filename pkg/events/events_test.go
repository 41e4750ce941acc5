package events

import (
	"testing"

	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	event := NewBaseEvent(ExecutionUpdateEvent)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, ExecutionUpdateEvent, event.Type)
	assert.False(t, event.Timestamp.IsZero())
	assert.NotNil(t, event.Metadata)
}

func TestExecutionUpdate_Validate(t *testing.T) {
	event := ExecutionUpdate{
		BaseEvent:   NewBaseEvent(ExecutionUpdateEvent),
		ExecutionID: "exec-1",
		Status:      models.ExecutionStatusRunning,
	}

	require.NoError(t, event.Validate())
	assert.Equal(t, ExecutionUpdateEvent, event.GetType())

	event.ExecutionID = ""
	assert.ErrorIs(t, event.Validate(), ErrMissingCorrelationKey)
}

func TestStepUpdate_Validate(t *testing.T) {
	event := StepUpdate{
		BaseEvent:   NewBaseEvent(StepUpdateEvent),
		ExecutionID: "exec-1",
		StepID:      "step-1",
		Status:      models.StepStatusRunning,
	}

	require.NoError(t, event.Validate())

	event.StepID = ""
	assert.ErrorIs(t, event.Validate(), ErrMissingCorrelationKey)
}

func TestExecutionStarted_Validate(t *testing.T) {
	event := ExecutionStarted{
		BaseEvent: NewBaseEvent(ExecutionStartedEvent),
		Execution: models.Execution{
			ID:         "exec-1",
			WorkflowID: "wf-1",
			Status:     models.ExecutionStatusPending,
		},
	}

	require.NoError(t, event.Validate())

	event.Execution.ID = ""
	assert.ErrorIs(t, event.Validate(), ErrMissingCorrelationKey)
}

func TestValidateInbound(t *testing.T) {
	testCases := []struct {
		name      string
		eventType EventType
		payload   string
		wantErr   bool
	}{
		{
			name:      "valid execution update",
			eventType: ExecutionUpdateEvent,
			payload:   `{"execution_id":"exec-1","status":"running","progress":0.5}`,
		},
		{
			name:      "execution update with unknown status",
			eventType: ExecutionUpdateEvent,
			payload:   `{"execution_id":"exec-1","status":"paused"}`,
			wantErr:   true,
		},
		{
			name:      "execution update missing id",
			eventType: ExecutionUpdateEvent,
			payload:   `{"status":"running"}`,
			wantErr:   true,
		},
		{
			name:      "progress out of range",
			eventType: ExecutionUpdateEvent,
			payload:   `{"execution_id":"exec-1","status":"running","progress":1.5}`,
			wantErr:   true,
		},
		{
			name:      "valid step update",
			eventType: StepUpdateEvent,
			payload:   `{"execution_id":"exec-1","step_id":"step-1","status":"skipped"}`,
		},
		{
			name:      "step update missing step id",
			eventType: StepUpdateEvent,
			payload:   `{"execution_id":"exec-1","status":"running"}`,
			wantErr:   true,
		},
		{
			name:      "completed with non-terminal status",
			eventType: ExecutionCompletedEvent,
			payload:   `{"execution_id":"exec-1","status":"running"}`,
			wantErr:   true,
		},
		{
			name:      "valid errored event",
			eventType: ExecutionErroredEvent,
			payload:   `{"execution_id":"exec-1","error":"boom"}`,
		},
		{
			name:      "started event without snapshot",
			eventType: ExecutionStartedEvent,
			payload:   `{}`,
			wantErr:   true,
		},
		{
			name:      "unknown event type passes through",
			eventType: EventType("execution:unknown"),
			payload:   `{"anything":true}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateInbound(tc.eventType, []byte(tc.payload))
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

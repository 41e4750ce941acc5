package tracker

import "github.com/flowwatch/flowwatch/pkg/models"

// Projection is the simplified per-execution view exposed to display
// consumers. Fields hold the last known value and never regress on a
// partial update: an event carrying only an error leaves the status as it
// was.
type Projection struct {
	ExecutionID      string
	Status           models.ExecutionStatus
	Progress         float64 // 0..1, meaningful only when ProgressKnown
	ProgressKnown    bool
	CurrentStepLabel string
	LastError        string
}

func newProjection(executionID string) *Projection {
	return &Projection{
		ExecutionID: executionID,
		Status:      models.ExecutionStatusPending,
	}
}

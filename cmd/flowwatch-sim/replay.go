package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowwatch/flowwatch/pkg/channel"
	"github.com/flowwatch/flowwatch/pkg/events"
	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/flowwatch/flowwatch/pkg/persistence"
	"github.com/flowwatch/flowwatch/pkg/web"
	"github.com/google/uuid"
)

const replayStepDelay = 2 * time.Second

var replayScript = []struct {
	nodeID   string
	nodeName string
}{
	{"fetch-orders", "Fetch Orders"},
	{"transform-payload", "Transform Payload"},
	{"send-notification", "Send Notification"},
}

// replayer emits a scripted execution on a fixed interval so a connected
// client always has live traffic to track.
type replayer struct {
	store     persistence.Persistence
	publisher web.UpdatePublisher
	logger    *slog.Logger
}

func newReplayer(store persistence.Persistence, publisher web.UpdatePublisher, logger *slog.Logger) *replayer {
	return &replayer{
		store:     store,
		publisher: publisher,
		logger:    logger.With("module", "replay"),
	}
}

// Run replays executions until the context is cancelled.
func (r *replayer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.replayOne(ctx); err != nil {
				r.logger.ErrorContext(ctx, "replay run failed", "error", err)
			}
		}
	}
}

func (r *replayer) replayOne(ctx context.Context) error {
	execution := &models.Execution{
		ID:           uuid.New().String(),
		WorkflowID:   "wf-demo",
		WorkflowName: "Order Notification Demo",
		Status:       models.ExecutionStatusRunning,
		StartedAt:    time.Now().UTC(),
		Steps:        make([]*models.ExecutionStep, 0, len(replayScript)),
	}

	for _, scripted := range replayScript {
		execution.Steps = append(execution.Steps, &models.ExecutionStep{
			ID:       uuid.New().String(),
			NodeID:   scripted.nodeID,
			NodeName: scripted.nodeName,
			Status:   models.StepStatusPending,
		})
	}

	if err := r.store.SaveExecution(ctx, execution); err != nil {
		return fmt.Errorf("save replay execution: %w", err)
	}

	r.logger.InfoContext(ctx, "replaying execution", "execution_id", execution.ID)

	r.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent),
		Execution: *execution,
	})

	total := len(execution.Steps)

	for i, step := range execution.Steps {
		if err := r.runStep(ctx, execution, step); err != nil {
			return err
		}

		progress := float64(i+1) / float64(total)

		r.publish(ctx, execution.ID, events.ExecutionUpdate{
			BaseEvent:   events.NewBaseEvent(events.ExecutionUpdateEvent),
			ExecutionID: execution.ID,
			Status:      models.ExecutionStatusRunning,
			Progress:    &progress,
			CurrentStep: step.NodeName,
		})
	}

	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &now
	execution.RecomputeDuration()

	if err := r.store.SaveExecution(ctx, execution); err != nil {
		return fmt.Errorf("save completed execution: %w", err)
	}

	r.publish(ctx, execution.ID, events.ExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent),
		ExecutionID: execution.ID,
		Status:      models.ExecutionStatusCompleted,
		CompletedAt: &now,
	})

	return nil
}

func (r *replayer) runStep(ctx context.Context, execution *models.Execution, step *models.ExecutionStep) error {
	started := time.Now().UTC()
	step.Status = models.StepStatusRunning
	step.StartedAt = &started

	r.publish(ctx, execution.ID, events.StepUpdate{
		BaseEvent:   events.NewBaseEvent(events.StepUpdateEvent),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		Status:      models.StepStatusRunning,
		StartedAt:   &started,
	})

	if err := r.store.AppendExecutionLog(ctx, execution.ID, models.LogEntry{
		Timestamp: started,
		Level:     models.LogLevelInfo,
		Message:   step.NodeName + " started",
		NodeID:    step.NodeID,
		StepID:    step.ID,
	}); err != nil {
		return fmt.Errorf("append step log: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(replayStepDelay):
	}

	completed := time.Now().UTC()
	step.Status = models.StepStatusCompleted
	step.CompletedAt = &completed
	step.DurationMs = completed.Sub(started).Milliseconds()

	if err := r.store.SaveExecution(ctx, execution); err != nil {
		return fmt.Errorf("save step progress: %w", err)
	}

	r.publish(ctx, execution.ID, events.StepUpdate{
		BaseEvent:   events.NewBaseEvent(events.StepUpdateEvent),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		Status:      models.StepStatusCompleted,
		CompletedAt: &completed,
		DurationMs:  step.DurationMs,
	})

	return nil
}

func (r *replayer) publish(ctx context.Context, executionID string, event channel.Event) {
	if err := r.publisher.PublishUpdate(ctx, executionID, event); err != nil {
		r.logger.ErrorContext(ctx, "failed to publish replay event",
			"event_type", event.GetType(), "execution_id", executionID, "error", err)
	}
}

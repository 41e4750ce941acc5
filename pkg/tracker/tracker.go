// Package tracker binds the update channel and the execution store into
// the behavior a caller wants: track an execution live, project a
// simplified status, clean up automatically.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowwatch/flowwatch/pkg/channel"
	"github.com/flowwatch/flowwatch/pkg/client"
	"github.com/flowwatch/flowwatch/pkg/events"
	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/flowwatch/flowwatch/pkg/notify"
	"github.com/flowwatch/flowwatch/pkg/store"
	"github.com/robfig/cron/v3"
)

// resyncSchedule is the periodic reconciliation sweep. It covers event
// loss across reconnect boundaries for long-lived sessions; the channel
// guarantees at-most-once delivery only within a single connection.
const resyncSchedule = "@every 30s"

// Tracker is the execution lifecycle controller.
type Tracker struct {
	store    *store.Store
	channel  channel.UpdateChannel
	client   *client.Client
	notifier notify.Notifier
	logger   *slog.Logger
	cron     *cron.Cron

	mu          sync.Mutex
	tracked     map[string]struct{}
	projections map[string]*Projection
	started     bool
}

// NewTracker wires the controller. The API client is optional; without it
// resync-on-reconnect degrades to resubscribe-only.
func NewTracker(
	executionStore *store.Store,
	updateChannel channel.UpdateChannel,
	apiClient *client.Client,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}

	if notifier == nil {
		notifier = notify.NopNotifier{}
	}

	return &Tracker{
		store:       executionStore,
		channel:     updateChannel,
		client:      apiClient,
		notifier:    notifier,
		logger:      logger.With("module", "tracker"),
		cron:        cron.New(),
		tracked:     make(map[string]struct{}),
		projections: make(map[string]*Projection),
	}
}

// Start registers the event handlers on the channel, arms the
// resync-on-reconnect hook and starts the reconciliation sweep. Idempotent.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()

	if t.started {
		t.mu.Unlock()

		return nil
	}

	t.started = true
	t.mu.Unlock()

	t.channel.Handle(events.ExecutionUpdateEvent, t.handleExecutionUpdate)
	t.channel.Handle(events.StepUpdateEvent, t.handleStepUpdate)
	t.channel.Handle(events.ExecutionStartedEvent, t.handleExecutionStarted)
	t.channel.Handle(events.ExecutionCompletedEvent, t.handleExecutionCompleted)
	t.channel.Handle(events.ExecutionErroredEvent, t.handleExecutionErrored)

	t.channel.OnConnect(func(ctx context.Context) {
		t.resubscribeAll()
		t.Resync(ctx)
	})

	if _, err := t.cron.AddFunc(resyncSchedule, func() {
		t.Resync(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule resync sweep: %w", err)
	}

	t.cron.Start()

	t.logger.InfoContext(ctx, "tracker started")

	return nil
}

// Close unregisters the handlers, stops the sweep and closes the channel
// exactly once.
func (t *Tracker) Close() error {
	t.cron.Stop()

	t.channel.Unhandle(events.ExecutionUpdateEvent)
	t.channel.Unhandle(events.StepUpdateEvent)
	t.channel.Unhandle(events.ExecutionStartedEvent)
	t.channel.Unhandle(events.ExecutionCompletedEvent)
	t.channel.Unhandle(events.ExecutionErroredEvent)

	return t.channel.Close()
}

// Track subscribes to live updates for the execution. Returns false when
// the channel is not ready; the caller is expected to retry or surface a
// warning, never to assume success.
func (t *Tracker) Track(executionID string) bool {
	if !t.channel.Subscribe(executionID) {
		t.notifier.Notify(notify.LevelWarning,
			"live updates unavailable for execution "+executionID+": not connected")

		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.tracked[executionID] = struct{}{}

	if _, ok := t.projections[executionID]; !ok {
		projection := newProjection(executionID)

		if execution := t.store.Get(executionID); execution != nil {
			projection.Status = execution.Status
			projection.LastError = execution.Error
		}

		t.projections[executionID] = projection
	}

	return true
}

// Untrack stops live updates for the execution. Always succeeds locally
// regardless of channel state. The store's live entry is removed too:
// with the subscription gone no further event will ever evict it.
func (t *Tracker) Untrack(executionID string) {
	t.channel.Unsubscribe(executionID)
	t.store.StopLive(executionID)

	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.tracked, executionID)
}

// Status returns the current projection for the execution. Unknown ids
// yield a pending projection.
func (t *Tracker) Status(executionID string) Projection {
	t.mu.Lock()
	defer t.mu.Unlock()

	if projection, ok := t.projections[executionID]; ok {
		return *projection
	}

	return *newProjection(executionID)
}

// Tracked returns the ids currently tracked live.
func (t *Tracker) Tracked() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.tracked))
	for id := range t.tracked {
		ids = append(ids, id)
	}

	return ids
}

// Resync refetches every tracked, non-terminal execution and folds the
// result into the store. Covers events lost while disconnected.
func (t *Tracker) Resync(ctx context.Context) {
	if t.client == nil {
		return
	}

	for _, id := range t.Tracked() {
		if execution := t.store.Get(id); execution != nil && execution.Status.IsTerminal() {
			continue
		}

		fetched, err := t.client.Get(ctx, id)
		if err != nil {
			t.logger.WarnContext(ctx, "resync fetch failed", "execution_id", id, "error", err)

			continue
		}

		t.foldFetched(fetched)
	}
}

func (t *Tracker) resubscribeAll() {
	for _, id := range t.Tracked() {
		if !t.channel.Subscribe(id) {
			t.logger.Warn("resubscribe failed", "execution_id", id)
		}
	}
}

// foldFetched merges a full backend snapshot through the store operations
// so terminal-state monotonicity still governs.
func (t *Tracker) foldFetched(fetched *models.Execution) {
	if t.store.Get(fetched.ID) == nil {
		t.store.StartLive(fetched)
	} else {
		status := fetched.Status
		patch := store.ExecutionPatch{
			Status:      &status,
			CompletedAt: fetched.CompletedAt,
			Output:      fetched.Output,
		}

		if fetched.Error != "" {
			errorMessage := fetched.Error
			patch.Error = &errorMessage
		}

		t.store.ApplyExecutionUpdate(fetched.ID, patch)

		for _, step := range fetched.Steps {
			stepStatus := step.Status
			duration := step.DurationMs

			t.store.ApplyStepUpdate(fetched.ID, step.ID, store.StepPatch{
				Status:      &stepStatus,
				StartedAt:   step.StartedAt,
				CompletedAt: step.CompletedAt,
				DurationMs:  &duration,
				Output:      step.Output,
			})
		}
	}

	t.project(fetched.ID, func(projection *Projection) {
		if projection.Status.IsTerminal() {
			return
		}

		projection.Status = fetched.Status

		if fetched.Error != "" {
			projection.LastError = fetched.Error
		}
	})

	if fetched.Status.IsTerminal() {
		t.store.StopLive(fetched.ID)
	}
}

func (t *Tracker) handleExecutionUpdate(ctx context.Context, raw any) error {
	event, ok := raw.(*events.ExecutionUpdate)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for execution update", raw)
	}

	patch := store.ExecutionPatch{
		CompletedAt: event.CompletedAt,
		Output:      event.Output,
	}

	if event.Status.Valid() {
		status := event.Status
		patch.Status = &status
	}

	if event.Error != "" {
		errorMessage := event.Error
		patch.Error = &errorMessage
	}

	t.store.ApplyExecutionUpdate(event.ExecutionID, patch)

	t.project(event.ExecutionID, func(projection *Projection) {
		if projection.Status.IsTerminal() {
			return
		}

		if event.Status.Valid() {
			projection.Status = event.Status
		}

		if event.Progress != nil {
			projection.Progress = *event.Progress
			projection.ProgressKnown = true
		}

		if event.CurrentStep != "" {
			projection.CurrentStepLabel = event.CurrentStep
		}

		if event.Error != "" {
			projection.LastError = event.Error
		}
	})

	if event.Status.IsTerminal() {
		t.store.StopLive(event.ExecutionID)
	}

	return nil
}

func (t *Tracker) handleStepUpdate(ctx context.Context, raw any) error {
	event, ok := raw.(*events.StepUpdate)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for step update", raw)
	}

	patch := store.StepPatch{
		StartedAt:   event.StartedAt,
		CompletedAt: event.CompletedAt,
		Output:      event.Output,
	}

	if event.Status.Valid() {
		status := event.Status
		patch.Status = &status
	}

	if event.DurationMs > 0 {
		duration := event.DurationMs
		patch.DurationMs = &duration
	}

	if event.Error != "" {
		errorMessage := event.Error
		patch.Error = &errorMessage
	}

	t.store.ApplyStepUpdate(event.ExecutionID, event.StepID, patch)

	return nil
}

func (t *Tracker) handleExecutionStarted(ctx context.Context, raw any) error {
	event, ok := raw.(*events.ExecutionStarted)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for execution started", raw)
	}

	// A replayed started event must not revive a finished execution.
	if existing := t.store.Get(event.Execution.ID); existing != nil && existing.Status.IsTerminal() {
		return nil
	}

	t.store.StartLive(&event.Execution)

	t.project(event.Execution.ID, func(projection *Projection) {
		if projection.Status.IsTerminal() {
			return
		}

		projection.Status = event.Execution.Status
	})

	return nil
}

func (t *Tracker) handleExecutionCompleted(ctx context.Context, raw any) error {
	event, ok := raw.(*events.ExecutionCompleted)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for execution completed", raw)
	}

	patch := store.ExecutionPatch{
		CompletedAt: event.CompletedAt,
		Output:      event.Output,
	}

	if event.Status.Valid() {
		status := event.Status
		patch.Status = &status
	}

	t.store.ApplyExecutionUpdate(event.ExecutionID, patch)
	t.store.StopLive(event.ExecutionID)

	t.project(event.ExecutionID, func(projection *Projection) {
		if projection.Status.IsTerminal() {
			return
		}

		if event.Status.Valid() {
			projection.Status = event.Status
		}
	})

	return nil
}

func (t *Tracker) handleExecutionErrored(ctx context.Context, raw any) error {
	event, ok := raw.(*events.ExecutionErrored)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for execution error", raw)
	}

	status := models.ExecutionStatusFailed

	completedAt := event.CompletedAt
	if completedAt == nil {
		now := time.Now().UTC()
		completedAt = &now
	}

	patch := store.ExecutionPatch{
		Status:      &status,
		CompletedAt: completedAt,
	}

	if event.Error != "" {
		errorMessage := event.Error
		patch.Error = &errorMessage
	}

	t.store.ApplyExecutionUpdate(event.ExecutionID, patch)
	t.store.StopLive(event.ExecutionID)

	t.project(event.ExecutionID, func(projection *Projection) {
		if projection.Status.IsTerminal() {
			return
		}

		projection.Status = status

		if event.Error != "" {
			projection.LastError = event.Error
		}
	})

	return nil
}

// project applies a mutation to the execution's projection, creating it
// from last-known store state on first touch.
func (t *Tracker) project(executionID string, apply func(projection *Projection)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	projection, ok := t.projections[executionID]
	if !ok {
		projection = newProjection(executionID)
		t.projections[executionID] = projection
	}

	apply(projection)
}

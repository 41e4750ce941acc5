// Package store holds the authoritative client-side copy of executions:
// the historical list, the current execution of interest, and the live
// subset tracked in real time. Internally there is a single normalized
// table keyed by execution id; the three views are computed over it, so
// an update applied once is visible everywhere.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flowwatch/flowwatch/pkg/models"
)

// ExecutionPatch is a partial execution update. Nil fields are left
// unchanged on merge.
type ExecutionPatch struct {
	Status      *models.ExecutionStatus
	CompletedAt *time.Time
	Error       *string
	Output      any
}

// StepPatch is a partial step update. Nil fields are left unchanged.
type StepPatch struct {
	Status      *models.StepStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMs  *int64
	Output      any
	Error       *string
}

// Store is safe for concurrent use. All operations are total: absent ids
// are no-ops, nothing returns an error and nothing panics.
type Store struct {
	mu sync.RWMutex

	executions map[string]*models.Execution
	order      []string // historical list, newest first
	currentID  string
	live       map[string]struct{}

	loading   bool
	lastError string

	logger *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		executions: make(map[string]*models.Execution),
		live:       make(map[string]struct{}),
		logger:     logger.With("module", "store"),
	}
}

// UpsertExecutions replaces the historical list wholesale with the result
// of a fetch-all. No merge semantics: the list reflects exactly what the
// backend returned. Table entries referenced only by the old list are
// evicted; the current execution and live entries survive.
func (s *Store) UpsertExecutions(list []*models.Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = make([]string, 0, len(list))
	for _, execution := range list {
		if execution == nil || execution.ID == "" {
			continue
		}

		s.executions[execution.ID] = execution.Clone()
		s.order = append(s.order, execution.ID)
	}

	s.evictUnreferenced()
}

// AddExecution prepends a newly created execution to the historical list.
func (s *Store) AddExecution(execution *models.Execution) {
	if execution == nil || execution.ID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inOrder(execution.ID) {
		s.order = append([]string{execution.ID}, s.order...)
	}

	s.executions[execution.ID] = execution.Clone()
}

// SetCurrent sets the execution currently viewed. Passing nil clears it.
// The historical list and live subset are unaffected.
func (s *Store) SetCurrent(execution *models.Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if execution == nil {
		s.currentID = ""
		s.evictUnreferenced()

		return
	}

	s.executions[execution.ID] = execution.Clone()
	s.currentID = execution.ID
}

// ApplyExecutionUpdate merges patch fields into the execution matching id.
// Unknown ids are silently ignored. Once an execution is terminal the
// update is dropped entirely: status, completion time and payloads are
// frozen (terminal-state monotonicity).
func (s *Store) ApplyExecutionUpdate(id string, patch ExecutionPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[id]
	if !ok {
		s.logger.Debug("dropping update for unknown execution", "execution_id", id)

		return
	}

	if execution.Status.IsTerminal() {
		s.logger.Debug("dropping update for terminal execution",
			"execution_id", id, "status", execution.Status)

		return
	}

	if patch.Status != nil && patch.Status.Valid() {
		execution.Status = *patch.Status
	}

	if patch.Error != nil {
		execution.Error = *patch.Error
	}

	if patch.Output != nil {
		execution.Output = patch.Output
	}

	s.normalizeCompletion(execution, patch.CompletedAt)
}

// ApplyStepUpdate merges patch fields into the step matching stepId within
// the execution matching executionId. Updates referencing an unknown
// execution are dropped and logged; an unknown step id is a no-op (steps
// are never inserted through this path). Step detail is still recorded
// after the execution reaches a terminal status, for audit.
func (s *Store) ApplyStepUpdate(executionID, stepID string, patch StepPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		s.logger.Warn("dropping step update for unknown execution",
			"execution_id", executionID, "step_id", stepID)

		return
	}

	step := execution.Step(stepID)
	if step == nil {
		return
	}

	if patch.Status != nil && patch.Status.Valid() {
		step.Status = *patch.Status
	}

	if patch.StartedAt != nil {
		step.StartedAt = patch.StartedAt
	}

	if patch.DurationMs != nil {
		step.DurationMs = *patch.DurationMs
	}

	if patch.Output != nil {
		step.Output = patch.Output
	}

	if patch.Error != nil {
		step.Error = *patch.Error
	}

	// A step completion time implies a terminal step status.
	if patch.CompletedAt != nil && step.Status.IsTerminal() {
		step.CompletedAt = patch.CompletedAt

		if step.StartedAt != nil && step.DurationMs == 0 {
			step.DurationMs = step.CompletedAt.Sub(*step.StartedAt).Milliseconds()
		}
	}
}

// StartLive inserts or overwrites the live-tracking entry for the execution.
func (s *Store) StartLive(execution *models.Execution) {
	if execution == nil || execution.ID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions[execution.ID] = execution.Clone()
	s.live[execution.ID] = struct{}{}
}

// StopLive removes the execution from the live subset. Idempotent.
func (s *Store) StopLive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.live, id)
	s.evictUnreferenced()
}

// Cancel sets status=cancelled and a completion time on the execution.
// Cancelling an already-terminal execution is a successful no-op.
func (s *Store) Cancel(id string) {
	now := time.Now().UTC()
	status := models.ExecutionStatusCancelled

	s.ApplyExecutionUpdate(id, ExecutionPatch{
		Status:      &status,
		CompletedAt: &now,
	})
}

// Executions returns the historical list, newest first. Entries are copies.
func (s *Store) Executions() []*models.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.Execution, 0, len(s.order))
	for _, id := range s.order {
		if execution, ok := s.executions[id]; ok {
			list = append(list, execution.Clone())
		}
	}

	return list
}

// Current returns a copy of the execution currently viewed, or nil.
func (s *Store) Current() *models.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.currentID == "" {
		return nil
	}

	return s.executions[s.currentID].Clone()
}

// Get returns a copy of the execution with the given id, or nil.
func (s *Store) Get(id string) *models.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	execution, ok := s.executions[id]
	if !ok {
		return nil
	}

	return execution.Clone()
}

// Live returns copies of the executions currently tracked in real time.
func (s *Store) Live() map[string]*models.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := make(map[string]*models.Execution, len(s.live))

	for id := range s.live {
		if execution, ok := s.executions[id]; ok {
			live[id] = execution.Clone()
		}
	}

	return live
}

// IsLive reports whether the execution is in the live subset.
func (s *Store) IsLive(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.live[id]

	return ok
}

// ClearExecutions empties the historical list.
func (s *Store) ClearExecutions() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.evictUnreferenced()
}

// ClearLive empties the live subset.
func (s *Store) ClearLive() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.live = make(map[string]struct{})
	s.evictUnreferenced()
}

// SetLoading records whether a bulk fetch is in flight.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loading = loading
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loading
}

// SetError records a human-readable store-level error for the UI.
func (s *Store) SetError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastError = message
}

func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastError
}

func (s *Store) ClearError() {
	s.SetError("")
}

// normalizeCompletion keeps the invariant: completedAt is set iff the
// status is terminal. Caller holds the lock.
func (s *Store) normalizeCompletion(execution *models.Execution, completedAt *time.Time) {
	if execution.Status.IsTerminal() {
		switch {
		case completedAt != nil:
			execution.CompletedAt = completedAt
		case execution.CompletedAt == nil:
			now := time.Now().UTC()
			execution.CompletedAt = &now
		}

		execution.RecomputeDuration()

		return
	}

	execution.CompletedAt = nil
	execution.DurationMs = 0
}

// inOrder reports whether id is already in the historical list. Caller
// holds the lock.
func (s *Store) inOrder(id string) bool {
	for _, existing := range s.order {
		if existing == id {
			return true
		}
	}

	return false
}

// evictUnreferenced drops table entries no view references anymore.
// Caller holds the lock.
func (s *Store) evictUnreferenced() {
	referenced := make(map[string]struct{}, len(s.order)+len(s.live)+1)

	for _, id := range s.order {
		referenced[id] = struct{}{}
	}

	for id := range s.live {
		referenced[id] = struct{}{}
	}

	if s.currentID != "" {
		referenced[s.currentID] = struct{}{}
	}

	for id := range s.executions {
		if _, ok := referenced[id]; !ok {
			delete(s.executions, id)
		}
	}
}

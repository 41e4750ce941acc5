// Package events defines the event types exchanged over the real-time
// execution update channel.
package events

import (
	"errors"
	"time"

	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Channel topics.
const UpdatesTopic = "flowwatch.execution.updates" // Inbound execution/step updates
const ControlTopic = "flowwatch.execution.control" // Outbound subscription intents

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"
const CredentialMetadataKey = "authorization"

const (
	// Inbound events delivered by the backend.
	ExecutionUpdateEvent    EventType = "execution:update"
	StepUpdateEvent         EventType = "execution:step"
	ExecutionStartedEvent   EventType = "execution:started"
	ExecutionCompletedEvent EventType = "execution:completed"
	ExecutionErroredEvent   EventType = "execution:error"

	// Outbound subscription intents.
	SubscribeExecutionEvent   EventType = "subscribe:execution"
	UnsubscribeExecutionEvent EventType = "unsubscribe:execution"
)

// ErrMissingCorrelationKey marks an inbound event without an execution id.
// Such events cannot be routed and are dropped at the channel boundary.
var ErrMissingCorrelationKey = errors.New("event missing execution id correlation key")

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ExecutionUpdate carries a partial execution-level status change. Absent
// fields mean "unchanged"; the store merges only what is present.
type ExecutionUpdate struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	Progress    *float64               `json:"progress,omitempty"`
	CurrentStep string                 `json:"current_step,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Output      any                    `json:"output,omitempty"`
}

func (e ExecutionUpdate) GetType() EventType {
	return ExecutionUpdateEvent
}

func (e ExecutionUpdate) Validate() error {
	if e.ExecutionID == "" {
		return ErrMissingCorrelationKey
	}

	return nil
}

// StepUpdate carries a partial step-level status change within an execution.
type StepUpdate struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	StepID      string            `json:"step_id"`
	Status      models.StepStatus `json:"status"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
	Output      any               `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func (e StepUpdate) GetType() EventType {
	return StepUpdateEvent
}

func (e StepUpdate) Validate() error {
	if e.ExecutionID == "" || e.StepID == "" {
		return ErrMissingCorrelationKey
	}

	return nil
}

// ExecutionStarted announces a new run. It carries the full execution
// snapshot so the client can begin live tracking without a fetch.
type ExecutionStarted struct {
	BaseEvent

	Execution models.Execution `json:"execution"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

func (e ExecutionStarted) Validate() error {
	if e.Execution.ID == "" {
		return ErrMissingCorrelationKey
	}

	return nil
}

// ExecutionCompleted announces that a run reached a terminal status.
type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Output      any                    `json:"output,omitempty"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

func (e ExecutionCompleted) Validate() error {
	if e.ExecutionID == "" {
		return ErrMissingCorrelationKey
	}

	return nil
}

// ExecutionErrored announces a run failure.
type ExecutionErrored struct {
	BaseEvent

	ExecutionID string     `json:"execution_id"`
	Error       string     `json:"error"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (e ExecutionErrored) GetType() EventType {
	return ExecutionErroredEvent
}

func (e ExecutionErrored) Validate() error {
	if e.ExecutionID == "" {
		return ErrMissingCorrelationKey
	}

	return nil
}

// SubscribeExecution is the outbound intent registering interest in one
// execution's updates.
type SubscribeExecution struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
}

func (e SubscribeExecution) GetType() EventType {
	return SubscribeExecutionEvent
}

// UnsubscribeExecution is the inverse of SubscribeExecution. Safe to send
// for an execution that was never subscribed.
type UnsubscribeExecution struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
}

func (e UnsubscribeExecution) GetType() EventType {
	return UnsubscribeExecutionEvent
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

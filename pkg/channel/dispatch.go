package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flowwatch/flowwatch/pkg/events"
	"github.com/flowwatch/flowwatch/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
)

// dispatcher holds the handler registry and the subscription set shared by
// every channel implementation, and turns raw inbound payloads into
// handler calls.
type dispatcher struct {
	mu            sync.RWMutex
	handlers      map[events.EventType]Handler
	subscriptions map[string]struct{}

	logger *slog.Logger
	tracer trace.Tracer
}

func newDispatcher(logger *slog.Logger, tracer trace.Tracer) *dispatcher {
	return &dispatcher{
		handlers:      make(map[events.EventType]Handler),
		subscriptions: make(map[string]struct{}),
		logger:        logger,
		tracer:        tracer,
	}
}

func (d *dispatcher) handle(eventType events.EventType, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = handler
}

func (d *dispatcher) unhandle(eventType events.EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.handlers, eventType)
}

func (d *dispatcher) addSubscription(executionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.subscriptions[executionID] = struct{}{}
}

func (d *dispatcher) removeSubscription(executionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.subscriptions, executionID)
}

func (d *dispatcher) subscribedIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.subscriptions))
	for id := range d.subscriptions {
		ids = append(ids, id)
	}

	return ids
}

func (d *dispatcher) subscribed(executionID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.subscriptions[executionID]

	return ok
}

// deliver validates, decodes and routes one inbound payload. All failure
// modes are logged and swallowed: a malformed or unexpected event must
// never corrupt the stream.
func (d *dispatcher) deliver(ctx context.Context, eventType events.EventType, payload []byte) {
	d.mu.RLock()
	handler, registered := d.handlers[eventType]
	d.mu.RUnlock()

	if !registered {
		return
	}

	spanCtx, span := otelhelper.StartSpan(ctx, d.tracer, "channel.deliver",
		otelhelper.EventTypeAttr(string(eventType)),
	)
	defer span.End()

	if err := events.ValidateInbound(eventType, payload); err != nil {
		d.logger.Warn("dropping malformed event", "event_type", eventType, "error", err)
		otelhelper.SetError(span, err)

		return
	}

	event, err := decodeInbound(eventType, payload)
	if err != nil {
		d.logger.Warn("failed to decode event", "event_type", eventType, "error", err)
		otelhelper.SetError(span, err)

		return
	}

	executionID := correlationID(event)
	if executionID == "" {
		d.logger.Warn("dropping event without correlation key", "event_type", eventType)
		otelhelper.SetError(span, events.ErrMissingCorrelationKey)

		return
	}

	// Started events announce executions the client could not have
	// subscribed to yet; everything else is filtered by subscription.
	if eventType != events.ExecutionStartedEvent && !d.subscribed(executionID) {
		d.logger.Debug("dropping event for unsubscribed execution",
			"event_type", eventType, "execution_id", executionID)

		return
	}

	span.SetAttributes(otelhelper.ExecutionAttr(executionID))

	if err := handler(spanCtx, event); err != nil {
		d.logger.Error("event handler failed",
			"event_type", eventType, "execution_id", executionID, "error", err)
		otelhelper.SetError(span, err)
	}
}

func decodeInbound(eventType events.EventType, payload []byte) (any, error) {
	var event any

	switch eventType {
	case events.ExecutionUpdateEvent:
		event = &events.ExecutionUpdate{}
	case events.StepUpdateEvent:
		event = &events.StepUpdate{}
	case events.ExecutionStartedEvent:
		event = &events.ExecutionStarted{}
	case events.ExecutionCompletedEvent:
		event = &events.ExecutionCompleted{}
	case events.ExecutionErroredEvent:
		event = &events.ExecutionErrored{}
	default:
		return nil, fmt.Errorf("unknown inbound event type: %s", eventType)
	}

	if err := json.Unmarshal(payload, event); err != nil {
		return nil, err
	}

	return event, nil
}

func correlationID(event any) string {
	switch e := event.(type) {
	case *events.ExecutionUpdate:
		return e.ExecutionID
	case *events.StepUpdate:
		return e.ExecutionID
	case *events.ExecutionStarted:
		return e.Execution.ID
	case *events.ExecutionCompleted:
		return e.ExecutionID
	case *events.ExecutionErrored:
		return e.ExecutionID
	default:
		return ""
	}
}

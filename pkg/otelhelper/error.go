package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span failed and records err. Optional attributes
// (execution id, event type) are attached to the span itself so trace
// queries over the flowwatch.* keys also match failed spans.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ExecutionAttr builds the correlation attribute used on every span that
// touches a single execution.
func ExecutionAttr(executionID string) attribute.KeyValue {
	return attribute.String(ExecutionIDKey, executionID)
}

// EventTypeAttr builds the event classification attribute for
// event-processing spans.
func EventTypeAttr(eventType string) attribute.KeyValue {
	return attribute.String(EventTypeKey, eventType)
}

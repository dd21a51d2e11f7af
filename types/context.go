package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID    contextKey = "trace_id"
	keyRunID      contextKey = "run_id"
	keyWorkflowID contextKey = "workflow_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithRunID adds an execution run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts the execution run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithWorkflowID adds a workflow ID to context.
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, keyWorkflowID, workflowID)
}

// WorkflowID extracts the workflow ID from context.
func WorkflowID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyWorkflowID).(string)
	return v, ok && v != ""
}

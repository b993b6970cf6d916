package logging

import (
	"context"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

type requestCtxKey struct{}
type taskCtxKey struct{}
type loggerCtxKey struct{}

// Task identifies the work a log line belongs to.
type Task struct {
	TaskID string
	UserID string
}

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if task := TaskFromContext(ctx); task != nil {
		if task.TaskID != "" {
			fields = append(fields, zap.String("task.id", task.TaskID))
		}
		if task.UserID != "" {
			fields = append(fields, zap.String("task.user", task.UserID))
		}
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// ValidateID checks an identifier before it is attached to a context.
func ValidateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", name)
	}
	return nil
}

// WithTask attaches task identity to ctx. Invalid ids are dropped.
func WithTask(ctx context.Context, taskID, userID string) context.Context {
	task := &Task{}
	if ValidateID(taskID, "task id") == nil {
		task.TaskID = taskID
	}
	if ValidateID(userID, "user id") == nil {
		task.UserID = userID
	}
	if task.TaskID == "" && task.UserID == "" {
		return ctx
	}
	return context.WithValue(ctx, taskCtxKey{}, task)
}

// TaskFromContext returns the task identity, or nil.
func TaskFromContext(ctx context.Context) *Task {
	if t, ok := ctx.Value(taskCtxKey{}).(*Task); ok {
		return t
	}
	return nil
}

// WithRequestID attaches a request id to ctx.
// Panics if requestID is invalid; callers pass generated ids.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := ValidateID(requestID, "request id"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}

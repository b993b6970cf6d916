package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrorReporter records unexpected dispatch failures on traces and logs.
//
// If the context carries a recording span the error is attached to it;
// otherwise a short "dispatch.exception" span is emitted so the failure is
// still visible in the trace backend.
type ErrorReporter struct {
	tracer trace.Tracer
	logger *zap.Logger
}

// NewErrorReporter creates a reporter. A nil logger discards log output.
func NewErrorReporter(tracer trace.Tracer, logger *zap.Logger) *ErrorReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorReporter{tracer: tracer, logger: logger}
}

// CaptureException records err.
func (r *ErrorReporter) CaptureException(ctx context.Context, err error) {
	if err == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		_, span = r.tracer.Start(ctx, "dispatch.exception")
		defer span.End()
	}
	span.RecordError(err, trace.WithStackTrace(true))
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.Bool("dispatch.exception", true))

	fields := []zap.Field{zap.Error(err)}
	if sc := span.SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()))
	}
	r.logger.Error("dispatch exception captured", fields...)
}

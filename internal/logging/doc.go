// Package logging provides structured logging on top of zap.
//
// Logger adds context-aware methods that pull correlation fields out of
// the context: OpenTelemetry trace and span ids, the task and user a
// request is dispatching for, and the HTTP request id.
//
//	cfg, err := logging.FromAppConfig(appCfg.Logging, "dispatchd")
//	logger, err := logging.NewLogger(cfg, otelLogProvider)
//	defer logger.Sync()
//
//	ctx = logging.WithTask(ctx, execCtx.TaskID, execCtx.UserID)
//	logger.Info(ctx, "decision requested", zap.String("capability", c))
//
// Library packages take a plain *zap.Logger; pass logger.Underlying().
//
// Output goes to stdout through a RedactingEncoder and optionally to the
// OTel log pipeline through the otelzap bridge. Entries below error level
// are sampled; errors never are.
//
// TestLogger records entries in memory for assertions.
package logging

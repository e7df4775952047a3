// Package logging provides structured logging with OpenTelemetry integration.
//
// The Logger wraps zap with:
//   - output to stdout or stderr, optionally teed into OpenTelemetry logs
//   - context field injection (trace_id, span_id, request.id, client.id)
//   - encoder-level secret redaction by field name and value pattern
//   - level-aware sampling where Error and above are never sampled
//
// Pipeline components accept a plain *zap.Logger; pass Logger.Underlying()
// or a Named child of it.
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithClientID(ctx, "lexsy")
//	logger.Info(ctx, "question answered", zap.Int("citations", 3))
//
// Use NewTestLogger in tests to assert on what was logged.
package logging

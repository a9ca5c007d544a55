// Package logging provides structured logging for mediasearch.
//
// Logger wraps Zap with ctx-aware methods that append correlation fields
// (trace_id, span_id, tenant_id, tenant_slug, caller_id, request_id) taken
// from the request context. Output goes to stdout, to OpenTelemetry through
// the otelzap bridge, or both. A redacting encoder masks sensitive keys,
// bearer tokens, raw JWTs and presigned URL signatures before they are written.
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	ctx = logging.WithRequest(ctx, logging.Request{TenantID: "t1"})
//	logger.Info(ctx, "asset ingested", zap.String("asset_id", id))
//
// Authorization and validation rejections go through Logger.Security so they
// can be routed to a separate sink.
package logging

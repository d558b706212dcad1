// Package logger builds *slog.Logger instances for the service.
//
// New applies functional options (format, level, output, static attributes)
// and wraps the resulting handler in a decorator that pulls request-scoped
// values out of the context on every record, so code that logs with
// InfoContext / ErrorContext gets request_id, account_id and fingerprint
// without threading them through call sites.
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "tokengate"),
//		logger.WithContextExtractors(requestid.LoggerExtractor(), logger.AccountIDExtractor()),
//	)
//	log.InfoContext(ctx, "usage committed", logger.AccountID(id), slog.Uint64("total", total))
//
// The attribute helpers in attr.go keep key names consistent across packages.
package logger

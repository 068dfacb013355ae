// Package logger builds log/slog loggers for tiersync services.
//
// New and NewFromConfig pick output format and level per environment and
// attach the service name to every record. Context extractors add
// request-scoped values such as the request id at log time:
//
//	log := logger.NewFromConfig(cfg,
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "subscription updated",
//		logger.UserID(userID),
//		logger.Tier(tier),
//	)
//
// The attribute helpers in attr.go keep key names consistent across packages.
// Helpers that take an identifier return an empty Attr for empty input, which
// slog drops.
package logger

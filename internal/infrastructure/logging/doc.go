// Package logging builds the host's zap logger: JSON output in production,
// colored console output in development. Components receive a *zap.Logger
// and name it after themselves.
//
//	logger := logging.NewDefault()
//	logger.Info("server starting", zap.String("port", "8000"))
package logging

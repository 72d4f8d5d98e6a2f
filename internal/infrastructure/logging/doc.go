// Package logging provides structured logging for the Lithium store.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	conn, err := database.Open(ctx, cfg.Database.Path, database.DefaultOpenFlags,
//	    database.WithLogger(logger.Component("database")))
//
// SQL text is logged at debug level. Bound values are never logged.
package logging

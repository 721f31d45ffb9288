// Package logging provides structured logging for nodewatch.
//
// This package wraps Go's standard log/slog package to provide consistent,
// structured logging across the supervisor.
//
// # Features
//
//   - Text output for operators (default), JSON for machine parsing
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text, json
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("child started", "pid", pid)
//	logger.Warn("rotation failed", "error", err)
package logging

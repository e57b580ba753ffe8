// Package logging provides structured logging for yeelightd.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error, none (or minimal, complete)
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// The LOGGER_LEVEL environment variable is honoured as well.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("lamp discovered", "lamp_id", id, "ip", ip)
//	logger.Error("command failed", "error", err)
package logging

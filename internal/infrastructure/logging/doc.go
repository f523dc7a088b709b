// Package logging provides structured logging for vlxmqttha.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the bridge.
//
// # Features
//
//   - Text output for interactive use, JSON for machine parsing
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Optional append-only log file
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
//	  file: ""           # optional log file path
//
// # Usage
//
//	logger, err := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting bridge", "broker", "tcp://broker:1883")
//	logger.Error("failed to connect", "error", err)
//
// Never log secrets: the KLF200 password and broker credentials must not
// appear in log output.
package logging

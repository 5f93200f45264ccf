// Package logging provides structured logging for tsfeed.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the collector.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connected", "endpoint", cfg.Store.Endpoint)
//	logger.Error("write failed", "error", err)
//
// # Security
//
// Never log the store API key, MQTT password or InfluxDB token.
package logging

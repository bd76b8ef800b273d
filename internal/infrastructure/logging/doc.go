// Package logging provides structured logging for halirc.
//
// This package wraps Go's standard log/slog package. Every entry carries
// service and version fields; components add their own name with
// Component.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text, json
//	  output: "stdout"   # stdout, stderr
//
// Sent and received device data, routed events and queue checks are
// logged at debug level.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("hal").Info("started", "triggers", 12)
package logging

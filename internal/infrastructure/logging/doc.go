// Package logging provides structured logging for the Tuya bridge.
//
// It wraps the standard log/slog package so every entry carries the
// service and version fields.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, or a file path
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	bridge.SetLogger(logger.Component("tuya"))
//
// Never log secrets, tokens or passwords.
package logging

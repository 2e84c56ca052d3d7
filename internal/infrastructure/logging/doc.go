// Package logging provides structured logging for grill-link.
//
// It wraps log/slog with JSON or text output, level filtering, default
// service/version fields and masking of secret-bearing attributes.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("session").Info("connected", "devices", 2)
//
// Never log credentials or signed URLs under other keys; the redaction hook
// only recognises the fixed key names.
package logging

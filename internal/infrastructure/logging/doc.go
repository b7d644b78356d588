// Package logging provides structured logging for the overlay service.
//
// It wraps log/slog so every component logs through the same handler with
// the service and version fields attached.
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Attributes whose key contains token, password, authorization or secret
// are written as [REDACTED].
package logging

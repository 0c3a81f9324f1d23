// Package logging provides structured logging for the flexlink engine.
//
// This package wraps zap logger with convenience functions for common logging
// patterns used throughout the engine. It provides both general logging
// functions and specialized functions for protocol-specific logging needs.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (protocol lines, hex dumps of stream packets)
//   - Info: Normal operations (connections, discovery events, state changes)
//   - Warn: Non-fatal issues (malformed lines, unmatched responses)
//   - Error: Fatal issues (socket bind failures, session teardown)
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("Radio connected",
//	    zap.String("remote_addr", "192.168.1.100:4992"),
//	    zap.String("serial", "0621-1104-0001-0123"),
//	)
//
// # Silent by Default
//
// When neither an explicit level nor the FLEXLINK_LOG_LEVEL environment
// variable is set, the logger is a no-op. Library consumers that want
// diagnostics opt in; CLI commands stay quiet unless asked.
package logging

// Package logging provides structured logging for asicscan.
//
// This package wraps zap logger with convenience functions for common logging
// patterns used throughout the scanner. Logging is silent by default so the
// CLI and TUI output stays clean; set ASICSCAN_LOG_LEVEL to enable it.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (per-attempt identification outcomes, permit changes)
//   - Info: Normal operations (sweep lifecycle, pollers attached/detached)
//   - Warn: Non-fatal issues (probe failures, stale upserts)
//   - Error: Fatal issues (startup failures, critical errors)
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("Device identified",
//	    zap.String("addr", "10.0.81.3"),
//	    zap.String("mac", "AA:BB:CC:00:11:22"),
//	    zap.String("model", "Antminer S19"),
//	)
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.InitializeFromEnv(); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap logger
// handles synchronization automatically.
package logging

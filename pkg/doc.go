// Package pkg provides shared utilities for the usbstream host stack.
//
// This package contains common functionality used by the host, block
// device, and stream layers, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for USB transport errors
//   - Component identifiers for log filtering
//   - [Buffer], the growable byte sink/source consumed by bulk transfers
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.SetLogFormat(pkg.LogFormatConsole)
//	pkg.LogInfo(pkg.ComponentStream, "block flushed", "offset", 4096)
//
// # Errors
//
// Transport errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrTimeout) {
//	    // Handle timed out bulk transfer
//	}
package pkg

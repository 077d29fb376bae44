// Package pkg provides shared utilities for the funcfs function engine.
//
// This package contains common functionality used across the descriptor
// parser, session core, and transport layers, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for function engine failures
//   - Component identifiers for log filtering
//
// The package is designed to have zero external dependencies, relying
// only on the Go standard library.
//
// # Logging
//
// The logging subsystem wraps [log/slog] with engine-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentSession, "descriptors accepted", "endpoints", 2)
//
// # Errors
//
// Failure conditions are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrSetupCancelled) {
//	    // A lifecycle event invalidated the pending setup request
//	}
package pkg

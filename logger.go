// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pageview

import (
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/pageview/internal/logging"
)

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(logging.Nop())
}

// SetLogger configures the default logger for viewers and all their
// components. By default, pageview produces no log output. Call SetLogger
// to enable logging. A viewer picks up the logger when it is opened; use
// [WithLogger] to give one viewer its own.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by pageview:
//   - [slog.LevelDebug]: per-task lifecycle (dequeue, discard, eviction)
//   - [slog.LevelInfo]: session lifecycle (worker ready, local fallback)
//   - [slog.LevelWarn]: anomalies (budget exhausted, unresponsive worker,
//     size store failures, failed pages)
//   - [slog.LevelError]: fatal worker errors
//
// Example:
//
//	// Enable debug-level logging for full diagnostics:
//	pageview.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	loggerPtr.Store(logging.OrNop(l))
}

// Logger returns the current default logger.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

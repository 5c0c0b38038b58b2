// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package render executes page render tasks.
//
// An [Executor] turns a dequeued task into a cached bitmap. It drives a
// [Rasterizer], which is either [Local] (the document engine in this
// process) or [Delegated] (a worker session). When the delegated path
// reports [ErrFallbackToLocal] the executor retries on the local path, so
// callers never need to know which path served a task.
//
// # Cancellation
//
// Cancellation is cooperative. The executor checks the task token
//   - before doing anything,
//   - after the page-size lookup,
//   - immediately before the raster call, and
//   - immediately after it.
//
// A result that arrives for a cancelled task is released, never cached, and
// the page gets back the status it had before the render started.
//
// # Errors
//
// A failed render marks only its own page as errored. The error is also
// returned so the scheduler can log it; it never stops other tasks.
package render

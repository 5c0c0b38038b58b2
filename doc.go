// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package pageview renders the pages of a large document on demand.
//
// # Overview
//
// A [Viewer] keeps one open document and decides which pages to rasterize
// right now. The presentation layer declares a window around the page the
// user is looking at; the viewer queues renders for that window, nearest
// page first, runs a bounded number of them at once and caches the bitmaps
// under a byte budget that never gives up the visible pages while prefetched
// ones can go instead.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/pageview"
//	    _ "github.com/gogpu/pageview/engine/pdfium"
//	)
//
//	v, err := pageview.Open(ctx, data)
//	if err != nil {
//	    return err
//	}
//	defer v.Close()
//
//	v.SetWindow(12, 2, 4)
//	if err := v.WaitIdle(ctx); err != nil {
//	    return err
//	}
//	if bm, ok := v.GetBitmap(12); ok {
//	    bm.SavePNG("page12.png")
//	}
//
// # Architecture
//
// The pipeline is split into sub-packages:
//
//   - docstate: per-page records, status and view-dependent sizes
//   - queue: the window-based priority queue of render tasks
//   - scheduler: drains the queue under a concurrency cap
//   - render: the executor, local and delegated rasterizers
//   - worker: message protocol to an isolated rendering context
//   - cache: byte-budgeted bitmap cache with a protected window
//   - engine: the document engine contract and registry
//
// # Zoom and Display Changes
//
// [Viewer.SetView] never evicts. Rendered pages become stale and keep being
// shown (see [Viewer.Preview]) until fresh renders replace them; pages
// around the current one are re-rendered right away, others as they come
// into the window.
//
// # Delegated Rendering
//
// With config.DelegateInProcess or config.DelegateSubprocess the document
// is owned by a worker reached only through messages. If the worker cannot
// start, or dies later, rendering falls back to the local engine without
// the caller noticing.
//
// # Logging
//
// By default pageview produces no log output. Use [SetLogger] to enable
// structured logging via log/slog.
package pageview

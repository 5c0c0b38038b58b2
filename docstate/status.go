// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package docstate

// Status is the render lifecycle state of one page.
type Status uint8

const (
	// StatusIdle means nothing is known about the page beyond its number.
	StatusIdle Status = iota

	// StatusSizing means the intrinsic size is being looked up.
	StatusSizing

	// StatusReady means the size is known and the page can be rendered.
	StatusReady

	// StatusRendering means a render is in flight.
	StatusRendering

	// StatusRendered means the cache holds a bitmap at the current view.
	StatusRendered

	// StatusStale means the cache holds a bitmap from an older view.
	// It is shown until a fresh render replaces it.
	StatusStale

	// StatusDetached means the document was closed.
	StatusDetached

	// StatusError means the last render failed; see PageRecord.ErrorMessage.
	StatusError
)

var statusNames = [...]string{
	StatusIdle:      "idle",
	StatusSizing:    "sizing",
	StatusReady:     "ready",
	StatusRendering: "rendering",
	StatusRendered:  "rendered",
	StatusStale:     "stale",
	StatusDetached:  "detached",
	StatusError:     "error",
}

// String returns the lower-case status name.
func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

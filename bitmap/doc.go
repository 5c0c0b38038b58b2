// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package bitmap provides the RGBA pixel buffers produced by page renders.
//
// A Bitmap is 4 bytes per pixel, row-major, with no padding between rows, so
// its memory footprint is exactly Width*Height*4 bytes. Backing buffers come
// from a size-keyed [Pool] and go back to it on [Bitmap.Close]. Closing is an
// explicit release: once closed, a bitmap's data must not be read, and
// borrowers that kept a reference observe [Bitmap.Closed] as true.
//
// Ownership is single: whoever holds a bitmap either closes it or hands it
// on (to the cache, across a worker channel). Handing it on transfers the
// obligation to close it.
package bitmap

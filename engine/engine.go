// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package engine defines the document engine the render pipeline drives and
// a registry of engine kinds.
//
// An engine decodes a document and rasterizes its pages; the pipeline
// treats it as an opaque collaborator. Engine implementations register
// themselves under a kind name, usually from an init function, so that
// callers opt in with a blank import:
//
//	import _ "github.com/gogpu/pageview/engine/pdfium"
//
// Page indexes are 0-based throughout this package. Page numbers (1-based)
// only appear in outline entries, which are consumed by presentation code.
package engine

import (
	"context"
	"log/slog"

	"github.com/gogpu/pageview/bitmap"
)

// Size is an intrinsic page size in document points.
type Size struct {
	Width  float64
	Height float64
}

// Resolution is a target raster size in device pixels.
type Resolution struct {
	Width  int
	Height int
}

// OutlineEntry is one flattened outline (bookmark) item.
// PageNumber is 1-based, or 0 when the entry has no page destination.
type OutlineEntry struct {
	Title      string `json:"title"`
	PageNumber int    `json:"pageNumber"`
	Level      int    `json:"level"`
}

// Document is an open document.
//
// Documents are NOT required to be thread-safe. Callers serialize access,
// which the worker does by owning the document on a single goroutine.
type Document interface {
	// PageCount returns the number of pages.
	PageCount() int

	// PageSize returns the intrinsic size of the page at index.
	PageSize(ctx context.Context, index int) (Size, error)

	// LoadPage returns a handle for the page at index.
	LoadPage(ctx context.Context, index int) (Page, error)

	// Outline returns the flattened outline, in document order.
	Outline(ctx context.Context) ([]OutlineEntry, error)

	// Destroy releases the document. The document must not be used after.
	Destroy() error
}

// ConcurrentDocument is implemented by documents whose methods may be called
// from several goroutines at once. Callers serialize access to any other
// Document.
type ConcurrentDocument interface {
	Document
	ConcurrencySafe() bool
}

// Page is a loaded page.
type Page interface {
	// Index returns the 0-based page index.
	Index() int

	// RenderToCanvas rasterizes the whole page into surface, scaled to the
	// surface's size. The surface size is the render resolution.
	RenderToCanvas(ctx context.Context, surface *bitmap.Bitmap) error

	// Close releases the page handle.
	Close() error
}

// Options are passed to engine factories.
type Options struct {
	// ResourceURL locates auxiliary engine resources (fonts, cmaps).
	// Engines that need none ignore it.
	ResourceURL string

	// Logger receives engine diagnostics. Nil means silent.
	Logger *slog.Logger
}

// Factory opens a document from its raw bytes. The factory must not retain
// data beyond the returned document's lifetime.
type Factory func(ctx context.Context, data []byte, opts Options) (Document, error)

// Rasterize loads the page at index, renders it at res and closes the page.
// The returned bitmap is owned by the caller.
func Rasterize(ctx context.Context, doc Document, index int, res Resolution) (*bitmap.Bitmap, error) {
	page, err := doc.LoadPage(ctx, index)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = page.Close()
	}()

	surface := bitmap.New(res.Width, res.Height)
	if surface == nil {
		return nil, &ResolutionError{Resolution: res}
	}
	if err := page.RenderToCanvas(ctx, surface); err != nil {
		_ = surface.Close()
		return nil, err
	}
	return surface, nil
}

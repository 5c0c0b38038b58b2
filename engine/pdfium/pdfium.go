// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package pdfium registers the "pdfium" document engine.
//
// The engine runs PDFium compiled to WebAssembly through go-pdfium, so it
// needs no cgo and no system libraries. Instances come from a process-wide
// pool that is created on first use; each open document holds one instance
// until it is destroyed.
//
// Enable the engine with a blank import:
//
//	import _ "github.com/gogpu/pageview/engine/pdfium"
package pdfium

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/responses"
	"github.com/klippa-app/go-pdfium/webassembly"
	"golang.org/x/image/draw"

	"github.com/gogpu/pageview/bitmap"
	"github.com/gogpu/pageview/engine"
	"github.com/gogpu/pageview/internal/logging"
)

// Kind is the registry name of this engine.
const Kind = "pdfium"

// Priority is the registry priority; higher than any test engine.
const Priority = 100

// ErrNotPDF is returned for data without a PDF header.
var ErrNotPDF = errors.New("pdfium: not a PDF document")

// Pool limits. MaxInstances bounds the number of documents open at once.
var (
	MinIdle      = 1
	MaxIdle      = 1
	MaxInstances = 4

	// InstanceTimeout bounds the wait for a free instance when the context
	// carries no deadline.
	InstanceTimeout = 30 * time.Second
)

func init() {
	engine.Register(Kind, Priority, Open, nil)
}

var (
	poolOnce sync.Once
	pool     pdfium.Pool
	poolErr  error
)

func getPool() (pdfium.Pool, error) {
	poolOnce.Do(func() {
		pool, poolErr = webassembly.Init(webassembly.Config{
			MinIdle:  MinIdle,
			MaxIdle:  MaxIdle,
			MaxTotal: MaxInstances,
		})
		if poolErr != nil {
			poolErr = fmt.Errorf("pdfium: init webassembly: %w", poolErr)
		}
	})
	return pool, poolErr
}

// sniff reports whether data starts (within the first KiB) with a PDF header.
func sniff(data []byte) bool {
	head := data[:min(len(data), 1024)]
	return bytes.Contains(head, []byte("%PDF-"))
}

// Open is the engine.Factory for PDF documents.
func Open(ctx context.Context, data []byte, opts engine.Options) (engine.Document, error) {
	if !sniff(data) {
		return nil, ErrNotPDF
	}
	p, err := getPool()
	if err != nil {
		return nil, err
	}

	timeout := InstanceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	inst, err := p.GetInstance(timeout)
	if err != nil {
		return nil, fmt.Errorf("pdfium: get instance: %w", err)
	}

	// go-pdfium keeps a reference to the slice; hand it a private copy.
	file := bytes.Clone(data)
	opened, err := inst.OpenDocument(&requests.OpenDocument{File: &file})
	if err != nil {
		_ = inst.Close()
		return nil, fmt.Errorf("pdfium: open document: %w", err)
	}

	count, err := inst.FPDF_GetPageCount(&requests.FPDF_GetPageCount{Document: opened.Document})
	if err != nil {
		_, _ = inst.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: opened.Document})
		_ = inst.Close()
		return nil, fmt.Errorf("pdfium: page count: %w", err)
	}

	log := logging.OrNop(opts.Logger)
	log.Debug("pdfium: document opened", "pages", count.PageCount, "bytes", len(data))

	return &document{
		inst:      inst,
		doc:       opened.Document,
		pageCount: count.PageCount,
	}, nil
}

// document serializes calls into its instance; a PDFium instance is
// single-threaded.
type document struct {
	mu        sync.Mutex
	inst      pdfium.Pdfium
	doc       references.FPDF_DOCUMENT
	pageCount int
	destroyed bool
}

// ConcurrencySafe reports true: every call takes d.mu.
func (d *document) ConcurrencySafe() bool {
	return true
}

func (d *document) PageCount() int {
	return d.pageCount
}

func (d *document) pageRef(index int) requests.Page {
	return requests.Page{
		ByIndex: &requests.PageByIndex{
			Document: d.doc,
			Index:    index,
		},
	}
}

func (d *document) PageSize(_ context.Context, index int) (engine.Size, error) {
	if index < 0 || index >= d.pageCount {
		return engine.Size{}, engine.ErrPageRange
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return engine.Size{}, errDestroyed
	}

	size, err := d.inst.GetPageSize(&requests.GetPageSize{Page: d.pageRef(index)})
	if err != nil {
		return engine.Size{}, fmt.Errorf("pdfium: page %d size: %w", index, err)
	}
	return engine.Size{Width: size.Width, Height: size.Height}, nil
}

func (d *document) LoadPage(_ context.Context, index int) (engine.Page, error) {
	if index < 0 || index >= d.pageCount {
		return nil, engine.ErrPageRange
	}
	return &page{doc: d, index: index}, nil
}

func (d *document) Outline(context.Context) ([]engine.OutlineEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, errDestroyed
	}

	resp, err := d.inst.GetBookmarks(&requests.GetBookmarks{Document: d.doc})
	if err != nil {
		return nil, fmt.Errorf("pdfium: bookmarks: %w", err)
	}
	return engine.Flatten(convertBookmarks(resp.Bookmarks)), nil
}

func convertBookmarks(in []responses.GetBookmarksBookmark) []engine.OutlineNode {
	if len(in) == 0 {
		return nil
	}
	out := make([]engine.OutlineNode, len(in))
	for i, b := range in {
		index := -1
		if b.DestInfo != nil {
			index = b.DestInfo.PageIndex
		}
		out[i] = engine.OutlineNode{
			Title:     b.Title,
			PageIndex: index,
			Children:  convertBookmarks(b.Children),
		}
	}
	return out
}

func (d *document) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil
	}
	d.destroyed = true

	_, err := d.inst.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: d.doc})
	return errors.Join(err, d.inst.Close())
}

var errDestroyed = errors.New("pdfium: document destroyed")

type page struct {
	doc   *document
	index int
}

func (p *page) Index() int { return p.index }

func (p *page) Close() error { return nil }

// RenderToCanvas renders the page at the surface size. The WebAssembly
// result buffer is released before returning, so pixels are copied out.
func (p *page) RenderToCanvas(_ context.Context, surface *bitmap.Bitmap) error {
	dst := surface.Image()
	if dst.Pix == nil {
		return bitmap.ErrClosed
	}

	d := p.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return errDestroyed
	}

	resp, err := d.inst.RenderPageInPixels(&requests.RenderPageInPixels{
		Page:   d.pageRef(p.index),
		Width:  surface.Width(),
		Height: surface.Height(),
	})
	if err != nil {
		return fmt.Errorf("pdfium: render page %d: %w", p.index, err)
	}
	defer resp.Cleanup()

	src := resp.Result.Image
	draw.Draw(dst, dst.Bounds(), src, image.Point{}, draw.Src)
	return nil
}

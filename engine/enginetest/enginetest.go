// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package enginetest provides a deterministic in-memory document engine.
//
// The engine paints every page with a solid color derived from its index,
// so tests can tell which page a bitmap came from, and exposes hooks to
// delay, block, fail or panic individual pages. It also registers itself as
// the "synthetic" engine kind, which reads documents produced by [Encode];
// the worker process uses that kind when no real engine is wanted.
package enginetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"strconv"
	"sync"
	"time"

	"github.com/gogpu/pageview/bitmap"
	"github.com/gogpu/pageview/engine"
)

// Kind is the registry name of the synthetic engine.
const Kind = "synthetic"

// magic prefixes synthetic documents.
var magic = []byte("%SYNTHETIC ")

// ErrNotSynthetic is returned when data was not produced by Encode.
var ErrNotSynthetic = errors.New("enginetest: not a synthetic document")

func init() {
	engine.Register(Kind, 0, Open, nil)
}

// Encode returns a synthetic document with pageCount pages.
func Encode(pageCount int) []byte {
	return append(append([]byte(nil), magic...), strconv.Itoa(pageCount)...)
}

// Open is the engine.Factory for the synthetic kind.
func Open(_ context.Context, data []byte, _ engine.Options) (engine.Document, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, ErrNotSynthetic
	}
	n, err := strconv.Atoi(string(bytes.TrimSpace(data[len(magic):])))
	if err != nil || n < 0 {
		return nil, ErrNotSynthetic
	}
	return New(n), nil
}

// Color returns the fill color of the page at index.
func Color(index int) color.RGBA {
	return color.RGBA{R: uint8(index % 251), G: uint8(index / 251 % 251), B: 0x80, A: 0xFF}
}

// Engine is a synthetic engine.Document.
//
// Engine is safe for concurrent use.
type Engine struct {
	pageCount int

	mu        sync.Mutex
	sizes     map[int]engine.Size
	size      engine.Size
	fail      map[int]error
	panics    map[int]bool
	gates     map[int]chan struct{}
	entered   map[int]chan struct{}
	delay     time.Duration
	outline   []engine.OutlineNode
	renders   map[int]int
	surfaces  map[int]*bitmap.Bitmap
	sizeCalls int
	active    int
	peak      int
	destroyed bool
}

// New returns an engine with pageCount US-letter (612x792 pt) pages.
func New(pageCount int) *Engine {
	return &Engine{
		pageCount: pageCount,
		size:      engine.Size{Width: 612, Height: 792},
		sizes:     make(map[int]engine.Size),
		fail:      make(map[int]error),
		panics:    make(map[int]bool),
		gates:     make(map[int]chan struct{}),
		entered:   make(map[int]chan struct{}),
		renders:   make(map[int]int),
		surfaces:  make(map[int]*bitmap.Bitmap),
	}
}

// SetDefaultSize sets the size of every page without an override.
func (e *Engine) SetDefaultSize(s engine.Size) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.size = s
}

// SetSize overrides the size of the page at index.
func (e *Engine) SetSize(index int, s engine.Size) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sizes[index] = s
}

// Fail makes renders of the page at index return err.
func (e *Engine) Fail(index int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail[index] = err
}

// Panic makes renders of the page at index panic.
func (e *Engine) Panic(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.panics[index] = true
}

// Block makes renders of the page at index wait until the returned function
// is called. The wait ignores cancellation, like a real raster call.
func (e *Engine) Block(index int) (release func()) {
	gate := make(chan struct{})
	e.mu.Lock()
	e.gates[index] = gate
	e.entered[index] = make(chan struct{})
	e.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Entered returns a channel closed once a render of the blocked page at
// index has started. Only valid after Block(index).
func (e *Engine) Entered(index int) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entered[index]
}

// SetDelay makes every render sleep for d.
func (e *Engine) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// SetOutline sets the outline returned by Outline.
func (e *Engine) SetOutline(nodes []engine.OutlineNode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outline = nodes
}

// Renders returns how many times the page at index was rendered to the end.
func (e *Engine) Renders(index int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renders[index]
}

// Surface returns the last surface the page at index was rendered into.
func (e *Engine) Surface(index int) *bitmap.Bitmap {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.surfaces[index]
}

// TotalRenders returns the number of completed renders over all pages.
func (e *Engine) TotalRenders() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.renders {
		n += c
	}
	return n
}

// SizeCalls returns the number of PageSize calls.
func (e *Engine) SizeCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sizeCalls
}

// PeakConcurrency returns the highest number of simultaneous renders seen.
func (e *Engine) PeakConcurrency() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak
}

// Destroyed reports whether Destroy was called.
func (e *Engine) Destroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

// ConcurrencySafe implements engine.ConcurrentDocument.
func (e *Engine) ConcurrencySafe() bool {
	return true
}

// PageCount implements engine.Document.
func (e *Engine) PageCount() int {
	return e.pageCount
}

// PageSize implements engine.Document.
func (e *Engine) PageSize(_ context.Context, index int) (engine.Size, error) {
	if index < 0 || index >= e.pageCount {
		return engine.Size{}, engine.ErrPageRange
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sizeCalls++
	if s, ok := e.sizes[index]; ok {
		return s, nil
	}
	return e.size, nil
}

// LoadPage implements engine.Document.
func (e *Engine) LoadPage(_ context.Context, index int) (engine.Page, error) {
	if index < 0 || index >= e.pageCount {
		return nil, engine.ErrPageRange
	}
	return &page{e: e, index: index}, nil
}

// Outline implements engine.Document.
func (e *Engine) Outline(context.Context) ([]engine.OutlineEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return engine.Flatten(e.outline), nil
}

// Destroy implements engine.Document.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed = true
	return nil
}

type page struct {
	e     *Engine
	index int
}

func (p *page) Index() int { return p.index }

func (p *page) Close() error { return nil }

func (p *page) RenderToCanvas(_ context.Context, surface *bitmap.Bitmap) error {
	e := p.e
	e.mu.Lock()
	failErr := e.fail[p.index]
	doPanic := e.panics[p.index]
	gate := e.gates[p.index]
	entered := e.entered[p.index]
	delay := e.delay
	e.surfaces[p.index] = surface
	e.active++
	if e.active > e.peak {
		e.peak = e.active
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if entered != nil {
		select {
		case <-entered:
		default:
			close(entered)
		}
	}
	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if doPanic {
		panic(fmt.Sprintf("enginetest: page %d panicked", p.index))
	}
	if failErr != nil {
		return failErr
	}

	data := surface.Data()
	if data == nil {
		return bitmap.ErrClosed
	}
	c := Color(p.index)
	for i := 0; i < len(data); i += bitmap.BytesPerPixel {
		data[i+0] = c.R
		data[i+1] = c.G
		data[i+2] = c.B
		data[i+3] = c.A
	}

	e.mu.Lock()
	e.renders[p.index]++
	e.mu.Unlock()
	return nil
}

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/gogpu/pageview/bitmap"
	"github.com/gogpu/pageview/cache"
	"github.com/gogpu/pageview/docstate"
	"github.com/gogpu/pageview/engine"
	"github.com/gogpu/pageview/internal/logging"
	"github.com/gogpu/pageview/queue"
)

// Option configures an Executor.
type Option func(*Executor)

// WithDelegate routes work through r first; the local rasterizer becomes
// the fallback.
func WithDelegate(r Rasterizer) Option {
	return func(e *Executor) {
		e.delegate = r
	}
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.log = logging.OrNop(l)
	}
}

// WithStoreHook sets fn to run after every bitmap is cached, typically to
// enforce the cache budget.
func WithStoreHook(fn func(page int)) Option {
	return func(e *Executor) {
		e.onStore = fn
	}
}

// Executor renders tasks into the cache.
//
// Executor is safe for concurrent use; [Executor.Render] is a
// scheduler.RenderFunc.
type Executor struct {
	doc      *docstate.Document
	cache    *cache.Cache
	local    Rasterizer
	delegate Rasterizer
	log      *slog.Logger
	onStore  func(page int)

	sizes    singleflight.Group
	fellBack atomic.Bool

	mu       sync.Mutex
	inflight map[int]*queue.Token
}

// New creates an executor writing to doc and c. local may be nil when a
// delegate is configured and no fallback exists.
func New(doc *docstate.Document, c *cache.Cache, local Rasterizer, opts ...Option) *Executor {
	e := &Executor{
		doc:      doc,
		cache:    c,
		local:    local,
		log:      logging.Nop(),
		inflight: make(map[int]*queue.Token),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Render performs task. A cancelled task, a page already rendered at the
// current view, or a page with a live render in flight returns nil without
// side effects.
func (e *Executor) Render(ctx context.Context, task *queue.Task) error {
	n := task.PageNumber
	tok := task.Token
	if tok.Cancelled() {
		return nil
	}
	if !e.claim(n, tok) {
		e.log.Debug("render: page already in flight", "page", n)
		return nil
	}
	defer e.release(n, tok)

	if !e.doc.NeedsRender(n) {
		return nil
	}

	gen := e.doc.Generation()
	prev, ok := e.doc.BeginRender(n)
	if !ok {
		return nil
	}

	abort := func(stage string) error {
		e.log.Debug("render: discarding cancelled task", "page", n, "stage", stage)
		// A newer render may already own the page; leave its status alone.
		if e.owns(n, tok) {
			e.doc.AbortRender(n, prev)
		}
		return nil
	}

	w, h, ok := e.doc.PixelSize(n)
	if !ok {
		size, err := e.pageSize(ctx, n)
		if tok.Cancelled() {
			return abort("size")
		}
		if err != nil {
			return e.fail(n, fmt.Errorf("render: page %d size: %w", n, err))
		}
		e.doc.SetSize(n, size.Width, size.Height)
		if w, h, ok = e.doc.PixelSize(n); !ok {
			return abort("size")
		}
	}

	if tok.Cancelled() {
		return abort("before raster")
	}
	bm, err := e.rasterize(ctx, n-1, engine.Resolution{Width: w, Height: h})
	if tok.Cancelled() {
		if bm != nil {
			_ = bm.Close()
		}
		return abort("after raster")
	}
	if err != nil {
		return e.fail(n, fmt.Errorf("render: page %d: %w", n, err))
	}

	if err := e.cache.Store(n, bm); err != nil {
		_ = bm.Close()
		return e.fail(n, err)
	}
	if e.doc.Generation() != gen {
		// The view changed during the render; keep the bitmap as a preview.
		e.doc.MarkStale(n)
	}
	e.log.Debug("render: page stored", "page", n, "width", w, "height", h)
	if e.onStore != nil {
		e.onStore(n)
	}
	return nil
}

// PageSize returns the intrinsic size of page n (1-based). Concurrent
// lookups for the same page share one engine call.
func (e *Executor) PageSize(ctx context.Context, n int) (engine.Size, error) {
	return e.pageSize(ctx, n)
}

func (e *Executor) pageSize(ctx context.Context, n int) (engine.Size, error) {
	// The lookup is shared; one caller's cancellation must not fail the others.
	ctx = context.WithoutCancel(ctx)
	v, err, _ := e.sizes.Do(strconv.Itoa(n), func() (any, error) {
		return e.withFallback(func(r Rasterizer) (any, error) {
			return r.PageSize(ctx, n-1)
		})
	})
	if err != nil {
		return engine.Size{}, err
	}
	return v.(engine.Size), nil
}

// rasterize renders the page at index. An engine panic becomes an error so
// that it fails this page only.
func (e *Executor) rasterize(ctx context.Context, index int, res engine.Resolution) (bm *bitmap.Bitmap, err error) {
	defer func() {
		if r := recover(); r != nil {
			bm, err = nil, fmt.Errorf("render: engine panicked: %v", r)
		}
	}()
	v, err := e.withFallback(func(r Rasterizer) (any, error) {
		return r.Render(ctx, index, res)
	})
	bm, _ = v.(*bitmap.Bitmap)
	return bm, err
}

// Outline returns the document outline, from the delegate when it can
// serve it.
func (e *Executor) Outline(ctx context.Context) ([]engine.OutlineEntry, error) {
	v, err := e.withFallback(func(r Rasterizer) (any, error) {
		return r.Outline(ctx)
	})
	entries, _ := v.([]engine.OutlineEntry)
	return entries, err
}

// withFallback runs fn on the delegate, and on the local rasterizer if the
// delegate asks for a fallback or is not configured.
func (e *Executor) withFallback(fn func(Rasterizer) (any, error)) (any, error) {
	if e.delegate != nil {
		v, err := fn(e.delegate)
		if !errors.Is(err, ErrFallbackToLocal) || e.local == nil {
			return v, err
		}
		if !e.fellBack.Swap(true) {
			e.log.Info("render: delegated path unavailable, rendering locally", "reason", err)
		}
	}
	if e.local == nil {
		return nil, ErrNoRasterizer
	}
	return fn(e.local)
}

// FellBack reports whether any request was served locally after the
// delegated path failed.
func (e *Executor) FellBack() bool {
	return e.fellBack.Load()
}

func (e *Executor) fail(n int, err error) error {
	e.log.Debug("render: page failed", "page", n, "error", err)
	e.doc.FailRender(n, err.Error())
	return err
}

// claim registers tok as page n's in-flight render unless a live render
// already holds the page.
func (e *Executor) claim(n int, tok *queue.Token) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.inflight[n]; ok && cur != tok && !cur.Cancelled() {
		return false
	}
	e.inflight[n] = tok
	return true
}

func (e *Executor) owns(n int, tok *queue.Token) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight[n] == tok
}

func (e *Executor) release(n int, tok *queue.Token) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[n] == tok {
		delete(e.inflight, n)
	}
}

// CancelInFlight cancels the in-flight renders of pages for which keep
// returns false. A nil keep cancels all of them. It returns the cancelled
// pages.
func (e *Executor) CancelInFlight(keep func(page int) bool) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	var cancelled []int
	for n, tok := range e.inflight {
		if keep != nil && keep(n) {
			continue
		}
		if !tok.Cancelled() {
			tok.Cancel()
			cancelled = append(cancelled, n)
		}
	}
	return cancelled
}

// InFlight returns the number of pages with a live render.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, tok := range e.inflight {
		if !tok.Cancelled() {
			n++
		}
	}
	return n
}

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package docstate holds the per-page metadata shared by the queue, the
// render executor and the bitmap cache.
//
// A [Document] owns one [PageRecord] per page for the lifetime of an open
// document. All mutation goes through Document methods, which keep the
// record invariants:
//   - Status rendered implies HasFullBitmap.
//   - Status stale implies a previous bitmap is still cached.
//   - Derived pixel and CSS sizes always match the current [View].
package docstate

import (
	"sync"
	"time"
)

// PageRecord is the state of one page. Page numbers are 1-based.
// Zero times mean "absent".
type PageRecord struct {
	PageNumber int
	Status     Status

	// Intrinsic size in document points. Valid when HasSize is true.
	WidthPoints  float64
	HeightPoints float64
	HasSize      bool

	// Derived from the intrinsic size and the current View.
	WidthPixels  int
	HeightPixels int
	WidthCSS     int
	HeightCSS    int

	HasFullBitmap bool

	LastTouchedAt   time.Time
	RenderStartedAt time.Time
	RenderEndedAt   time.Time

	ErrorMessage string
}

// Size is an intrinsic page size keyed by page number.
type Size struct {
	PageNumber   int
	WidthPoints  float64
	HeightPoints float64
}

// Option configures a Document.
type Option func(*Document)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Document) {
		d.now = now
	}
}

// WithObserver registers fn to be called with a copy of every record that
// changes. fn runs outside the document lock and must not block.
func WithObserver(fn func(PageRecord)) Option {
	return func(d *Document) {
		d.observer = fn
	}
}

// Document is the per-page state of one open document.
//
// Document is safe for concurrent use.
type Document struct {
	mu         sync.RWMutex
	pages      []PageRecord
	view       View
	generation uint64
	now        func() time.Time
	observer   func(PageRecord)
}

// New creates records for pageCount pages, all idle.
func New(pageCount int, opts ...Option) *Document {
	if pageCount < 0 {
		pageCount = 0
	}
	d := &Document{
		pages: make([]PageRecord, pageCount),
		view:  DefaultView(),
		now:   time.Now,
	}
	for i := range d.pages {
		d.pages[i].PageNumber = i + 1
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pages)
}

// Page returns a copy of the record for page n.
func (d *Document) Page(n int) (PageRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.valid(n) {
		return PageRecord{}, false
	}
	return d.pages[n-1], true
}

// Status returns the status of page n, or StatusIdle for unknown pages.
func (d *Document) Status(n int) Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.valid(n) {
		return StatusIdle
	}
	return d.pages[n-1].Status
}

// Snapshot returns copies of all records.
func (d *Document) Snapshot() []PageRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]PageRecord, len(d.pages))
	copy(out, d.pages)
	return out
}

// View returns the current view.
func (d *Document) View() View {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.view
}

// Generation increases every time the view changes. Renders compare the
// generation they started under with the current one to detect that their
// output is already outdated.
func (d *Document) Generation() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.generation
}

// SetView installs a new view and recomputes every derived size.
// It returns the new generation, or the current one if v equals the
// current view.
func (d *Document) SetView(v View) uint64 {
	v = v.normalized()

	d.mu.Lock()
	if v == d.view {
		g := d.generation
		d.mu.Unlock()
		return g
	}
	d.view = v
	d.generation++
	g := d.generation
	var changed []PageRecord
	for i := range d.pages {
		p := &d.pages[i]
		if p.HasSize {
			d.derive(p)
			changed = append(changed, *p)
		}
	}
	d.mu.Unlock()

	d.notify(changed...)
	return g
}

// BeginSizing marks page n as having a size lookup in flight.
func (d *Document) BeginSizing(n int) {
	d.update(n, func(p *PageRecord) bool {
		if p.HasSize || p.Status != StatusIdle {
			return false
		}
		p.Status = StatusSizing
		return true
	})
}

// SetSize records the intrinsic size of page n and derives its pixel sizes.
// An idle or sizing page becomes ready.
func (d *Document) SetSize(n int, widthPoints, heightPoints float64) {
	d.update(n, func(p *PageRecord) bool {
		p.WidthPoints = widthPoints
		p.HeightPoints = heightPoints
		p.HasSize = true
		d.derive(p)
		if p.Status == StatusIdle || p.Status == StatusSizing {
			p.Status = StatusReady
		}
		return true
	})
}

// Sizes returns the known intrinsic sizes.
func (d *Document) Sizes() []Size {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Size
	for _, p := range d.pages {
		if p.HasSize {
			out = append(out, Size{PageNumber: p.PageNumber, WidthPoints: p.WidthPoints, HeightPoints: p.HeightPoints})
		}
	}
	return out
}

// PixelSize returns the render size of page n at the current view.
func (d *Document) PixelSize(n int) (width, height int, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.valid(n) || !d.pages[n-1].HasSize {
		return 0, 0, false
	}
	p := d.pages[n-1]
	return p.WidthPixels, p.HeightPixels, true
}

// NeedsRender reports whether page n lacks an up-to-date bitmap.
func (d *Document) NeedsRender(n int) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.valid(n) {
		return false
	}
	p := d.pages[n-1]
	switch p.Status {
	case StatusDetached:
		return false
	case StatusRendered:
		return !p.HasFullBitmap
	default:
		return true
	}
}

// BeginRender moves page n to rendering and returns the status it had, so
// that a cancelled render can put it back.
func (d *Document) BeginRender(n int) (prev Status, ok bool) {
	d.update(n, func(p *PageRecord) bool {
		if p.Status == StatusDetached {
			return false
		}
		prev = p.Status
		ok = true
		p.Status = StatusRendering
		p.RenderStartedAt = d.now()
		p.RenderEndedAt = time.Time{}
		p.ErrorMessage = ""
		return true
	})
	return prev, ok
}

// AbortRender restores prev on page n if it is still rendering.
func (d *Document) AbortRender(n int, prev Status) {
	d.update(n, func(p *PageRecord) bool {
		if p.Status != StatusRendering {
			return false
		}
		switch prev {
		case StatusRendering, StatusSizing, StatusIdle:
			prev = StatusIdle
			if p.HasSize {
				prev = StatusReady
			}
		}
		p.Status = prev
		return true
	})
}

// FailRender records a render failure on page n only.
func (d *Document) FailRender(n int, msg string) {
	d.update(n, func(p *PageRecord) bool {
		if p.Status == StatusDetached {
			return false
		}
		p.Status = StatusError
		p.ErrorMessage = msg
		p.RenderEndedAt = d.now()
		return true
	})
}

// MarkRendered records that the cache now holds a bitmap for page n.
func (d *Document) MarkRendered(n int, at time.Time) {
	d.update(n, func(p *PageRecord) bool {
		p.HasFullBitmap = true
		p.Status = StatusRendered
		p.LastTouchedAt = at
		p.RenderEndedAt = at
		p.ErrorMessage = ""
		return true
	})
}

// MarkTouched updates the last access time of page n.
func (d *Document) MarkTouched(n int, at time.Time) {
	d.update(n, func(p *PageRecord) bool {
		p.LastTouchedAt = at
		return true
	})
}

// MarkEvicted records that the cache dropped page n's bitmap. The page
// becomes eligible for rendering again.
func (d *Document) MarkEvicted(n int) {
	d.update(n, func(p *PageRecord) bool {
		p.HasFullBitmap = false
		switch p.Status {
		case StatusRendered, StatusStale:
			p.Status = StatusIdle
			if p.HasSize {
				p.Status = StatusReady
			}
		}
		return true
	})
}

// MarkStale flags a rendered page as outdated. It reports whether the page
// was rendered.
func (d *Document) MarkStale(n int) bool {
	var stale bool
	d.update(n, func(p *PageRecord) bool {
		if p.Status != StatusRendered {
			return false
		}
		p.Status = StatusStale
		stale = true
		return true
	})
	return stale
}

// MarkRefresh forces page n back to a render-eligible state while leaving
// its cached bitmap in place for display.
func (d *Document) MarkRefresh(n int) {
	d.update(n, func(p *PageRecord) bool {
		if !p.HasFullBitmap && p.Status != StatusRendered {
			return false
		}
		p.HasFullBitmap = false
		if p.Status == StatusRendered {
			p.Status = StatusStale
		}
		return true
	})
}

// DetachAll marks every page detached. Called when the document closes.
func (d *Document) DetachAll() {
	d.mu.Lock()
	changed := make([]PageRecord, 0, len(d.pages))
	for i := range d.pages {
		d.pages[i].Status = StatusDetached
		d.pages[i].HasFullBitmap = false
		changed = append(changed, d.pages[i])
	}
	d.mu.Unlock()
	d.notify(changed...)
}

// update applies fn to page n under the lock and notifies the observer when
// fn reports a change.
func (d *Document) update(n int, fn func(p *PageRecord) bool) {
	d.mu.Lock()
	if !d.valid(n) {
		d.mu.Unlock()
		return
	}
	p := &d.pages[n-1]
	if !fn(p) {
		d.mu.Unlock()
		return
	}
	rec := *p
	d.mu.Unlock()
	d.notify(rec)
}

func (d *Document) notify(recs ...PageRecord) {
	if d.observer == nil {
		return
	}
	for _, r := range recs {
		d.observer(r)
	}
}

// derive recomputes the view-dependent sizes. Caller must hold d.mu.
func (d *Document) derive(p *PageRecord) {
	p.WidthCSS, p.HeightCSS = d.view.CSSSize(p.WidthPoints, p.HeightPoints)
	p.WidthPixels, p.HeightPixels = d.view.PixelSize(p.WidthPoints, p.HeightPoints)
}

// valid reports whether n is a page number. Caller must hold d.mu.
func (d *Document) valid(n int) bool {
	return n >= 1 && n <= len(d.pages)
}

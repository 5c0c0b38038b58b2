// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cache stores rendered page bitmaps under a byte budget.
//
// Entries are kept in least-recently-touched order. [Cache.EnforceBudget]
// evicts in two passes: first only pages outside a protected window around
// the current page, then, if that was not enough, pages inside it. The
// second pass is an anomaly and is logged as such.
//
// A zoom or device-pixel-ratio change does not evict anything.
// [Cache.InvalidateForResolutionChange] only marks rendered pages stale so
// their bitmaps keep being shown until fresh renders replace them, and
// [Cache.RefreshWindow] makes the pages around the current one eligible for
// an immediate re-render.
//
// The cache owns every bitmap stored in it. Bitmaps returned by [Cache.Get]
// are borrowed: they stay valid until the entry is replaced, evicted or
// cleared, at which point they are closed.
package cache

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/pageview/bitmap"
	"github.com/gogpu/pageview/internal/logging"
)

// ErrNoBitmap is returned by Store for a nil or closed bitmap.
var ErrNoBitmap = errors.New("cache: nil or closed bitmap")

// PageTracker receives the page-level consequences of cache operations.
// *docstate.Document implements it.
//
// Methods are called with the cache lock held and must not call back into
// the cache.
type PageTracker interface {
	MarkRendered(page int, at time.Time)
	MarkTouched(page int, at time.Time)
	MarkEvicted(page int)
	MarkStale(page int) bool
	MarkRefresh(page int)
}

// entry is a cached bitmap and its LRU links.
type entry struct {
	page    int
	bitmap  *bitmap.Bitmap
	size    int64
	touched time.Time

	prev *entry
	next *entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithTracker sets the page tracker notified of stores and evictions.
func WithTracker(t PageTracker) Option {
	return func(c *Cache) {
		c.pages = t
	}
}

// WithLogger sets the logger for evictions and budget anomalies.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.log = logging.OrNop(l)
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Cache is a byte-accounted bitmap cache keyed by page number.
//
// Cache is safe for concurrent use.
// Cache must not be copied after creation (has mutex).
type Cache struct {
	mu      sync.Mutex
	entries map[int]*entry
	lru     lruList
	bytes   int64

	pages PageTracker
	now   func() time.Time
	log   *slog.Logger

	stats Stats
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[int]*entry),
		now:     time.Now,
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store takes ownership of bm as page's bitmap. Any previous bitmap for the
// page is closed. The page is marked rendered and most recently touched.
func (c *Cache) Store(page int, bm *bitmap.Bitmap) error {
	if bm == nil || bm.Closed() {
		return ErrNoBitmap
	}
	at := c.now()

	c.mu.Lock()
	if old, ok := c.entries[page]; ok {
		c.drop(old)
	}
	e := &entry{page: page, bitmap: bm, size: bm.ByteSize(), touched: at}
	c.entries[page] = e
	c.lru.PushFront(e)
	c.bytes += e.size
	c.stats.Stores++
	if c.pages != nil {
		c.pages.MarkRendered(page, at)
	}
	c.mu.Unlock()
	return nil
}

// Get returns the bitmap for page and counts as a touch.
func (c *Cache) Get(page int) (*bitmap.Bitmap, bool) {
	at := c.now()

	c.mu.Lock()
	e, ok := c.entries[page]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}
	e.touched = at
	c.lru.MoveToFront(e)
	c.stats.Hits++
	bm := e.bitmap
	if c.pages != nil {
		c.pages.MarkTouched(page, at)
	}
	c.mu.Unlock()
	return bm, true
}

// Peek returns the bitmap for page without touching it.
func (c *Cache) Peek(page int) (*bitmap.Bitmap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[page]
	if !ok {
		return nil, false
	}
	return e.bitmap, true
}

// Preview returns a copy of page's bitmap scaled to width x height. It
// serves stale pages at the size the current view expects. The caller owns
// the result.
func (c *Cache) Preview(page, width, height int) (*bitmap.Bitmap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[page]
	if !ok {
		return nil, ErrNoBitmap
	}
	return e.bitmap.Scale(width, height)
}

// Remove evicts page's entry, if any.
func (c *Cache) Remove(page int) bool {
	c.mu.Lock()
	e, ok := c.entries[page]
	if ok {
		c.drop(e)
		c.track(page)
	}
	c.mu.Unlock()
	return ok
}

// Clear closes every bitmap and empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for page, e := range c.entries {
		_ = e.bitmap.Close()
		c.track(page)
	}
	c.entries = make(map[int]*entry)
	c.lru.Clear()
	c.bytes = 0
}

// Bytes returns the total size of all cached bitmaps.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Len returns the number of cached pages.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Pages returns the cached page numbers from least to most recently touched.
func (c *Cache) Pages() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	pages := make([]int, 0, c.lru.Len())
	for e := c.lru.Oldest(); e != nil; e = e.prev {
		pages = append(pages, e.page)
	}
	return pages
}

// track reports an eviction of page to the tracker. Caller must hold c.mu so
// the page record never disagrees with the entry set.
func (c *Cache) track(page int) {
	if c.pages != nil {
		c.pages.MarkEvicted(page)
	}
}

// drop unlinks e, closes its bitmap and updates the byte total.
// Caller must hold c.mu.
func (c *Cache) drop(e *entry) {
	c.lru.Remove(e)
	delete(c.entries, e.page)
	c.bytes -= e.size
	_ = e.bitmap.Close()
}

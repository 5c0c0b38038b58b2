// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cache

// Budget describes a memory limit and the pages it must try to keep.
type Budget struct {
	// CurrentPage is the page the user is looking at.
	CurrentPage int

	// PageCount clamps the protected window.
	PageCount int

	// Bytes is the budget. Zero or negative disables enforcement.
	Bytes int64

	// ProtectedRadius is the number of pages on each side of CurrentPage
	// that are only evicted as a last resort.
	ProtectedRadius int
}

// Protected reports whether page lies in the protected window.
func (b Budget) Protected(page int) bool {
	lo := max(1, b.CurrentPage-b.ProtectedRadius)
	hi := b.CurrentPage + b.ProtectedRadius
	if b.PageCount > 0 {
		hi = min(hi, b.PageCount)
	}
	return page >= lo && page <= hi
}

// Eviction reports what EnforceBudget did.
type Eviction struct {
	// Evicted lists evicted pages in eviction order.
	Evicted []int

	// Emergency is true when pages inside the protected window had to go.
	Emergency bool

	// Bytes is the cache total after enforcement.
	Bytes int64
}

// EnforceBudget evicts least-recently-touched pages until the cache fits
// b.Bytes. Pages outside the protected window go first; pages inside it are
// evicted only if the window alone exceeds the budget.
func (c *Cache) EnforceBudget(b Budget) Eviction {
	c.mu.Lock()
	if b.Bytes <= 0 || c.bytes <= b.Bytes {
		total := c.bytes
		c.mu.Unlock()
		return Eviction{Bytes: total}
	}

	var ev Eviction
	// Pass 1: outside the protected window.
	for e := c.lru.Oldest(); e != nil && c.bytes > b.Bytes; {
		prev := e.prev
		if !b.Protected(e.page) {
			c.drop(e)
			c.track(e.page)
			ev.Evicted = append(ev.Evicted, e.page)
		}
		e = prev
	}
	c.stats.Evictions += uint64(len(ev.Evicted))

	// Pass 2: the protected window itself does not fit.
	if c.bytes > b.Bytes {
		ev.Emergency = true
		n := len(ev.Evicted)
		for e := c.lru.Oldest(); e != nil && c.bytes > b.Bytes; {
			prev := e.prev
			c.drop(e)
			c.track(e.page)
			ev.Evicted = append(ev.Evicted, e.page)
			e = prev
		}
		c.stats.Evictions += uint64(len(ev.Evicted) - n)
		c.stats.EmergencyEvictions += uint64(len(ev.Evicted) - n)
	}
	ev.Bytes = c.bytes
	c.mu.Unlock()

	if ev.Emergency {
		c.log.Warn("cache: protected window exceeds budget",
			"current", b.CurrentPage, "radius", b.ProtectedRadius,
			"budget", b.Bytes, "bytes", ev.Bytes, "evicted", len(ev.Evicted))
	} else if len(ev.Evicted) > 0 {
		c.log.Debug("cache: evicted", "pages", ev.Evicted, "bytes", ev.Bytes)
	}
	return ev
}

// InvalidateForResolutionChange marks every rendered page stale without
// evicting anything. It returns the pages that became stale.
func (c *Cache) InvalidateForResolutionChange() []int {
	if c.pages == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var stale []int
	for e := c.lru.Oldest(); e != nil; e = e.prev {
		if c.pages.MarkStale(e.page) {
			stale = append(stale, e.page)
		}
	}
	c.stats.Invalidations += uint64(len(stale))
	return stale
}

// RefreshWindow forces the cached pages inside b's protected window back to
// a render-eligible state. Their bitmaps stay cached for display until the
// new renders replace them.
func (c *Cache) RefreshWindow(b Budget) []int {
	if c.pages == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var refreshed []int
	for e := c.lru.Oldest(); e != nil; e = e.prev {
		if b.Protected(e.page) {
			c.pages.MarkRefresh(e.page)
			refreshed = append(refreshed, e.page)
		}
	}
	return refreshed
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Bytes is the total size of cached bitmaps.
	Bytes int64
	// Stores counts Store calls.
	Stores uint64
	// Hits and Misses count Get calls.
	Hits   uint64
	Misses uint64
	// Evictions counts budget evictions, emergency ones included.
	Evictions uint64
	// EmergencyEvictions counts evictions from inside the protected window.
	EmergencyEvictions uint64
	// Invalidations counts pages marked stale by resolution changes.
	Invalidations uint64
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Len = len(c.entries)
	s.Bytes = c.bytes
	return s
}

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package queue

// Window is the range of pages that should have outstanding or completed
// renders around a focus page.
type Window struct {
	Center      int
	PagesBefore int
	PagesAfter  int
	TotalPages  int
}

// Limit shrinks the window so that it holds at most maxSize pages. A window
// that does not fit becomes symmetric: both sides are set to (maxSize-1)/2,
// even one that was shorter. maxSize <= 0 means no limit.
func (w Window) Limit(maxSize int) Window {
	if w.PagesBefore < 0 {
		w.PagesBefore = 0
	}
	if w.PagesAfter < 0 {
		w.PagesAfter = 0
	}
	if maxSize <= 0 || 1+w.PagesBefore+w.PagesAfter <= maxSize {
		return w
	}
	half := (maxSize - 1) / 2
	w.PagesBefore = half
	w.PagesAfter = half
	return w
}

// Pages returns the target page numbers in ascending order, clamped to
// [1, TotalPages].
func (w Window) Pages() []int {
	if w.TotalPages <= 0 {
		return nil
	}
	lo := max(1, w.Center-max(w.PagesBefore, 0))
	hi := min(w.TotalPages, w.Center+max(w.PagesAfter, 0))
	if lo > hi {
		return nil
	}
	pages := make([]int, 0, hi-lo+1)
	for n := lo; n <= hi; n++ {
		pages = append(pages, n)
	}
	return pages
}

// Contains reports whether page n is in the target set.
func (w Window) Contains(n int) bool {
	if n < 1 || n > w.TotalPages {
		return false
	}
	return n >= w.Center-max(w.PagesBefore, 0) && n <= w.Center+max(w.PagesAfter, 0)
}

// Priority is the distance of page n from the center.
func (w Window) Priority(n int) int {
	d := n - w.Center
	if d < 0 {
		return -d
	}
	return d
}

// Kind is critical for the center page and prefetch otherwise.
func (w Window) Kind(n int) Kind {
	if n == w.Center {
		return KindCritical
	}
	return KindPrefetch
}

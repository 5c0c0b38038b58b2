// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bitmap

import (
	"sync"
	"sync/atomic"
)

// Pool provides reuse of bitmap backing buffers via sync.Pool.
//
// Page renders at a fixed zoom produce many buffers of identical size, so a
// pool per (width, height) keeps steady-state scrolling allocation-free.
// Pool also counts the bytes currently checked out, which is what the
// render pipeline actually holds.
//
// Thread safety: Pool is safe for concurrent use.
type Pool struct {
	// pools holds separate sync.Pool instances for each bitmap size.
	// Key format: (width << 16) | height
	pools sync.Map

	live atomic.Int64
}

// NewPool creates a new bitmap pool.
func NewPool() *Pool {
	return &Pool{}
}

// Get returns a zeroed bitmap with the given dimensions.
// Returns nil if either dimension is not positive.
func (p *Pool) Get(width, height int) *Bitmap {
	if width <= 0 || height <= 0 {
		return nil
	}

	size := width * height * 4
	buf := p.getOrCreatePool(poolKey(width, height), size).Get().(*[]uint8)
	data := *buf
	if len(data) != size {
		// Clamped keys can collide for very large bitmaps.
		data = make([]uint8, size)
	} else {
		clear(data)
	}

	p.live.Add(int64(len(data)))
	return &Bitmap{
		width:  width,
		height: height,
		data:   data,
		pool:   p,
	}
}

// put returns a buffer to the pool. Called once per bitmap from Close.
func (p *Pool) put(width, height int, data []uint8) {
	p.live.Add(-int64(len(data)))

	key := poolKey(width, height)
	if pool, ok := p.pools.Load(key); ok {
		pool.(*sync.Pool).Put(&data)
	}
	// If pool doesn't exist, let GC reclaim the buffer
}

// adopt records a buffer that was allocated outside the pool but will be
// returned to it on Close.
func (p *Pool) adopt(n int) {
	p.live.Add(int64(n))
}

// LiveBytes returns the number of bytes held by bitmaps that have been
// handed out and not yet closed.
func (p *Pool) LiveBytes() int64 {
	return p.live.Load()
}

// poolKey creates a unique key for a bitmap size.
// Width and height are clamped to 16-bit values to prevent overflow.
func poolKey(width, height int) uint32 {
	w := width
	h := height
	if w > 0xFFFF {
		w = 0xFFFF
	}
	if h > 0xFFFF {
		h = 0xFFFF
	}
	return uint32(w)<<16 | uint32(h) //nolint:gosec // values are clamped above
}

// getOrCreatePool gets or creates a sync.Pool for the given buffer size.
func (p *Pool) getOrCreatePool(key uint32, size int) *sync.Pool {
	if pool, ok := p.pools.Load(key); ok {
		return pool.(*sync.Pool)
	}

	newPool := &sync.Pool{
		New: func() any {
			buf := make([]uint8, size)
			return &buf
		},
	}

	// Try to store; if another goroutine beat us, use theirs
	actual, _ := p.pools.LoadOrStore(key, newPool)
	return actual.(*sync.Pool)
}

// defaultPool is the package-level pool used by New and FromRGBA.
var defaultPool = NewPool()

// DefaultPool returns the package-level pool.
func DefaultPool() *Pool {
	return defaultPool
}

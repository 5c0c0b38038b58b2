// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/pageview/bitmap"
	"github.com/gogpu/pageview/engine"
	"github.com/gogpu/pageview/worker"
)

// ErrFallbackToLocal indicates the delegated path cannot serve the request.
// The executor handles it by retrying on the local path.
var ErrFallbackToLocal = errors.New("render: falling back to local rendering")

// ErrNoRasterizer is returned when neither path is configured.
var ErrNoRasterizer = errors.New("render: no rasterizer")

// Rasterizer produces page sizes and page bitmaps. Page indexes are 0-based.
type Rasterizer interface {
	PageSize(ctx context.Context, index int) (engine.Size, error)
	Render(ctx context.Context, index int, res engine.Resolution) (*bitmap.Bitmap, error)
	Outline(ctx context.Context) ([]engine.OutlineEntry, error)
}

// Local rasterizes with a document engine in this process.
type Local struct {
	doc  engine.Document
	safe bool
	mu   sync.Mutex
}

// NewLocal wraps doc. Calls are serialized unless doc reports itself safe
// for concurrent use.
func NewLocal(doc engine.Document) *Local {
	l := &Local{doc: doc}
	if cd, ok := doc.(engine.ConcurrentDocument); ok {
		l.safe = cd.ConcurrencySafe()
	}
	return l
}

func (l *Local) lock() func() {
	if l.safe {
		return func() {}
	}
	l.mu.Lock()
	return l.mu.Unlock
}

// PageSize implements Rasterizer.
func (l *Local) PageSize(ctx context.Context, index int) (engine.Size, error) {
	defer l.lock()()
	return l.doc.PageSize(ctx, index)
}

// Render implements Rasterizer.
func (l *Local) Render(ctx context.Context, index int, res engine.Resolution) (*bitmap.Bitmap, error) {
	defer l.lock()()
	return engine.Rasterize(ctx, l.doc, index, res)
}

// Outline implements Rasterizer.
func (l *Local) Outline(ctx context.Context) ([]engine.OutlineEntry, error) {
	defer l.lock()()
	return l.doc.Outline(ctx)
}

// Delegated rasterizes through a worker session.
type Delegated struct {
	session *worker.Session
}

// NewDelegated wraps a ready session.
func NewDelegated(s *worker.Session) *Delegated {
	return &Delegated{session: s}
}

// Session returns the wrapped session.
func (d *Delegated) Session() *worker.Session {
	return d.session
}

// PageSize implements Rasterizer.
func (d *Delegated) PageSize(ctx context.Context, index int) (engine.Size, error) {
	if err := d.usable(); err != nil {
		return engine.Size{}, err
	}
	size, err := d.session.PageSize(ctx, index)
	return size, d.classify(err)
}

// Render implements Rasterizer.
func (d *Delegated) Render(ctx context.Context, index int, res engine.Resolution) (*bitmap.Bitmap, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	bm, err := d.session.Render(ctx, index, res)
	return bm, d.classify(err)
}

// Outline implements Rasterizer.
func (d *Delegated) Outline(ctx context.Context) ([]engine.OutlineEntry, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	entries, err := d.session.Outline(ctx)
	return entries, d.classify(err)
}

func (d *Delegated) usable() error {
	if d.session.State() != worker.StateReady {
		return fmt.Errorf("%w: session %s", ErrFallbackToLocal, d.session.State())
	}
	return nil
}

// classify maps session-level failures to ErrFallbackToLocal. Per-task
// failures and cancellation pass through.
func (d *Delegated) classify(err error) error {
	if err == nil || errors.Is(err, worker.ErrCancelled) {
		return err
	}
	var re *worker.RemoteError
	if errors.As(err, &re) && re.TaskID != 0 {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFallbackToLocal, err)
}

// LazyLocal is a Local whose document is opened on first use. It serves as
// the fallback behind a delegated path, where the document would otherwise
// never be opened in this process.
type LazyLocal struct {
	open func() (engine.Document, error)

	once  sync.Once
	local *Local
	doc   engine.Document
	err   error
}

// NewLazyLocal returns a rasterizer that calls open once, on first use.
func NewLazyLocal(open func() (engine.Document, error)) *LazyLocal {
	return &LazyLocal{open: open}
}

func (l *LazyLocal) get() (*Local, error) {
	l.once.Do(func() {
		l.doc, l.err = l.open()
		if l.err == nil {
			l.local = NewLocal(l.doc)
		}
	})
	return l.local, l.err
}

// Document opens the document if needed and returns it.
func (l *LazyLocal) Document() (engine.Document, error) {
	if _, err := l.get(); err != nil {
		return nil, err
	}
	return l.doc, nil
}

// PageSize implements Rasterizer.
func (l *LazyLocal) PageSize(ctx context.Context, index int) (engine.Size, error) {
	local, err := l.get()
	if err != nil {
		return engine.Size{}, err
	}
	return local.PageSize(ctx, index)
}

// Render implements Rasterizer.
func (l *LazyLocal) Render(ctx context.Context, index int, res engine.Resolution) (*bitmap.Bitmap, error) {
	local, err := l.get()
	if err != nil {
		return nil, err
	}
	return local.Render(ctx, index, res)
}

// Outline implements Rasterizer.
func (l *LazyLocal) Outline(ctx context.Context) ([]engine.OutlineEntry, error) {
	local, err := l.get()
	if err != nil {
		return nil, err
	}
	return local.Outline(ctx)
}

// Close destroys the document if it was opened. Later calls fail.
func (l *LazyLocal) Close() error {
	var doc engine.Document
	l.once.Do(func() {
		l.err = errLazyClosed
	})
	doc, l.doc = l.doc, nil
	if doc == nil {
		return nil
	}
	return doc.Destroy()
}

var errLazyClosed = errors.New("render: local rasterizer closed")

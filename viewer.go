// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pageview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/pageview/bitmap"
	"github.com/gogpu/pageview/cache"
	"github.com/gogpu/pageview/config"
	"github.com/gogpu/pageview/docstate"
	"github.com/gogpu/pageview/engine"
	"github.com/gogpu/pageview/internal/logging"
	"github.com/gogpu/pageview/queue"
	"github.com/gogpu/pageview/render"
	"github.com/gogpu/pageview/scheduler"
	"github.com/gogpu/pageview/sizestore"
	"github.com/gogpu/pageview/worker"
)

// Errors returned by Viewer methods.
var (
	// ErrClosed is returned by methods called after Close.
	ErrClosed = errors.New("pageview: viewer closed")

	// ErrPageRange is returned for a page number outside the document.
	ErrPageRange = errors.New("pageview: page out of range")

	// ErrNoSize is returned by Preview when the page size is not known yet.
	ErrNoSize = errors.New("pageview: page size unknown")

	// ErrRestoreTimeout is returned by RestoreView when the page did not
	// render in time. The viewer stays usable.
	ErrRestoreTimeout = errors.New("pageview: restore timed out")

	// ErrPageFailed is returned by RestoreView when the page failed to render.
	ErrPageFailed = errors.New("pageview: page failed")
)

// sizeSaveTimeout bounds the write-back of page sizes on Close.
const sizeSaveTimeout = 5 * time.Second

// Stats is a snapshot of a viewer's pipeline.
type Stats struct {
	Cache cache.Stats

	// Running is the number of renders holding a scheduler slot.
	Running int
	// Queued is the number of tasks waiting in the queue.
	Queued int
	// Stale is the number of pages showing a bitmap from an older view.
	Stale int

	// Delegated is true while a worker session is serving renders.
	Delegated bool
	// FellBack is true once any request was served locally because the
	// worker could not.
	FellBack bool
	// Responsive reports the worker heartbeat. Always true without a worker.
	Responsive bool
}

// Viewer renders the pages of one open document on demand.
//
// Viewer is safe for concurrent use.
type Viewer struct {
	cfg         config.Config
	log         *slog.Logger
	fingerprint string

	ctx    context.Context
	cancel context.CancelFunc

	doc   *docstate.Document
	cache *cache.Cache
	queue *queue.Queue
	exec  *render.Executor
	sched *scheduler.Scheduler

	local       *render.LazyLocal
	session     *worker.Session
	closeWorker func() error

	store    *sizestore.Store
	ownStore bool

	observer func(docstate.PageRecord)
	notifyMu sync.Mutex
	changed  chan struct{} // closed and replaced on every record change

	mu     sync.Mutex
	window queue.Window
	closed bool
}

// Open opens data and returns a viewer with an empty window. The viewer
// keeps data for a possible local fallback; the caller must not modify it
// until Close returns.
//
// With a delegate mode configured the document is handed to a worker. If
// the worker fails to start or initialize, Open logs the reason and renders
// locally instead.
func Open(ctx context.Context, data []byte, opts ...Option) (*Viewer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = Logger()
	}
	if o.registry == nil {
		o.registry = engine.Default()
	}

	v := &Viewer{
		cfg:         o.cfg,
		log:         logging.OrNop(o.logger),
		fingerprint: sizestore.Fingerprint(data),
		observer:    o.observer,
		changed:     make(chan struct{}),
		store:       o.sizeStore,
	}
	v.ctx, v.cancel = context.WithCancel(context.Background())

	if v.store == nil && v.cfg.SizeStore != "" {
		s, err := sizestore.Open(v.cfg.SizeStore)
		if err != nil {
			v.log.Warn("pageview: size store unavailable", "path", v.cfg.SizeStore, "error", err)
		} else {
			v.store, v.ownStore = s, true
		}
	}

	engineOpts := engine.Options{ResourceURL: v.cfg.ResourceURL, Logger: v.log}
	v.local = render.NewLazyLocal(func() (engine.Document, error) {
		doc, kind, err := o.registry.Open(v.ctx, v.cfg.Engine, data, engineOpts)
		if err != nil {
			return nil, err
		}
		v.log.Debug("pageview: local engine opened", "engine", kind, "pages", doc.PageCount())
		return doc, nil
	})

	var (
		pageCount int
		sizes     []docstate.Size
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := v.start(gctx, data, o.registry)
		pageCount = n
		return err
	})
	if v.store != nil {
		g.Go(func() error {
			loaded, err := v.store.Load(gctx, v.fingerprint)
			if err != nil {
				v.log.Warn("pageview: loading page sizes", "error", err)
				return nil
			}
			sizes = loaded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		v.release()
		return nil, err
	}

	v.doc = docstate.New(pageCount, docstate.WithObserver(v.onRecord))
	v.doc.SetView(docstate.View{
		Resolution:       v.cfg.Resolution,
		DevicePixelRatio: v.cfg.DevicePixelRatio,
		Zoom:             v.cfg.Zoom,
	})
	for _, s := range sizes {
		v.doc.SetSize(s.PageNumber, s.WidthPoints, s.HeightPoints)
	}

	v.cache = cache.New(cache.WithTracker(v.doc), cache.WithLogger(v.log))
	v.queue = queue.New(v.cfg.MaxQueueSize, queue.WithContext(v.ctx), queue.WithLogger(v.log))

	execOpts := []render.Option{
		render.WithLogger(v.log),
		render.WithStoreHook(v.enforceBudget),
	}
	if v.session != nil {
		execOpts = append(execOpts, render.WithDelegate(render.NewDelegated(v.session)))
	}
	v.exec = render.New(v.doc, v.cache, v.local, execOpts...)
	v.sched = scheduler.New(v.cfg.MaxConcurrent, v.queue, v.exec.Render,
		scheduler.WithLogger(v.log),
		scheduler.WithErrorHandler(v.onRenderError))

	v.log.Info("pageview: document opened",
		"pages", pageCount,
		"delegate", string(v.cfg.Delegate),
		"delegated", v.session != nil,
		"known_sizes", len(sizes))
	return v, nil
}

// start brings up the rendering path selected by the config and returns the
// page count.
func (v *Viewer) start(ctx context.Context, data []byte, registry *engine.Registry) (int, error) {
	if v.cfg.Delegate != config.DelegateOff {
		n, err := v.startWorker(ctx, data, registry)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		v.log.Info("pageview: worker unavailable, rendering locally",
			"delegate", string(v.cfg.Delegate), "error", err)
	}
	doc, err := v.local.Document()
	if err != nil {
		return 0, fmt.Errorf("pageview: open: %w", err)
	}
	return doc.PageCount(), nil
}

// startWorker starts a worker and initializes it with a copy of data. On
// failure the worker is torn down again.
func (v *Viewer) startWorker(ctx context.Context, data []byte, registry *engine.Registry) (int, error) {
	sessOpts := []worker.Option{
		worker.WithLogger(v.log),
		worker.WithInitTimeout(v.cfg.WorkerInitTimeout),
		worker.WithHeartbeat(v.cfg.HeartbeatInterval, v.cfg.HeartbeatTimeout),
	}

	var (
		sess    *worker.Session
		closeFn func() error
	)
	switch v.cfg.Delegate {
	case config.DelegateInProcess:
		cc, wc := worker.Pipe()
		served := make(chan error, 1)
		go func() {
			served <- worker.Serve(v.ctx, wc,
				worker.WithRegistry(registry),
				worker.WithServeLogger(v.log))
		}()
		sess = worker.NewSession(cc, sessOpts...)
		closeFn = func() error {
			_ = sess.Close()
			return <-served
		}
	case config.DelegateSubprocess:
		p, err := worker.Spawn(v.ctx, v.cfg.WorkerPath, sessOpts...)
		if err != nil {
			return 0, err
		}
		sess, closeFn = p.Session, p.Close
	default:
		return 0, fmt.Errorf("pageview: unknown delegate mode %q", v.cfg.Delegate)
	}

	// The worker takes ownership of its copy; data stays ours for fallback.
	n, err := sess.Init(ctx, v.cfg.Engine, bytes.Clone(data), v.cfg.ResourceURL)
	if err != nil {
		_ = closeFn()
		return 0, err
	}
	v.session, v.closeWorker = sess, closeFn
	return n, nil
}

// PageCount returns the number of pages.
func (v *Viewer) PageCount() int {
	return v.doc.PageCount()
}

// SetWindow declares the pages that matter now: center and up to before and
// after pages around it, limited to the configured queue size. Queued and
// in-flight renders for pages outside the window are cancelled and the
// scheduler is pumped. It returns what changed in the queue.
func (v *Viewer) SetWindow(center, before, after int) queue.Diff {
	w := queue.Window{
		Center:      center,
		PagesBefore: before,
		PagesAfter:  after,
		TotalPages:  v.doc.PageCount(),
	}.Limit(v.cfg.MaxQueueSize)

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return queue.Diff{}
	}
	v.window = w
	v.mu.Unlock()

	return v.apply(w)
}

func (v *Viewer) apply(w queue.Window) queue.Diff {
	diff := v.queue.SetWindow(w)
	if cancelled := v.exec.CancelInFlight(w.Contains); len(cancelled) > 0 {
		v.log.Debug("pageview: cancelled in-flight renders", "pages", cancelled)
	}
	v.sched.Pump()
	return diff
}

// Window returns the current window.
func (v *Viewer) Window() queue.Window {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.window
}

// SetView changes the zoom, device pixel ratio or render resolution. Nothing
// is evicted: rendered pages become stale and keep their bitmaps, the pages
// in the protected window are re-rendered right away and every other stale
// page is re-rendered once it enters the window. It reports whether the view
// changed.
func (v *Viewer) SetView(view docstate.View) bool {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return false
	}
	w := v.window
	v.mu.Unlock()

	gen := v.doc.Generation()
	if v.doc.SetView(view) == gen {
		return false
	}

	stale := v.cache.InvalidateForResolutionChange()
	refreshed := v.cache.RefreshWindow(v.budget())
	v.exec.CancelInFlight(nil)
	v.queue.CancelAll()
	v.log.Debug("pageview: view changed",
		"view", v.doc.View(), "stale", len(stale), "refreshed", refreshed)

	if w.TotalPages > 0 {
		v.apply(w)
	}
	return true
}

// View returns the current view.
func (v *Viewer) View() docstate.View {
	return v.doc.View()
}

// GetBitmap returns the cached bitmap of page n. The bitmap is borrowed: it
// stays valid until the page is re-rendered, evicted or the viewer closes.
// A stale page returns its outdated bitmap; see Preview.
func (v *Viewer) GetBitmap(n int) (*bitmap.Bitmap, bool) {
	return v.cache.Get(n)
}

// Preview returns a copy of page n's cached bitmap scaled to the size the
// current view expects, for showing stale pages. The caller owns the result.
func (v *Viewer) Preview(n int) (*bitmap.Bitmap, error) {
	w, h, ok := v.doc.PixelSize(n)
	if !ok {
		return nil, ErrNoSize
	}
	return v.cache.Preview(n, w, h)
}

// GetPageStatus returns the status of page n.
func (v *Viewer) GetPageStatus(n int) docstate.Status {
	return v.doc.Status(n)
}

// Page returns a copy of page n's record.
func (v *Viewer) Page(n int) (docstate.PageRecord, bool) {
	return v.doc.Page(n)
}

// Pages returns copies of all page records.
func (v *Viewer) Pages() []docstate.PageRecord {
	return v.doc.Snapshot()
}

// CancelAll cancels every queued and in-flight render. The window is kept;
// the next SetWindow queues it again.
func (v *Viewer) CancelAll() {
	v.queue.CancelAll()
	v.exec.CancelInFlight(nil)
}

// RunningCount returns the number of renders holding a scheduler slot.
func (v *Viewer) RunningCount() int {
	return v.sched.Running()
}

// Outline returns the flattened document outline.
func (v *Viewer) Outline(ctx context.Context) ([]engine.OutlineEntry, error) {
	if v.isClosed() {
		return nil, ErrClosed
	}
	return v.exec.Outline(ctx)
}

// Stats returns a snapshot of the pipeline.
func (v *Viewer) Stats() Stats {
	s := Stats{
		Cache:      v.cache.Stats(),
		Running:    v.sched.Running(),
		Queued:     v.queue.Len(),
		FellBack:   v.exec.FellBack(),
		Responsive: true,
	}
	for _, rec := range v.doc.Snapshot() {
		if rec.Status == docstate.StatusStale {
			s.Stale++
		}
	}
	if v.session != nil {
		s.Delegated = v.session.State() == worker.StateReady
		s.Responsive = v.session.Responsive()
	}
	return s
}

// WaitIdle blocks until the queue is drained and no render is running.
func (v *Viewer) WaitIdle(ctx context.Context) error {
	for {
		v.sched.Pump()
		idle := v.sched.Idle()
		select {
		case <-idle:
			if v.queue.IsEmpty() && v.sched.Running() == 0 {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RestoreView centers the configured window on page and waits until the
// page has rendered or failed, for at most the configured restore timeout.
// After a timeout the pipeline keeps running and the viewer stays usable.
func (v *Viewer) RestoreView(ctx context.Context, page int) error {
	if v.isClosed() {
		return ErrClosed
	}
	if page < 1 || page > v.doc.PageCount() {
		return fmt.Errorf("%w: %d", ErrPageRange, page)
	}
	v.SetWindow(page, v.cfg.PagesBefore, v.cfg.PagesAfter)

	if v.cfg.RestoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.cfg.RestoreTimeout)
		defer cancel()
	}
	for {
		changed := v.changes()
		rec, _ := v.doc.Page(page)
		switch rec.Status {
		case docstate.StatusRendered:
			return nil
		case docstate.StatusError:
			return fmt.Errorf("%w: page %d: %s", ErrPageFailed, page, rec.ErrorMessage)
		case docstate.StatusDetached:
			return ErrClosed
		}
		select {
		case <-changed:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				v.log.Warn("pageview: initial view not rendered in time",
					"page", page, "status", rec.Status.String(), "timeout", v.cfg.RestoreTimeout)
				return fmt.Errorf("%w: page %d", ErrRestoreTimeout, page)
			}
			return ctx.Err()
		}
	}
}

// LoadSizes looks up the size of every page that does not have one yet,
// with at most the configured number of concurrent lookups. A failed lookup
// marks that page failed and does not stop the others.
func (v *Viewer) LoadSizes(ctx context.Context) error {
	if v.isClosed() {
		return ErrClosed
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.MaxConcurrent)
	for _, rec := range v.doc.Snapshot() {
		if rec.HasSize {
			continue
		}
		n := rec.PageNumber
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v.doc.BeginSizing(n)
			size, err := v.exec.PageSize(gctx, n)
			if err != nil {
				v.log.Warn("pageview: page size lookup failed", "page", n, "error", err)
				v.doc.FailRender(n, err.Error())
				return nil
			}
			v.doc.SetSize(n, size.Width, size.Height)
			return nil
		})
	}
	return g.Wait()
}

// Close cancels all work, waits for running renders to return, writes the
// known page sizes back to the size store and releases every bitmap, the
// worker and the engine. Close is idempotent.
func (v *Viewer) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	v.CancelAll()
	v.sched.Wait()

	if v.store != nil {
		if sizes := v.doc.Sizes(); len(sizes) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), sizeSaveTimeout)
			if err := v.store.Save(ctx, v.fingerprint, sizes); err != nil {
				v.log.Warn("pageview: saving page sizes", "error", err)
			}
			cancel()
		}
	}

	v.cache.Clear()
	v.doc.DetachAll()
	err := v.release()
	v.log.Debug("pageview: document closed")
	return err
}

// release closes the worker, the local engine and an owned size store, then
// cancels the viewer context.
func (v *Viewer) release() error {
	var errs []error
	if v.closeWorker != nil {
		errs = append(errs, v.closeWorker())
	}
	errs = append(errs, v.local.Close())
	if v.ownStore {
		errs = append(errs, v.store.Close())
	}
	v.cancel()
	return errors.Join(errs...)
}

func (v *Viewer) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// budget returns the cache budget around the current window center.
func (v *Viewer) budget() cache.Budget {
	v.mu.Lock()
	center := v.window.Center
	v.mu.Unlock()
	return cache.Budget{
		CurrentPage:     center,
		PageCount:       v.doc.PageCount(),
		Bytes:           v.cfg.BudgetBytes,
		ProtectedRadius: v.cfg.ProtectedRadius,
	}
}

// enforceBudget runs after every stored bitmap.
func (v *Viewer) enforceBudget(int) {
	v.cache.EnforceBudget(v.budget())
}

func (v *Viewer) onRenderError(task *queue.Task, err error) {
	if errors.Is(err, worker.ErrCancelled) || errors.Is(err, context.Canceled) {
		return
	}
	v.log.Warn("pageview: page failed", "page", task.PageNumber, "error", err)
}

// onRecord forwards record changes to the observer and wakes waiters.
func (v *Viewer) onRecord(rec docstate.PageRecord) {
	if v.observer != nil {
		v.observer(rec)
	}
	v.notifyMu.Lock()
	close(v.changed)
	v.changed = make(chan struct{})
	v.notifyMu.Unlock()
}

func (v *Viewer) changes() <-chan struct{} {
	v.notifyMu.Lock()
	defer v.notifyMu.Unlock()
	return v.changed
}

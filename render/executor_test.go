// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/gogpu/pageview/cache"
	"github.com/gogpu/pageview/docstate"
	"github.com/gogpu/pageview/engine"
	"github.com/gogpu/pageview/engine/enginetest"
	"github.com/gogpu/pageview/queue"
	"github.com/gogpu/pageview/worker"
)

// =============================================================================
// Helpers
// =============================================================================

type fixture struct {
	eng   *enginetest.Engine
	doc   *docstate.Document
	cache *cache.Cache
	exec  *Executor
}

// newFixture uses 72x72 pt pages, which render at 96x96 px.
func newFixture(t *testing.T, pages int, opts ...Option) *fixture {
	t.Helper()
	eng := enginetest.New(pages)
	eng.SetDefaultSize(engine.Size{Width: 72, Height: 72})
	doc := docstate.New(pages)
	c := cache.New(cache.WithTracker(doc))
	t.Cleanup(c.Clear)
	return &fixture{
		eng:   eng,
		doc:   doc,
		cache: c,
		exec:  New(doc, c, NewLocal(eng), opts...),
	}
}

func task(page int) *queue.Task {
	return &queue.Task{PageNumber: page, Token: queue.NewToken(context.Background())}
}

func (f *fixture) run(t *testing.T, tk *queue.Task) error {
	t.Helper()
	return f.exec.Render(tk.Token.Context(), tk)
}

// =============================================================================
// Basic behaviour
// =============================================================================

func TestRenderStoresBitmap(t *testing.T) {
	f := newFixture(t, 3)

	if err := f.run(t, task(2)); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	rec, _ := f.doc.Page(2)
	if rec.Status != docstate.StatusRendered || !rec.HasFullBitmap {
		t.Errorf("page 2 = %v hasFullBitmap=%v, want rendered", rec.Status, rec.HasFullBitmap)
	}
	if rec.WidthPixels != 96 || rec.HeightPixels != 96 {
		t.Errorf("pixel size = %dx%d, want 96x96", rec.WidthPixels, rec.HeightPixels)
	}

	bm, ok := f.cache.Get(2)
	if !ok {
		t.Fatal("page 2 not cached")
	}
	if bm.ByteSize() != 96*96*4 {
		t.Errorf("ByteSize() = %d, want %d", bm.ByteSize(), 96*96*4)
	}
	if bm.Data()[0] != enginetest.Color(1).R {
		t.Error("cached bitmap is not page index 1")
	}
}

func TestRenderCancelledBeforeStart(t *testing.T) {
	f := newFixture(t, 3)
	tk := task(1)
	tk.Token.Cancel()

	if err := f.run(t, tk); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if f.eng.TotalRenders() != 0 || f.eng.SizeCalls() != 0 {
		t.Error("cancelled task must not call the engine")
	}
	if got := f.doc.Status(1); got != docstate.StatusIdle {
		t.Errorf("Status = %v, want idle", got)
	}
}

func TestRenderCancelledDuringRaster(t *testing.T) {
	f := newFixture(t, 3)
	release := f.eng.Block(0)
	tk := task(1)

	done := make(chan error, 1)
	go func() { done <- f.run(t, tk) }()

	<-f.eng.Entered(0)
	if got := f.doc.Status(1); got != docstate.StatusRendering {
		t.Errorf("Status during render = %v, want rendering", got)
	}
	tk.Token.Cancel()
	release()

	if err := <-done; err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if _, ok := f.cache.Peek(1); ok {
		t.Error("result of a cancelled render must not be cached")
	}
	if got := f.doc.Status(1); got != docstate.StatusReady {
		t.Errorf("Status = %v, want ready", got)
	}
	surface := f.eng.Surface(0)
	if surface == nil {
		t.Fatal("engine never received a surface")
	}
	if !surface.Closed() {
		t.Error("bitmap of a cancelled render must be released")
	}
}

func TestRenderFailureIsPageLocal(t *testing.T) {
	f := newFixture(t, 3)
	f.eng.Fail(1, errors.New("corrupt page"))

	err := f.run(t, task(2))
	if err == nil || !strings.Contains(err.Error(), "corrupt page") {
		t.Fatalf("Render() error = %v, want corrupt page", err)
	}
	rec, _ := f.doc.Page(2)
	if rec.Status != docstate.StatusError || !strings.Contains(rec.ErrorMessage, "corrupt page") {
		t.Errorf("page 2 = %v %q", rec.Status, rec.ErrorMessage)
	}

	if err := f.run(t, task(3)); err != nil {
		t.Fatalf("Render(3) error = %v", err)
	}
	if got := f.doc.Status(3); got != docstate.StatusRendered {
		t.Errorf("page 3 = %v, want rendered", got)
	}
}

func TestRenderEnginePanicFailsPage(t *testing.T) {
	f := newFixture(t, 2)
	f.eng.Panic(0)

	err := f.run(t, task(1))
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("Render() error = %v, want panic error", err)
	}
	if got := f.doc.Status(1); got != docstate.StatusError {
		t.Errorf("page 1 = %v, want error", got)
	}
	if err := f.run(t, task(2)); err != nil {
		t.Fatalf("Render(2) error = %v", err)
	}
}

func TestExecutorOutline(t *testing.T) {
	f := newFixture(t, 3)
	f.eng.SetOutline([]engine.OutlineNode{{Title: "Intro", PageIndex: 0}})

	entries, err := f.exec.Outline(context.Background())
	if err != nil {
		t.Fatalf("Outline() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "Intro" || entries[0].PageNumber != 1 {
		t.Errorf("Outline() = %+v", entries)
	}
}

func TestRenderSkipsUpToDatePage(t *testing.T) {
	f := newFixture(t, 2)
	for i := 0; i < 3; i++ {
		if err := f.run(t, task(1)); err != nil {
			t.Fatal(err)
		}
	}
	if got := f.eng.Renders(0); got != 1 {
		t.Errorf("Renders(0) = %d, want 1", got)
	}
}

func TestRenderStoreHook(t *testing.T) {
	var stored []int
	f := newFixture(t, 3, WithStoreHook(func(page int) { stored = append(stored, page) }))
	_ = f.run(t, task(3))
	_ = f.run(t, task(1))
	if len(stored) != 2 || stored[0] != 3 || stored[1] != 1 {
		t.Errorf("store hook saw %v, want [3 1]", stored)
	}
}

// =============================================================================
// In-flight tracking
// =============================================================================

func TestRenderSkipsPageInFlight(t *testing.T) {
	f := newFixture(t, 2)
	release := f.eng.Block(0)

	first := make(chan error, 1)
	go func() { first <- f.run(t, task(1)) }()
	<-f.eng.Entered(0)

	if err := f.run(t, task(1)); err != nil {
		t.Fatalf("second Render() error = %v", err)
	}
	if got := f.exec.InFlight(); got != 1 {
		t.Errorf("InFlight() = %d, want 1", got)
	}
	release()
	if err := <-first; err != nil {
		t.Fatal(err)
	}
	if got := f.eng.Renders(0); got != 1 {
		t.Errorf("Renders(0) = %d, want 1", got)
	}
}

func TestRenderReplacesCancelledInFlight(t *testing.T) {
	f := newFixture(t, 2)
	release := f.eng.Block(0)

	old := task(1)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = f.run(t, old)
	}()
	<-f.eng.Entered(0)

	if got := f.exec.CancelInFlight(nil); len(got) != 1 || got[0] != 1 {
		t.Errorf("CancelInFlight() = %v, want [1]", got)
	}
	go func() {
		defer wg.Done()
		_ = f.run(t, task(1))
	}()
	release()
	wg.Wait()

	if got := f.doc.Status(1); got != docstate.StatusRendered {
		t.Errorf("Status = %v, want rendered", got)
	}
	if _, ok := f.cache.Peek(1); !ok {
		t.Error("replacement render should be cached")
	}
}

func TestCancelInFlightKeep(t *testing.T) {
	f := newFixture(t, 3)
	rel0 := f.eng.Block(0)
	rel2 := f.eng.Block(2)

	var wg sync.WaitGroup
	for _, p := range []int{1, 3} {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			_ = f.run(t, task(p))
		}(p)
	}
	<-f.eng.Entered(0)
	<-f.eng.Entered(2)

	got := f.exec.CancelInFlight(func(page int) bool { return page == 1 })
	if len(got) != 1 || got[0] != 3 {
		t.Errorf("CancelInFlight() = %v, want [3]", got)
	}
	rel0()
	rel2()
	wg.Wait()

	if f.doc.Status(1) != docstate.StatusRendered {
		t.Errorf("kept page status = %v", f.doc.Status(1))
	}
	if _, ok := f.cache.Peek(3); ok {
		t.Error("cancelled page must not be cached")
	}
}

// =============================================================================
// View changes
// =============================================================================

func TestRenderAcrossViewChangeIsStale(t *testing.T) {
	f := newFixture(t, 2)
	release := f.eng.Block(0)

	done := make(chan error, 1)
	go func() { done <- f.run(t, task(1)) }()
	<-f.eng.Entered(0)

	f.doc.SetView(docstate.View{Resolution: 1, DevicePixelRatio: 2, Zoom: 1})
	release()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	rec, _ := f.doc.Page(1)
	if rec.Status != docstate.StatusStale {
		t.Errorf("Status = %v, want stale", rec.Status)
	}
	if _, ok := f.cache.Peek(1); !ok {
		t.Error("stale bitmap should stay cached for display")
	}
	if !f.doc.NeedsRender(1) {
		t.Error("stale page should need a render")
	}
}

// =============================================================================
// Delegated path
// =============================================================================

func startSession(t *testing.T, eng *enginetest.Engine) *worker.Session {
	t.Helper()
	reg := engine.NewRegistry()
	reg.Register("test", 0, func(context.Context, []byte, engine.Options) (engine.Document, error) {
		return eng, nil
	}, nil)

	cc, wc := worker.Pipe()
	go func() { _ = worker.Serve(context.Background(), wc, worker.WithRegistry(reg)) }()
	s := worker.NewSession(cc, worker.WithHeartbeat(0, 0))
	t.Cleanup(func() { _ = s.Close() })
	if _, err := s.Init(context.Background(), "test", nil, ""); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return s
}

func TestRenderDelegated(t *testing.T) {
	remote := enginetest.New(3)
	remote.SetDefaultSize(engine.Size{Width: 72, Height: 72})
	s := startSession(t, remote)

	f := newFixture(t, 3, WithDelegate(NewDelegated(s)))
	if err := f.run(t, task(2)); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if remote.Renders(1) != 1 || remote.SizeCalls() != 1 {
		t.Errorf("remote renders=%d sizes=%d, want 1 and 1", remote.Renders(1), remote.SizeCalls())
	}
	if f.eng.TotalRenders() != 0 {
		t.Error("local engine should not be used while the worker is healthy")
	}
	if f.exec.FellBack() {
		t.Error("FellBack() = true, want false")
	}
	if got := f.doc.Status(2); got != docstate.StatusRendered {
		t.Errorf("Status = %v, want rendered", got)
	}
}

func TestRenderDelegatedTaskErrorDoesNotFallBack(t *testing.T) {
	remote := enginetest.New(3)
	remote.SetDefaultSize(engine.Size{Width: 72, Height: 72})
	remote.Fail(0, errors.New("bad page"))
	s := startSession(t, remote)

	f := newFixture(t, 3, WithDelegate(NewDelegated(s)))
	if err := f.run(t, task(1)); err == nil {
		t.Fatal("Render() error = nil, want page error")
	}
	if f.exec.FellBack() || f.eng.TotalRenders() != 0 {
		t.Error("a per-page worker error must not trigger the local fallback")
	}
	if got := f.doc.Status(1); got != docstate.StatusError {
		t.Errorf("Status = %v, want error", got)
	}
}

func TestRenderFallsBackWhenSessionTerminated(t *testing.T) {
	remote := enginetest.New(3)
	s := startSession(t, remote)
	_ = s.Close()

	f := newFixture(t, 3, WithDelegate(NewDelegated(s)))
	if err := f.run(t, task(1)); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !f.exec.FellBack() {
		t.Error("FellBack() = false, want true")
	}
	if f.eng.Renders(0) != 1 {
		t.Errorf("local Renders(0) = %d, want 1", f.eng.Renders(0))
	}
	if got := f.doc.Status(1); got != docstate.StatusRendered {
		t.Errorf("Status = %v, want rendered", got)
	}
}

func TestRenderNoRasterizer(t *testing.T) {
	doc := docstate.New(1)
	c := cache.New(cache.WithTracker(doc))
	exec := New(doc, c, nil)

	tk := task(1)
	if err := exec.Render(tk.Token.Context(), tk); !errors.Is(err, ErrNoRasterizer) {
		t.Errorf("Render() error = %v, want ErrNoRasterizer", err)
	}
	if doc.Status(1) != docstate.StatusError {
		t.Errorf("Status = %v, want error", doc.Status(1))
	}
}

func TestLazyLocalOpensOnce(t *testing.T) {
	eng := enginetest.New(2)
	opens := 0
	l := NewLazyLocal(func() (engine.Document, error) {
		opens++
		return eng, nil
	})

	for i := 0; i < 3; i++ {
		if _, err := l.PageSize(context.Background(), 0); err != nil {
			t.Fatal(err)
		}
	}
	if opens != 1 {
		t.Errorf("open called %d times, want 1", opens)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if !eng.Destroyed() {
		t.Error("Close() should destroy the opened document")
	}
}

func TestLazyLocalClosedBeforeUse(t *testing.T) {
	l := NewLazyLocal(func() (engine.Document, error) {
		t.Fatal("open must not be called after Close")
		return nil, nil
	})
	_ = l.Close()
	if _, err := l.PageSize(context.Background(), 0); err == nil {
		t.Error("PageSize() after Close should fail")
	}
}

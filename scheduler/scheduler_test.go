// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/pageview/queue"
)

func newQueue(pages int) *queue.Queue {
	q := queue.New(0)
	q.SetWindow(queue.Window{Center: 1, PagesAfter: pages - 1, TotalPages: pages})
	return q
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not drain")
	}
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestNeverExceedsMaxConcurrent(t *testing.T) {
	const maxConcurrent = 3
	q := newQueue(20)

	var current, peak, total atomic.Int32
	render := func(ctx context.Context, task *queue.Task) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		current.Add(-1)
		total.Add(1)
		return nil
	}

	s := New(maxConcurrent, q, render)
	s.Pump()
	s.Pump() // re-entrant pumping must not over-start
	waitIdle(t, s)

	if got := peak.Load(); got > maxConcurrent {
		t.Errorf("peak concurrency = %d, want <= %d", got, maxConcurrent)
	}
	if got := peak.Load(); got < 2 {
		t.Errorf("peak concurrency = %d, expected parallel execution", got)
	}
	if got := total.Load(); got != 20 {
		t.Errorf("rendered %d tasks, want 20", got)
	}
	if s.Running() != 0 {
		t.Errorf("Running() = %d after drain, want 0", s.Running())
	}
	if !q.IsEmpty() {
		t.Error("queue should be drained")
	}
}

func TestPumpStartsUpToCap(t *testing.T) {
	q := newQueue(10)
	release := make(chan struct{})
	var started atomic.Int32

	s := New(2, q, func(ctx context.Context, task *queue.Task) error {
		started.Add(1)
		<-release
		return nil
	})
	s.Pump()

	deadline := time.Now().Add(time.Second)
	for started.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.Running() != 2 {
		t.Errorf("Running() = %d, want 2", s.Running())
	}
	if q.Len() != 8 {
		t.Errorf("queue Len() = %d, want 8 left", q.Len())
	}

	close(release)
	waitIdle(t, s)
	if started.Load() != 10 {
		t.Errorf("started = %d, want 10", started.Load())
	}
}

func TestMaxConcurrentFloor(t *testing.T) {
	s := New(0, newQueue(1), func(context.Context, *queue.Task) error { return nil })
	if s.MaxConcurrent() != 1 {
		t.Errorf("MaxConcurrent() = %d, want 1", s.MaxConcurrent())
	}
}

// =============================================================================
// Failure Tests
// =============================================================================

func TestFailuresDoNotStall(t *testing.T) {
	q := newQueue(6)
	var mu sync.Mutex
	var failed []int

	s := New(2, q, func(ctx context.Context, task *queue.Task) error {
		if task.PageNumber%2 == 0 {
			return errors.New("boom")
		}
		return nil
	}, WithErrorHandler(func(task *queue.Task, err error) {
		mu.Lock()
		failed = append(failed, task.PageNumber)
		mu.Unlock()
	}))
	s.Pump()
	waitIdle(t, s)

	if len(failed) != 3 {
		t.Errorf("failed = %v, want 3 failures", failed)
	}
	if !q.IsEmpty() {
		t.Error("queue should be drained despite failures")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	q := newQueue(3)
	var errs atomic.Int32
	var done atomic.Int32

	s := New(1, q, func(ctx context.Context, task *queue.Task) error {
		done.Add(1)
		if task.PageNumber == 1 {
			panic("engine exploded")
		}
		return nil
	}, WithErrorHandler(func(*queue.Task, error) { errs.Add(1) }))
	s.Pump()
	waitIdle(t, s)

	if done.Load() != 3 {
		t.Errorf("ran %d tasks, want 3", done.Load())
	}
	if errs.Load() != 1 {
		t.Errorf("errors = %d, want 1", errs.Load())
	}
}

// =============================================================================
// Cancellation Tests
// =============================================================================

func TestAbortedTasksStillReleaseSlot(t *testing.T) {
	q := newQueue(4)
	var seen atomic.Int32

	s := New(1, q, func(ctx context.Context, task *queue.Task) error {
		seen.Add(1)
		if ctx.Err() != nil {
			return nil
		}
		task.Token.Cancel()
		return ctx.Err()
	})
	s.Pump()
	waitIdle(t, s)

	if seen.Load() != 4 {
		t.Errorf("ran %d tasks, want 4", seen.Load())
	}
}

func TestRenderSeesTaskContext(t *testing.T) {
	q := newQueue(1)
	task, _ := q.Task(1)
	task.Token.Cancel()
	// Re-add a live task.
	q.SetWindow(queue.Window{Center: 1, TotalPages: 1})

	var ctxErr error
	s := New(1, q, func(ctx context.Context, task *queue.Task) error {
		ctxErr = ctx.Err()
		return nil
	})
	s.Pump()
	waitIdle(t, s)

	if ctxErr != nil {
		t.Errorf("render ctx error = %v, want live context", ctxErr)
	}
}

func TestIdle(t *testing.T) {
	q := newQueue(2)
	release := make(chan struct{})
	s := New(2, q, func(context.Context, *queue.Task) error {
		<-release
		return nil
	})

	select {
	case <-s.Idle():
	default:
		t.Fatal("new scheduler should be idle")
	}

	s.Pump()
	idle := s.Idle()
	select {
	case <-idle:
		t.Fatal("scheduler with running tasks should not be idle")
	default:
	}

	close(release)
	select {
	case <-idle:
	case <-time.After(5 * time.Second):
		t.Fatal("Idle() never closed")
	}
}

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package scheduler drains a task queue under a concurrency cap.
//
// There is no driving loop: [Scheduler.Pump] starts tasks until the cap is
// reached or the source runs dry, and every finished task pumps again. A
// render that fails or panics still releases its slot, so one bad page never
// stalls the pipeline.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/pageview/internal/logging"
	"github.com/gogpu/pageview/queue"
)

// Source hands out tasks. *queue.Queue implements it.
type Source interface {
	Next() (*queue.Task, bool)
}

// RenderFunc performs one task. It is called on its own goroutine.
type RenderFunc func(ctx context.Context, task *queue.Task) error

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger for task failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.log = logging.OrNop(l)
	}
}

// WithErrorHandler is called with every error (or recovered panic) a render
// returns. It runs on the render goroutine before the slot is released.
func WithErrorHandler(fn func(task *queue.Task, err error)) Option {
	return func(s *Scheduler) {
		s.onError = fn
	}
}

// Scheduler runs at most maxConcurrent renders at a time.
//
// Scheduler is safe for concurrent use.
type Scheduler struct {
	maxConcurrent int
	source        Source
	render        RenderFunc
	log           *slog.Logger
	onError       func(task *queue.Task, err error)

	mu      sync.Mutex
	running int
	idle    chan struct{} // closed while running == 0
	wg      sync.WaitGroup
}

// New creates a scheduler. maxConcurrent below 1 is treated as 1.
func New(maxConcurrent int, source Source, render RenderFunc, opts ...Option) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	s := &Scheduler{
		maxConcurrent: maxConcurrent,
		source:        source,
		render:        render,
		log:           logging.Nop(),
		idle:          make(chan struct{}),
	}
	close(s.idle)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pump starts queued tasks until maxConcurrent are running or the source
// has nothing left. It never blocks on a render and may be called from any
// goroutine, including from inside a render.
func (s *Scheduler) Pump() {
	for {
		s.mu.Lock()
		if s.running >= s.maxConcurrent {
			s.mu.Unlock()
			return
		}
		task, ok := s.source.Next()
		if !ok {
			s.mu.Unlock()
			return
		}
		if s.running == 0 {
			s.idle = make(chan struct{})
		}
		s.running++
		s.wg.Add(1)
		s.mu.Unlock()

		go s.run(task)
	}
}

// run executes one task, then releases its slot and pumps again.
func (s *Scheduler) run(task *queue.Task) {
	defer s.wg.Done()
	defer s.finish()

	if err := s.call(task); err != nil {
		s.log.Debug("scheduler: render failed", "page", task.PageNumber, "err", err)
		if s.onError != nil {
			s.onError(task, err)
		}
	}
}

// call invokes the render function, converting a panic into an error.
func (s *Scheduler) call(task *queue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: render panicked: %v", r)
		}
	}()
	return s.render(task.Token.Context(), task)
}

func (s *Scheduler) finish() {
	s.mu.Lock()
	s.running--
	if s.running == 0 {
		close(s.idle)
	}
	s.mu.Unlock()

	s.Pump()
}

// Running returns the number of renders in flight.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// MaxConcurrent returns the concurrency cap.
func (s *Scheduler) MaxConcurrent() int {
	return s.maxConcurrent
}

// Idle returns a channel that is closed when no render is running at the
// moment of the call. A later Pump may start new renders.
func (s *Scheduler) Idle() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// Wait blocks until every started render (and every render those started)
// has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

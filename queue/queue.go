// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package queue holds pending page renders and decides which runs next.
//
// Callers re-declare the pages that matter on every scroll or zoom tick with
// [Queue.SetWindow]; the queue diffs the new window against the tasks it
// holds, cancelling tasks that fell out and adding tasks for new pages.
// Tasks for pages that stay in the window keep their identity and only have
// their priority and kind recomputed.
//
// [Queue.Next] hands out the best task: nearest to the center first, the
// center page before a neighbour at the same distance, then the lowest page
// number.
package queue

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/gogpu/pageview/internal/logging"
)

// Diff reports what a SetWindow call changed.
type Diff struct {
	Cancelled []int
	Added     []int
	Updated   []int
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Cancelled) == 0 && len(d.Added) == 0 && len(d.Updated) == 0
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for task lifecycle debug output.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.log = logging.OrNop(l)
	}
}

// WithContext sets the parent of every task token. Cancelling ctx aborts
// all tasks the queue ever created.
func WithContext(ctx context.Context) Option {
	return func(q *Queue) {
		q.parent = ctx
	}
}

// Queue holds at most one live task per page number.
//
// Queue is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	tasks   map[int]*Task
	maxSize int
	parent  context.Context
	nextID  uint64
	log     *slog.Logger
}

// New creates an empty queue. maxQueueSize bounds the number of pages a
// window may cover; zero or negative means unbounded.
func New(maxQueueSize int, opts ...Option) *Queue {
	q := &Queue{
		tasks:   make(map[int]*Task),
		maxSize: maxQueueSize,
		parent:  context.Background(),
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetWindow makes the queue hold exactly one task per page of w (after
// limiting w to the queue's maximum size). Cancellations are applied before
// new tasks are created. Calling SetWindow again with the same window
// changes nothing.
func (q *Queue) SetWindow(w Window) Diff {
	w = w.Limit(q.maxSize)

	q.mu.Lock()
	defer q.mu.Unlock()

	var diff Diff
	for page, t := range q.tasks {
		if !w.Contains(page) {
			t.Token.Cancel()
			delete(q.tasks, page)
			diff.Cancelled = append(diff.Cancelled, page)
		}
	}
	slices.Sort(diff.Cancelled)

	for _, page := range w.Pages() {
		prio, kind := w.Priority(page), w.Kind(page)
		if t, ok := q.tasks[page]; ok {
			if t.Token.Cancelled() {
				// Aborted from outside; replace it below.
				delete(q.tasks, page)
			} else {
				if t.Priority != prio || t.Kind != kind {
					t.Priority = prio
					t.Kind = kind
					diff.Updated = append(diff.Updated, page)
				}
				continue
			}
		}
		q.nextID++
		q.tasks[page] = &Task{
			PageNumber: page,
			Priority:   prio,
			Kind:       kind,
			Token:      NewToken(q.parent),
			id:         q.nextID,
		}
		diff.Added = append(diff.Added, page)
	}

	if !diff.Empty() {
		q.log.Debug("queue: window applied",
			"center", w.Center, "before", w.PagesBefore, "after", w.PagesAfter,
			"cancelled", len(diff.Cancelled), "added", len(diff.Added), "updated", len(diff.Updated))
	}
	return diff
}

// Next removes and returns the best task, skipping and dropping tasks whose
// token was aborted. It returns false when no live task remains.
func (q *Queue) Next() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *Task
	for page, t := range q.tasks {
		if t.Token.Cancelled() {
			delete(q.tasks, page)
			continue
		}
		if best == nil || less(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, false
	}
	delete(q.tasks, best.PageNumber)
	return best, true
}

// CancelAll aborts every queued task and empties the queue.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for page, t := range q.tasks {
		t.Token.Cancel()
		delete(q.tasks, page)
	}
}

// IsEmpty reports whether no task is queued.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) == 0
}

// Len returns the number of queued tasks, aborted ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Task returns the queued task for page n, if any.
func (q *Queue) Task(n int) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[n]
	return t, ok
}

// Pages returns the page numbers that currently have a queued task.
func (q *Queue) Pages() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	pages := make([]int, 0, len(q.tasks))
	for page := range q.tasks {
		pages = append(pages, page)
	}
	slices.Sort(pages)
	return pages
}

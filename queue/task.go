// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package queue

import (
	"context"
	"fmt"
)

// Kind distinguishes the focus page from its neighbours.
type Kind uint8

const (
	// KindCritical is the page at the window center.
	KindCritical Kind = iota

	// KindPrefetch is any other page in the window.
	KindPrefetch
)

// String returns "critical" or "prefetch".
func (k Kind) String() string {
	switch k {
	case KindCritical:
		return "critical"
	case KindPrefetch:
		return "prefetch"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Token is a cooperative cancellation token.
//
// Cancelling a token never interrupts work; it tells every holder that the
// result is no longer wanted. Holders check [Token.Cancelled] before and
// after each suspension point and discard their result once it is set.
// The token wraps a context so that it can be handed to blocking calls.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewToken returns a live token derived from parent.
func NewToken(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel marks the token aborted. Safe to call more than once.
func (t *Token) Cancel() {
	t.cancel()
}

// Cancelled reports whether the token has been aborted.
func (t *Token) Cancelled() bool {
	return t.ctx.Err() != nil
}

// Done is closed when the token is aborted.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context returns a context cancelled together with the token.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Task is a pending render request for one page.
type Task struct {
	PageNumber int

	// Priority is the distance from the window center; lower runs first.
	Priority int
	Kind     Kind
	Token    *Token

	id uint64
}

// ID identifies the task instance. A page that stays in the window keeps
// its task, and with it its ID, across window changes.
func (t *Task) ID() uint64 {
	return t.id
}

// String formats the task for logs.
func (t *Task) String() string {
	return fmt.Sprintf("task#%d(page=%d prio=%d %s)", t.id, t.PageNumber, t.Priority, t.Kind)
}

// less orders tasks: lowest priority, then critical before prefetch, then
// lowest page number.
func less(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.Kind != b.Kind {
		return a.Kind == KindCritical
	}
	return a.PageNumber < b.PageNumber
}

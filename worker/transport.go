// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package worker

import (
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by a transport after Close.
var ErrClosed = errors.New("worker: transport closed")

// ControllerConn is the controller end of a transport.
//
// Send and Recv may be called from different goroutines. Send is safe for
// concurrent use; Recv is called by a single reader.
type ControllerConn interface {
	Send(Request) error
	Recv() (Response, error)
	Close() error
}

// WorkerConn is the worker end of a transport.
type WorkerConn interface {
	Send(Response) error
	Recv() (Request, error)
	Close() error
}

// Pipe returns the two ends of an in-process transport. Messages move by
// pointer, so a sender must not touch a payload after sending it. Closing
// either end closes both.
func Pipe() (ControllerConn, WorkerConn) {
	p := &pipe{
		requests:  make(chan Request, 64),
		responses: make(chan Response, 64),
		done:      make(chan struct{}),
	}
	return &pipeController{p}, &pipeWorker{p}
}

type pipe struct {
	requests  chan Request
	responses chan Response
	done      chan struct{}
	once      sync.Once
}

func (p *pipe) close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

type pipeController struct{ p *pipe }

func (c *pipeController) Send(r Request) error {
	select {
	case <-c.p.done:
		return ErrClosed
	default:
	}
	select {
	case c.p.requests <- r:
		return nil
	case <-c.p.done:
		return ErrClosed
	}
}

func (c *pipeController) Recv() (Response, error) {
	select {
	case r := <-c.p.responses:
		return r, nil
	case <-c.p.done:
		return nil, ErrClosed
	}
}

func (c *pipeController) Close() error { return c.p.close() }

type pipeWorker struct{ p *pipe }

func (w *pipeWorker) Send(r Response) error {
	select {
	case <-w.p.done:
		release(r)
		return ErrClosed
	default:
	}
	select {
	case w.p.responses <- r:
		return nil
	case <-w.p.done:
		release(r)
		return ErrClosed
	}
}

func (w *pipeWorker) Recv() (Request, error) {
	select {
	case r := <-w.p.requests:
		return r, nil
	case <-w.p.done:
		return nil, ErrClosed
	}
}

func (w *pipeWorker) Close() error { return w.p.close() }

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe)
}

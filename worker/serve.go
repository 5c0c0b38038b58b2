// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/pageview/engine"
	"github.com/gogpu/pageview/internal/logging"
)

// ServeOption configures Serve.
type ServeOption func(*serveOptions)

type serveOptions struct {
	registry *engine.Registry
	logger   *slog.Logger
}

// WithRegistry sets the engine registry used to open documents.
// The default is engine.Default().
func WithRegistry(r *engine.Registry) ServeOption {
	return func(o *serveOptions) {
		o.registry = r
	}
}

// WithServeLogger sets the worker-side logger.
func WithServeLogger(l *slog.Logger) ServeOption {
	return func(o *serveOptions) {
		o.logger = l
	}
}

// errEnginePanic marks a panic recovered from the engine.
var errEnginePanic = errors.New("worker: engine panic")

// server is the worker side of a channel. Requests that touch the document
// run one at a time on the engine goroutine; cancel and heartbeat are handled
// by the receive loop so they are never stuck behind a render.
type server struct {
	conn WorkerConn
	opts serveOptions
	log  *slog.Logger

	jobs chan Request

	mu  sync.Mutex
	doc engine.Document
	// pending maps queued render task ids to whether they were cancelled.
	// Cancels for ids not in it are ignored.
	pending map[uint64]bool
}

// Serve runs the worker side of a channel on conn until conn is closed, ctx
// ends, or the engine panics. It closes conn and destroys the document
// before returning. A panic is reported to the controller as a fatal error
// and returned.
func Serve(ctx context.Context, conn WorkerConn, opts ...ServeOption) error {
	return newServer(conn, opts...).serve(ctx)
}

func newServer(conn WorkerConn, opts ...ServeOption) *server {
	o := serveOptions{registry: engine.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &server{
		conn:    conn,
		opts:    o,
		log:     logging.OrNop(o.logger),
		jobs:    make(chan Request, 256),
		pending: make(map[uint64]bool),
	}
}

func (s *server) serve(ctx context.Context) error {
	conn := s.conn
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineErr := make(chan error, 1)
	go func() {
		engineErr <- s.runEngine(ctx)
		// Unblock the receive loop.
		cancel()
	}()

	recvErr := s.receive(ctx)
	cancel()
	close(s.jobs)
	err := <-engineErr

	_ = conn.Close()
	s.mu.Lock()
	if s.doc != nil {
		_ = s.doc.Destroy()
		s.doc = nil
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if errors.Is(recvErr, ErrClosed) || isEOF(recvErr) {
		return nil
	}
	return recvErr
}

func (s *server) receive(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	for {
		req, err := s.conn.Recv()
		if err != nil {
			return err
		}
		switch m := req.(type) {
		case *HeartbeatRequest:
			if err := s.conn.Send(&PongResponse{Timestamp: time.Now()}); err != nil {
				return err
			}
		case *CancelRequest:
			s.mu.Lock()
			if _, ok := s.pending[m.TaskID]; ok {
				s.pending[m.TaskID] = true
			}
			s.mu.Unlock()
		case *InitRequest, *RenderRequest, *SizeRequest, *OutlineRequest:
			if r, ok := req.(*RenderRequest); ok {
				s.mu.Lock()
				s.pending[r.TaskID] = false
				s.mu.Unlock()
			}
			select {
			case s.jobs <- req:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			s.log.Warn("worker: unknown request", "type", req.Type())
		}
	}
}

// runEngine executes document jobs in order. It stops at the first panic.
func (s *server) runEngine(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errEnginePanic, r)
			s.log.Error("worker: engine panic", "panic", r)
			_ = s.conn.Send(&ErrorResponse{Message: err.Error()})
		}
	}()

	for req := range s.jobs {
		if ctx.Err() != nil {
			continue
		}
		s.handle(ctx, req)
	}
	return nil
}

func (s *server) handle(ctx context.Context, req Request) {
	switch m := req.(type) {
	case *InitRequest:
		s.init(ctx, m)
	case *RenderRequest:
		s.render(ctx, m)
	case *SizeRequest:
		doc, ok := s.document(m.TaskID)
		if !ok {
			return
		}
		size, err := doc.PageSize(ctx, m.PageIndex)
		if err != nil {
			s.fail(m.TaskID, err)
			return
		}
		_ = s.conn.Send(&SizeResponse{TaskID: m.TaskID, PageIndex: m.PageIndex, Size: size})
	case *OutlineRequest:
		doc, ok := s.document(m.TaskID)
		if !ok {
			return
		}
		entries, err := doc.Outline(ctx)
		if err != nil {
			s.fail(m.TaskID, err)
			return
		}
		_ = s.conn.Send(&OutlineResponse{TaskID: m.TaskID, Entries: entries})
	}
}

func (s *server) init(ctx context.Context, m *InitRequest) {
	s.mu.Lock()
	opened := s.doc != nil
	s.mu.Unlock()
	if opened {
		_ = s.conn.Send(&ErrorResponse{Message: "document already open"})
		return
	}

	doc, kind, err := s.opts.registry.Open(ctx, m.Engine, m.Data, engine.Options{
		ResourceURL: m.ResourceURL,
		Logger:      s.log,
	})
	m.Data = nil
	if err != nil {
		s.log.Error("worker: open document", "engine", m.Engine, "error", err)
		_ = s.conn.Send(&ErrorResponse{Message: err.Error()})
		return
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	s.log.Info("worker: document open", "engine", kind, "pages", doc.PageCount())
	_ = s.conn.Send(&ReadyResponse{PageCount: doc.PageCount()})
}

func (s *server) render(ctx context.Context, m *RenderRequest) {
	defer s.forget(m.TaskID)
	if s.cancelled(m.TaskID) {
		s.log.Debug("worker: skipping cancelled task", "task", m.TaskID)
		return
	}
	doc, ok := s.document(m.TaskID)
	if !ok {
		return
	}

	bm, err := engine.Rasterize(ctx, doc, m.PageIndex, m.Resolution)
	if err != nil {
		s.fail(m.TaskID, err)
		return
	}
	if s.cancelled(m.TaskID) {
		s.log.Debug("worker: dropping result of cancelled task", "task", m.TaskID)
		_ = bm.Close()
		return
	}
	_ = s.conn.Send(&BitmapResponse{TaskID: m.TaskID, PageIndex: m.PageIndex, Bitmap: bm})
}

// cancelled reports whether the queued render id was cancelled.
func (s *server) cancelled(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[id]
}

// forget drops id once its render has been handled.
func (s *server) forget(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *server) document(id uint64) (engine.Document, bool) {
	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()
	if doc == nil {
		_ = s.conn.Send(&ErrorResponse{TaskID: id, Message: "document not open"})
		return nil, false
	}
	return doc, true
}

func (s *server) fail(id uint64, err error) {
	s.log.Debug("worker: task failed", "task", id, "error", err)
	_ = s.conn.Send(&ErrorResponse{TaskID: id, Message: err.Error()})
}

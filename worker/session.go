// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/pageview/bitmap"
	"github.com/gogpu/pageview/engine"
	"github.com/gogpu/pageview/internal/logging"
)

// Errors.
var (
	// ErrTerminated is returned for calls on a terminated session.
	ErrTerminated = errors.New("worker: session terminated")

	// ErrInitTimeout is returned when the worker does not become ready in time.
	ErrInitTimeout = errors.New("worker: init timed out")

	// ErrCancelled is returned when the caller's context ends before the
	// response arrives. Any late result is released.
	ErrCancelled = errors.New("worker: cancelled")

	// ErrNotReady is returned when a call needs a ready session.
	ErrNotReady = errors.New("worker: session not ready")

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("worker: session already initialized")
)

// State is the lifecycle state of a Session.
type State int32

// Session states.
const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Defaults for session timing.
const (
	DefaultInitTimeout       = 30 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 20 * time.Second
)

// Option configures a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	logger            *slog.Logger
	initTimeout       time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *sessionOptions) {
		o.logger = l
	}
}

// WithInitTimeout bounds the wait for the ready message.
func WithInitTimeout(d time.Duration) Option {
	return func(o *sessionOptions) {
		if d > 0 {
			o.initTimeout = d
		}
	}
}

// WithHeartbeat sets the heartbeat period and the silence after which the
// session is flagged unresponsive. A zero interval disables heartbeats.
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(o *sessionOptions) {
		o.heartbeatInterval = interval
		if timeout > 0 {
			o.heartbeatTimeout = timeout
		}
	}
}

type result struct {
	resp Response
	err  error
}

// pending is one outstanding call. ch receives exactly one result.
type pending struct {
	ch        chan result
	abandoned bool
}

// Session is the controller side of a worker channel.
//
// All methods are safe for concurrent use; concurrent Render calls are
// correlated by task id.
type Session struct {
	id   uuid.UUID
	conn ControllerConn
	log  *slog.Logger
	opts sessionOptions

	state      atomic.Int32
	responsive atomic.Bool
	lastPong   atomic.Int64 // unix nanos

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]*pending
	initCh    chan result
	pageCount int
	err       error

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSession starts a session over conn. The session owns conn and closes it
// when terminated.
func NewSession(conn ControllerConn, opts ...Option) *Session {
	o := sessionOptions{
		initTimeout:       DefaultInitTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		heartbeatTimeout:  DefaultHeartbeatTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		id:      uuid.New(),
		conn:    conn,
		opts:    o,
		pending: make(map[uint64]*pending),
		done:    make(chan struct{}),
	}
	s.log = logging.OrNop(o.logger).With("session", s.id.String())
	s.responsive.Store(true)

	s.wg.Add(1)
	go s.dispatch()
	return s
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Responsive reports whether a pong was seen within the heartbeat timeout.
func (s *Session) Responsive() bool {
	return s.responsive.Load()
}

// PageCount returns the page count reported by the ready message.
func (s *Session) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageCount
}

// Done is closed when the session terminates.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the session terminated, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Init opens the document in the worker and waits for it to become ready,
// at most the configured init timeout. On timeout the session is terminated.
// Ownership of data moves to the worker.
func (s *Session) Init(ctx context.Context, engineKind string, data []byte, resourceURL string) (int, error) {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		if s.State() == StateTerminated {
			return 0, s.terminalErr()
		}
		return 0, ErrAlreadyInitialized
	}

	ch := make(chan result, 1)
	s.mu.Lock()
	s.initCh = ch
	s.mu.Unlock()

	if err := s.conn.Send(&InitRequest{Engine: engineKind, Data: data, ResourceURL: resourceURL}); err != nil {
		s.terminate(fmt.Errorf("worker: send init: %w", err))
		return 0, s.terminalErr()
	}

	timer := time.NewTimer(s.opts.initTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return 0, r.err
		}
		ready := r.resp.(*ReadyResponse)
		s.log.Info("worker: session ready", "pages", ready.PageCount, "engine", engineKind)
		s.startHeartbeat()
		return ready.PageCount, nil
	case <-timer.C:
		s.terminate(ErrInitTimeout)
		return 0, ErrInitTimeout
	case <-ctx.Done():
		s.terminate(fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
		return 0, s.terminalErr()
	}
}

// Render asks the worker to rasterize the page at index. If ctx ends first
// the task is cancelled in the worker and any late bitmap is released. A
// bitmap that arrives after ctx ended is released too, and ErrCancelled is
// returned.
func (s *Session) Render(ctx context.Context, index int, res engine.Resolution) (*bitmap.Bitmap, error) {
	resp, err := s.call(ctx, func(id uint64) Request {
		return &RenderRequest{TaskID: id, PageIndex: index, Resolution: res}
	})
	if err != nil {
		return nil, err
	}
	m, ok := resp.(*BitmapResponse)
	if !ok {
		release(resp)
		return nil, fmt.Errorf("worker: unexpected %s reply to render", resp.Type())
	}
	if ctx.Err() != nil {
		_ = m.Bitmap.Close()
		return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	return m.Bitmap, nil
}

// PageSize asks the worker for the intrinsic size of the page at index.
func (s *Session) PageSize(ctx context.Context, index int) (engine.Size, error) {
	resp, err := s.call(ctx, func(id uint64) Request {
		return &SizeRequest{TaskID: id, PageIndex: index}
	})
	if err != nil {
		return engine.Size{}, err
	}
	m, ok := resp.(*SizeResponse)
	if !ok {
		release(resp)
		return engine.Size{}, fmt.Errorf("worker: unexpected %s reply to size", resp.Type())
	}
	return m.Size, nil
}

// Outline asks the worker for the flattened document outline.
func (s *Session) Outline(ctx context.Context) ([]engine.OutlineEntry, error) {
	resp, err := s.call(ctx, func(id uint64) Request {
		return &OutlineRequest{TaskID: id}
	})
	if err != nil {
		return nil, err
	}
	m, ok := resp.(*OutlineResponse)
	if !ok {
		release(resp)
		return nil, fmt.Errorf("worker: unexpected %s reply to outline", resp.Type())
	}
	return m.Entries, nil
}

// call registers a pending entry under a fresh task id, sends the request
// built by mk and waits for the matching response.
func (s *Session) call(ctx context.Context, mk func(id uint64) Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	switch s.State() {
	case StateReady:
	case StateTerminated:
		return nil, s.terminalErr()
	default:
		return nil, ErrNotReady
	}

	p := &pending{ch: make(chan result, 1)}
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return nil, s.terminalErr()
	}
	s.nextID++
	id := s.nextID
	s.pending[id] = p
	s.mu.Unlock()

	if err := s.conn.Send(mk(id)); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("worker: send: %w", err)
	}

	select {
	case r := <-p.ch:
		return r.resp, r.err
	case <-ctx.Done():
		s.abandon(id, p)
		return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
}

// abandon marks a pending call as no longer wanted and tells the worker.
// A response that already landed in the channel is released here; one that
// lands later is released by the dispatcher.
func (s *Session) abandon(id uint64, p *pending) {
	s.mu.Lock()
	_, live := s.pending[id]
	if live {
		p.abandoned = true
	}
	s.mu.Unlock()

	if !live {
		select {
		case r := <-p.ch:
			if r.resp != nil {
				release(r.resp)
			}
		default:
		}
		return
	}
	if err := s.conn.Send(&CancelRequest{TaskID: id}); err != nil {
		s.log.Debug("worker: send cancel failed", "task", id, "error", err)
	}
}

// dispatch reads responses and routes them to pending calls.
func (s *Session) dispatch() {
	defer s.wg.Done()
	for {
		resp, err := s.conn.Recv()
		if err != nil {
			s.terminate(fmt.Errorf("%w: %w", ErrTerminated, err))
			return
		}
		s.route(resp)
	}
}

func (s *Session) route(resp Response) {
	switch m := resp.(type) {
	case *ReadyResponse:
		s.mu.Lock()
		ch := s.initCh
		s.initCh = nil
		s.pageCount = m.PageCount
		s.mu.Unlock()
		if ch == nil {
			s.log.Warn("worker: unexpected ready message")
			return
		}
		s.state.CompareAndSwap(int32(StateInitializing), int32(StateReady))
		ch <- result{resp: m}
		return

	case *PongResponse:
		s.lastPong.Store(time.Now().UnixNano())
		if !s.responsive.Swap(true) {
			s.log.Info("worker: session responsive again")
		}
		return

	case *ErrorResponse:
		if m.TaskID == 0 {
			err := &RemoteError{Message: m.Message}
			s.log.Error("worker: fatal error", "error", err)
			s.terminate(err)
			return
		}
		s.deliver(m.TaskID, result{err: &RemoteError{TaskID: m.TaskID, Message: m.Message}}, resp)
		return
	}

	id := taskID(resp)
	if id == 0 {
		s.log.Warn("worker: dropping uncorrelated message", "type", resp.Type())
		release(resp)
		return
	}
	s.deliver(id, result{resp: resp}, resp)
}

// deliver resolves the pending call id with r exactly once. Responses for
// unknown or abandoned calls are released.
func (s *Session) deliver(id uint64, r result, resp Response) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
		if !p.abandoned {
			// Buffered; never blocks. Sent under mu so abandon sees either
			// a live entry or a filled channel.
			p.ch <- r
			s.mu.Unlock()
			return
		}
	}
	s.mu.Unlock()

	s.log.Debug("worker: discarding late response", "task", id, "type", resp.Type())
	release(resp)
}

// startHeartbeat sends heartbeats until the session terminates and tracks
// whether pongs keep arriving.
func (s *Session) startHeartbeat() {
	interval := s.opts.heartbeatInterval
	if interval <= 0 {
		return
	}
	s.lastPong.Store(time.Now().UnixNano())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
			if err := s.conn.Send(&HeartbeatRequest{}); err != nil {
				return
			}
			silence := time.Since(time.Unix(0, s.lastPong.Load()))
			if silence > s.opts.heartbeatTimeout && s.responsive.Swap(false) {
				s.log.Warn("worker: session unresponsive", "silence", silence)
			}
		}
	}()
}

// terminate fails every pending call with err and closes the transport.
// Only the first call has an effect.
func (s *Session) terminate(err error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.state.Store(int32(StateTerminated))
	calls := s.pending
	s.pending = make(map[uint64]*pending)
	initCh := s.initCh
	s.initCh = nil
	s.mu.Unlock()

	close(s.done)
	_ = s.conn.Close()

	for _, p := range calls {
		p.ch <- result{err: err}
	}
	if initCh != nil {
		initCh <- result{err: err}
	}
	s.log.Debug("worker: session terminated", "reason", err, "failed", len(calls))
}

func (s *Session) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return ErrTerminated
	}
	return s.err
}

// Close terminates the session and waits for its goroutines.
func (s *Session) Close() error {
	s.terminate(ErrTerminated)
	s.wg.Wait()
	return nil
}

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package worker

import (
	"fmt"
	"time"

	"github.com/gogpu/pageview/bitmap"
	"github.com/gogpu/pageview/engine"
)

// Message type tags, as carried on the wire.
const (
	TypeInit      = "init"
	TypeRender    = "render"
	TypeCancel    = "cancel"
	TypeHeartbeat = "heartbeat"
	TypeSize      = "size"
	TypeOutline   = "outline"
	TypeReady     = "ready"
	TypeBitmap    = "bitmap"
	TypeError     = "error"
	TypePong      = "pong"
)

// Request is a controller to worker message. The set of implementations is
// closed: InitRequest, RenderRequest, CancelRequest, HeartbeatRequest,
// SizeRequest and OutlineRequest.
type Request interface {
	Type() string
	request()
}

// Response is a worker to controller message. The set of implementations is
// closed: ReadyResponse, BitmapResponse, ErrorResponse, PongResponse,
// SizeResponse and OutlineResponse.
type Response interface {
	Type() string
	response()
}

// InitRequest asks the worker to open a document. Ownership of Data moves to
// the worker.
type InitRequest struct {
	Engine      string
	Data        []byte
	ResourceURL string
}

// RenderRequest asks for the page at PageIndex (0-based) rendered at
// Resolution.
type RenderRequest struct {
	TaskID     uint64
	PageIndex  int
	Resolution engine.Resolution
}

// CancelRequest asks the worker to drop the result of TaskID.
type CancelRequest struct {
	TaskID uint64
}

// HeartbeatRequest is a liveness probe.
type HeartbeatRequest struct{}

// SizeRequest asks for the intrinsic size of the page at PageIndex.
type SizeRequest struct {
	TaskID    uint64
	PageIndex int
}

// OutlineRequest asks for the flattened document outline.
type OutlineRequest struct {
	TaskID uint64
}

// ReadyResponse completes initialization.
type ReadyResponse struct {
	PageCount int
}

// BitmapResponse carries a rendered page. Ownership of Bitmap moves to the
// receiver.
type BitmapResponse struct {
	TaskID    uint64
	PageIndex int
	Bitmap    *bitmap.Bitmap
}

// ErrorResponse reports a failure. A zero TaskID means the failure is not
// tied to a task and the worker is unusable.
type ErrorResponse struct {
	TaskID  uint64
	Message string
}

// PongResponse answers a heartbeat.
type PongResponse struct {
	Timestamp time.Time
}

// SizeResponse answers a SizeRequest, in document points.
type SizeResponse struct {
	TaskID    uint64
	PageIndex int
	Size      engine.Size
}

// OutlineResponse answers an OutlineRequest.
type OutlineResponse struct {
	TaskID  uint64
	Entries []engine.OutlineEntry
}

func (*InitRequest) Type() string      { return TypeInit }
func (*RenderRequest) Type() string    { return TypeRender }
func (*CancelRequest) Type() string    { return TypeCancel }
func (*HeartbeatRequest) Type() string { return TypeHeartbeat }
func (*SizeRequest) Type() string      { return TypeSize }
func (*OutlineRequest) Type() string   { return TypeOutline }

func (*InitRequest) request()      {}
func (*RenderRequest) request()    {}
func (*CancelRequest) request()    {}
func (*HeartbeatRequest) request() {}
func (*SizeRequest) request()      {}
func (*OutlineRequest) request()   {}

func (*ReadyResponse) Type() string   { return TypeReady }
func (*BitmapResponse) Type() string  { return TypeBitmap }
func (*ErrorResponse) Type() string   { return TypeError }
func (*PongResponse) Type() string    { return TypePong }
func (*SizeResponse) Type() string    { return TypeSize }
func (*OutlineResponse) Type() string { return TypeOutline }

func (*ReadyResponse) response()   {}
func (*BitmapResponse) response()  {}
func (*ErrorResponse) response()   {}
func (*PongResponse) response()    {}
func (*SizeResponse) response()    {}
func (*OutlineResponse) response() {}

// taskID returns the correlation id of a response, or 0.
func taskID(r Response) uint64 {
	switch m := r.(type) {
	case *BitmapResponse:
		return m.TaskID
	case *ErrorResponse:
		return m.TaskID
	case *SizeResponse:
		return m.TaskID
	case *OutlineResponse:
		return m.TaskID
	}
	return 0
}

// release frees any payload a response owns. Used when a response is dropped.
func release(r Response) {
	if m, ok := r.(*BitmapResponse); ok && m.Bitmap != nil {
		_ = m.Bitmap.Close()
	}
}

// RemoteError is a failure reported by the worker.
type RemoteError struct {
	TaskID  uint64
	Message string
}

func (e *RemoteError) Error() string {
	if e.TaskID == 0 {
		return fmt.Sprintf("worker: fatal: %s", e.Message)
	}
	return fmt.Sprintf("worker: task %d: %s", e.TaskID, e.Message)
}

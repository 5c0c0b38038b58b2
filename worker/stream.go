// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package worker

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/gogpu/pageview/bitmap"
	"github.com/gogpu/pageview/engine"
)

// Frame layout on a stream:
//
//	uint32 big-endian header length
//	header (JSON object with a "type" field)
//	payload (header.payload raw bytes: document data or RGBA pixels)
const maxHeaderSize = 16 << 20

// Bitmap frames are rejected before allocation when a side exceeds
// maxBitmapSide or the pixels exceed maxBitmapBytes.
const (
	maxBitmapSide  = 1 << 15
	maxBitmapBytes = 1 << 30
)

// ErrFrame is returned for a malformed frame.
var ErrFrame = errors.New("worker: malformed frame")

type header struct {
	Type         string                `json:"type"`
	TaskID       uint64                `json:"taskId,omitempty"`
	PageIndex    int                   `json:"pageIndex,omitempty"`
	Width        int                   `json:"width,omitempty"`
	Height       int                   `json:"height,omitempty"`
	WidthPoints  float64               `json:"widthPoints,omitempty"`
	HeightPoints float64               `json:"heightPoints,omitempty"`
	Engine       string                `json:"engine,omitempty"`
	ResourceURL  string                `json:"resourceUrl,omitempty"`
	PageCount    int                   `json:"pageCount,omitempty"`
	Message      string                `json:"message,omitempty"`
	Timestamp    int64                 `json:"timestamp,omitempty"`
	Entries      []engine.OutlineEntry `json:"entries,omitempty"`
	Payload      int                   `json:"payload,omitempty"`
}

// stream frames headers and payloads over a byte stream pair.
type stream struct {
	r  *bufio.Reader
	w  io.Writer
	wc io.Closer
	rc io.Closer

	wmu sync.Mutex
}

func newStream(r io.Reader, w io.WriteCloser) *stream {
	s := &stream{r: bufio.NewReader(r), w: w, wc: w}
	if rc, ok := r.(io.Closer); ok {
		s.rc = rc
	}
	return s
}

func (s *stream) write(h *header, payload []byte) error {
	h.Payload = len(payload)
	hb, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("worker: encode %s: %w", h.Type, err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(hb)))
	if _, err := s.w.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := s.w.Write(hb); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := s.w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// readHeader reads one header. The payload, if any, is still unread.
func (s *stream) readHeader() (*header, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(s.r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 || n > maxHeaderSize {
		return nil, fmt.Errorf("%w: header length %d", ErrFrame, n)
	}
	hb := make([]byte, n)
	if _, err := io.ReadFull(s.r, hb); err != nil {
		return nil, err
	}
	h := new(header)
	if err := json.Unmarshal(hb, h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrame, err)
	}
	if h.Payload < 0 {
		return nil, fmt.Errorf("%w: payload length %d", ErrFrame, h.Payload)
	}
	return h, nil
}

func (s *stream) readPayload(dst []byte) error {
	_, err := io.ReadFull(s.r, dst)
	return err
}

func (s *stream) skipPayload(n int) error {
	_, err := s.r.Discard(n)
	return err
}

// close closes the write side and, when it is closable, the read side, so a
// blocked reader returns.
func (s *stream) close() error {
	err := s.wc.Close()
	if s.rc != nil {
		_ = s.rc.Close()
	}
	return err
}

// NewStreamController returns the controller end of a framed stream: it
// reads responses from r and writes requests to w. Close closes w, which
// signals end of input to the worker. If r is an io.Closer it is closed too.
func NewStreamController(r io.Reader, w io.WriteCloser) ControllerConn {
	return &streamController{s: newStream(r, w)}
}

// NewStreamWorker returns the worker end of a framed stream: it reads
// requests from r and writes responses to w.
func NewStreamWorker(r io.Reader, w io.WriteCloser) WorkerConn {
	return &streamWorker{s: newStream(r, w)}
}

type streamController struct{ s *stream }

func (c *streamController) Send(r Request) error {
	h := &header{Type: r.Type()}
	var payload []byte
	switch m := r.(type) {
	case *InitRequest:
		h.Engine = m.Engine
		h.ResourceURL = m.ResourceURL
		payload = m.Data
	case *RenderRequest:
		h.TaskID = m.TaskID
		h.PageIndex = m.PageIndex
		h.Width = m.Resolution.Width
		h.Height = m.Resolution.Height
	case *CancelRequest:
		h.TaskID = m.TaskID
	case *HeartbeatRequest:
	case *SizeRequest:
		h.TaskID = m.TaskID
		h.PageIndex = m.PageIndex
	case *OutlineRequest:
		h.TaskID = m.TaskID
	default:
		return fmt.Errorf("worker: unknown request %T", r)
	}
	return c.s.write(h, payload)
}

func (c *streamController) Recv() (Response, error) {
	h, err := c.s.readHeader()
	if err != nil {
		return nil, err
	}
	switch h.Type {
	case TypeReady:
		return &ReadyResponse{PageCount: h.PageCount}, c.s.skipPayload(h.Payload)
	case TypeBitmap:
		if !validBitmap(h) {
			return nil, fmt.Errorf("%w: bitmap %dx%d with %d bytes", ErrFrame, h.Width, h.Height, h.Payload)
		}
		bm := bitmap.New(h.Width, h.Height)
		if err := c.s.readPayload(bm.Data()); err != nil {
			_ = bm.Close()
			return nil, err
		}
		return &BitmapResponse{TaskID: h.TaskID, PageIndex: h.PageIndex, Bitmap: bm}, nil
	case TypeError:
		return &ErrorResponse{TaskID: h.TaskID, Message: h.Message}, c.s.skipPayload(h.Payload)
	case TypePong:
		return &PongResponse{Timestamp: time.Unix(0, h.Timestamp)}, c.s.skipPayload(h.Payload)
	case TypeSize:
		return &SizeResponse{
			TaskID:    h.TaskID,
			PageIndex: h.PageIndex,
			Size:      engine.Size{Width: h.WidthPoints, Height: h.HeightPoints},
		}, c.s.skipPayload(h.Payload)
	case TypeOutline:
		return &OutlineResponse{TaskID: h.TaskID, Entries: h.Entries}, c.s.skipPayload(h.Payload)
	}
	return nil, fmt.Errorf("%w: unknown response type %q", ErrFrame, h.Type)
}

// validBitmap reports whether h describes a bitmap of sane dimensions whose
// payload holds exactly its pixels.
func validBitmap(h *header) bool {
	if h.Width <= 0 || h.Height <= 0 || h.Width > maxBitmapSide || h.Height > maxBitmapSide {
		return false
	}
	n := h.Width * h.Height * bitmap.BytesPerPixel
	return n <= maxBitmapBytes && h.Payload == n
}

func (c *streamController) Close() error { return c.s.close() }

type streamWorker struct{ s *stream }

func (w *streamWorker) Send(r Response) error {
	h := &header{Type: r.Type()}
	var payload []byte
	switch m := r.(type) {
	case *ReadyResponse:
		h.PageCount = m.PageCount
	case *BitmapResponse:
		h.TaskID = m.TaskID
		h.PageIndex = m.PageIndex
		h.Width = m.Bitmap.Width()
		h.Height = m.Bitmap.Height()
		payload = m.Bitmap.Data()
		// The pixels are on the wire once written; the bitmap is consumed.
		defer m.Bitmap.Close()
	case *ErrorResponse:
		h.TaskID = m.TaskID
		h.Message = m.Message
	case *PongResponse:
		h.Timestamp = m.Timestamp.UnixNano()
	case *SizeResponse:
		h.TaskID = m.TaskID
		h.PageIndex = m.PageIndex
		h.WidthPoints = m.Size.Width
		h.HeightPoints = m.Size.Height
	case *OutlineResponse:
		h.TaskID = m.TaskID
		h.Entries = m.Entries
	default:
		return fmt.Errorf("worker: unknown response %T", r)
	}
	return w.s.write(h, payload)
}

func (w *streamWorker) Recv() (Request, error) {
	h, err := w.s.readHeader()
	if err != nil {
		return nil, err
	}
	switch h.Type {
	case TypeInit:
		data := make([]byte, h.Payload)
		if err := w.s.readPayload(data); err != nil {
			return nil, err
		}
		return &InitRequest{Engine: h.Engine, Data: data, ResourceURL: h.ResourceURL}, nil
	case TypeRender:
		return &RenderRequest{
			TaskID:     h.TaskID,
			PageIndex:  h.PageIndex,
			Resolution: engine.Resolution{Width: h.Width, Height: h.Height},
		}, w.s.skipPayload(h.Payload)
	case TypeCancel:
		return &CancelRequest{TaskID: h.TaskID}, w.s.skipPayload(h.Payload)
	case TypeHeartbeat:
		return &HeartbeatRequest{}, w.s.skipPayload(h.Payload)
	case TypeSize:
		return &SizeRequest{TaskID: h.TaskID, PageIndex: h.PageIndex}, w.s.skipPayload(h.Payload)
	case TypeOutline:
		return &OutlineRequest{TaskID: h.TaskID}, w.s.skipPayload(h.Payload)
	}
	return nil, fmt.Errorf("%w: unknown request type %q", ErrFrame, h.Type)
}

func (w *streamWorker) Close() error { return w.s.close() }

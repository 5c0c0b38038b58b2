// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bitmap

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync/atomic"

	"golang.org/x/image/draw"
)

// BytesPerPixel is the size of one RGBA pixel.
const BytesPerPixel = 4

// ErrClosed is returned when an operation needs the pixels of a closed bitmap.
var ErrClosed = errors.New("bitmap: closed")

// Bitmap is a rectangular RGBA pixel buffer.
type Bitmap struct {
	width  int
	height int
	data   []uint8 // RGBA format, 4 bytes per pixel
	closed atomic.Bool
	pool   *Pool
}

// New returns a zeroed bitmap from the default pool.
func New(width, height int) *Bitmap {
	return defaultPool.Get(width, height)
}

// FromRGBA wraps img as a bitmap. When img is tightly packed at the origin
// its pixel slice is adopted without copying and img must no longer be used
// by the caller; otherwise the pixels are copied.
func FromRGBA(img *image.RGBA) *Bitmap {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil
	}
	if b.Min == (image.Point{}) && img.Stride == w*BytesPerPixel && len(img.Pix) == w*h*BytesPerPixel {
		defaultPool.adopt(len(img.Pix))
		return &Bitmap{width: w, height: h, data: img.Pix, pool: defaultPool}
	}

	bm := New(w, h)
	for y := 0; y < h; y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		copy(bm.data[y*w*BytesPerPixel:(y+1)*w*BytesPerPixel], src[:w*BytesPerPixel])
	}
	return bm
}

// Width returns the width of the bitmap.
func (b *Bitmap) Width() int {
	return b.width
}

// Height returns the height of the bitmap.
func (b *Bitmap) Height() int {
	return b.height
}

// ByteSize returns Width*Height*4, the memory the bitmap accounts for.
func (b *Bitmap) ByteSize() int64 {
	return int64(b.width) * int64(b.height) * BytesPerPixel
}

// Data returns the raw pixel data (RGBA format), or nil once closed.
func (b *Bitmap) Data() []uint8 {
	if b.closed.Load() {
		return nil
	}
	return b.data
}

// Closed reports whether Close has been called.
func (b *Bitmap) Closed() bool {
	return b.closed.Load()
}

// Close releases the backing buffer to the pool it came from.
// Close is idempotent; only the first call releases memory.
func (b *Bitmap) Close() error {
	if b == nil || !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.pool != nil {
		b.pool.put(b.width, b.height, b.data)
	}
	return nil
}

// Image returns an *image.RGBA view sharing the bitmap's pixels.
// The view is only valid until the bitmap is closed.
func (b *Bitmap) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    b.Data(),
		Stride: b.width * BytesPerPixel,
		Rect:   image.Rect(0, 0, b.width, b.height),
	}
}

// ToImage copies the bitmap into a new image.RGBA.
func (b *Bitmap) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	copy(img.Pix, b.Data())
	return img
}

// Scale returns a new bitmap of the given size resampled from b.
// Used for placeholder previews of stale pages, so it favours speed over
// quality.
func (b *Bitmap) Scale(width, height int) (*Bitmap, error) {
	if b.Closed() {
		return nil, ErrClosed
	}
	dst := New(width, height)
	if dst == nil {
		return nil, errors.New("bitmap: invalid scale size")
	}
	draw.ApproxBiLinear.Scale(dst.Image(), dst.Image().Bounds(), b.Image(), b.Image().Bounds(), draw.Src, nil)
	return dst, nil
}

// SavePNG saves the bitmap to a PNG file.
func (b *Bitmap) SavePNG(path string) error {
	if b.Closed() {
		return ErrClosed
	}
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	return png.Encode(f, b.Image())
}

// At implements the image.Image interface.
func (b *Bitmap) At(x, y int) color.Color {
	data := b.Data()
	if data == nil || x < 0 || x >= b.width || y < 0 || y >= b.height {
		return color.RGBA{}
	}
	i := (y*b.width + x) * BytesPerPixel
	return color.RGBA{R: data[i], G: data[i+1], B: data[i+2], A: data[i+3]}
}

// Bounds implements the image.Image interface.
func (b *Bitmap) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.width, b.height)
}

// ColorModel implements the image.Image interface.
func (b *Bitmap) ColorModel() color.Model {
	return color.RGBAModel
}

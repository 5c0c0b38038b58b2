// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bitmap

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	bm := New(100, 50)
	defer bm.Close()

	if bm.Width() != 100 || bm.Height() != 50 {
		t.Errorf("size = %dx%d, want 100x50", bm.Width(), bm.Height())
	}
	if got := len(bm.Data()); got != 100*50*4 {
		t.Errorf("len(Data()) = %d, want %d", got, 100*50*4)
	}
	if bm.ByteSize() != 100*50*4 {
		t.Errorf("ByteSize() = %d, want %d", bm.ByteSize(), 100*50*4)
	}
}

func TestNewInvalidSize(t *testing.T) {
	tests := []struct {
		name string
		w, h int
	}{
		{"zero width", 0, 10},
		{"zero height", 10, 0},
		{"negative", -1, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if bm := New(tt.w, tt.h); bm != nil {
				t.Errorf("New(%d, %d) = %v, want nil", tt.w, tt.h, bm)
			}
		})
	}
}

func TestCloseReleasesMemory(t *testing.T) {
	p := NewPool()

	bm := p.Get(64, 32)
	if p.LiveBytes() != 64*32*4 {
		t.Fatalf("LiveBytes() = %d, want %d", p.LiveBytes(), 64*32*4)
	}

	if err := bm.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if !bm.Closed() {
		t.Error("Closed() = false after Close")
	}
	if bm.Data() != nil {
		t.Error("Data() should be nil after Close")
	}
	if p.LiveBytes() != 0 {
		t.Errorf("LiveBytes() = %d after Close, want 0", p.LiveBytes())
	}

	// Second Close must not double-release.
	_ = bm.Close()
	if p.LiveBytes() != 0 {
		t.Errorf("LiveBytes() = %d after second Close, want 0", p.LiveBytes())
	}
}

func TestPoolReuseIsZeroed(t *testing.T) {
	p := NewPool()

	bm := p.Get(8, 8)
	for i := range bm.Data() {
		bm.Data()[i] = 0xFF
	}
	_ = bm.Close()

	again := p.Get(8, 8)
	defer again.Close()
	for i, v := range again.Data() {
		if v != 0 {
			t.Fatalf("Data()[%d] = %d, want 0 on reused buffer", i, v)
		}
	}
}

func TestFromRGBAAdopts(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	bm := FromRGBA(img)
	defer bm.Close()

	if &bm.Data()[0] != &img.Pix[0] {
		t.Error("FromRGBA should adopt a tightly packed pixel slice")
	}
	if got := bm.At(1, 1); got != (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("At(1,1) = %v", got)
	}
}

func TestFromRGBACopiesSubImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	img.Set(5, 5, color.RGBA{R: 200, A: 255})
	sub := img.SubImage(image.Rect(4, 4, 8, 8)).(*image.RGBA)

	bm := FromRGBA(sub)
	defer bm.Close()

	if bm.Width() != 4 || bm.Height() != 4 {
		t.Fatalf("size = %dx%d, want 4x4", bm.Width(), bm.Height())
	}
	if got := bm.At(1, 1); got != (color.RGBA{R: 200, A: 255}) {
		t.Errorf("At(1,1) = %v, want the pixel from (5,5)", got)
	}
}

func TestScale(t *testing.T) {
	bm := New(20, 10)
	defer bm.Close()
	for i := 0; i < len(bm.Data()); i += 4 {
		bm.Data()[i+1] = 128
		bm.Data()[i+3] = 255
	}

	small, err := bm.Scale(10, 5)
	if err != nil {
		t.Fatalf("Scale() error = %v", err)
	}
	defer small.Close()

	if small.Width() != 10 || small.Height() != 5 {
		t.Errorf("scaled size = %dx%d, want 10x5", small.Width(), small.Height())
	}
	if got := small.At(3, 3).(color.RGBA); got.G < 127 || got.G > 129 || got.A < 254 {
		t.Errorf("scaled pixel = %v, want solid green 128", got)
	}
}

func TestScaleClosed(t *testing.T) {
	bm := New(4, 4)
	_ = bm.Close()
	if _, err := bm.Scale(2, 2); err != ErrClosed {
		t.Errorf("Scale() on closed bitmap error = %v, want ErrClosed", err)
	}
}

func TestSavePNG(t *testing.T) {
	bm := New(4, 4)
	defer bm.Close()

	path := filepath.Join(t.TempDir(), "page.png")
	if err := bm.SavePNG(path); err != nil {
		t.Fatalf("SavePNG() error = %v", err)
	}
}

func TestImageInterface(t *testing.T) {
	bm := New(3, 2)
	defer bm.Close()

	var img image.Image = bm
	if img.Bounds() != image.Rect(0, 0, 3, 2) {
		t.Errorf("Bounds() = %v", img.Bounds())
	}
	if img.ColorModel() != color.RGBAModel {
		t.Error("ColorModel() should be RGBAModel")
	}
	if got := bm.At(10, 10); got != (color.RGBA{}) {
		t.Errorf("At out of bounds = %v, want transparent", got)
	}
}

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package docstate

import "math"

// CSSPixelsPerPoint converts document points (1/72 in) to CSS pixels (1/96 in).
const CSSPixelsPerPoint = 96.0 / 72.0

// View holds the factors that decide how many pixels a page renders at.
type View struct {
	// Resolution is the render quality multiplier applied on top of the
	// device pixel ratio. 1 renders at device resolution.
	Resolution float64

	// DevicePixelRatio is the number of device pixels per CSS pixel.
	DevicePixelRatio float64

	// Zoom is the viewport zoom; 1 shows a page at 96 CSS px per inch.
	Zoom float64
}

// DefaultView returns a view with every factor set to 1.
func DefaultView() View {
	return View{Resolution: 1, DevicePixelRatio: 1, Zoom: 1}
}

// normalized replaces non-positive or NaN factors with 1.
func (v View) normalized() View {
	fix := func(f float64) float64 {
		if !(f > 0) || math.IsInf(f, 0) {
			return 1
		}
		return f
	}
	return View{
		Resolution:       fix(v.Resolution),
		DevicePixelRatio: fix(v.DevicePixelRatio),
		Zoom:             fix(v.Zoom),
	}
}

// CSSSize returns the on-screen size of a page in CSS pixels.
func (v View) CSSSize(widthPoints, heightPoints float64) (int, int) {
	s := CSSPixelsPerPoint * v.Zoom
	return ceilPositive(widthPoints * s), ceilPositive(heightPoints * s)
}

// PixelSize returns the render size of a page in device pixels.
func (v View) PixelSize(widthPoints, heightPoints float64) (int, int) {
	cw, ch := v.CSSSize(widthPoints, heightPoints)
	s := v.DevicePixelRatio * v.Resolution
	return ceilPositive(float64(cw) * s), ceilPositive(float64(ch) * s)
}

// ceilPositive rounds up, ignoring float noise below 1e-6 of a pixel.
func ceilPositive(f float64) int {
	n := int(math.Ceil(f - 1e-6))
	if n < 1 {
		return 1
	}
	return n
}

// Package model holds the shared data types that flow between the
// perception and control components: Frame, Template, MatchResult,
// OCRResult, Element, Scene, QuestBarInfo and their supporting geometry.
package model

import "image"

// Frame is a single captured screenshot. Immutable within one auto-loop
// iteration; a new Frame is created by the device port each iteration.
type Frame struct {
	Img    image.Image
	Width  int
	Height int
}

// NewFrame wraps a decoded image, recording its bounds for convenience.
func NewFrame(img image.Image) Frame {
	b := img.Bounds()
	return Frame{Img: img, Width: b.Dx(), Height: b.Dy()}
}

// Bbox is an axis-aligned bounding box in frame pixel coordinates.
// Invariant: X1 < X2 and Y1 < Y2.
type Bbox struct {
	X1, Y1, X2, Y2 int
}

// Valid reports whether the box satisfies x1<x2, y1<y2.
func (b Bbox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Width returns X2-X1.
func (b Bbox) Width() int { return b.X2 - b.X1 }

// Height returns Y2-Y1.
func (b Bbox) Height() int { return b.Y2 - b.Y1 }

// Center returns the box's integer center point.
func (b Bbox) Center() (int, int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// WithinFrame reports whether the box lies entirely inside a frame of the
// given dimensions.
func (b Bbox) WithinFrame(width, height int) bool {
	return b.Valid() && b.X1 >= 0 && b.Y1 >= 0 && b.X2 <= width && b.Y2 <= height
}

// OverlapsHalfDimension reports whether the two boxes overlap by more than
// half of b's width or half of b's height; the matcher tests use it to check
// multi-match suppression.
func (b Bbox) OverlapsHalfDimension(other Bbox) bool {
	ix1, iy1 := max(b.X1, other.X1), max(b.Y1, other.Y1)
	ix2, iy2 := min(b.X2, other.X2), min(b.Y2, other.Y2)
	if ix1 >= ix2 || iy1 >= iy2 {
		return false
	}
	overlapW := ix2 - ix1
	overlapH := iy2 - iy1
	return overlapW*2 > b.Width() || overlapH*2 > b.Height()
}

// Package ocr wraps the external text-region detector the engine
// consumes, applying the game profile's correction table to every result
// before any matching happens.
package ocr

import (
	"image"
	"strings"

	"github.com/questbot/engine/pkg/model"
)

// Engine is the external collaborator the core consumes. Implementations
// call out to whatever real OCR backend is configured; the core only
// depends on this interface.
type Engine interface {
	// Detect returns every text region found within sub, a crop of frame
	// (full frame if sub is nil).
	Detect(frame image.Image, sub *model.Bbox) ([]model.OCRResult, error)
}

// Port wraps an Engine with the OCR-correction table applied to every
// result's Text, preserving RawText for logs; all downstream text matching
// runs against the corrected form.
type Port struct {
	engine      Engine
	corrections map[string]string
}

// NewPort builds a Port around engine using the given raw->corrected
// token map (game profile's ocr_corrections).
func NewPort(engine Engine, corrections map[string]string) *Port {
	if corrections == nil {
		corrections = map[string]string{}
	}
	return &Port{engine: engine, corrections: corrections}
}

// Detect runs the underlying engine and applies corrections.
func (p *Port) Detect(frame image.Image, sub *model.Bbox) ([]model.OCRResult, error) {
	raw, err := p.engine.Detect(frame, sub)
	if err != nil {
		return nil, err
	}
	out := make([]model.OCRResult, len(raw))
	for i, r := range raw {
		r.RawText = r.Text
		r.Text = p.correct(r.Text)
		out[i] = r
	}
	return out, nil
}

func (p *Port) correct(text string) string {
	if corrected, ok := p.corrections[text]; ok {
		return corrected
	}
	corrected := text
	for raw, fixed := range p.corrections {
		corrected = strings.ReplaceAll(corrected, raw, fixed)
	}
	return corrected
}

// FindSubstring returns every result whose Text contains needle
// (case-insensitive), sorted by reading order (y then x).
func FindSubstring(results []model.OCRResult, needle string) []model.OCRResult {
	needle = strings.ToLower(needle)
	var out []model.OCRResult
	for _, r := range results {
		if strings.Contains(strings.ToLower(r.Text), needle) {
			out = append(out, r)
		}
	}
	SortReadingOrder(out)
	return out
}

// SortReadingOrder sorts results top-to-bottom, then left-to-right.
func SortReadingOrder(results []model.OCRResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && readingLess(results[j], results[j-1]); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func readingLess(a, b model.OCRResult) bool {
	if a.CenterY != b.CenterY {
		return a.CenterY < b.CenterY
	}
	return a.CenterX < b.CenterX
}

// Nth picks the nth match (1-based; negative = from end). Returns false
// if out of range.
func Nth(results []model.OCRResult, nth int) (model.OCRResult, bool) {
	if len(results) == 0 {
		return model.OCRResult{}, false
	}
	idx := nth
	if idx < 0 {
		idx = len(results) + idx + 1
	}
	if idx < 1 || idx > len(results) {
		return model.OCRResult{}, false
	}
	return results[idx-1], true
}

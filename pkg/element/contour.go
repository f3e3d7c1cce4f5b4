// Package element is the unified "locate named target" facade over
// templates, OCR and the grid overlay, plus HSV color-contour heuristics
// (primary-button, red-text-near) implemented as connected-component
// scans over converted pixel planes.
package element

import (
	"image"

	ximaging "github.com/questbot/engine/pkg/imaging"
	"github.com/questbot/engine/pkg/model"
)

type component struct {
	bbox model.Bbox
	area int
}

// hsvMaskTier builds a boolean mask over frame where predicate(h,s,v) holds,
// h in OpenCV's [0,180) convention.
func hsvMaskTier(frame *image.RGBA, predicate func(h, s, v float64) bool) []bool {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hh, ss, vv := ximaging.HSVOpenCV(frame.At(b.Min.X+x, b.Min.Y+y))
			mask[y*w+x] = predicate(hh, ss, vv)
		}
	}
	return mask
}

// morphClose approximates a square-kernel morphological close: dilate then
// erode by kernel/2 in each direction.
func morphClose(mask []bool, w, h, kernel int) []bool {
	dilated := dilate(mask, w, h, kernel/2)
	return erode(dilated, w, h, kernel/2)
}

func dilate(mask []bool, w, h, radius int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask[y*w+x] {
				for dy := -radius; dy <= radius; dy++ {
					ny := y + dy
					if ny < 0 || ny >= h {
						continue
					}
					for dx := -radius; dx <= radius; dx++ {
						nx := x + dx
						if nx < 0 || nx >= w {
							continue
						}
						out[ny*w+nx] = true
					}
				}
			}
		}
	}
	return out
}

func erode(mask []bool, w, h, radius int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			keep := true
		loop:
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					keep = false
					break
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w || !mask[ny*w+nx] {
						keep = false
						break loop
					}
				}
			}
			out[y*w+x] = keep
		}
	}
	return out
}

// connectedComponents runs a 4-connected flood fill over mask, returning
// each component's bbox and pixel area.
func connectedComponents(mask []bool, w, h int) []component {
	visited := make([]bool, len(mask))
	var comps []component

	for start := 0; start < len(mask); start++ {
		if !mask[start] || visited[start] {
			continue
		}
		queue := []int{start}
		visited[start] = true
		minX, minY := w, h
		maxX, maxY := -1, -1
		area := 0
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := idx%w, idx/w
			area++
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
			for _, n := range [][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				nidx := ny*w + nx
				if mask[nidx] && !visited[nidx] {
					visited[nidx] = true
					queue = append(queue, nidx)
				}
			}
		}
		comps = append(comps, component{
			bbox: model.Bbox{X1: minX, Y1: minY, X2: maxX + 1, Y2: maxY + 1},
			area: area,
		})
	}
	return comps
}

func isTier1(h, s, v float64) bool {
	blue := h >= 90 && h <= 115 && s >= 80 && v >= 120
	green := h >= 35 && h <= 85 && s >= 80 && v >= 120
	return blue || green
}

func isTier2Gold(h, s, v float64) bool {
	return h >= 10 && h <= 30 && s >= 150 && v >= 150
}

// PrimaryButton finds the dominant contour-detected call-to-action
// button: tier 1 (blue/green) wins regardless of score; tier 2 (gold) is
// tried only if tier 1 found nothing. Keeps contours with area >= 10000,
// aspect 1.8-8.0, center above 40% of frame height (i.e. in the lower 60%);
// picks the bottommost surviving candidate.
func PrimaryButton(frame *image.RGBA) (model.Element, bool) {
	b := frame.Bounds()
	height := b.Dy()

	if el, ok := primaryButtonTier(frame, height, isTier1); ok {
		return el, ok
	}
	return primaryButtonTier(frame, height, isTier2Gold)
}

func primaryButtonTier(frame *image.RGBA, frameHeight int, predicate func(h, s, v float64) bool) (model.Element, bool) {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	mask := hsvMaskTier(frame, predicate)
	mask = morphClose(mask, w, h, 7)
	comps := connectedComponents(mask, w, h)

	var best *component
	for i := range comps {
		c := &comps[i]
		if c.area < 10000 {
			continue
		}
		aspect := float64(c.bbox.Width()) / float64(maxInt(c.bbox.Height(), 1))
		if aspect < 1.8 || aspect > 8.0 {
			continue
		}
		_, cy := c.bbox.Center()
		if float64(cy) < 0.40*float64(frameHeight) {
			continue
		}
		if best == nil || c.bbox.Y2 > best.bbox.Y2 {
			best = c
		}
	}
	if best == nil {
		return model.Element{}, false
	}
	cx, cy := best.bbox.Center()
	return model.Element{
		Source:     model.SourceContour,
		Name:       "primary_button",
		Confidence: 1.0,
		Bbox:       best.bbox,
		CenterX:    cx,
		CenterY:    cy,
	}, true
}

func isRedOpenCV(h, s, v float64) bool {
	return (h <= 10 || h >= 165) && s >= 100 && v >= 80
}

// HasRedTextNear checks a ±200x{-120,+20}px box around button for >= 200
// red pixels in HSV, used to distinguish a clickable button from a
// passive label.
func HasRedTextNear(frame *image.RGBA, button model.Bbox) bool {
	b := frame.Bounds()
	cx, cy := button.Center()
	region := model.Bbox{
		X1: cx - 200, Y1: cy - 120,
		X2: cx + 200, Y2: cy + 20,
	}
	region.X1 = clamp(region.X1, 0, b.Dx())
	region.X2 = clamp(region.X2, 0, b.Dx())
	region.Y1 = clamp(region.Y1, 0, b.Dy())
	region.Y2 = clamp(region.Y2, 0, b.Dy())
	if !region.Valid() {
		return false
	}

	count := 0
	for y := region.Y1; y < region.Y2; y++ {
		for x := region.X1; x < region.X2; x++ {
			hh, ss, vv := ximaging.HSVOpenCV(frame.At(b.Min.X+x, b.Min.Y+y))
			if isRedOpenCV(hh, ss, vv) {
				count++
				if count >= 200 {
					return true
				}
			}
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package element

import (
	"image"

	"github.com/questbot/engine/pkg/grid"
	"github.com/questbot/engine/pkg/matcher"
	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/ocr"
	"github.com/questbot/engine/pkg/template"
)

// Method is one of the locate strategies tried in order by Detector.Locate.
type Method string

const (
	MethodTemplate Method = "template"
	MethodOCR      Method = "ocr"
	MethodContour  Method = "contour"
	MethodGrid     Method = "grid"
)

// templatePrefixes are tried, in order, when a bare template name doesn't
// resolve directly.
var templatePrefixes = []string{"buttons/", "icons/", "scenes/"}

// Detector is the unified "locate named target" facade.
type Detector struct {
	Templates *template.Store
	OCR       *ocr.Port
	Grid      *grid.Overlay
	Threshold float64
}

// NewDetector builds a Detector over the given template store, OCR port and
// grid overlay, using threshold as the default match confidence.
func NewDetector(templates *template.Store, ocrPort *ocr.Port, gridOverlay *grid.Overlay, threshold float64) *Detector {
	return &Detector{Templates: templates, OCR: ocrPort, Grid: gridOverlay, Threshold: threshold}
}

// Locate tries each method in order, returning the first hit. name is
// interpreted as a template id for MethodTemplate, OCR substring for
// MethodOCR, "primary_button" for MethodContour, and a grid label for
// MethodGrid.
func (d *Detector) Locate(frame *image.RGBA, name string, methods []Method) (model.Element, bool) {
	for _, m := range methods {
		switch m {
		case MethodTemplate:
			if el, ok := d.locateTemplate(frame, name); ok {
				return el, ok
			}
		case MethodOCR:
			if el, ok := d.locateOCR(frame, name); ok {
				return el, ok
			}
		case MethodContour:
			if el, ok := d.locateContour(frame, name); ok {
				return el, ok
			}
		case MethodGrid:
			if el, ok := d.locateGrid(name); ok {
				return el, ok
			}
		}
	}
	return model.Element{}, false
}

func (d *Detector) locateTemplate(frame *image.RGBA, name string) (model.Element, bool) {
	if d.Templates == nil {
		return model.Element{}, false
	}
	tmpl, ok := d.Templates.GetWithPrefixes(name, templatePrefixes)
	if !ok {
		return model.Element{}, false
	}
	m, ok := matcher.MatchOne(frame, nil, tmpl, d.Threshold)
	if !ok {
		return model.Element{}, false
	}
	return model.FromMatch(m), true
}

func (d *Detector) locateOCR(frame *image.RGBA, name string) (model.Element, bool) {
	if d.OCR == nil {
		return model.Element{}, false
	}
	results, err := d.OCR.Detect(frame, nil)
	if err != nil || len(results) == 0 {
		return model.Element{}, false
	}
	matches := ocr.FindSubstring(results, name)
	r, ok := ocr.Nth(matches, 1)
	if !ok {
		return model.Element{}, false
	}
	return model.FromOCR(r), true
}

func (d *Detector) locateContour(frame *image.RGBA, name string) (model.Element, bool) {
	if name != "primary_button" {
		return model.Element{}, false
	}
	return PrimaryButton(frame)
}

func (d *Detector) locateGrid(label string) (model.Element, bool) {
	if d.Grid == nil {
		return model.Element{}, false
	}
	bbox, ok := d.Grid.CellBbox(label)
	if !ok {
		return model.Element{}, false
	}
	cx, cy := bbox.Center()
	return model.Element{Source: model.SourceGrid, Name: label, Confidence: 1.0, Bbox: bbox, CenterX: cx, CenterY: cy}, true
}

// Package perception bundles the concrete detector stack (template store,
// matcher, OCR port, scene classifier) behind the small perception surface
// the quest-script runner and quest workflow consume. Components hold a
// reference to this bundle, never to one another.
package perception

import (
	"image"

	"github.com/questbot/engine/pkg/logger"
	"github.com/questbot/engine/pkg/matcher"
	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/ocr"
	"github.com/questbot/engine/pkg/scene"
	"github.com/questbot/engine/pkg/template"
)

// Bundle implements questscript.Perceptor over the real detector stack.
type Bundle struct {
	Templates *template.Store
	OCR       *ocr.Port
	Scene     *scene.Classifier
	Threshold float64
}

// NewBundle builds the perception bundle shared by the runner and workflow.
func NewBundle(templates *template.Store, ocrPort *ocr.Port, classifier *scene.Classifier, threshold float64) *Bundle {
	if threshold == 0 {
		threshold = matcher.DefaultThreshold
	}
	return &Bundle{Templates: templates, OCR: ocrPort, Scene: classifier, Threshold: threshold}
}

// OCRDetect runs the OCR port over frame, returning corrected results.
// Detection failure is absence, not an error.
func (b *Bundle) OCRDetect(frame *image.RGBA, region *model.Bbox) []model.OCRResult {
	if b.OCR == nil {
		return nil
	}
	results, err := b.OCR.Detect(frame, region)
	if err != nil {
		logger.WarnCF("perception", "ocr detect failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return results
}

// Match finds the nth best match of a named template (1-based, descending
// confidence), trying the standard name prefixes.
func (b *Bundle) Match(frame *image.RGBA, name string, nth int) (model.MatchResult, bool) {
	if b.Templates == nil {
		return model.MatchResult{}, false
	}
	tmpl, ok := b.Templates.GetWithPrefixes(name, []string{"buttons/", "icons/", "scenes/"})
	if !ok {
		return model.MatchResult{}, false
	}
	if nth <= 1 {
		return matcher.MatchOne(frame, nil, tmpl, b.Threshold)
	}
	matches := matcher.MatchMulti(frame, nil, tmpl, b.Threshold, nth)
	if len(matches) < nth {
		return model.MatchResult{}, false
	}
	return matches[nth-1], true
}

// CornerScene classifies the bottom-right corner as MainCity or WorldMap.
func (b *Bundle) CornerScene(frame *image.RGBA) (model.Scene, bool) {
	if b.Scene == nil {
		return model.SceneUnknown, false
	}
	return b.Scene.CornerScene(frame)
}

package ocr

import (
	"image"

	"github.com/questbot/engine/pkg/model"
)

// StubEngine is an in-process Engine returning a fixed result set,
// regardless of the frame/sub-region passed in. Used by tests throughout
// the repo wherever a real OCR backend isn't available.
type StubEngine struct {
	Results []model.OCRResult
}

func (s *StubEngine) Detect(frame image.Image, sub *model.Bbox) ([]model.OCRResult, error) {
	return s.Results, nil
}

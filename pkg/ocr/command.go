package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strings"
	"time"

	ximaging "github.com/questbot/engine/pkg/imaging"
	"github.com/questbot/engine/pkg/model"
)

// CommandEngine shells out to an external OCR process: the PNG-encoded
// (sub-)image goes to stdin, a JSON array of detected regions comes back on
// stdout. This is the production Engine; the OCR model itself stays an
// external process.
type CommandEngine struct {
	// Command is the OCR executable plus arguments, e.g.
	// "questbot-ocr --lang ch".
	Command string
	Timeout time.Duration
}

// NewCommandEngine builds an engine around the configured command line.
func NewCommandEngine(command string) *CommandEngine {
	return &CommandEngine{Command: command, Timeout: 30 * time.Second}
}

// commandRegion is the wire format one region arrives in.
type commandRegion struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Bbox       [4]int  `json:"bbox"`
}

// Detect crops frame to sub (whole frame if nil), pipes it through the OCR
// command, and translates the returned boxes back to frame coordinates.
func (e *CommandEngine) Detect(frame image.Image, sub *model.Bbox) ([]model.OCRResult, error) {
	if e.Command == "" {
		return nil, nil
	}

	img := frame
	offX, offY := 0, 0
	if sub != nil {
		img = ximaging.Crop(frame, *sub)
		offX, offY = sub.X1, sub.Y1
	}

	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return nil, fmt.Errorf("encoding ocr input: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.Timeout)
	defer cancel()

	parts := strings.Fields(e.Command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = &in
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("running ocr command: %w", err)
	}

	var regions []commandRegion
	if err := json.Unmarshal(out, &regions); err != nil {
		return nil, fmt.Errorf("parsing ocr output: %w", err)
	}

	results := make([]model.OCRResult, 0, len(regions))
	for _, r := range regions {
		bbox := model.Bbox{
			X1: r.Bbox[0] + offX, Y1: r.Bbox[1] + offY,
			X2: r.Bbox[2] + offX, Y2: r.Bbox[3] + offY,
		}
		if !bbox.Valid() {
			continue
		}
		cx, cy := bbox.Center()
		results = append(results, model.OCRResult{
			Text:       r.Text,
			Confidence: r.Confidence,
			Bbox:       bbox,
			CenterX:    cx,
			CenterY:    cy,
		})
	}
	return results, nil
}

// Package grid maps bidirectionally between screen coordinates and
// A1..Hn cell labels, the coarse addressing fallback for taps.
package grid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/questbot/engine/pkg/model"
)

// Overlay divides a frame of known dimensions into Cols columns (lettered
// A, B, C, ...) and Rows rows (numbered 1..Rows).
type Overlay struct {
	Width, Height int
	Cols, Rows    int
}

// NewOverlay builds a grid overlay over a frame of the given dimensions.
func NewOverlay(width, height, cols, rows int) *Overlay {
	return &Overlay{Width: width, Height: height, Cols: cols, Rows: rows}
}

func (o *Overlay) cellWidth() float64  { return float64(o.Width) / float64(o.Cols) }
func (o *Overlay) cellHeight() float64 { return float64(o.Height) / float64(o.Rows) }

// CellLabel returns the grid label ("A1", "H12", ...) containing (x, y), or
// false if the point lies outside the frame.
func (o *Overlay) CellLabel(x, y int) (string, bool) {
	if x < 0 || y < 0 || x >= o.Width || y >= o.Height {
		return "", false
	}
	col := int(float64(x) / o.cellWidth())
	row := int(float64(y) / o.cellHeight())
	if col >= o.Cols {
		col = o.Cols - 1
	}
	if row >= o.Rows {
		row = o.Rows - 1
	}
	return fmt.Sprintf("%s%d", columnLetters(col), row+1), true
}

// CellCenter returns the pixel center of the named cell, or false if the
// label is malformed or out of range.
func (o *Overlay) CellCenter(label string) (int, int, bool) {
	col, row, ok := parseLabel(label)
	if !ok || col >= o.Cols || row >= o.Rows {
		return 0, 0, false
	}
	cx := int((float64(col) + 0.5) * o.cellWidth())
	cy := int((float64(row) + 0.5) * o.cellHeight())
	return cx, cy, true
}

// CellBbox returns the pixel bounding box of the named cell.
func (o *Overlay) CellBbox(label string) (model.Bbox, bool) {
	col, row, ok := parseLabel(label)
	if !ok || col >= o.Cols || row >= o.Rows {
		return model.Bbox{}, false
	}
	x1 := int(float64(col) * o.cellWidth())
	y1 := int(float64(row) * o.cellHeight())
	x2 := int(float64(col+1) * o.cellWidth())
	y2 := int(float64(row+1) * o.cellHeight())
	return model.Bbox{X1: x1, Y1: y1, X2: x2, Y2: y2}, true
}

// columnLetters renders a 0-based column index as spreadsheet-style letters
// (0->A, 25->Z, 26->AA), in case Cols exceeds 26.
func columnLetters(col int) string {
	var sb strings.Builder
	col++
	for col > 0 {
		col--
		sb.WriteByte(byte('A' + col%26))
		col /= 26
	}
	s := sb.String()
	// reverse
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

func parseLabel(label string) (col, row int, ok bool) {
	label = strings.ToUpper(strings.TrimSpace(label))
	i := 0
	for i < len(label) && label[i] >= 'A' && label[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(label) {
		return 0, 0, false
	}
	colStr, rowStr := label[:i], label[i:]

	col = -1
	for _, c := range colStr {
		col = (col+1)*26 + int(c-'A')
	}
	n, err := strconv.Atoi(rowStr)
	if err != nil || n < 1 {
		return 0, 0, false
	}
	return col, n - 1, true
}

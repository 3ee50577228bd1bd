/**
 * OCR Types - Shared data structures for OCR operations
 *
 * Every engine adapter produces the same Result regardless of the
 * recognition backend behind it.
 */

package ocr

import (
	"strings"
	"time"
	"unicode"
)

// Point is a pixel coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is a quadrilateral ordered top-left, top-right, bottom-right, bottom-left.
type Box [4]Point

// Top returns the smallest Y of the box.
func (b Box) Top() float64 {
	top := b[0].Y
	for _, p := range b[1:] {
		if p.Y < top {
			top = p.Y
		}
	}
	return top
}

// Line is one recognized text line.
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Result is the recognition output for a single image.
type Result struct {
	RawText  string        `json:"raw_text"`
	Lines    []Line        `json:"lines"`
	Engine   string        `json:"engine"`
	Engines  []string      `json:"engines,omitempty"` // engines invoked in fusion mode
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
}

// MeanConfidence is the mean line confidence, 0 when there are no lines.
func (r *Result) MeanConfidence() float64 {
	if r == nil || len(r.Lines) == 0 {
		return 0
	}
	var sum float64
	for _, l := range r.Lines {
		sum += l.Confidence
	}
	return sum / float64(len(r.Lines))
}

// NewResult builds a Result whose RawText is the line texts joined by newlines.
func NewResult(engine string, lines []Line) *Result {
	return &Result{
		RawText: joinLines(lines),
		Lines:   lines,
		Engine:  engine,
	}
}

func joinLines(lines []Line) string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}

// Mode selects how the engine set handles a request.
type Mode string

const (
	ModeDefault     Mode = "default"
	ModeFusion      Mode = "fusion"
	ModeSpecialized Mode = "specialized"
)

// ParseMode maps a name to a Mode; unknown or empty names give ModeDefault.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeFusion:
		return ModeFusion
	case ModeSpecialized:
		return ModeSpecialized
	default:
		return ModeDefault
	}
}

// EngineStatus describes one registered adapter.
type EngineStatus struct {
	Name        string `json:"name"`
	Initialized bool   `json:"initialized"`
	Active      bool   `json:"active"`
	Error       string `json:"error,omitempty"`
}

// collapseHanSpaces removes whitespace runs between two Han characters,
// which line-level recognizers insert between CJK glyphs.
func collapseHanSpaces(s string) string {
	runes := []rune(strings.TrimSpace(s))
	out := make([]rune, 0, len(runes))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !unicode.IsSpace(r) {
			out = append(out, r)
			continue
		}
		j := i
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		prevHan := len(out) > 0 && unicode.Is(unicode.Han, out[len(out)-1])
		nextHan := j < len(runes) && unicode.Is(unicode.Han, runes[j])
		if !(prevHan && nextHan) {
			out = append(out, ' ')
		}
		i = j - 1
	}
	return string(out)
}

// Package layout reconstructs reading order from word-level OCR spans:
// words are clustered into lines by vertical overlap and sorted
// left-to-right. Table detection and plain-text assembly both build on
// these lines.
package layout

import (
	"sort"
	"strings"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
)

// Line is one horizontal band of words on a page.
type Line struct {
	Spans []domain.TextSpan
	Top   float64
	Bot   float64
}

// Lines clusters word spans into reading-order lines. A word joins the
// current line when its vertical center falls inside the line's band;
// otherwise it starts a new one.
func Lines(spans []domain.TextSpan) []Line {
	if len(spans) == 0 {
		return nil
	}

	sorted := make([]domain.TextSpan, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Box.Top != sorted[j].Box.Top {
			return sorted[i].Box.Top < sorted[j].Box.Top
		}
		return sorted[i].Box.Left < sorted[j].Box.Left
	})

	var lines []Line
	for _, span := range sorted {
		center := span.Box.Top + span.Box.Height/2
		if len(lines) > 0 {
			last := &lines[len(lines)-1]
			if center >= last.Top && center <= last.Bot {
				last.Spans = append(last.Spans, span)
				if span.Box.Top < last.Top {
					last.Top = span.Box.Top
				}
				if bot := span.Box.Top + span.Box.Height; bot > last.Bot {
					last.Bot = bot
				}
				continue
			}
		}
		lines = append(lines, Line{
			Spans: []domain.TextSpan{span},
			Top:   span.Box.Top,
			Bot:   span.Box.Top + span.Box.Height,
		})
	}

	for i := range lines {
		sort.Slice(lines[i].Spans, func(a, b int) bool {
			return lines[i].Spans[a].Box.Left < lines[i].Spans[b].Box.Left
		})
	}
	return lines
}

// Text flattens lines back into plain text, words joined by single spaces.
func (l Line) Text() string {
	words := make([]string, 0, len(l.Spans))
	for _, span := range l.Spans {
		words = append(words, span.Text)
	}
	return strings.Join(words, " ")
}

// PageText assembles the full page text from word spans.
func PageText(spans []domain.TextSpan) string {
	lines := Lines(spans)
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, line.Text())
	}
	return strings.Join(out, "\n")
}

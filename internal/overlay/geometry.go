package overlay

import (
	"log/slog"
	"math"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
)

// placedText is one invisible text box in page coordinates. The origin is
// the upper-left corner of the page raster, matching OCR conventions; the
// PDF writer flips to bottom-up coordinates at serialization time.
type placedText struct {
	Text     string
	X, Y     float64
	W, H     float64
	FontSize float64
}

// placeSpans converts normalized spans into page-unit text boxes with a
// font size fitted so the rendered width approximately matches the box.
// Empty spans and degenerate boxes are skipped; a noisy vendor box must
// never take down the page loop.
func placeSpans(spans []domain.TextSpan, pageWidth, pageHeight float64, referenceFontSize, minFontSize float64) []placedText {
	placed := make([]placedText, 0, len(spans))
	for _, span := range spans {
		if span.Text == "" {
			continue
		}
		box := span.Box.Clamp()
		x := box.Left * pageWidth
		y := box.Top * pageHeight
		w := box.Width * pageWidth
		h := box.Height * pageHeight
		if w <= 0 || h <= 0 {
			slog.Warn("overlay_span_skipped",
				"page", span.Page,
				"text", span.Text,
				"width", w,
				"height", h,
			)
			continue
		}

		measured := measureText(span.Text, referenceFontSize)
		fontSize := minFontSize
		if measured > 0 {
			fontSize = math.Floor(referenceFontSize * w / measured)
		}
		if fontSize < minFontSize {
			fontSize = minFontSize
		}

		placed = append(placed, placedText{
			Text:     span.Text,
			X:        x,
			Y:        y,
			W:        w,
			H:        h,
			FontSize: fontSize,
		})
	}
	return placed
}
